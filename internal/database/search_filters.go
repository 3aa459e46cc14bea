package database

import (
	"github.com/archie-dev/archie/domain/search"
	"gorm.io/gorm"
)

// ApplySearchFilters is the per-store filter application hook called by the
// BM25 and vector stores after ApplyConditions/ApplyOptions. Those stores
// back narrow tables (snippet_id plus passage or embedding only); repository,
// language, and path filters are resolved upstream against the chunk
// document table and narrowed to a snippet-id allowlist (see
// search.WithSnippetIDs/persistence.SearchIndexBackend) before a query
// reaches these stores, so there are no additional columns left to filter on
// here. Kept as a pass-through rather than removed so each store's filter
// application point stays symmetric with the teacher's layout.
func ApplySearchFilters(db *gorm.DB, _ search.Filters) *gorm.DB {
	return db
}
