package chunk

import "github.com/archie-dev/archie/domain/repository"

// LineRangeStore defines persistence for chunk line ranges.
type LineRangeStore interface {
	repository.Store[LineRange]
}
