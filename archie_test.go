package archie

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/archie-dev/archie/application/service"
)

func TestNew_NoDatabaseOption(t *testing.T) {
	_, err := New()
	if !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("New() with no database option: err = %v, want %v", err, ErrNoDatabase)
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	cases := []struct {
		name    string
		cfg     *clientConfig
		want    string
		wantErr error
	}{
		{name: "sqlite", cfg: &clientConfig{database: databaseSQLite, dbPath: "/tmp/archie.db"}, want: "sqlite:///tmp/archie.db"},
		{name: "postgres vectorchord", cfg: &clientConfig{database: databasePostgresVectorchord, dbDSN: "postgres://user@host/db"}, want: "postgres://user@host/db"},
		{name: "unset", cfg: &clientConfig{database: databaseUnset}, wantErr: ErrNoDatabase},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := buildDatabaseURL(tc.cfg)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildDatabaseURL: %v", err)
			}
			if got != tc.want {
				t.Errorf("buildDatabaseURL = %q, want %q", got, tc.want)
			}
		})
	}
}

// fakeProbeEmbedder implements search.Embedder for probeEmbeddingDimension tests.
type fakeProbeEmbedder struct {
	vectors [][]float64
	err     error
	calls   int
}

func (f *fakeProbeEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

func (f *fakeProbeEmbedder) Capacity() int { return 100 }

func TestProbeEmbeddingDimension_NilEmbedderSkipsProbe(t *testing.T) {
	cfg := &clientConfig{database: databasePostgresVectorchord}
	dim, err := probeEmbeddingDimension(context.Background(), cfg, nil)
	if err != nil || dim != 0 {
		t.Fatalf("dim = %d, err = %v, want 0, nil", dim, err)
	}
}

func TestProbeEmbeddingDimension_SQLiteSkipsProbeEvenWithEmbedder(t *testing.T) {
	cfg := &clientConfig{database: databaseSQLite}
	embedder := &fakeProbeEmbedder{vectors: [][]float64{{1, 2, 3}}}
	dim, err := probeEmbeddingDimension(context.Background(), cfg, embedder)
	if err != nil || dim != 0 {
		t.Fatalf("dim = %d, err = %v, want 0, nil", dim, err)
	}
	if embedder.calls != 0 {
		t.Errorf("expected SQLite config not to call the embedder, got %d calls", embedder.calls)
	}
}

func TestProbeEmbeddingDimension_VectorchordReturnsDimension(t *testing.T) {
	cfg := &clientConfig{database: databasePostgresVectorchord}
	embedder := &fakeProbeEmbedder{vectors: [][]float64{{0.1, 0.2, 0.3, 0.4}}}
	dim, err := probeEmbeddingDimension(context.Background(), cfg, embedder)
	if err != nil {
		t.Fatalf("probeEmbeddingDimension: %v", err)
	}
	if dim != 4 {
		t.Errorf("dim = %d, want 4", dim)
	}
}

func TestProbeEmbeddingDimension_EmbedErrorPropagates(t *testing.T) {
	cfg := &clientConfig{database: databasePostgresVectorchord}
	embedder := &fakeProbeEmbedder{err: errors.New("provider unavailable")}
	if _, err := probeEmbeddingDimension(context.Background(), cfg, embedder); err == nil {
		t.Fatal("expected error to propagate from the embedder")
	}
}

func TestProbeEmbeddingDimension_EmptyVectorIsError(t *testing.T) {
	cfg := &clientConfig{database: databasePostgresVectorchord}
	embedder := &fakeProbeEmbedder{vectors: [][]float64{}}
	if _, err := probeEmbeddingDimension(context.Background(), cfg, embedder); err == nil {
		t.Fatal("expected an error when the provider returns no vectors")
	}
}

// fakeDatabase implements database.Database minimally for Close tests: every
// method that would require a live connection panics, since Close() never
// reaches them.
type fakeDatabase struct {
	closeErr  error
	closeCalled int
}

func (f *fakeDatabase) Session(context.Context) *gorm.DB                       { panic("not implemented") }
func (f *fakeDatabase) GORM() *gorm.DB                                        { panic("not implemented") }
func (f *fakeDatabase) IsSQLite() bool                                        { return true }
func (f *fakeDatabase) IsPostgres() bool                                      { return false }
func (f *fakeDatabase) ConfigurePool(int, int, time.Duration) error           { return nil }
func (f *fakeDatabase) Close() error {
	f.closeCalled++
	return f.closeErr
}

type fakeCloser struct {
	err    error
	closed bool
}

func (f *fakeCloser) Close() error {
	f.closed = true
	return f.err
}

func newTestClient(db *fakeDatabase, closers ...*fakeCloser) *Client {
	c := &Client{db: db, logger: slog.New(slog.NewTextHandler(nopWriter{}, nil))}
	for _, closer := range closers {
		c.closers = append(c.closers, io.Closer(closer))
	}
	return c
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestClient_Close_ClosesDatabaseAndRegisteredClosers(t *testing.T) {
	db := &fakeDatabase{}
	closer := &fakeCloser{}
	c := newTestClient(db, closer)

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if db.closeCalled != 1 {
		t.Errorf("expected database Close called once, got %d", db.closeCalled)
	}
	if !closer.closed {
		t.Error("expected registered closer to be closed")
	}
}

func TestClient_Close_SecondCallReturnsErrClientClosed(t *testing.T) {
	db := &fakeDatabase{}
	c := newTestClient(db)

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); !errors.Is(err, service.ErrClientClosed) {
		t.Fatalf("second Close: err = %v, want %v", err, service.ErrClientClosed)
	}
	if db.closeCalled != 1 {
		t.Errorf("expected database Close not called again on the second Close, got %d total calls", db.closeCalled)
	}
}

func TestClient_Close_AggregatesCloserErrors(t *testing.T) {
	db := &fakeDatabase{closeErr: errors.New("db close failed")}
	closer := &fakeCloser{err: errors.New("closer failed")}
	c := newTestClient(db, closer)

	err := c.Close()
	if err == nil {
		t.Fatal("expected an aggregated error")
	}
}

func TestEmbeddingAdapter_Capacity(t *testing.T) {
	a := &embeddingAdapter{}
	if got := a.Capacity(); got != embedderCapacity {
		t.Errorf("Capacity() = %d, want %d", got, embedderCapacity)
	}
}
