// Package source retrieves book directories and chapter bodies from the remote
// platform. Two HTTP backends share one client: the first-party API and a
// rotating set of third-party mirrors.
package source

import (
	"context"

	"github.com/jackzampolin/quire/internal/types"
)

// MaxBatchSize is the largest number of chapter ids one batch request may carry.
const MaxBatchSize = 25

// Body is one chapter as returned by a batch request.
type Body struct {
	Title   string
	Content string
}

// Source is the remote source adapter used by the fetch engine, the update
// detector and book previews.
type Source interface {
	// Directory returns the ordered chapter list and metadata for a book.
	Directory(ctx context.Context, bookID string) (*types.Directory, error)

	// Batch fetches up to MaxBatchSize chapter bodies keyed by chapter id.
	// Chapters missing from the response are absent from the map.
	Batch(ctx context.Context, ids []string) (map[string]Body, error)

	// Media downloads a cover or an inline chapter image, returning its
	// bytes and media type.
	Media(ctx context.Context, url string) ([]byte, string, error)
}
