// Package storage keeps a local ledger of ingested sources.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned when a source has no ledger entry.
var ErrNotFound = errors.New("source not found")

// Ledger records which sources were ingested into which index, and how many
// records each produced.
type Ledger interface {
	GetSource(ctx context.Context, index, source string) (*models.SourceRecord, error)
	PutSource(ctx context.Context, rec *models.SourceRecord) error
	DeleteSource(ctx context.Context, index, source string) error
	ListSources(ctx context.Context, index string, offset, limit int) ([]*models.SourceRecord, error)

	// Stats
	CountSources(ctx context.Context, index string) (int64, error)
	CountChunks(ctx context.Context, index string) (int64, error)

	Close() error
}
