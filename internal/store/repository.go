// Package store provides the persistence layer for trained Markov models.
// It implements the repository pattern so the codec package stays ignorant
// of how (or whether) a model is saved.
package store

import (
	"context"
	"time"
)

// EdgeRow mirrors codec.Edge for persistence without importing codec into
// the schema definition itself.
type EdgeRow struct {
	From  string
	To    string
	Count int
}

// ModelRecord is a trained model's persisted form: its tuning parameters
// plus the raw adjacency table needed to reconstruct it without replaying
// the original corpus.
type ModelRecord struct {
	Name        string    `json:"name" db:"name"`
	Base        int       `json:"base" db:"base"`
	Formatter   string    `json:"formatter" db:"formatter"`
	TokenCount  int       `json:"token_count" db:"token_count"`
	CorpusBytes int       `json:"corpus_bytes" db:"corpus_bytes"`
	TrainedAt   time.Time `json:"trained_at" db:"trained_at"`
	Edges       []EdgeRow `json:"-"`
}

// ModelRepository defines the interface for model persistence. The codec
// package never imports this; callers in cmd/ wire the two together.
type ModelRepository interface {
	// Save stores a trained model's adjacency table under name, replacing
	// any existing record of the same name.
	Save(ctx context.Context, record ModelRecord) error

	// Load retrieves a previously-saved model by name.
	Load(ctx context.Context, name string) (*ModelRecord, error)

	// List retrieves metadata (without edges) for every saved model.
	List(ctx context.Context) ([]ModelRecord, error)

	// Delete removes a saved model by name.
	Delete(ctx context.Context, name string) error
}
