package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *SQLiteModelRepository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "models.db")
	db, err := InitSQLite(dbPath, nil)
	if err != nil {
		t.Fatalf("InitSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteModelRepository(db)
}

func sampleRecord(name string) ModelRecord {
	return ModelRecord{
		Name:        name,
		Base:        64,
		Formatter:   "book",
		TokenCount:  3,
		CorpusBytes: 1024,
		TrainedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Edges: []EdgeRow{
			{From: "", To: "the", Count: 2},
			{From: "the", To: "fox", Count: 1},
			{From: "fox", To: "", Count: 1},
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()
	want := sampleRecord("alpha")

	if err := repo.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Load(ctx, "alpha")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record, got nil")
	}
	if got.Base != want.Base || got.Formatter != want.Formatter || got.TokenCount != want.TokenCount {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if len(got.Edges) != len(want.Edges) {
		t.Fatalf("got %d edges, want %d", len(got.Edges), len(want.Edges))
	}
}

func TestLoadMissingModelReturnsNilNil(t *testing.T) {
	repo := newTestDB(t)
	got, err := repo.Load(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil record, got %+v", got)
	}
}

func TestSaveOverwritesExistingRecordAndEdges(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	first := sampleRecord("beta")
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("Save (first): %v", err)
	}

	second := sampleRecord("beta")
	second.Base = 16
	second.Edges = []EdgeRow{{From: "", To: "only", Count: 1}}
	if err := repo.Save(ctx, second); err != nil {
		t.Fatalf("Save (second): %v", err)
	}

	got, err := repo.Load(ctx, "beta")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Base != 16 {
		t.Fatalf("expected overwritten base 16, got %d", got.Base)
	}
	if len(got.Edges) != 1 {
		t.Fatalf("expected stale edges to be replaced, got %d edges", len(got.Edges))
	}
}

func TestListOrdersByTrainedAtDescending(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	older := sampleRecord("older")
	older.TrainedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := sampleRecord("newer")
	newer.TrainedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := repo.Save(ctx, older); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Save(ctx, newer); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Name != "newer" || list[1].Name != "older" {
		t.Fatalf("unexpected order: %+v", list)
	}
}

func TestDeleteRemovesModelAndEdges(t *testing.T) {
	repo := newTestDB(t)
	ctx := context.Background()

	if err := repo.Save(ctx, sampleRecord("gamma")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := repo.Delete(ctx, "gamma"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := repo.Load(ctx, "gamma")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %+v", got)
	}

	var edges int
	if err := repo.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM model_edges WHERE model_name = ?`, "gamma").Scan(&edges); err != nil {
		t.Fatalf("counting edges: %v", err)
	}
	if edges != 0 {
		t.Fatalf("expected edges removed after delete, got %d", edges)
	}
}
