package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteModelRepository implements ModelRepository for SQLite.
type SQLiteModelRepository struct {
	db *sql.DB
}

var _ ModelRepository = (*SQLiteModelRepository)(nil)

func NewSQLiteModelRepository(db *sql.DB) *SQLiteModelRepository {
	return &SQLiteModelRepository{db: db}
}

func (r *SQLiteModelRepository) Save(ctx context.Context, record ModelRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO models (name, base, formatter, token_count, corpus_bytes, trained_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			base=excluded.base,
			formatter=excluded.formatter,
			token_count=excluded.token_count,
			corpus_bytes=excluded.corpus_bytes,
			trained_at=excluded.trained_at
	`
	if _, err := tx.ExecContext(ctx, query,
		record.Name, record.Base, record.Formatter, record.TokenCount, record.CorpusBytes, record.TrainedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert model: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM model_edges WHERE model_name = ?`, record.Name); err != nil {
		return fmt.Errorf("failed to clear old edges: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO model_edges (model_name, from_token, to_token, count) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range record.Edges {
		if _, err := stmt.ExecContext(ctx, record.Name, e.From, e.To, e.Count); err != nil {
			return fmt.Errorf("failed to insert edge: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteModelRepository) Load(ctx context.Context, name string) (*ModelRecord, error) {
	var rec ModelRecord
	query := `SELECT name, base, formatter, token_count, corpus_bytes, trained_at FROM models WHERE name = ?`
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&rec.Name, &rec.Base, &rec.Formatter, &rec.TokenCount, &rec.CorpusBytes, &rec.TrainedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `SELECT from_token, to_token, count FROM model_edges WHERE model_name = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e EdgeRow
		if err := rows.Scan(&e.From, &e.To, &e.Count); err != nil {
			return nil, err
		}
		rec.Edges = append(rec.Edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &rec, nil
}

func (r *SQLiteModelRepository) List(ctx context.Context) ([]ModelRecord, error) {
	query := `SELECT name, base, formatter, token_count, corpus_bytes, trained_at FROM models ORDER BY trained_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ModelRecord
	for rows.Next() {
		var rec ModelRecord
		if err := rows.Scan(&rec.Name, &rec.Base, &rec.Formatter, &rec.TokenCount, &rec.CorpusBytes, &rec.TrainedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLiteModelRepository) Delete(ctx context.Context, name string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM model_edges WHERE model_name = ?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM models WHERE name = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}
