package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("document not found")

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// retrieves a dashboard by ID
func (r *Repository) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	var doc Document

	err := r.db.QueryRow(ctx, queryGetDocument, documentID).Scan(
		&doc.ID,
		&doc.Title,
		&doc.State,
		&doc.SyncedVersion,
		&doc.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return &doc, nil
}

// returns the current dashboard state for a join snapshot
func (r *Repository) GetState(ctx context.Context, documentID string) (json.RawMessage, error) {
	var state json.RawMessage

	err := r.db.QueryRow(ctx, queryGetState, documentID).Scan(&state)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get document state: %w", err)
	}

	return state, nil
}

// records the last version the sync engine applied for a document,
// called when an idle session is evicted
func (r *Repository) Checkpoint(ctx context.Context, documentID string, version int64) error {
	tag, err := r.db.Exec(ctx, queryCheckpoint, documentID, version)
	if err != nil {
		return fmt.Errorf("failed to checkpoint document: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// reports whether the database is reachable
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
