package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres Store.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore returns a Store backed by pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const insertChange = `
INSERT INTO subscription_changes (id, customer_id, ro_id, kind, outcome, patch, detail, request_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

// InsertChange implements Store.
func (s *PGStore) InsertChange(ctx context.Context, e Entry) error {
	_, err := s.pool.Exec(ctx, insertChange,
		e.ID, e.CustomerID, e.ROID, e.Kind, e.Outcome, []byte(e.Patch),
		toNullText(e.Detail), toNullText(e.RequestID), e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert change: %w", err)
	}
	return nil
}

const listChanges = `
SELECT id, customer_id, ro_id, kind, outcome, patch, detail, request_id, occurred_at
FROM subscription_changes
WHERE customer_id = $1
ORDER BY occurred_at DESC
LIMIT $2 OFFSET $3`

// ListChanges implements Store.
func (s *PGStore) ListChanges(ctx context.Context, p ListParams) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, listChanges, p.CustomerID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list changes: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e         Entry
			patch     []byte
			detail    pgtype.Text
			requestID pgtype.Text
		)
		if err := row.Scan(&e.ID, &e.CustomerID, &e.ROID, &e.Kind, &e.Outcome, &patch, &detail, &requestID, &e.OccurredAt); err != nil {
			return Entry{}, err
		}
		e.Patch = patch
		e.Detail = fromNullText(detail)
		e.RequestID = fromNullText(requestID)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("audit: scan changes: %w", err)
	}
	return entries, nil
}

// Ping reports database reachability for readiness checks.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func toNullText(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *value, Valid: true}
}

func fromNullText(value pgtype.Text) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
