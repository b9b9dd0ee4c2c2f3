package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/noah-isme/storefront-gateway/internal/subscription"
)

// Entry is one journaled save or cancel attempt.
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	CustomerID string          `json:"customerId"`
	ROID       string          `json:"roId"`
	Kind       string          `json:"kind"`
	Outcome    string          `json:"outcome"`
	Patch      json.RawMessage `json:"patch"`
	Detail     *string         `json:"detail,omitempty"`
	RequestID  *string         `json:"requestId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// ListParams pages through a customer's journal, newest first.
type ListParams struct {
	CustomerID string
	Limit      int
	Offset     int
}

// Store defines the database operations required by the journal.
type Store interface {
	InsertChange(ctx context.Context, entry Entry) error
	ListChanges(ctx context.Context, params ListParams) ([]Entry, error)
}

// Journal persists every recurring-order change attempt. It implements
// subscription.ChangeRecorder.
type Journal struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
}

// Record journals change when the journal is enabled.
func (j Journal) Record(ctx context.Context, change subscription.Change) error {
	if !j.Enabled {
		return nil
	}
	if j.SamplingRate > 0 && j.SamplingRate < 1 {
		if rand.Float64() > j.SamplingRate {
			return nil
		}
	}
	if j.Store == nil {
		return errors.New("audit: store not configured")
	}
	entry, err := entryFor(ctx, change)
	if err != nil {
		return err
	}
	return j.Store.InsertChange(ctx, entry)
}

func entryFor(ctx context.Context, change subscription.Change) (Entry, error) {
	id, err := uuid.Parse(change.ID)
	if err != nil {
		id = uuid.New()
	}
	patch, err := json.Marshal(change.Patch)
	if err != nil {
		return Entry{}, err
	}
	occurred := change.At
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return Entry{
		ID:         id,
		CustomerID: strings.TrimSpace(change.CustomerID),
		ROID:       strings.TrimSpace(change.ROID),
		Kind:       string(change.Kind),
		Outcome:    string(change.Outcome),
		Patch:      patch,
		Detail:     pointerOf(truncate(change.Detail, 2000)),
		RequestID:  pointerOf(middleware.GetReqID(ctx)),
		OccurredAt: occurred.UTC(),
	}, nil
}

func pointerOf(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
