package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/db"
)

// InboxEvent is a signature-verified webhook kept before it is dispatched.
type InboxEvent struct {
	ID          uuid.UUID       `json:"id"`
	Event       string          `json:"event"`
	Reference   string          `json:"reference"`
	Payload     json.RawMessage `json:"payload"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Error       string          `json:"error,omitempty"`
}

type Inbox interface {
	Store(ctx context.Context, ev *InboxEvent) error
	// Finish records the dispatch result. Events left unprocessed are picked
	// up again by the redelivery loop.
	Finish(ctx context.Context, id uuid.UUID, processed bool, errMsg string) error
	ListUnprocessed(ctx context.Context, limit int) ([]InboxEvent, error)
}

type postgresInbox struct {
	db db.DBTX
}

func NewInbox(q db.DBTX) Inbox {
	return &postgresInbox{db: q}
}

func (i *postgresInbox) Store(ctx context.Context, ev *InboxEvent) error {
	if ev.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("inbox: failed to generate event ID: %w", err)
		}
		ev.ID = id
	}
	ev.ReceivedAt = time.Now().UTC()

	query := `
		INSERT INTO webhook_events (id, event, reference, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := i.db.Exec(ctx, query, ev.ID, ev.Event, ev.Reference, []byte(ev.Payload), ev.ReceivedAt); err != nil {
		return fmt.Errorf("inbox: failed to store webhook event: %w", err)
	}
	return nil
}

func (i *postgresInbox) Finish(ctx context.Context, id uuid.UUID, processed bool, errMsg string) error {
	var processedAt *time.Time
	if processed {
		now := time.Now().UTC()
		processedAt = &now
	}

	query := `UPDATE webhook_events SET processed_at = $1, error = $2 WHERE id = $3`
	if _, err := i.db.Exec(ctx, query, processedAt, errMsg, id); err != nil {
		return fmt.Errorf("inbox: failed to finish webhook event %s: %w", id, err)
	}
	return nil
}

func (i *postgresInbox) ListUnprocessed(ctx context.Context, limit int) ([]InboxEvent, error) {
	query := `
		SELECT id, event, reference, payload, received_at, processed_at, error
		FROM webhook_events
		WHERE processed_at IS NULL
		ORDER BY received_at
		LIMIT $1
	`
	rows, err := i.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("inbox: failed to query unprocessed events: %w", err)
	}
	defer rows.Close()

	var out []InboxEvent
	for rows.Next() {
		var (
			ev      InboxEvent
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Event, &ev.Reference, &payload, &ev.ReceivedAt, &ev.ProcessedAt, &ev.Error); err != nil {
			return nil, fmt.Errorf("inbox: failed to scan webhook event: %w", err)
		}
		ev.Payload = payload
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inbox: failed iterating webhook events: %w", err)
	}
	return out, nil
}
