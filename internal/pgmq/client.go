// Package pgmq is a thin client for the pgmq Postgres extension, used as the
// usage bookkeeping retry queue.
package pgmq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Client wraps a Postgres DB for pgmq queue operations.
type Client struct {
	db *sql.DB
}

func New(db *sql.DB) *Client {
	return &Client{db: db}
}

// Message is a single queued job together with pgmq's delivery counter.
type Message struct {
	ID         int64
	ReadCount  int
	EnqueuedAt time.Time
	Data       []byte
}

// CreateQueue creates queue if it does not exist yet.
func (c *Client) CreateQueue(ctx context.Context, queue string) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.create($1)", queue); err != nil {
		return fmt.Errorf("pgmq create %s: %w", queue, err)
	}
	return nil
}

// Send pushes a JSON payload into queue, visible after delay.
func (c *Client) Send(ctx context.Context, queue string, payload []byte, delay time.Duration) (int64, error) {
	const q = "SELECT pgmq.send($1, $2::jsonb, $3)"
	var id int64
	if err := c.db.QueryRowContext(ctx, q, queue, string(payload), int(delay.Seconds())).Scan(&id); err != nil {
		return 0, fmt.Errorf("pgmq send to %s: %w", queue, err)
	}
	return id, nil
}

// SendJSON marshals v and sends it with no delay.
func (c *Client) SendJSON(ctx context.Context, queue string, v any) (int64, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("pgmq marshal payload for %s: %w", queue, err)
	}
	return c.Send(ctx, queue, b, 0)
}

// ReadWithPoll reads up to maxMessages, hiding them for visibility, blocking up to pollTimeout.
func (c *Client) ReadWithPoll(ctx context.Context, queue string, visibility, pollTimeout time.Duration, maxMessages int) ([]*Message, error) {
	const q = "SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read_with_poll($1, $2, $3, $4)"
	rows, err := c.db.QueryContext(ctx, q, queue, int(visibility.Seconds()), maxMessages, int(pollTimeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("pgmq read_with_poll on %s: %w", queue, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ReadCount, &m.EnqueuedAt, &m.Data); err != nil {
			return nil, fmt.Errorf("pgmq read scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgmq read rows: %w", err)
	}
	return msgs, nil
}

// SetVisibility delays the next delivery of msgID by d.
func (c *Client) SetVisibility(ctx context.Context, queue string, msgID int64, d time.Duration) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.set_vt($1, $2, $3)", queue, msgID, int(d.Seconds())); err != nil {
		return fmt.Errorf("pgmq set_vt %d on %s: %w", msgID, queue, err)
	}
	return nil
}

// Delete acknowledges msgID.
func (c *Client) Delete(ctx context.Context, queue string, msgID int64) error {
	if _, err := c.db.ExecContext(ctx, "SELECT pgmq.delete($1, $2::bigint)", queue, msgID); err != nil {
		return fmt.Errorf("pgmq delete %d from %s: %w", msgID, queue, err)
	}
	return nil
}
