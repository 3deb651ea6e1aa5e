package api

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/vdt/cv-notify/internal/model"
)

// UpdateRequestRecord is the wire shape of a CV update request as
// returned by GET /requests.
type UpdateRequestRecord struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	RequesterName string `json:"requester_name"`
	// IsRead is the canonical read flag; Read is an older alias some
	// responses still carry. Either may be absent.
	IsRead      *bool     `json:"is_read"`
	Read        *bool     `json:"read"`
	RequestedAt time.Time `json:"requested_at"`
	Status      string    `json:"status"`
}

// Notification maps a fetched record into the in-process notification
// shape. The record's own id becomes the durable id; the read flag
// falls back is_read → read → false; missing display strings get
// requester-derived defaults.
func (r UpdateRequestRecord) Notification() model.Notification {
	read := false
	switch {
	case r.IsRead != nil:
		read = *r.IsRead
	case r.Read != nil:
		read = *r.Read
	}

	title := r.Title
	if title == "" {
		title = "CV update request"
	}

	message := r.Message
	if message == "" {
		message = fmt.Sprintf("%s asked you to update your CV.", r.RequesterName)
	}

	return model.Notification{
		ID:        r.ID,
		Title:     title,
		Message:   message,
		Kind:      model.KindWarning,
		Read:      read,
		CreatedAt: r.RequestedAt,
		Status:    model.RequestStatus(r.Status),
	}
}

// FetchAll returns all current CV update requests for the logged-in
// user, mapped into notifications.
func (c *Client) FetchAll(ctx context.Context) ([]model.Notification, error) {
	var records []UpdateRequestRecord
	if err := c.Get(ctx, "/requests", &records); err != nil {
		return nil, fmt.Errorf("fetching update requests: %w", err)
	}

	notifications := make([]model.Notification, 0, len(records))
	for _, r := range records {
		notifications = append(notifications, r.Notification())
	}
	return notifications, nil
}

// MarkRead marks a single update request as read. Idempotent on the
// backend.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	path := "/requests/" + url.PathEscape(id) + "/read"
	if err := c.Put(ctx, path, nil, nil); err != nil {
		return fmt.Errorf("marking request %s read: %w", id, err)
	}
	return nil
}

// markAllResult is the payload returned by the bulk mark-read endpoint.
type markAllResult struct {
	UpdatedCount int `json:"updated_count"`
}

// MarkAllRead marks every update request as read. Idempotent on the
// backend.
func (c *Client) MarkAllRead(ctx context.Context) error {
	var result markAllResult
	if err := c.Put(ctx, "/requests/mark-all-read", nil, &result); err != nil {
		return fmt.Errorf("marking all requests read: %w", err)
	}
	return nil
}
