package stream

import (
	"encoding/json"
	"fmt"

	"github.com/vdt/cv-notify/internal/model"
)

// Named event categories on the push stream.
const (
	eventConnected       = "connected"
	eventCVUpdateRequest = "cv_update_request"
	eventNotification    = "notification"
	eventPing            = "ping"
)

// Event is a normalized push notification delivered to subscribers.
type Event struct {
	Title   string
	Message string
	Kind    model.Kind

	// RequestID is the server-assigned durable identifier of the
	// underlying CV update request. Empty when the event carried none;
	// the store then synthesizes an ephemeral id.
	RequestID string
}

// payload is the JSON body of push events, a tagged union keyed by Type.
type payload struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	CVID        string `json:"cv_id,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// connectedPayload is the body of the informational "connected" event.
type connectedPayload struct {
	UserID string `json:"user_id"`
}

// decodePayload validates and decodes a push event body at the boundary.
func decodePayload(data []byte) (*payload, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding event payload: %w", err)
	}
	return &p, nil
}

// kindFor maps a payload type discriminant to a presentation kind.
// CV update requests read as reminders, hence warning.
func kindFor(payloadType string) model.Kind {
	switch payloadType {
	case eventCVUpdateRequest:
		return model.KindWarning
	case "success":
		return model.KindSuccess
	case "error":
		return model.KindError
	default:
		return model.KindInfo
	}
}
