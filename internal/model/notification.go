package model

import "time"

// Kind classifies a notification for presentation purposes only.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// RequestStatus is the lifecycle tag of the CV update request behind a
// notification. It is display-only and never participates in read-state
// handling.
type RequestStatus string

const (
	StatusRequested RequestStatus = "requested"
	StatusProcessed RequestStatus = "processed"
	StatusCancelled RequestStatus = "cancelled"
)

// Notification represents a single entry in the notification list.
type Notification struct {
	// ID is unique within the store at any instant. Durable ids are
	// assigned by the server; ephemeral ids are synthesized locally for
	// pushed events that carry no request identifier and must never be
	// sent back to the server.
	ID string `json:"id"`

	// Title is the short display heading.
	Title string `json:"title"`

	// Message is the display body.
	Message string `json:"message"`

	// Kind controls presentation only.
	Kind Kind `json:"kind"`

	// Read is one-way from the client's perspective: once true it is
	// never reverted to false by any UI action.
	Read bool `json:"read"`

	// CreatedAt is server-assigned for fetched entries and the observed
	// arrival time for pushed ones.
	CreatedAt time.Time `json:"created_at"`

	// Status, when present, tags the underlying request's lifecycle.
	Status RequestStatus `json:"status,omitempty"`
}
