package notify

import (
	"fmt"

	"github.com/gen2brain/beeep"
)

// Desktop mirrors live-pushed notifications to the native desktop
// notification facility. Best-effort: a failure here never affects the
// store.
type Desktop struct{}

// NewDesktop returns the native desktop notifier.
func NewDesktop() *Desktop {
	return &Desktop{}
}

// Notify shows a native notification with the given title and message.
func (d *Desktop) Notify(title, message string) error {
	if err := beeep.Notify(title, message, ""); err != nil {
		return fmt.Errorf("sending desktop notification: %w", err)
	}
	return nil
}
