// Package webhookevents remembers which provider events have been handled.
package webhookevents

import "context"

type Repository interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed records the event and reports whether it was new.
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}
