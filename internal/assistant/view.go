package assistant

import (
	"context"

	"github.com/xaenox/agency-assistant/internal/models"
	"github.com/xaenox/agency-assistant/internal/stream"
)

// Placeholder identifies a loading entry shown by a View.
type Placeholder struct {
	ID string
}

// View renders one session's conversation. The dispatcher calls it from a
// single goroutine per turn.
type View interface {
	// ShowPending renders a loading entry for a media turn.
	ShowPending(ctx context.Context, intent models.Intent) (Placeholder, error)
	// Resolve replaces the loading entry with the result.
	Resolve(ctx context.Context, p Placeholder, msg models.ChatMessage) error
	// Fail shows err as a visible message, replacing p when it is not nil.
	Fail(ctx context.Context, p *Placeholder, err error)
	// Notify raises a transient notification for err.
	Notify(ctx context.Context, err error)

	// Preview renders the reply streamed so far.
	Preview(ctx context.Context, snap stream.Snapshot, showReasoning bool)
	// ClearPreview removes the streamed preview.
	ClearPreview(ctx context.Context)
	// Show appends a final message.
	Show(ctx context.Context, msg models.ChatMessage) error
}
