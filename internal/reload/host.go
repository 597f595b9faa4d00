package reload

import (
	"context"
	"errors"
)

var (
	// ErrNoActiveDocument is returned by Host.Recompute when there is nothing to recompute.
	ErrNoActiveDocument = errors.New("no active document")
	// ErrNotOnLoop is reported when Execute is called outside the main loop.
	ErrNotOnLoop = errors.New("reload must run on the main loop")
)

// Host is the application the watched file is applied to. Every method is
// called from the main loop only.
type Host interface {
	// Bindings returns the host handles made available to the file.
	Bindings() Namespace

	// Execute applies source to ns. Any error means the file is broken.
	Execute(ctx context.Context, source string, ns Namespace) error

	// Recompute rebuilds the document model.
	Recompute(ctx context.Context) error

	// RefreshUI redraws the host's views.
	RefreshUI(ctx context.Context)

	// PrintMessage writes to the host's informational console.
	PrintMessage(msg string)

	// PrintError writes to the host's error console.
	PrintError(msg string)
}
