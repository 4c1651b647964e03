// internal/engine/engine.go
package engine

import (
	"context"
)

// Story is one loaded narrative engine instance. Implementations wrap an
// external runtime; the session driver relies on nothing beyond these methods.
type Story interface {
	// CanContinue reports whether more linear text can be produced without a choice.
	CanContinue() bool
	// Continue produces the next text unit.
	Continue() (string, error)
	// CurrentChoices lists the labels of the choices currently offered.
	CurrentChoices() []string
	// ChooseChoiceIndex commits to a choice.
	ChooseChoiceIndex(index int) error
	// CurrentTags lists the tags attached to the last text unit.
	CurrentTags() []string
	// SaveState serializes the engine state to a portable string.
	SaveState() (string, error)
	// LoadState applies a state previously produced by SaveState.
	LoadState(state string) error
	// Close releases the instance.
	Close() error
}

// Loader constructs a Story from a compiled source blob.
type Loader interface {
	Load(ctx context.Context, compiled string) (Story, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, compiled string) (Story, error)

func (f LoaderFunc) Load(ctx context.Context, compiled string) (Story, error) {
	return f(ctx, compiled)
}
