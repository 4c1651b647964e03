// internal/services/autoplay_service.go
package services

import (
	"math/rand"
	"sync"

	"github.com/Corphon/calligrapher/internal/ui"
)

// TagObserver is implemented by pickers that want the tags of the latest
// text unit before each decision.
type TagObserver interface {
	ObserveTags(tags []string)
}

// RandomPicker chooses uniformly among the story choices. The same seed
// replays the same path.
type RandomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPicker creates a picker seeded with seed.
func NewRandomPicker(seed int64) *RandomPicker {
	return &RandomPicker{rng: rand.New(rand.NewSource(seed))}
}

// Choose never returns ChoiceSave; an empty list quits.
func (p *RandomPicker) Choose(choices []string, _ ui.MenuOptions) (int, error) {
	if len(choices) == 0 {
		return ui.ChoiceQuit, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Intn(len(choices)), nil
}

// AnnouncingPicker reports each automatic decision through Announce.
type AnnouncingPicker struct {
	Picker   ChoicePicker
	Announce func(label string)
}

func (a AnnouncingPicker) Choose(choices []string, opts ui.MenuOptions) (int, error) {
	idx, err := a.Picker.Choose(choices, opts)
	if err == nil && idx >= 0 && idx < len(choices) && a.Announce != nil {
		a.Announce(choices[idx])
	}
	return idx, err
}

// ObserveTags forwards to the wrapped picker when it wants tags.
func (a AnnouncingPicker) ObserveTags(tags []string) {
	if o, ok := a.Picker.(TagObserver); ok {
		o.ObserveTags(tags)
	}
}
