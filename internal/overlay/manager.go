package overlay

import (
	"sync"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

// Manager holds the current overlay style and notifies live surfaces
// when it changes. Surfaces created later read Current, so they never
// start from a stale default.
type Manager struct {
	mu          sync.RWMutex
	style       Style
	subscribers map[int]func(Style)
	nextID      int
}

// NewManager creates a style manager starting from initial
func NewManager(initial Style) *Manager {
	return &Manager{
		style:       initial,
		subscribers: make(map[int]func(Style)),
	}
}

// Current returns the latest style
func (m *Manager) Current() Style {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.style
}

// Set replaces the style and notifies subscribers in registration order
func (m *Manager) Set(s Style) {
	m.mu.Lock()
	m.style = s
	subs := make([]func(Style), 0, len(m.subscribers))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.subscribers[id]; ok {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	logger.WithComponent("overlay").Info().
		Str("background", s.BackgroundColor.String()).
		Str("panel", s.PanelColor.String()).
		Str("icon", s.IconColor.String()).
		Msg("Overlay style updated")

	for _, fn := range subs {
		fn(s)
	}
}

// Subscribe registers fn for future style changes. The returned function
// unregisters it.
func (m *Manager) Subscribe(fn func(Style)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}
