package window

import (
	"fmt"
	"sync"
)

var (
	_ Compositor  = (*MemoryCompositor)(nil)
	_ InputSource = (*MemoryCompositor)(nil)
)

// MemoryCompositor is a headless compositor that keeps registered surfaces
// in memory. It behaves like a strict platform window manager: adding a
// surface twice or removing an unknown window is an error.
type MemoryCompositor struct {
	mu      sync.Mutex
	next    NativeWindow
	windows map[NativeWindow]memoryWindow
	adds    int
	removes int
	updates int
	input   chan PointerEvent
}

type memoryWindow struct {
	id   ID
	desc Descriptor
}

// NewMemoryCompositor creates an empty headless compositor
func NewMemoryCompositor() *MemoryCompositor {
	return &MemoryCompositor{
		windows: make(map[NativeWindow]memoryWindow),
		input:   make(chan PointerEvent, 64),
	}
}

// Name returns the backend name
func (m *MemoryCompositor) Name() string {
	return "memory"
}

// Add registers a surface
func (m *MemoryCompositor) Add(id ID, d Descriptor) (NativeWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.windows {
		if w.id == id {
			return 0, fmt.Errorf("surface %s has already been added", id)
		}
	}

	m.next++
	m.windows[m.next] = memoryWindow{id: id, desc: d}
	m.adds++
	return m.next, nil
}

// Update reapplies a descriptor
func (m *MemoryCompositor) Update(w NativeWindow, d Descriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	win, ok := m.windows[w]
	if !ok {
		return fmt.Errorf("window %d not attached to window manager", w)
	}
	win.desc = d
	m.windows[w] = win
	m.updates++
	return nil
}

// Remove unregisters a surface
func (m *MemoryCompositor) Remove(w NativeWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.windows[w]; !ok {
		return fmt.Errorf("window %d not attached to window manager", w)
	}
	delete(m.windows, w)
	m.removes++
	return nil
}

// Close drops all surfaces
func (m *MemoryCompositor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.windows = make(map[NativeWindow]memoryWindow)
	return nil
}

// Input returns injected pointer events
func (m *MemoryCompositor) Input() <-chan PointerEvent {
	return m.input
}

// Inject queues a pointer event as if the display server produced it.
// Events are dropped when the queue is full.
func (m *MemoryCompositor) Inject(ev PointerEvent) {
	select {
	case m.input <- ev:
	default:
	}
}

// Surfaces returns a snapshot of registered surfaces by id
func (m *MemoryCompositor) Surfaces() map[ID]Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[ID]Descriptor, len(m.windows))
	for _, w := range m.windows {
		out[w.id] = w.desc.Clone()
	}
	return out
}

// Stats returns the number of add, update and remove calls seen
func (m *MemoryCompositor) Stats() (adds, updates, removes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adds, m.updates, m.removes
}
