package websocket

import (
	"sync"

	"github.com/stemsi/exstem-kiosk/internal/integrity"
)

type listener struct {
	id int
	fn func(*integrity.Event)
}

// Surface is an integrity.EventSurface fed by the browser over the session socket.
type Surface struct {
	mu          sync.Mutex
	listeners   map[integrity.EventKind][]listener
	nextID      int
	metrics     integrity.WindowMetrics
	onSelection func(enabled bool)
}

// NewSurface creates a Surface. onSelection relays text-selection changes to the page.
func NewSurface(onSelection func(enabled bool)) *Surface {
	return &Surface{
		listeners:   make(map[integrity.EventKind][]listener),
		onSelection: onSelection,
	}
}

func (s *Surface) Subscribe(kind integrity.EventKind, fn func(*integrity.Event)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[kind] = append(s.listeners[kind], listener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.listeners[kind]
			for i, l := range list {
				if l.id == id {
					s.listeners[kind] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Surface) Metrics() integrity.WindowMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *Surface) SetSelectionEnabled(enabled bool) {
	if s.onSelection != nil {
		s.onSelection(enabled)
	}
}

// UpdateMetrics records the latest window geometry reported by the page.
func (s *Surface) UpdateMetrics(m integrity.WindowMetrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Dispatch delivers e to the listeners of its kind and reports whether any of them
// prevented it. Listeners may unsubscribe while being dispatched.
func (s *Surface) Dispatch(e *integrity.Event) bool {
	s.mu.Lock()
	if e.Kind == integrity.EventResize && e.Width > 0 && e.Height > 0 {
		s.metrics.InnerWidth, s.metrics.InnerHeight = e.Width, e.Height
	}
	list := append([]listener(nil), s.listeners[e.Kind]...)
	s.mu.Unlock()

	for _, l := range list {
		l.fn(e)
	}
	return e.Prevented()
}

// Listening reports how many listeners are registered in total.
func (s *Surface) Listening() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range s.listeners {
		n += len(list)
	}
	return n
}
