package entity

import "sync"

// EventName identifies a record lifecycle event.
type EventName string

const (
	EventRecordNotExist EventName = "record-not-exist"
	EventNotChanged     EventName = "not-changed"
	EventSaveSuccess    EventName = "save-success"
	EventSaveFail       EventName = "save-fail"
	EventDeleteSuccess  EventName = "delete-success"
	EventDeleteFail     EventName = "delete-fail"
	// EventSync fires after fetched attributes were applied.
	EventSync EventName = "sync"
	// EventError fires when a fetch fails in transport.
	EventError EventName = "error"
)

// Event is passed to handlers. Response is nil for events raised without
// a server exchange.
type Event struct {
	Name     EventName
	Record   *Record
	Response *Response
}

// Handler receives events. Handlers run on the goroutine that completed
// the operation and must not block.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

type emitter struct {
	mu       sync.Mutex
	next     uint64
	handlers map[EventName][]subscription
}

// on registers fn and returns a function removing it.
func (e *emitter) on(name EventName, fn Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handlers == nil {
		e.handlers = make(map[EventName][]subscription)
	}
	e.next++
	id := e.next
	e.handlers[name] = append(e.handlers[name], subscription{id: id, fn: fn})
	return func() { e.off(name, id) }
}

func (e *emitter) off(name EventName, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[name]
	for i, s := range subs {
		if s.id == id {
			e.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	subs := append([]subscription(nil), e.handlers[ev.Name]...)
	e.mu.Unlock()
	for _, s := range subs {
		s.fn(ev)
	}
}
