package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Bus is an in-process fan-out of committed events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	log    *zap.Logger
}

type subscription struct {
	types   map[EventType]struct{}
	handler Handler
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs: make(map[uint64]subscription),
		log:  log.Named("events.bus"),
	}
}

// Subscribe registers handler for the given types, or for every type when none
// are given. The returned func removes the subscription.
func (b *Bus) Subscribe(handler Handler, types ...EventType) func() {
	if b == nil || handler == nil {
		return func() {}
	}
	filter := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{types: filter, handler: handler}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(ctx context.Context, evt Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, sub := range b.subs {
		if len(sub.types) > 0 {
			if _, ok := sub.types[evt.Type]; !ok {
				continue
			}
		}
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(ctx, h, evt)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("event_type", string(evt.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, evt)
}
