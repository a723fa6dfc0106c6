package realtime

import (
	"context"
	"sync"
)

type memorySub struct {
	stream  *MemoryStream
	subject string
	id      uint64
}

func (s *memorySub) Close() error {
	s.stream.remove(s.subject, s.id)
	return nil
}

// MemoryStream is an in-process Stream for tests and offline development.
// Publish delivers synchronously to matching subscribers, which makes test
// assertions deterministic.
type MemoryStream struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]subscriberEntry
	nextID uint64
	closed bool
}

type subscriberEntry struct {
	ctx context.Context
	h   Handler
}

var _ Stream = (*MemoryStream)(nil)

// NewMemoryStream returns an empty in-process stream.
func NewMemoryStream() *MemoryStream {
	return &MemoryStream{subs: make(map[string]map[uint64]subscriberEntry)}
}

func (s *MemoryStream) Publish(ctx context.Context, userID string, ev Event) error {
	subject := Subject(ev.Table, userID)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	entries := make([]subscriberEntry, 0, len(s.subs[subject]))
	for _, entry := range s.subs[subject] {
		if entry.ctx.Err() == nil {
			entries = append(entries, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range entries {
		entry.h(entry.ctx, ev)
	}
	return nil
}

func (s *MemoryStream) Subscribe(ctx context.Context, table, userID string, h Handler) (Subscription, error) {
	subject := Subject(table, userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	id := s.nextID
	s.nextID++
	if s.subs[subject] == nil {
		s.subs[subject] = make(map[uint64]subscriberEntry)
	}
	s.subs[subject][id] = subscriberEntry{ctx: ctx, h: h}
	return &memorySub{stream: s, subject: subject, id: id}, nil
}

// SubscriberCount reports how many subscriptions a (table, userID) scope
// currently has. Test helper.
func (s *MemoryStream) SubscriberCount(table, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[Subject(table, userID)])
}

func (s *MemoryStream) remove(subject string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.subs[subject]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(s.subs, subject)
		}
	}
}

func (s *MemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[string]map[uint64]subscriberEntry)
	return nil
}
