package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"kinledger/internal/outbox"
	id "kinledger/pkg/domain"
	txcontext "kinledger/pkg/platform/tx"
)

type InMemory struct {
	mu       sync.Mutex
	messages map[id.MessageID]*outbox.Message
}

func NewInMemory() *InMemory {
	return &InMemory{messages: make(map[id.MessageID]*outbox.Message)}
}

func (s *InMemory) Insert(ctx context.Context, m *outbox.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.messages[m.ID] = &cp
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.messages, cp.ID)
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemory) Claim(_ context.Context, limit int) ([]*outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*outbox.Message
	for _, m := range s.messages {
		if m.PublishedAt == nil {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) MarkPublished(_ context.Context, ids []id.MessageID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mid := range ids {
		if m, ok := s.messages[mid]; ok {
			t := at
			m.PublishedAt = &t
		}
	}
	return nil
}

func (s *InMemory) MarkAttempted(_ context.Context, ids []id.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mid := range ids {
		if m, ok := s.messages[mid]; ok {
			m.Attempts++
		}
	}
	return nil
}

// Messages returns every stored message, oldest first.
func (s *InMemory) Messages() []*outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*outbox.Message, 0, len(s.messages))
	for _, m := range s.messages {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
