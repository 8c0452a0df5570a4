package jobs

import (
	"context"
	"sync"
	"time"
)

type subscriber chan string

type jobRecord struct {
	rec         Record
	subscribers []subscriber
	logs        []string
}

// MemStore keeps job records in memory and supports log subscriptions.
type MemStore struct {
	mu    sync.RWMutex
	items map[string]*jobRecord
}

func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]*jobRecord)}
}

func (s *MemStore) Create(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.ID] = &jobRecord{rec: rec}
	return nil
}

func (s *MemStore) SetState(_ context.Context, id string, state State, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	applyState(&item.rec, state, errMsg, time.Now().UTC())
	if state.Terminal() {
		closeAll(item)
	}
	return nil
}

func (s *MemStore) SetArtifact(_ context.Context, id string, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.rec.ArtifactURL = url
	item.rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) AppendLog(_ context.Context, id string, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	item.logs = append(item.logs, line)
	for _, sub := range item.subscribers {
		select {
		case sub <- line:
		default:
		}
	}
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return item.rec, nil
}

func (s *MemStore) Logs(_ context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), item.logs...), nil
}

// Subscribe replays existing log lines and then streams new ones. The
// channel is closed once the job reaches a terminal state.
func (s *MemStore) Subscribe(id string) (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}

	ch := make(subscriber, len(item.logs)+32)
	for _, line := range item.logs {
		ch <- line
	}
	if item.rec.State.Terminal() {
		close(ch)
		return ch, nil
	}
	item.subscribers = append(item.subscribers, ch)
	return ch, nil
}

func closeAll(item *jobRecord) {
	for _, sub := range item.subscribers {
		close(sub)
	}
	item.subscribers = nil
}
