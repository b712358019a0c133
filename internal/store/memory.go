package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nadmax/imagegen/internal/task"
)

type memoryEntry struct {
	task *task.Task
	seq  uint64
}

// MemoryStore keeps tasks in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[string]*memoryEntry
	byProvider map[string]string
	seq        uint64
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*memoryEntry),
		byProvider: make(map[string]string),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Create(_ context.Context, prompt string, ratio task.AspectRatio) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := task.NewTask(prompt, ratio, s.now())
	for s.tasks[t.ID] != nil {
		t.ID = task.NewID()
	}

	s.seq++
	s.tasks[t.ID] = &memoryEntry{task: t, seq: s.seq}
	return t.Clone(), nil
}

func (s *MemoryStore) AttachProviderID(_ context.Context, id, providerTaskID string) (*task.Task, error) {
	if providerTaskID == "" {
		return nil, ErrEmptyProviderID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}

	if owner, taken := s.byProvider[providerTaskID]; taken && owner != id {
		return nil, fmt.Errorf("%w: %s", task.ErrProviderIDTaken, providerTaskID)
	}
	if e.task.ProviderTaskID != "" && e.task.ProviderTaskID != providerTaskID {
		return nil, fmt.Errorf("%w: task %s already has provider id %s", task.ErrProviderIDTaken, id, e.task.ProviderTaskID)
	}

	e.task.ProviderTaskID = providerTaskID
	e.task.UpdatedAt = s.now()
	s.byProvider[providerTaskID] = id
	return e.task.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}

	return e.task.Clone(), nil
}

func (s *MemoryStore) GetByProviderID(_ context.Context, providerTaskID string) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byProvider[providerTaskID]
	if !ok {
		return nil, fmt.Errorf("%w: provider id %s", task.ErrNotFound, providerTaskID)
	}

	return s.tasks[id].task.Clone(), nil
}

func (s *MemoryStore) Merge(_ context.Context, id string, u task.Update) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if !u.Allows(e.task.Status) {
		return nil, fmt.Errorf("%w: %s is %s", task.ErrStatusConflict, id, e.task.Status)
	}

	e.task.Apply(u, s.now())
	return e.task.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*task.Task, error) {
	limit, offset = NormalizePage(limit, offset)

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*memoryEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		entries = append(entries, e)
	}

	slices.SortFunc(entries, func(a, b *memoryEntry) int {
		if c := b.task.CreatedAt.Compare(a.task.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.seq, a.seq)
	})

	if offset >= len(entries) {
		return []*task.Task{}, nil
	}
	end := min(offset+limit, len(entries))

	tasks := make([]*task.Task, 0, end-offset)
	for _, e := range entries[offset:end] {
		tasks = append(tasks, e.task.Clone())
	}

	return tasks, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
