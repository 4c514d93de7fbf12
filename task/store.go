package task

import (
	"context"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"pdfextract/extract"
)

// Store is the single source of truth for task state. Workers are the only
// writers after enqueue; clients only read. Terminal states are immutable:
// a second Complete or Fail reports ErrInvalidTransition and never
// overwrites the first write.
type Store interface {
	Create(ctx context.Context, filename string, size int64) (*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	Delete(ctx context.Context, id string) error

	// Update adjusts progress and message. Progress never moves backwards;
	// lower values are clamped to the current one.
	Update(ctx context.Context, id string, progress int, message string) error
	// MarkProcessing transitions queued -> processing. Any other starting
	// state reports ErrInvalidTransition, so a task can only be claimed
	// once.
	MarkProcessing(ctx context.Context, id string, progress int, message string) error
	// Complete and Fail finalize a claimed task. Both are legal only from
	// processing; tasks never skip the claim.
	Complete(ctx context.Context, id string, result *extract.Result, backend string) error
	Fail(ctx context.Context, id string, kind, message string) error

	// Uploaded document bytes live beside the task record, keyed by task
	// id, so the queue itself carries only identifiers.
	PutPayload(ctx context.Context, id string, data []byte) error
	Payload(ctx context.Context, id string) ([]byte, error)
	DeletePayload(ctx context.Context, id string) error

	// Ping reports whether the underlying storage is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// MemoryStore is a mutex-protected in-memory Store with TTL expiry. It
// backs tests and single-process deployments; RedisStore provides the
// durable variant with the same semantics.
type MemoryStore struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	payloads map[string][]byte
	expiry   time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewMemoryStore creates an empty store. Records expire after expiry;
// zero disables expiry.
func NewMemoryStore(expiry time.Duration) *MemoryStore {
	s := &MemoryStore{
		tasks:    make(map[string]*Task),
		payloads: make(map[string][]byte),
		expiry:   expiry,
		done:     make(chan struct{}),
	}
	if expiry > 0 {
		go s.janitor()
	}
	return s
}

func (s *MemoryStore) Create(ctx context.Context, filename string, size int64) (*Task, error) {
	now := time.Now().UTC()
	t := &Task{
		ID:        shortuuid.New(),
		Filename:  filename,
		Size:      size,
		Status:    StatusQueued,
		Progress:  0,
		Message:   "Task created, waiting to start",
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t

	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || s.expired(t) {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if s.expired(t) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || s.expired(t) {
		return ErrNotFound
	}
	delete(s.tasks, id)
	delete(s.payloads, id)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, progress int, message string) error {
	return s.mutate(id, func(t *Task) error {
		if t.Status.Terminal() {
			return ErrInvalidTransition
		}
		if progress > t.Progress {
			t.Progress = progress
		}
		t.Message = message
		return nil
	})
}

func (s *MemoryStore) MarkProcessing(ctx context.Context, id string, progress int, message string) error {
	return s.mutate(id, func(t *Task) error {
		if t.Status != StatusQueued {
			return ErrInvalidTransition
		}
		t.Status = StatusProcessing
		if progress > t.Progress {
			t.Progress = progress
		}
		t.Message = message
		return nil
	})
}

func (s *MemoryStore) Complete(ctx context.Context, id string, result *extract.Result, backend string) error {
	return s.mutate(id, func(t *Task) error {
		if t.Status != StatusProcessing {
			return ErrInvalidTransition
		}
		t.Status = StatusCompleted
		t.Progress = 100
		t.Message = "Extraction completed successfully"
		t.Backend = backend
		t.Result = result
		t.Error = nil
		return nil
	})
}

func (s *MemoryStore) Fail(ctx context.Context, id string, kind, message string) error {
	return s.mutate(id, func(t *Task) error {
		if t.Status != StatusProcessing {
			return ErrInvalidTransition
		}
		t.Status = StatusFailed
		t.Message = "Extraction failed: " + message
		t.Result = nil
		t.Error = &Error{Kind: kind, Message: message}
		return nil
	})
}

func (s *MemoryStore) PutPayload(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.payloads[id] = cp
	return nil
}

func (s *MemoryStore) Payload(ctx context.Context, id string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.payloads[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) DeletePayload(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.payloads, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// mutate applies fn to a live record under the lock, refreshing UpdatedAt
// on success.
func (s *MemoryStore) mutate(id string, fn func(*Task) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || s.expired(t) {
		return ErrNotFound
	}
	if err := fn(t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) expired(t *Task) bool {
	return s.expiry > 0 && time.Since(t.UpdatedAt) > s.expiry
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(s.expiry / 4)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			for id, t := range s.tasks {
				if s.expired(t) {
					delete(s.tasks, id)
					delete(s.payloads, id)
				}
			}
			s.mu.Unlock()
		}
	}
}
