package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sitesmith/sitesmith/pkg/models"
)

type memoryEntry struct {
	data      []byte
	logs      []models.LogEntry
	expiresAt time.Time
}

// MemoryStore implements Store in process memory with the same TTL and
// terminal-state semantics as RedisStore. It backs unit tests and local
// development without a Redis instance.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memoryEntry
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		now:      time.Now,
	}
}

// WithClock overrides the store's time source. Intended for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// live returns the entry if it exists and has not expired. Caller holds s.mu.
func (s *MemoryStore) live(id string) *memoryEntry {
	e, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.sessions, id)
		return nil
	}
	return e
}

func decode(e *memoryEntry) (*models.Session, error) {
	var sess models.Session
	if err := json.Unmarshal(e.data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	sess.LogCount = len(e.logs)
	return &sess, nil
}

func (s *MemoryStore) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(sess.ID) != nil {
		return ErrSessionExists
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	s.sessions[sess.ID] = &memoryEntry{
		data:      data,
		expiresAt: s.now().Add(TTLFor(sess.Type)),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(id)
	if e == nil {
		return nil, ErrNotFound
	}
	return decode(e)
}

func (s *MemoryStore) Put(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(sess.ID)
	if e == nil {
		return ErrNotFound
	}

	stored, err := decode(e)
	if err != nil {
		return err
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrSessionFinalized, stored.Status)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	e.data = data
	return nil
}

func (s *MemoryStore) AppendLog(_ context.Context, id string, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(id)
	if e == nil {
		return nil
	}
	e.logs = append(e.logs, entry)
	return nil
}

func (s *MemoryStore) Logs(_ context.Context, id string) ([]models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(id)
	if e == nil {
		return nil, nil
	}
	out := make([]models.LogEntry, len(e.logs))
	copy(out, e.logs)
	return out, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	matched := all[:0]
	for _, sess := range all {
		if sess.Status == status {
			matched = append(matched, sess)
		}
	}
	return matched, nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]*models.Session, 0, len(s.sessions))
	for id := range s.sessions {
		e := s.live(id)
		if e == nil {
			continue
		}
		sess, err := decode(e)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
