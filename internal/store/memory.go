package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	status  *Status
	summary []byte
	preview []byte
	expires time.Time
}

// MemoryStore is the single-process Store used without Redis.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	jobs map[string]*memEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{ttl: ttl, now: time.Now, jobs: map[string]*memEntry{}}
}

// entry returns the live entry for jobID, dropping it when expired.
func (m *MemoryStore) entry(jobID string, create bool) *memEntry {
	e, ok := m.jobs[jobID]
	if ok && m.now().After(e.expires) {
		delete(m.jobs, jobID)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		e = &memEntry{}
		m.jobs[jobID] = e
	}
	if create {
		e.expires = m.now().Add(m.ttl)
	}
	return e
}

func (m *MemoryStore) SetStatus(_ context.Context, jobID string, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := st
	m.entry(jobID, true).status = &cp
	return nil
}

func (m *MemoryStore) GetStatus(_ context.Context, jobID string) (Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(jobID, false)
	if e == nil || e.status == nil {
		return Status{}, false, nil
	}
	return *e.status, true, nil
}

func (m *MemoryStore) SaveResult(_ context.Context, jobID string, summaryJSON, previewJPEG []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(jobID, true)
	e.summary = append([]byte(nil), summaryJSON...)
	if len(previewJPEG) > 0 {
		e.preview = append([]byte(nil), previewJPEG...)
	}
	return nil
}

func (m *MemoryStore) GetSummary(_ context.Context, jobID string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(jobID, false)
	if e == nil || e.summary == nil {
		return nil, false, nil
	}
	return e.summary, true, nil
}

func (m *MemoryStore) GetPreview(_ context.Context, jobID string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(jobID, false)
	if e == nil || e.preview == nil {
		return nil, false, nil
	}
	return e.preview, true, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }
