package store

import (
	"errors"
	"sync"

	"example.com/photoposts/internal/models"
)

// MockJournal keeps events in memory for tests.
type MockJournal struct {
	mu         sync.Mutex
	Events     map[string][]models.Event
	ShouldFail bool // flag to simulate failures
	Closed     bool
}

// NewMockJournal initializes an empty mock journal
func NewMockJournal() *MockJournal {
	return &MockJournal{
		Events: make(map[string][]models.Event),
	}
}

func (m *MockJournal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}

// AppendEvent records ev under its post id
func (m *MockJournal) AppendEvent(ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return errors.New("mock: append event failed")
	}
	m.Events[ev.PostID] = append(m.Events[ev.PostID], ev)
	return nil
}

// History returns the newest limit events for postID, newest first
func (m *MockJournal) History(postID string, limit int) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ShouldFail {
		return nil, errors.New("mock: history failed")
	}
	events := m.Events[postID]
	res := make([]models.Event, 0, len(events))
	for i := len(events) - 1; i >= 0 && (limit <= 0 || len(res) < limit); i-- {
		res = append(res, events[i])
	}
	return res, nil
}

// Count returns the number of events recorded across all posts
func (m *MockJournal) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, evs := range m.Events {
		n += len(evs)
	}
	return n
}

// ---------------------------------------------
// MockJournalFail always returns errors for negative tests
type MockJournalFail struct{}

func (m *MockJournalFail) Close() {}

func (m *MockJournalFail) AppendEvent(ev models.Event) error {
	return errors.New("mock journal append failed")
}

func (m *MockJournalFail) History(postID string, limit int) ([]models.Event, error) {
	return nil, errors.New("mock journal history failed")
}
