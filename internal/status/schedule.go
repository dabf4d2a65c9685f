// Package status implements a bounded, timestamped status history with
// change notification. Every stateful entity in the fleet core keeps its
// current status in a Schedule.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEntries bounds a schedule when no explicit capacity is given.
const DefaultMaxEntries = 50

// InsertMode controls how InsertBatch treats the existing history.
type InsertMode int

const (
	// Append adds the batch on top of the existing history.
	Append InsertMode = iota
	// Replace clears the history before inserting the batch.
	Replace
)

// Entry is one timestamped status value.
type Entry[S comparable] struct {
	Timestamp time.Time `json:"timestamp"`
	Value     S         `json:"value"`
}

// ChangeListener observes transitions of the current status value.
// All registered listeners run, in registration order.
type ChangeListener[S comparable] func(timestamp time.Time, eventTrackingID string, previous, current S)

// Schedule is a bounded history of status values for one entity. Entries are
// kept ordered by timestamp; the newest entry is the current status. Inserts
// that reproduce the current value are silent no-ops.
type Schedule[S comparable] struct {
	mu         sync.Mutex
	entries    []Entry[S]
	maxEntries int
	listeners  []ChangeListener[S]
	nowFn      func() time.Time
}

// NewSchedule returns a schedule seeded with the given sentinel value so the
// history is never empty. maxEntries <= 0 selects DefaultMaxEntries.
func NewSchedule[S comparable](seed S, maxEntries int) *Schedule[S] {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	s := &Schedule[S]{
		maxEntries: maxEntries,
		nowFn:      time.Now,
	}
	s.entries = append(s.entries, Entry[S]{Timestamp: s.nowFn().UTC(), Value: seed})
	return s
}

// SetClock overrides the time source. Intended for tests.
func (s *Schedule[S]) SetClock(nowFn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = nowFn
}

// Subscribe registers a change listener.
func (s *Schedule[S]) Subscribe(fn ChangeListener[S]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Insert records value at the current time.
func (s *Schedule[S]) Insert(value S) {
	s.mu.Lock()
	ts := s.nowFn().UTC()
	notify := s.insertLocked(value, ts)
	s.mu.Unlock()
	notify()
}

// InsertAt records value at an explicit timestamp. Timestamps older than the
// current head are accepted as out-of-order corrections and do not change the
// current status.
func (s *Schedule[S]) InsertAt(value S, ts time.Time) {
	s.mu.Lock()
	notify := s.insertLocked(value, ts.UTC())
	s.mu.Unlock()
	notify()
}

// InsertBatch records a batch of entries. With Replace the existing history is
// cleared first. A single change notification fires if the current value
// differs after the batch is applied.
func (s *Schedule[S]) InsertBatch(batch []Entry[S], mode InsertMode) {
	if len(batch) == 0 && mode != Replace {
		return
	}

	s.mu.Lock()
	previous := s.entries[len(s.entries)-1]
	if mode == Replace {
		s.entries = s.entries[:0]
	}
	for _, e := range batch {
		s.entries = append(s.entries, Entry[S]{Timestamp: e.Timestamp.UTC(), Value: e.Value})
	}
	if len(s.entries) == 0 {
		// Replace with an empty batch keeps the last known status so the
		// schedule never becomes empty.
		s.entries = append(s.entries, previous)
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Timestamp.Before(s.entries[j].Timestamp)
	})
	s.trimLocked()

	current := s.entries[len(s.entries)-1]
	notify := func() {}
	if current.Value != previous.Value {
		notify = s.notifierLocked(current.Timestamp, previous.Value, current.Value)
	}
	s.mu.Unlock()
	notify()
}

// Current returns the newest entry.
func (s *Schedule[S]) Current() Entry[S] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[len(s.entries)-1]
}

// Entries returns a copy of the history, oldest first.
func (s *Schedule[S]) Entries() []Entry[S] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry[S], len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of stored entries.
func (s *Schedule[S]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// insertLocked applies one entry and returns the notification to run after the
// lock is released.
func (s *Schedule[S]) insertLocked(value S, ts time.Time) func() {
	head := s.entries[len(s.entries)-1]
	if value == head.Value {
		return func() {}
	}

	entry := Entry[S]{Timestamp: ts, Value: value}
	if !ts.Before(head.Timestamp) {
		s.entries = append(s.entries, entry)
		s.trimLocked()
		return s.notifierLocked(ts, head.Value, value)
	}

	// Out-of-order correction: keep ordering, current status unchanged.
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp.After(ts)
	})
	s.entries = append(s.entries, Entry[S]{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry
	s.trimLocked()
	return func() {}
}

func (s *Schedule[S]) trimLocked() {
	if over := len(s.entries) - s.maxEntries; over > 0 {
		s.entries = append(s.entries[:0], s.entries[over:]...)
	}
}

func (s *Schedule[S]) notifierLocked(ts time.Time, previous, current S) func() {
	listeners := make([]ChangeListener[S], len(s.listeners))
	copy(listeners, s.listeners)
	trackingID := uuid.NewString()
	return func() {
		for _, fn := range listeners {
			fn(ts, trackingID, previous, current)
		}
	}
}
