// Package registry keeps the last known state of submitted jobs so status and
// listing queries can be answered without another provider round trip.
package registry

import (
	"container/list"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/fluxmcp/internal/job"
)

// ErrNotFound is returned when no live entry exists for an id.
var ErrNotFound = errors.New("job not found in registry")

// ErrEmptyID is returned when a job without an id is stored.
var ErrEmptyID = errors.New("job has no id")

// Memory is a bounded in-process registry. Entries are evicted least recently
// written first once Capacity is reached, and expire TTL after their last write.
type Memory struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently written
	now      func() time.Time
}

type memEntry struct {
	job     job.Job
	expires time.Time
}

// NewMemory creates a registry. capacity <= 0 means unbounded, ttl <= 0 means no expiry.
func NewMemory(capacity int, ttl time.Duration) *Memory {
	return &Memory{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Put merges j into any existing entry and returns the stored record.
func (m *Memory) Put(_ context.Context, j job.Job) (job.Job, error) {
	if j.ID == "" {
		return job.Job{}, ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)
	if el, ok := m.entries[j.ID]; ok {
		return m.mergeLocked(el, j, now), nil
	}
	return m.putLocked(j, now), nil
}

// Update merges j only if a live entry already exists.
func (m *Memory) Update(_ context.Context, j job.Job) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	el, ok := m.entries[j.ID]
	if !ok {
		return job.Job{}, ErrNotFound
	}
	if m.expired(el.Value.(*memEntry), now) {
		m.remove(el)
		return job.Job{}, ErrNotFound
	}
	return m.mergeLocked(el, j, now), nil
}

// mergeLocked folds j into an existing entry. Caller holds mu.
func (m *Memory) mergeLocked(el *list.Element, j job.Job, now time.Time) job.Job {
	e := el.Value.(*memEntry)
	e.job = stamp(e.job.Merge(j), now)
	e.expires = m.expiry(now)
	m.order.MoveToFront(el)
	return e.job
}

// putLocked inserts a new entry and evicts past capacity. Caller holds mu.
func (m *Memory) putLocked(j job.Job, now time.Time) job.Job {
	stored := stamp(job.Job{}.Merge(j), now)
	m.entries[j.ID] = m.order.PushFront(&memEntry{job: stored, expires: m.expiry(now)})
	for m.capacity > 0 && m.order.Len() > m.capacity {
		m.remove(m.order.Back())
	}
	return stored
}

func (m *Memory) Get(_ context.Context, id string) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[id]
	if !ok {
		return job.Job{}, ErrNotFound
	}
	e := el.Value.(*memEntry)
	if m.expired(e, m.now()) {
		m.remove(el)
		return job.Job{}, ErrNotFound
	}
	return e.job, nil
}

// List returns live entries, newest first.
func (m *Memory) List(_ context.Context) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(m.now())
	out := make([]job.Job, 0, m.order.Len())
	for el := m.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*memEntry).job)
	}
	sortNewestFirst(out)
	return out, nil
}

// Len reports the number of stored entries, including any not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Memory) expiry(now time.Time) time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return now.Add(m.ttl)
}

func (m *Memory) expired(e *memEntry, now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// sweep drops expired entries. Caller holds mu.
func (m *Memory) sweep(now time.Time) {
	if m.ttl <= 0 {
		return
	}
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		if m.expired(el.Value.(*memEntry), now) {
			m.remove(el)
		}
		el = prev
	}
}

func (m *Memory) remove(el *list.Element) {
	e := m.order.Remove(el).(*memEntry)
	delete(m.entries, e.job.ID)
}

func stamp(j job.Job, now time.Time) job.Job {
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.Before(now) {
		j.UpdatedAt = now
	}
	return j
}

func sortNewestFirst(jobs []job.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}
