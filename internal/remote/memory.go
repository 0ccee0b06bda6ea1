// Package remote holds the document store adapters the sync engine pushes
// to and pulls from.
package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sandeepkv93/tasksync/internal/model"
)

// Memory is an in-process remote store. Every write follows the same
// last-write-wins rule as the Firestore adapter and is stamped with a
// strictly increasing modification time. It can simulate an offline backend
// for tests and local runs.
type Memory struct {
	mu       sync.Mutex
	users    map[string]map[string]stored
	offline  bool
	failures map[string]int
	writes   int
	clock    func() time.Time
	last     time.Time
}

type stored struct {
	task       model.Task
	modifiedAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]map[string]stored),
		failures: make(map[string]int),
		clock:    time.Now,
	}
}

// SetOffline makes every call fail with a transient network error.
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

// FailTask makes the next n writes for taskID fail transiently.
func (m *Memory) FailTask(taskID string, n int) {
	m.mu.Lock()
	m.failures[taskID] = n
	m.mu.Unlock()
}

// Writes counts the writes that reached the store.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Put stores t as-is, bypassing the write rule. It stands in for edits made
// by another device.
func (m *Memory) Put(userID string, t model.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeLocked(userID, t)
}

func (m *Memory) GetTask(_ context.Context, userID, taskID string) (model.Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return model.Task{}, false, fmt.Errorf("%w: remote offline", model.ErrTransientNetwork)
	}
	cur, ok := m.bucket(userID)[taskID]
	if !ok {
		return model.Task{}, false, nil
	}
	return cur.task.Clone(), true, nil
}

func (m *Memory) UpsertTask(_ context.Context, userID string, t model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(t.ID); err != nil {
		return err
	}
	m.writes++
	if cur, ok := m.bucket(userID)[t.ID]; ok && !t.UpdatedAt.After(cur.task.UpdatedAt) {
		return nil
	}
	m.storeLocked(userID, t)
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, userID, taskID string, deletedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failLocked(taskID); err != nil {
		return err
	}
	m.writes++
	cur, ok := m.bucket(userID)[taskID]
	if ok && cur.task.UpdatedAt.After(deletedAt) {
		return nil
	}
	t := cur.task
	if !ok {
		t = model.Task{ID: taskID}
	}
	at := deletedAt.UTC()
	t.DeletedAt = &at
	t.UpdatedAt = at
	m.storeLocked(userID, t)
	return nil
}

// ListTasksModifiedSince returns tasks and tombstones written strictly after
// since by the store's own clock, oldest first.
func (m *Memory) ListTasksModifiedSince(_ context.Context, userID string, since time.Time) ([]model.RemoteChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, fmt.Errorf("%w: remote offline", model.ErrTransientNetwork)
	}
	out := make([]model.RemoteChange, 0)
	for _, cur := range m.bucket(userID) {
		if cur.modifiedAt.After(since) {
			out = append(out, model.RemoteChange{Task: cur.task.Clone(), ModifiedAt: cur.modifiedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModifiedAt.Before(out[j].ModifiedAt) })
	return out, nil
}

func (m *Memory) storeLocked(userID string, t model.Task) {
	now := m.clock().UTC()
	if !now.After(m.last) {
		now = m.last.Add(time.Nanosecond)
	}
	m.last = now
	m.bucket(userID)[t.ID] = stored{task: t.Clone(), modifiedAt: now}
}

func (m *Memory) failLocked(taskID string) error {
	if m.offline {
		return fmt.Errorf("%w: remote offline", model.ErrTransientNetwork)
	}
	if n := m.failures[taskID]; n > 0 {
		m.failures[taskID] = n - 1
		return fmt.Errorf("%w: injected failure for %s", model.ErrTransientNetwork, taskID)
	}
	return nil
}

func (m *Memory) bucket(userID string) map[string]stored {
	tasks, ok := m.users[userID]
	if !ok {
		tasks = make(map[string]stored)
		m.users[userID] = tasks
	}
	return tasks
}
