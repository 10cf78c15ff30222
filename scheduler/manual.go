package scheduler

import (
	"sync"
	"time"
)

type manualTask struct {
	seq      uint64
	due      time.Time
	interval time.Duration
	fn       func()
}

// Manual is a deterministic Scheduler driven by a virtual clock. Nothing runs
// until Flush or Advance is called; due tasks run in deadline order, ties in
// arming order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	tasks  map[TaskKey]*manualTask
	posted []func()
}

func NewManual() *Manual {
	return &Manual{
		now:   time.Unix(0, 0),
		tasks: make(map[TaskKey]*manualTask),
	}
}

func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.posted = append(m.posted, fn)
	m.mu.Unlock()
}

func (m *Manual) RunAfterDelay(key TaskKey, delay time.Duration, fn func()) {
	m.arm(key, delay, 0, fn)
}

func (m *Manual) RunPeriodic(key TaskKey, interval time.Duration, fn func()) {
	m.arm(key, interval, interval, fn)
}

func (m *Manual) arm(key TaskKey, delay, interval time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.tasks[key] = &manualTask{seq: m.seq, due: m.now.Add(delay), interval: interval, fn: fn}
}

func (m *Manual) Cancel(key TaskKey) {
	m.mu.Lock()
	delete(m.tasks, key)
	m.mu.Unlock()
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Flush runs posted tasks until none is left.
func (m *Manual) Flush() {
	for {
		m.mu.Lock()
		if len(m.posted) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.posted[0]
		m.posted = m.posted[1:]
		m.mu.Unlock()

		fn()
	}
}

// Advance moves the clock forward by d, running posted tasks and every timer
// that falls due on the way.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.Flush()

		m.mu.Lock()
		key, task := m.next(target)
		if task == nil {
			m.now = target
			m.mu.Unlock()
			break
		}
		m.now = task.due
		if task.interval > 0 {
			m.seq++
			task.seq = m.seq
			task.due = task.due.Add(task.interval)
		} else {
			delete(m.tasks, key)
		}
		m.mu.Unlock()

		task.fn()
	}

	m.Flush()
}

func (m *Manual) next(target time.Time) (TaskKey, *manualTask) {
	var (
		bestKey TaskKey
		best    *manualTask
	)
	for key, task := range m.tasks {
		if task.due.After(target) {
			continue
		}
		if best == nil || task.due.Before(best.due) || (task.due.Equal(best.due) && task.seq < best.seq) {
			bestKey, best = key, task
		}
	}
	return bestKey, best
}

// Pending 已安排的定时任务数
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Has reports whether a task is armed for key.
func (m *Manual) Has(key TaskKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[key]
	return ok
}

// Due returns when the task of key falls due.
func (m *Manual) Due(key TaskKey) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[key]
	if !ok {
		return time.Time{}, false
	}
	return task.due, true
}
