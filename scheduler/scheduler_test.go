package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestManualOrdering(t *testing.T) {
	m := NewManual()
	var got []string

	m.RunAfterDelay(TaskKey{"tx", "B"}, 2*time.Second, func() { got = append(got, "B") })
	m.RunAfterDelay(TaskKey{"tx", "A"}, time.Second, func() { got = append(got, "A") })
	m.RunAfterDelay(TaskKey{"tx2", "A"}, time.Second, func() { got = append(got, "A2") })
	m.Post(func() { got = append(got, "post") })

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"post", "A", "A2"}, got)
	assert.Equal(t, time.Unix(0, 0).Add(1500*time.Millisecond), m.Now())

	m.Advance(time.Second)
	assert.Equal(t, []string{"post", "A", "A2", "B"}, got)
	assert.Zero(t, m.Pending())
}

func TestManualRearmReplaces(t *testing.T) {
	m := NewManual()
	key := TaskKey{"tx", "E"}
	fired := 0

	m.RunAfterDelay(key, time.Second, func() { fired++ })
	m.RunAfterDelay(key, 3*time.Second, func() { fired += 10 })

	m.Advance(2 * time.Second)
	assert.Equal(t, 0, fired)
	m.Advance(time.Second)
	assert.Equal(t, 10, fired)
}

func TestManualCancel(t *testing.T) {
	m := NewManual()
	key := TaskKey{"tx", "F"}
	fired := false

	m.RunAfterDelay(key, time.Second, func() { fired = true })
	require.True(t, m.Has(key))
	m.Cancel(key)
	m.Cancel(TaskKey{"unknown", "x"})

	m.Advance(time.Minute)
	assert.False(t, fired)
}

func TestManualPeriodic(t *testing.T) {
	m := NewManual()
	key := TaskKey{"dlg", "keepalive"}
	count := 0

	m.RunPeriodic(key, time.Second, func() {
		count++
		if count == 3 {
			m.Cancel(key)
		}
	})

	m.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}

func TestManualTaskArmsTask(t *testing.T) {
	m := NewManual()
	var at []time.Duration
	start := m.Now()

	m.RunAfterDelay(TaskKey{"a", "1"}, time.Second, func() {
		at = append(at, m.Now().Sub(start))
		m.RunAfterDelay(TaskKey{"a", "2"}, time.Second, func() {
			at = append(at, m.Now().Sub(start))
		})
	})

	m.Advance(5 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, at)
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoop()
	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		})
	}
	<-done
	l.Stop()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoopTimers(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoop()
	fired := make(chan string, 4)

	l.RunAfterDelay(TaskKey{"tx", "cancelled"}, 20*time.Millisecond, func() { fired <- "cancelled" })
	l.Cancel(TaskKey{"tx", "cancelled"})
	l.RunAfterDelay(TaskKey{"tx", "J"}, 10*time.Millisecond, func() { fired <- "J" })

	select {
	case name := <-fired:
		assert.Equal(t, "J", name)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	select {
	case name := <-fired:
		t.Fatalf("unexpected task %s", name)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Zero(t, l.Pending())
	l.Stop()
}

func TestLoopRecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLoop()
	done := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop died after a panic")
	}
	l.Stop()
	l.Post(func() { t.Error("posted after stop") })
}
