package scheduler

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/zenghr0820/gbsip/logger"
	"github.com/zenghr0820/gbsip/utils"
)

var log = logger.Component("scheduler")

type loopTask struct {
	id       uint64
	timer    *time.Timer
	interval time.Duration
}

// Loop runs every task on one goroutine. Posting never blocks: tasks are
// queued on an elastic channel.
type Loop struct {
	queue *utils.ElasticChan[func()]
	done  chan struct{}

	mu      sync.Mutex
	stopped bool
	seq     uint64
	tasks   map[TaskKey]*loopTask
}

func NewLoop() *Loop {
	l := &Loop{
		queue: utils.NewElasticChan[func()](),
		done:  make(chan struct{}),
		tasks: make(map[TaskKey]*loopTask),
	}
	go l.run()

	return l
}

func (l *Loop) run() {
	defer close(l.done)
	for fn := range l.queue.Out {
		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	fn()
}

func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.queue.In <- fn
}

func (l *Loop) RunAfterDelay(key TaskKey, delay time.Duration, fn func()) {
	l.arm(key, delay, 0, fn)
}

func (l *Loop) RunPeriodic(key TaskKey, interval time.Duration, fn func()) {
	l.arm(key, interval, interval, fn)
}

func (l *Loop) arm(key TaskKey, delay, interval time.Duration, fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}

	if old, ok := l.tasks[key]; ok {
		old.timer.Stop()
	}
	l.seq++
	task := &loopTask{id: l.seq, interval: interval}
	task.timer = time.AfterFunc(delay, func() {
		l.Post(func() { l.fire(key, task, fn) })
	})
	l.tasks[key] = task
}

// fire runs on the loop goroutine. A task replaced or cancelled after its
// timer expired is not run.
func (l *Loop) fire(key TaskKey, task *loopTask, fn func()) {
	l.mu.Lock()
	current, ok := l.tasks[key]
	if !ok || current.id != task.id {
		l.mu.Unlock()
		return
	}
	if task.interval == 0 {
		delete(l.tasks, key)
	}
	l.mu.Unlock()

	l.exec(fn)

	if task.interval > 0 {
		l.mu.Lock()
		if current, ok := l.tasks[key]; ok && current.id == task.id && !l.stopped {
			task.timer.Reset(task.interval)
		}
		l.mu.Unlock()
	}
}

func (l *Loop) Cancel(key TaskKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if task, ok := l.tasks[key]; ok {
		task.timer.Stop()
		delete(l.tasks, key)
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

// Pending 已安排但还没执行的定时任务数
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Stop cancels every timer, runs the tasks already posted and waits for the
// loop goroutine to exit. It must not be called from a task.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	for key, task := range l.tasks {
		task.timer.Stop()
		delete(l.tasks, key)
	}
	l.mu.Unlock()

	l.queue.Stop()
	<-l.done
}
