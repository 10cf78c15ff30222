package scheduler

import (
	"time"
)

// TaskKey identifies a scheduled task: the owning state machine and the
// timer kind ("E", "F", "resubscribe"...). Arming a key again replaces the
// previous task.
type TaskKey struct {
	Owner string
	Kind  string
}

func (k TaskKey) String() string {
	return k.Owner + "/" + k.Kind
}

// Scheduler is the single execution context of a provider. Every task runs
// on it, one at a time.
type Scheduler interface {
	// Post runs fn as soon as possible.
	Post(fn func())
	// RunAfterDelay runs fn once after delay.
	RunAfterDelay(key TaskKey, delay time.Duration, fn func())
	// RunPeriodic runs fn every interval until the key is cancelled.
	RunPeriodic(key TaskKey, interval time.Duration, fn func())
	// Cancel drops the task of key; unknown keys are ignored.
	Cancel(key TaskKey)
	Now() time.Time
}
