package dialog

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/zenghr0820/gbsip/sip"
)

// 订阅对话的状态
const (
	StateInit        = "D_INIT"
	StateWaiting     = "D_WAITING"
	StateSubscribed  = "D_SUBSCRIBED"
	StateSubscribing = "D_SUBSCRIBING"
	StateAccepted    = "D_ACCEPTED"
	StatePending     = "D_PENDING"
	StateActive      = "D_ACTIVE"
	StateTerminated  = "D_TERMINATED"
)

const (
	eventListen    = "listen"
	eventSubscribe = "subscribe"
	eventAccept    = "accept"
	eventPending   = "pending"
	eventActivate  = "activate"
	eventTerminate = "terminate"
)

// machine wraps a looplab/fsm so that an event the current state does not
// accept is a no-op.
type machine struct {
	*fsm.FSM
}

func newMachine(owner *base, events fsm.Events, onTerminated func()) *machine {
	m := new(machine)
	m.FSM = fsm.NewFSM(StateInit, events, fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			owner.log.Debugf("%s changed dialog state %s -> %s", owner, e.Src, e.Dst)
			if e.Dst == StateTerminated {
				onTerminated()
			}
		},
	})
	return m
}

// fire reports whether the event moved the machine.
func (m *machine) fire(event string) bool {
	if !m.Can(event) {
		return false
	}
	if err := m.Event(context.Background(), event); err != nil {
		return false
	}
	return true
}

func (m *machine) is(states ...string) bool {
	cur := m.Current()
	for _, s := range states {
		if cur == s {
			return true
		}
	}
	return false
}

// subscriptionState of a NOTIFY, empty when the header is missing.
func subscriptionState(msg *sip.Message) (string, *sip.SubscriptionState) {
	ss, ok := msg.SubscriptionState()
	if !ok {
		return "", nil
	}
	return ss.State, ss
}
