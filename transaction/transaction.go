package transaction

import (
	"fmt"
	"time"

	"github.com/discoviking/fsm"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/logger"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/scheduler"
	"github.com/zenghr0820/gbsip/sip"
)

// State 事务状态
type State int

const (
	Idle State = iota
	Waiting
	Trying
	Proceeding
	Completed
	Confirmed
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "T_Idle"
	case Waiting:
		return "T_Waiting"
	case Trying:
		return "T_Trying"
	case Proceeding:
		return "T_Proceeding"
	case Completed:
		return "T_Completed"
	case Confirmed:
		return "T_Confirmed"
	case Terminated:
		return "T_Terminated"
	}
	return "T_Unknown"
}

type EventKind int

const (
	// EventRequest 收到请求 (server)
	EventRequest EventKind = iota + 1
	EventProvisional
	EventSuccess
	EventFailure
	EventTimeout
	// EventFailureAck ACK for a non-2xx final response (INVITE server)
	EventFailureAck
	// EventAckTimeout no ACK for a 2xx response (ACK server)
	EventAckTimeout
	EventTransportError
)

func (k EventKind) String() string {
	switch k {
	case EventRequest:
		return "request"
	case EventProvisional:
		return "provisional"
	case EventSuccess:
		return "success"
	case EventFailure:
		return "failure"
	case EventTimeout:
		return "timeout"
	case EventFailureAck:
		return "failure-ack"
	case EventAckTimeout:
		return "ack-timeout"
	case EventTransportError:
		return "transport-error"
	}
	return "unknown"
}

// Event is what a transaction reports to its owner. Msg is the response (or
// request) that caused it, Err is set for timeouts and transport errors.
type Event struct {
	Kind EventKind
	Tx   Transaction
	Msg  *sip.Message
	Err  error
}

// Handler receives the events of one transaction, on the provider's
// scheduler.
type Handler func(ev Event)

type Transaction interface {
	Key() sip.Identifier
	Request() *sip.Message
	State() State
	ConnectionID() sip.Identifier
	// Terminate stops every timer and removes the transaction from the
	// provider; it is safe to call more than once.
	Terminate()
	String() string
}

// common holds what every transaction kind shares: the provider, the state
// machine and its current state, armed timers and queued events.
type common struct {
	p       *provider.Provider
	kind    string
	log     logger.Component
	seq     uint64
	key     sip.Identifier
	request *sip.Message
	conn    sip.Identifier
	handler Handler

	machine  *fsm.FSM
	state    State
	reliable bool
	timers   map[string]struct{}
	queue    []Event
	self     Transaction

	registered bool
	counted    bool
	sendFailed bool
	done       bool
}

func (tx *common) init(p *provider.Provider, kind string, self Transaction, handler Handler) {
	tx.p = p
	tx.kind = kind
	tx.log = logger.Component(kind)
	tx.seq = p.NextTransactionSeq()
	tx.self = self
	tx.handler = handler
	tx.timers = make(map[string]struct{})
}

func (tx *common) Key() sip.Identifier {
	return tx.key
}

func (tx *common) Request() *sip.Message {
	return tx.request
}

func (tx *common) State() State {
	return tx.state
}

func (tx *common) ConnectionID() sip.Identifier {
	return tx.conn
}

func (tx *common) String() string {
	return fmt.Sprintf("%s#%d<%s>", tx.kind, tx.seq, tx.key)
}

func (tx *common) setReliable(msg *sip.Message) {
	if via, err := msg.Via(); err == nil {
		tx.reliable = tx.p.Reliable(via.Transport)
	}
}

func (tx *common) define(states ...fsm.State) {
	machine, err := fsm.Define(states...)
	if err != nil {
		tx.log.Errorf("define %s FSM failed: %s", tx.kind, err)
		return
	}
	tx.machine = machine
}

// to builds an outcome that records the new state before running action.
func (tx *common) to(state State, action func() fsm.Input) fsm.Outcome {
	return fsm.Outcome{State: int(state), Action: func() fsm.Input {
		tx.changeState(state)
		if action == nil {
			return fsm.NO_INPUT
		}
		return action()
	}}
}

func (tx *common) changeState(state State) {
	if tx.state == state {
		return
	}
	tx.log.Debugf("%s changed state %s -> %s", tx, tx.state, state)
	tx.state = state
}

func (tx *common) is(states ...State) bool {
	for _, s := range states {
		if tx.state == s {
			return true
		}
	}
	return false
}

// spin feeds input to the state machine, then delivers the events queued by
// the actions. Undefined inputs leave the machine untouched.
func (tx *common) spin(input fsm.Input) {
	if tx.machine == nil || tx.done {
		tx.flush()
		return
	}
	if err := tx.machine.Spin(input); err != nil {
		tx.log.Debugf("%s ignored input %d in %s: %s", tx, input, tx.state, err)
	}
	tx.flush()
}

func (tx *common) emit(kind EventKind, msg *sip.Message, err error) {
	tx.queue = append(tx.queue, Event{Kind: kind, Tx: tx.self, Msg: msg, Err: err})
}

func (tx *common) flush() {
	for len(tx.queue) > 0 {
		ev := tx.queue[0]
		tx.queue = tx.queue[1:]
		if tx.handler != nil {
			tx.handler(ev)
		}
	}
}

// ---- timers ----

func (tx *common) taskKey(timer string) scheduler.TaskKey {
	return scheduler.TaskKey{Owner: fmt.Sprintf("%s#%d", tx.kind, tx.seq), Kind: timer}
}

// arm schedules input for after d. When the timer fires while the
// transaction is no longer in one of states, nothing happens.
func (tx *common) arm(timer string, d time.Duration, input fsm.Input, states ...State) {
	tx.timers[timer] = struct{}{}
	tx.p.Scheduler().RunAfterDelay(tx.taskKey(timer), d, func() {
		delete(tx.timers, timer)
		if tx.done || !tx.is(states...) {
			tx.log.Debugf("%s stale timer %s in %s", tx, timer, tx.state)
			return
		}
		tx.log.Debugf("%s timer %s fired", tx, timer)
		tx.spin(input)
	})
}

func (tx *common) cancel(timers ...string) {
	for _, timer := range timers {
		if _, ok := tx.timers[timer]; ok {
			delete(tx.timers, timer)
			tx.p.Scheduler().Cancel(tx.taskKey(timer))
		}
	}
}

func (tx *common) cancelAll() {
	for timer := range tx.timers {
		tx.p.Scheduler().Cancel(tx.taskKey(timer))
	}
	tx.timers = make(map[string]struct{})
}

// ---- registry ----

func (tx *common) listen(id sip.Identifier, l provider.Listener) bool {
	if !tx.p.AddListener(id, l) {
		return false
	}
	tx.key = id
	tx.registered = true
	return true
}

func (tx *common) rekey(id sip.Identifier, l provider.Listener) bool {
	if !tx.p.AddListener(id, l) {
		return false
	}
	if tx.registered {
		tx.p.RemoveListener(tx.key)
	}
	tx.key = id
	tx.registered = true
	return true
}

func (tx *common) started() {
	if !tx.counted {
		tx.counted = true
		tx.p.Metrics().Transactions.WithLabelValues(tx.kind).Inc()
	}
}

// terminate cancels every timer and leaves the registry.
func (tx *common) terminate() {
	if tx.done {
		return
	}
	tx.done = true
	tx.cancelAll()
	if tx.registered {
		tx.p.RemoveListener(tx.key)
		tx.registered = false
	}
	if tx.counted {
		tx.p.Metrics().Transactions.WithLabelValues(tx.kind).Dec()
	}
	tx.changeState(Terminated)
}

func (tx *common) Terminate() {
	tx.terminate()
	tx.flush()
}

// ---- sending ----

// send 发送消息, 失败时只上报一次, 由超时流程结束事务
func (tx *common) send(msg *sip.Message) {
	conn, err := tx.p.SendOnConnection(msg, tx.conn)
	if err != nil {
		tx.log.Warnf("%s send %s failed: %s", tx, msg.Short(), err)
		if !tx.sendFailed {
			tx.sendFailed = true
			tx.emit(EventTransportError, msg, &TxTransportError{Err: err, TxKey: tx.key, TxPtr: tx.String()})
		}
		return
	}
	if !conn.IsZero() {
		tx.conn = conn
	}
}

func (tx *common) retransmit(msg *sip.Message) {
	tx.p.Metrics().Retransmissions.WithLabelValues(string(msg.Method())).Inc()
	tx.send(msg)
}

func (tx *common) timeout(msg string) {
	tx.p.Metrics().TransactionTimeouts.WithLabelValues(string(tx.request.Method())).Inc()
	tx.emit(EventTimeout, nil, &TxTimeoutError{Err: errors.New(msg), TxKey: tx.key, TxPtr: tx.String()})
}

// doubled returns the next retransmission interval, capped at limit when
// limit is positive.
func doubled(d, limit time.Duration) time.Duration {
	d *= 2
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
