package transaction

import (
	"time"

	"github.com/discoviking/fsm"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// InviteClientTransaction is the INVITE client transaction (RFC 3261
// 17.1.1). It ACKs 3xx-6xx responses itself; the ACK for a 2xx belongs to the
// dialog.
type InviteClientTransaction struct {
	common
	interval time.Duration
	last     *sip.Message
	ack      *sip.Message
}

func NewInviteClientTransaction(p *provider.Provider, invite *sip.Message, handler Handler) *InviteClientTransaction {
	tx := new(InviteClientTransaction)
	tx.init(p, KindInviteClient, tx, handler)
	tx.request = invite
	tx.key = invite.TransactionID()
	tx.setReliable(invite)
	tx.initFSM()

	return tx
}

func (tx *InviteClientTransaction) LastResponse() *sip.Message {
	return tx.last
}

// Ack returns the ACK sent for a non-2xx final response, nil before one.
func (tx *InviteClientTransaction) Ack() *sip.Message {
	return tx.ack
}

// Start sends the INVITE and arms timers A (unreliable transports only)
// and B.
func (tx *InviteClientTransaction) Start() error {
	if tx.state != Idle {
		return errors.Errorf("%s already started", tx)
	}
	if !tx.listen(tx.key, tx) {
		return errors.Errorf("transaction %s already exists", tx.key)
	}
	tx.started()
	tx.changeState(Trying)

	tx.log.Infof("sending SIP request: %s", tx.request.Short())

	timers := tx.p.Timers()
	if !tx.reliable {
		// RFC 3261 - 17.1.1.2. timer A 每次重发后间隔加倍
		tx.interval = timers.T1
		tx.log.Debugf("%s timer A set to %v", tx, tx.interval)
		tx.arm(timerA, tx.interval, clientInputTimerA, Trying)
	}
	tx.arm(timerB, timers.TransactionTimeout, clientInputTimerB, Trying)

	tx.send(tx.request)
	tx.flush()

	return nil
}

func (tx *InviteClientTransaction) OnReceivedMessage(msg *sip.Message) {
	if !msg.IsResponse() {
		tx.log.Debugf("%s received unexpected %s", tx, msg.Short())
		return
	}
	tx.last = msg
	tx.spin(responseInput(msg))
}

func (tx *InviteClientTransaction) initFSM() {
	tx.log.Debugf("%s initialising INVITE transaction FSM", tx)

	// Calling
	calling := fsm.State{
		Index: int(Trying),
		Outcomes: map[fsm.Input]fsm.Outcome{
			clientInput1xx:     tx.to(Proceeding, tx.actionProceeding),
			clientInput2xx:     tx.to(Terminated, tx.actionSuccess),
			clientInput300Plus: tx.to(Completed, tx.actionFinal),
			clientInputTimerA:  tx.to(Trying, tx.actionResend),
			clientInputTimerB:  tx.to(Terminated, tx.actionTimeout),
		},
	}

	// Proceeding
	proceeding := fsm.State{
		Index: int(Proceeding),
		Outcomes: map[fsm.Input]fsm.Outcome{
			clientInput1xx:     tx.to(Proceeding, tx.actionPassUp),
			clientInput2xx:     tx.to(Terminated, tx.actionSuccess),
			clientInput300Plus: tx.to(Completed, tx.actionFinal),
			clientInputTimerA:  tx.to(Proceeding, fsm.NO_ACTION),
			clientInputTimerB:  tx.to(Proceeding, fsm.NO_ACTION),
		},
	}

	// Completed
	completed := fsm.State{
		Index: int(Completed),
		Outcomes: map[fsm.Input]fsm.Outcome{
			clientInput1xx:     tx.to(Completed, fsm.NO_ACTION),
			clientInput2xx:     tx.to(Completed, fsm.NO_ACTION),
			clientInput300Plus: tx.to(Completed, tx.actionAck),
			clientInputTimerA:  tx.to(Completed, fsm.NO_ACTION),
			clientInputTimerB:  tx.to(Completed, fsm.NO_ACTION),
			clientInputTimerD:  tx.to(Terminated, tx.actionDelete),
			clientInputDelete:  tx.to(Terminated, tx.actionDelete),
		},
	}

	// Terminated
	terminated := fsm.State{
		Index: int(Terminated),
		Outcomes: map[fsm.Input]fsm.Outcome{
			clientInput1xx:     tx.to(Terminated, fsm.NO_ACTION),
			clientInput2xx:     tx.to(Terminated, fsm.NO_ACTION),
			clientInput300Plus: tx.to(Terminated, fsm.NO_ACTION),
			clientInputTimerA:  tx.to(Terminated, fsm.NO_ACTION),
			clientInputTimerB:  tx.to(Terminated, fsm.NO_ACTION),
			clientInputTimerD:  tx.to(Terminated, fsm.NO_ACTION),
			clientInputDelete:  tx.to(Terminated, tx.actionDelete),
		},
	}

	tx.define(calling, proceeding, completed, terminated)
}

// 重发 invite 请求, 间隔不设上限
func (tx *InviteClientTransaction) actionResend() fsm.Input {
	tx.interval = doubled(tx.interval, 0)
	tx.arm(timerA, tx.interval, clientInputTimerA, Trying)
	tx.log.Debugf("%s resend INVITE, next in %v", tx, tx.interval)
	tx.retransmit(tx.request)

	return fsm.NO_INPUT
}

func (tx *InviteClientTransaction) actionProceeding() fsm.Input {
	tx.cancel(timerA, timerB)
	return tx.actionPassUp()
}

func (tx *InviteClientTransaction) actionPassUp() fsm.Input {
	tx.emit(EventProvisional, tx.last, nil)
	return fsm.NO_INPUT
}

func (tx *InviteClientTransaction) actionSuccess() fsm.Input {
	tx.cancel(timerA, timerB)
	tx.emit(EventSuccess, tx.last, nil)
	return clientInputDelete
}

func (tx *InviteClientTransaction) actionFinal() fsm.Input {
	tx.cancel(timerA, timerB)

	tx.ack = tx.p.Factory().Non2xxAck(tx.request, tx.last)
	tx.send(tx.ack)
	tx.emit(EventFailure, tx.last, nil)

	if tx.reliable {
		return clientInputDelete
	}
	tx.arm(timerD, tx.p.Timers().TransactionTimeout, clientInputTimerD, Completed)

	return fsm.NO_INPUT
}

// 重复的最终响应, 重发 ACK
func (tx *InviteClientTransaction) actionAck() fsm.Input {
	if tx.ack != nil {
		tx.retransmit(tx.ack)
	}
	return fsm.NO_INPUT
}

func (tx *InviteClientTransaction) actionTimeout() fsm.Input {
	tx.timeout("INVITE transaction timed out")
	return clientInputDelete
}

func (tx *InviteClientTransaction) actionDelete() fsm.Input {
	tx.terminate()
	return fsm.NO_INPUT
}
