package transaction

import (
	"time"

	"github.com/discoviking/fsm"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// InviteServerTransaction is the INVITE server transaction (RFC 3261
// 17.2.1). A 2xx ends it at once; a 3xx-6xx is retransmitted (timer G) until
// the ACK arrives or timer H fires.
type InviteServerTransaction struct {
	common
	response   *sip.Message
	ack        *sip.Message
	autoTrying bool
	interval   time.Duration
}

// NewInviteServerTransaction creates the transaction of a received INVITE and
// sends 100 Trying when autoTrying is set.
func NewInviteServerTransaction(p *provider.Provider, invite *sip.Message, autoTrying bool, handler Handler) (*InviteServerTransaction, error) {
	tx := newInviteServerTransaction(p, autoTrying, handler)
	if err := tx.accept(invite); err != nil {
		return nil, err
	}
	tx.flush()
	return tx, nil
}

// NewInviteServerListener waits for the next INVITE addressed to user.
func NewInviteServerListener(p *provider.Provider, user string, autoTrying bool, handler Handler) *InviteServerTransaction {
	tx := newInviteServerTransaction(p, autoTrying, handler)
	tx.key = sip.MethodIdentifier(sip.INVITE, user)
	return tx
}

func newInviteServerTransaction(p *provider.Provider, autoTrying bool, handler Handler) *InviteServerTransaction {
	tx := new(InviteServerTransaction)
	tx.init(p, KindInviteServer, tx, handler)
	tx.autoTrying = autoTrying
	tx.initFSM()
	return tx
}

func (tx *InviteServerTransaction) Listen() bool {
	if tx.state != Idle {
		return false
	}
	if !tx.listen(tx.key, tx) {
		return false
	}
	tx.changeState(Waiting)
	return true
}

func (tx *InviteServerTransaction) LastResponse() *sip.Message {
	return tx.response
}

func (tx *InviteServerTransaction) accept(invite *sip.Message) error {
	if !tx.rekey(invite.TransactionID(), tx) {
		return errors.Errorf("transaction %s already exists", invite.TransactionID())
	}
	tx.request = invite
	tx.conn = invite.ConnectionID
	tx.setReliable(invite)
	tx.started()
	tx.changeState(Trying)

	if tx.autoTrying {
		if delay := tx.p.Timers().TryingDelay; delay > 0 {
			tx.arm(timerTrying, delay, serverInputUser1xx, Trying)
		} else {
			tx.trying()
		}
	}
	return nil
}

// trying 自动回复 100 Trying
func (tx *InviteServerTransaction) trying() {
	tx.response = tx.p.Factory().Response(tx.request, sip.StatusTrying, "", nil)
	tx.spin(serverInputUser1xx)
}

func (tx *InviteServerTransaction) OnReceivedMessage(msg *sip.Message) {
	if !msg.IsRequest() {
		return
	}

	switch msg.Method() {
	case sip.INVITE:
		if tx.state == Waiting {
			if err := tx.accept(msg); err != nil {
				tx.log.Infof("same invite dispatched here, ignore it: %s", err)
				return
			}
			tx.emit(EventRequest, msg, nil)
			tx.flush()
			return
		}
		tx.spin(serverInputRetransmission)
	case sip.OPTIONS:
		tx.answerOptions(msg)
	case sip.ACK:
		tx.ack = msg
		tx.spin(serverInputAck)
	default:
		tx.log.Debugf("%s ignored %s", tx, msg.Short())
	}
}

// answerOptions 处理会话中的 OPTIONS 保活探测
func (tx *InviteServerTransaction) answerOptions(req *sip.Message) {
	ok := tx.p.Factory().Response(req, sip.StatusOK, "", nil)
	ok.RemoveHeader(sip.HeaderServer)
	if to, err := ok.To(); err == nil {
		ok.SetHeader(sip.HeaderContact, to.WithoutTag().String())
	}
	if _, err := tx.p.SendOnConnection(ok, tx.conn); err != nil {
		tx.log.Warnf("%s answer OPTIONS failed: %s", tx, err)
	}
}

// Respond sends resp; see the type documentation for what follows.
func (tx *InviteServerTransaction) Respond(resp *sip.Message) error {
	if tx.done {
		return &TxTerminatedError{Err: errors.New("respond on terminated transaction"), TxKey: tx.key, TxPtr: tx.String()}
	}
	if !tx.is(Trying, Proceeding) {
		return errors.Errorf("%s cannot respond in %s", tx, tx.state)
	}

	tx.cancel(timerTrying)
	tx.response = resp
	tx.spin(userInput(resp))
	return nil
}

func (tx *InviteServerTransaction) initFSM() {
	// Proceeding 在收到 INVITE 后由 Trying 开始
	trying := fsm.State{
		Index: int(Trying),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Trying, fsm.NO_ACTION),
			serverInputAck:            tx.to(Trying, fsm.NO_ACTION),
			serverInputUser1xx:        tx.to(Proceeding, tx.actionRespond),
			serverInputUser2xx:        tx.to(Terminated, tx.actionRespond2xx),
			serverInputUser300Plus:    tx.to(Completed, tx.actionFinal),
		},
	}

	proceeding := fsm.State{
		Index: int(Proceeding),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Proceeding, tx.actionResend),
			serverInputAck:            tx.to(Proceeding, fsm.NO_ACTION),
			serverInputUser1xx:        tx.to(Proceeding, tx.actionRespond),
			serverInputUser2xx:        tx.to(Terminated, tx.actionRespond2xx),
			serverInputUser300Plus:    tx.to(Completed, tx.actionFinal),
		},
	}

	completed := fsm.State{
		Index: int(Completed),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Completed, tx.actionResend),
			serverInputAck:            tx.to(Confirmed, tx.actionConfirmed),
			serverInputUser1xx:        tx.to(Completed, fsm.NO_ACTION),
			serverInputUser2xx:        tx.to(Completed, fsm.NO_ACTION),
			serverInputUser300Plus:    tx.to(Completed, fsm.NO_ACTION),
			serverInputTimerG:         tx.to(Completed, tx.actionTimerG),
			serverInputTimerH:         tx.to(Terminated, tx.actionTimeout),
		},
	}

	confirmed := fsm.State{
		Index: int(Confirmed),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Confirmed, fsm.NO_ACTION),
			serverInputAck:            tx.to(Confirmed, fsm.NO_ACTION),
			serverInputUser1xx:        tx.to(Confirmed, fsm.NO_ACTION),
			serverInputUser2xx:        tx.to(Confirmed, fsm.NO_ACTION),
			serverInputUser300Plus:    tx.to(Confirmed, fsm.NO_ACTION),
			serverInputTimerG:         tx.to(Confirmed, fsm.NO_ACTION),
			serverInputTimerH:         tx.to(Confirmed, fsm.NO_ACTION),
			serverInputTimerI:         tx.to(Terminated, tx.actionDelete),
			serverInputDelete:         tx.to(Terminated, tx.actionDelete),
		},
	}

	terminated := fsm.State{
		Index: int(Terminated),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Terminated, fsm.NO_ACTION),
			serverInputAck:            tx.to(Terminated, fsm.NO_ACTION),
			serverInputUser1xx:        tx.to(Terminated, fsm.NO_ACTION),
			serverInputUser2xx:        tx.to(Terminated, fsm.NO_ACTION),
			serverInputUser300Plus:    tx.to(Terminated, fsm.NO_ACTION),
			serverInputTimerG:         tx.to(Terminated, fsm.NO_ACTION),
			serverInputTimerH:         tx.to(Terminated, fsm.NO_ACTION),
			serverInputTimerI:         tx.to(Terminated, fsm.NO_ACTION),
			serverInputDelete:         tx.to(Terminated, tx.actionDelete),
		},
	}

	tx.define(trying, proceeding, completed, confirmed, terminated)
}

func (tx *InviteServerTransaction) actionRespond() fsm.Input {
	if tx.response == nil {
		// timer trying 到期
		tx.response = tx.p.Factory().Response(tx.request, sip.StatusTrying, "", nil)
	}
	tx.send(tx.response)
	return fsm.NO_INPUT
}

func (tx *InviteServerTransaction) actionRespond2xx() fsm.Input {
	tx.send(tx.response)
	return serverInputDelete
}

func (tx *InviteServerTransaction) actionResend() fsm.Input {
	if tx.response != nil {
		tx.log.Debugf("%s response retransmission", tx)
		tx.retransmit(tx.response)
	}
	return fsm.NO_INPUT
}

func (tx *InviteServerTransaction) actionFinal() fsm.Input {
	tx.send(tx.response)

	timers := tx.p.Timers()
	if !tx.reliable {
		tx.interval = timers.T1
		tx.arm(timerG, tx.interval, serverInputTimerG, Completed)
	}
	tx.arm(timerH, timers.TransactionTimeout, serverInputTimerH, Completed)

	return fsm.NO_INPUT
}

func (tx *InviteServerTransaction) actionTimerG() fsm.Input {
	tx.interval = doubled(tx.interval, tx.p.Timers().T2)
	tx.arm(timerG, tx.interval, serverInputTimerG, Completed)
	tx.retransmit(tx.response)
	return fsm.NO_INPUT
}

func (tx *InviteServerTransaction) actionConfirmed() fsm.Input {
	tx.cancel(timerG, timerH)
	tx.emit(EventFailureAck, tx.ack, nil)

	if tx.reliable {
		return serverInputDelete
	}
	tx.arm(timerI, tx.p.Timers().ClearingTimeout, serverInputTimerI, Confirmed)
	return fsm.NO_INPUT
}

// 定时器 H 触发, 没有收到 ACK
func (tx *InviteServerTransaction) actionTimeout() fsm.Input {
	tx.timeout("no ACK received")
	return serverInputDelete
}

func (tx *InviteServerTransaction) actionDelete() fsm.Input {
	tx.terminate()
	return fsm.NO_INPUT
}
