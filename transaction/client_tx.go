package transaction

import (
	"time"

	"github.com/discoviking/fsm"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// ClientTransaction is the non-INVITE client transaction (RFC 3261 17.1.2).
type ClientTransaction struct {
	common
	interval time.Duration
	last     *sip.Message
}

func NewClientTransaction(p *provider.Provider, req *sip.Message, handler Handler) *ClientTransaction {
	tx := new(ClientTransaction)
	tx.init(p, KindClient, tx, handler)
	tx.request = req
	tx.key = req.TransactionID()
	tx.setReliable(req)
	tx.initFSM()

	return tx
}

// LastResponse 最近收到的响应
func (tx *ClientTransaction) LastResponse() *sip.Message {
	return tx.last
}

// Start registers the transaction, sends the request and arms timers E
// (unreliable transports only) and F.
func (tx *ClientTransaction) Start() error {
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
		tx.interval = timers.T1
		tx.log.Debugf("%s timer E set to %v", tx, tx.interval)
		tx.arm(timerE, tx.interval, clientInputTimerA, Trying, Proceeding)
	}
	tx.arm(timerF, timers.TransactionTimeout, clientInputTimerB, Trying, Proceeding)

	tx.send(tx.request)
	tx.flush()

	return nil
}

func (tx *ClientTransaction) OnReceivedMessage(msg *sip.Message) {
	if !msg.IsResponse() {
		tx.log.Debugf("%s received unexpected %s", tx, msg.Short())
		return
	}
	tx.last = msg
	tx.spin(responseInput(msg))
}

func responseInput(resp *sip.Message) fsm.Input {
	code := resp.StatusCode()
	switch {
	case code < 200:
		return clientInput1xx
	case code < 300:
		return clientInput2xx
	default:
		return clientInput300Plus
	}
}

func (tx *ClientTransaction) initFSM() {
	tx.log.Debugf("%s initialising non-INVITE transaction FSM", tx)

	// Trying
	trying := fsm.State{
		Index: int(Trying),
		Outcomes: map[fsm.Input]fsm.Outcome{
			clientInput1xx:     tx.to(Proceeding, tx.actionPassUp),
			clientInput2xx:     tx.to(Completed, tx.actionFinal),
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
			clientInput2xx:     tx.to(Completed, tx.actionFinal),
			clientInput300Plus: tx.to(Completed, tx.actionFinal),
			clientInputTimerA:  tx.to(Proceeding, tx.actionResend),
			clientInputTimerB:  tx.to(Terminated, tx.actionTimeout),
		},
	}

	// Completed
	completed := fsm.State{
		Index: int(Completed),
		Outcomes: map[fsm.Input]fsm.Outcome{
			clientInput1xx:     tx.to(Completed, fsm.NO_ACTION),
			clientInput2xx:     tx.to(Completed, fsm.NO_ACTION),
			clientInput300Plus: tx.to(Completed, fsm.NO_ACTION),
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

	tx.define(trying, proceeding, completed, terminated)
}

// 重发请求, Proceeding 状态下固定为 T2
func (tx *ClientTransaction) actionResend() fsm.Input {
	t2 := tx.p.Timers().T2
	if tx.state == Proceeding {
		tx.interval = t2
	} else {
		tx.interval = doubled(tx.interval, t2)
	}
	tx.arm(timerE, tx.interval, clientInputTimerA, Trying, Proceeding)
	tx.log.Debugf("%s resend request, next in %v", tx, tx.interval)
	tx.retransmit(tx.request)

	return fsm.NO_INPUT
}

// 往上层传递
func (tx *ClientTransaction) actionPassUp() fsm.Input {
	tx.emit(EventProvisional, tx.last, nil)
	return fsm.NO_INPUT
}

func (tx *ClientTransaction) actionFinal() fsm.Input {
	tx.cancel(timerE, timerF)

	if tx.last.StatusCode() < 300 {
		tx.emit(EventSuccess, tx.last, nil)
	} else {
		tx.emit(EventFailure, tx.last, nil)
	}

	if tx.reliable {
		return clientInputDelete
	}
	tx.arm(timerK, tx.p.Timers().ClearingTimeout, clientInputTimerD, Completed)

	return fsm.NO_INPUT
}

// 定时器 F 触发，通知 TU 超时
func (tx *ClientTransaction) actionTimeout() fsm.Input {
	tx.timeout("transaction timed out")
	return clientInputDelete
}

func (tx *ClientTransaction) actionDelete() fsm.Input {
	tx.terminate()
	return fsm.NO_INPUT
}

// AckClient sends an ACK for a 2xx. It has no state beyond the send: it is
// Terminated right after Start.
type AckClient struct {
	common
}

func NewAckClient(p *provider.Provider, ack *sip.Message) *AckClient {
	tx := new(AckClient)
	tx.init(p, KindAckClient, tx, nil)
	tx.request = ack
	tx.key = ack.TransactionID()

	return tx
}

func (tx *AckClient) Start() {
	tx.log.Debugf("sending %s", tx.request.Short())
	tx.send(tx.request)
	tx.terminate()
}
