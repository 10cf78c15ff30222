package transaction

import (
	"time"

	"github.com/discoviking/fsm"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// AckServer retransmits a 2xx to an INVITE until the dialog sees the ACK and
// terminates it, or until its transaction timer fires (EventAckTimeout).
type AckServer struct {
	common
	response *sip.Message
	interval time.Duration
}

func NewAckServer(p *provider.Provider, conn sip.Identifier, resp *sip.Message, handler Handler) *AckServer {
	tx := new(AckServer)
	tx.init(p, KindAckServer, tx, handler)
	tx.key = sip.MethodIdentifier(sip.ACK, "")
	tx.conn = conn
	tx.response = resp
	tx.setReliable(resp)
	tx.initFSM()

	return tx
}

func (tx *AckServer) Response() *sip.Message {
	return tx.response
}

// Respond sends the 2xx and starts retransmitting it.
func (tx *AckServer) Respond() {
	if tx.state != Idle {
		return
	}
	tx.log.Debugf("%s start", tx)
	tx.started()
	tx.changeState(Proceeding)

	timers := tx.p.Timers()
	if !tx.reliable {
		tx.interval = timers.T1
		tx.arm(timerRetransmission, tx.interval, serverInputTimerG, Proceeding)
	}
	tx.arm(timerTransaction, timers.TransactionTimeout, serverInputTimerH, Proceeding)

	tx.send(tx.response)
	tx.flush()
}

func (tx *AckServer) initFSM() {
	proceeding := fsm.State{
		Index: int(Proceeding),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputTimerG: tx.to(Proceeding, tx.actionResend),
			serverInputTimerH: tx.to(Terminated, tx.actionTimeout),
		},
	}

	terminated := fsm.State{
		Index: int(Terminated),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputTimerG: tx.to(Terminated, fsm.NO_ACTION),
			serverInputTimerH: tx.to(Terminated, fsm.NO_ACTION),
			serverInputDelete: tx.to(Terminated, tx.actionDelete),
		},
	}

	tx.define(proceeding, terminated)
}

func (tx *AckServer) actionResend() fsm.Input {
	tx.interval = doubled(tx.interval, tx.p.Timers().T2)
	tx.arm(timerRetransmission, tx.interval, serverInputTimerG, Proceeding)
	tx.retransmit(tx.response)
	return fsm.NO_INPUT
}

func (tx *AckServer) actionTimeout() fsm.Input {
	tx.p.Metrics().TransactionTimeouts.WithLabelValues(string(sip.ACK)).Inc()
	tx.emit(EventAckTimeout, tx.response, &TxTimeoutError{Err: errAckTimeout, TxKey: tx.key, TxPtr: tx.String()})
	return serverInputDelete
}

func (tx *AckServer) actionDelete() fsm.Input {
	tx.terminate()
	return fsm.NO_INPUT
}
