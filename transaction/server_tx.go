package transaction

import (
	"github.com/discoviking/fsm"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// ServerTransaction is the non-INVITE server transaction (RFC 3261 17.2.2).
type ServerTransaction struct {
	common
	response *sip.Message
}

// NewServerTransaction creates the transaction of a received request. It is
// Trying and registered under the request's transaction identifier.
func NewServerTransaction(p *provider.Provider, req *sip.Message, handler Handler) (*ServerTransaction, error) {
	tx := newServerTransaction(p, handler)
	if err := tx.accept(req); err != nil {
		return nil, err
	}
	tx.flush()
	return tx, nil
}

// NewServerListener creates a transaction that waits for the next request of
// method (addressed to user when not empty). Call Listen to register it.
func NewServerListener(p *provider.Provider, method sip.RequestMethod, user string, handler Handler) *ServerTransaction {
	tx := newServerTransaction(p, handler)
	tx.key = sip.MethodIdentifier(method, user)
	return tx
}

func newServerTransaction(p *provider.Provider, handler Handler) *ServerTransaction {
	tx := new(ServerTransaction)
	tx.init(p, KindServer, tx, handler)
	tx.initFSM()
	return tx
}

// Listen 开始监听
func (tx *ServerTransaction) Listen() bool {
	if tx.state != Idle {
		return false
	}
	if !tx.listen(tx.key, tx) {
		return false
	}
	tx.changeState(Waiting)
	return true
}

func (tx *ServerTransaction) accept(req *sip.Message) error {
	if !tx.rekey(req.TransactionID(), tx) {
		return errors.Errorf("transaction %s already exists", req.TransactionID())
	}
	tx.request = req
	tx.conn = req.ConnectionID
	tx.setReliable(req)
	tx.started()
	tx.changeState(Trying)
	return nil
}

func (tx *ServerTransaction) LastResponse() *sip.Message {
	return tx.response
}

func (tx *ServerTransaction) OnReceivedMessage(msg *sip.Message) {
	if !msg.IsRequest() {
		return
	}

	if tx.state == Waiting {
		if err := tx.accept(msg); err != nil {
			tx.log.Infof("%s: %s, ignored", tx, err)
			return
		}
		tx.emit(EventRequest, msg, nil)
		tx.flush()
		return
	}

	tx.spin(serverInputRetransmission)
}

// Respond sends resp. A final response completes the transaction, which then
// absorbs request retransmissions until timer J.
func (tx *ServerTransaction) Respond(resp *sip.Message) error {
	if tx.done {
		return &TxTerminatedError{Err: errors.New("respond on terminated transaction"), TxKey: tx.key, TxPtr: tx.String()}
	}
	if !tx.is(Trying, Proceeding) {
		return errors.Errorf("%s cannot respond in %s", tx, tx.state)
	}

	tx.response = resp
	tx.spin(userInput(resp))
	return nil
}

func userInput(resp *sip.Message) fsm.Input {
	code := resp.StatusCode()
	switch {
	case code < 200:
		return serverInputUser1xx
	case code < 300:
		return serverInputUser2xx
	default:
		return serverInputUser300Plus
	}
}

func (tx *ServerTransaction) initFSM() {
	// Trying
	trying := fsm.State{
		Index: int(Trying),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Trying, fsm.NO_ACTION),
			serverInputUser1xx:        tx.to(Proceeding, tx.actionRespond),
			serverInputUser2xx:        tx.to(Completed, tx.actionFinal),
			serverInputUser300Plus:    tx.to(Completed, tx.actionFinal),
		},
	}

	// Proceeding
	proceeding := fsm.State{
		Index: int(Proceeding),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Proceeding, tx.actionResend),
			serverInputUser1xx:        tx.to(Proceeding, tx.actionRespond),
			serverInputUser2xx:        tx.to(Completed, tx.actionFinal),
			serverInputUser300Plus:    tx.to(Completed, tx.actionFinal),
		},
	}

	// Completed
	completed := fsm.State{
		Index: int(Completed),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Completed, tx.actionResend),
			serverInputUser1xx:        tx.to(Completed, fsm.NO_ACTION),
			serverInputUser2xx:        tx.to(Completed, fsm.NO_ACTION),
			serverInputUser300Plus:    tx.to(Completed, fsm.NO_ACTION),
			serverInputTimerJ:         tx.to(Terminated, tx.actionDelete),
			serverInputDelete:         tx.to(Terminated, tx.actionDelete),
		},
	}

	// Terminated
	terminated := fsm.State{
		Index: int(Terminated),
		Outcomes: map[fsm.Input]fsm.Outcome{
			serverInputRetransmission: tx.to(Terminated, fsm.NO_ACTION),
			serverInputUser1xx:        tx.to(Terminated, fsm.NO_ACTION),
			serverInputUser2xx:        tx.to(Terminated, fsm.NO_ACTION),
			serverInputUser300Plus:    tx.to(Terminated, fsm.NO_ACTION),
			serverInputTimerJ:         tx.to(Terminated, fsm.NO_ACTION),
			serverInputDelete:         tx.to(Terminated, tx.actionDelete),
		},
	}

	tx.define(trying, proceeding, completed, terminated)
}

func (tx *ServerTransaction) actionRespond() fsm.Input {
	tx.send(tx.response)
	return fsm.NO_INPUT
}

// 重复请求, 重发最后的响应
func (tx *ServerTransaction) actionResend() fsm.Input {
	if tx.response != nil {
		tx.log.Debugf("%s response retransmission", tx)
		tx.retransmit(tx.response)
	}
	return fsm.NO_INPUT
}

func (tx *ServerTransaction) actionFinal() fsm.Input {
	tx.send(tx.response)
	if tx.reliable {
		return serverInputDelete
	}
	tx.arm(timerJ, tx.p.Timers().TransactionTimeout, serverInputTimerJ, Completed)
	return fsm.NO_INPUT
}

func (tx *ServerTransaction) actionDelete() fsm.Input {
	tx.terminate()
	return fsm.NO_INPUT
}
