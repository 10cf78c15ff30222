package dialog

import (
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
)

// InviteState INVITE 对话状态
type InviteState int

const (
	Init InviteState = iota
	Waiting
	Inviting
	Invited
	Refused
	Accepted
	Call
	ReWaiting
	ReInviting
	ReInvited
	ReRefused
	ReAccepted
	Byeing
	Byed
	Close
)

var inviteStateNames = [...]string{
	Init:       "D_INIT",
	Waiting:    "D_WAITING",
	Inviting:   "D_INVITING",
	Invited:    "D_INVITED",
	Refused:    "D_REFUSED",
	Accepted:   "D_ACCEPTED",
	Call:       "D_CALL",
	ReWaiting:  "D_ReWAITING",
	ReInviting: "D_ReINVITING",
	ReInvited:  "D_ReINVITED",
	ReRefused:  "D_ReREFUSED",
	ReAccepted: "D_ReACCEPTED",
	Byeing:     "D_BYEING",
	Byed:       "D_BYED",
	Close:      "D_CLOSE",
}

func (s InviteState) String() string {
	if int(s) < len(inviteStateNames) {
		return inviteStateNames[s]
	}
	return "D_UNKNOWN"
}

const kindInviteDialog = "inviteDialog"

// hooks let the extended dialog take over part of the INVITE dialog's work.
type hooks struct {
	// request handles an in-dialog request other than INVITE, ACK, CANCEL
	// and BYE; false leaves it to the INVITE dialog.
	request func(msg *sip.Message) bool
	// challenge sees every failure response first; true means a new
	// transaction replaced the failed one. err is attached to the failure
	// event otherwise.
	challenge func(tx transaction.Transaction, resp *sip.Message) (handled bool, err error)
	success   func()
}

// InviteDialog is the dialog of a call: the early and confirmed phases of an
// INVITE, re-INVITEs inside it, and BYE. The Re-* states keep a dialog being
// renegotiated from looking closed.
type InviteDialog struct {
	base
	state   InviteState
	handler InviteHandler
	hooks   hooks

	invite *sip.Message
	ack    *sip.Message
	// false when the offer is expected in the 2xx and the answer goes in the ACK
	offer bool

	inviteTs *transaction.InviteServerTransaction
	inviteTc *transaction.InviteClientTransaction
	ackTs    *transaction.AckServer
	byeTs    *transaction.ServerTransaction
	servers  map[sip.Identifier]*transaction.ServerTransaction
}

// NewInviteDialog creates a dialog in Init. user is the local user name
// Listen waits for; it may be empty.
func NewInviteDialog(p *provider.Provider, user string, handler InviteHandler) *InviteDialog {
	d := newInviteDialog(p, kindInviteDialog, user, handler)
	d.self = d
	return d
}

// NewIncomingInviteDialog creates the dialog of a received INVITE. It is
// Invited, a 100 Trying is on its way and the application answers with
// Ring, Accept, Refuse or Redirect.
func NewIncomingInviteDialog(p *provider.Provider, invite *sip.Message, handler InviteHandler) (*InviteDialog, error) {
	d := NewInviteDialog(p, "", handler)
	if err := d.accept(invite); err != nil {
		return nil, err
	}
	return d, nil
}

func newInviteDialog(p *provider.Provider, kind, user string, handler InviteHandler) *InviteDialog {
	d := &InviteDialog{
		handler: handler,
		offer:   true,
		servers: make(map[sip.Identifier]*transaction.ServerTransaction),
	}
	d.init(p, kind, user, nil)
	return d
}

func (d *InviteDialog) accept(invite *sip.Message) error {
	ts, err := transaction.NewInviteServerTransaction(d.p, invite, true, d.onInviteServer)
	if err != nil {
		return err
	}
	d.inviteTs = ts
	d.invite = invite
	d.changeState(Invited)
	d.update(UAS, invite)
	return nil
}

func (d *InviteDialog) State() InviteState {
	return d.state
}

// InviteMessage 最近一次的 INVITE (发送或收到)
func (d *InviteDialog) InviteMessage() *sip.Message {
	return d.invite
}

func (d *InviteDialog) IsEarly() bool {
	return d.state < Accepted
}

func (d *InviteDialog) IsConfirmed() bool {
	return d.state >= Accepted && d.state != Close
}

func (d *InviteDialog) IsTerminated() bool {
	return d.state == Close
}

func (d *InviteDialog) IsSessionActive() bool {
	return d.state == Call
}

func (d *InviteDialog) is(states ...InviteState) bool {
	for _, s := range states {
		if d.state == s {
			return true
		}
	}
	return false
}

func (d *InviteDialog) changeState(s InviteState) {
	if d.state == s {
		return
	}
	d.log.Debugf("%s changed dialog state %s -> %s", d, d.state, s)
	d.state = s
	if s == Close {
		if d.ackTs != nil {
			d.ackTs.Terminate()
		}
		d.close()
	} else {
		d.opened()
	}
}

func (d *InviteDialog) stateError(op string) error {
	return &ProtocolStateError{Dialog: d.String(), State: d.state.String(), Method: op}
}

func (d *InviteDialog) emit(kind InviteEventKind, msg *sip.Message) {
	d.emitEvent(InviteEvent{Kind: kind, Msg: msg})
}

func (d *InviteDialog) emitEvent(ev InviteEvent) {
	ev.Dialog = d
	if ev.Msg != nil {
		ev.Code, ev.Reason = responseFields(ev.Msg)
		if ev.Body == nil {
			ev.Body = ev.Msg.Body()
		}
	}
	if d.handler != nil {
		d.handler(ev)
	}
}

// ---- UAS ----

// Listen waits for an INVITE addressed to the dialog's user.
func (d *InviteDialog) Listen() error {
	if d.state != Init {
		return d.stateError("listen")
	}
	ts := transaction.NewInviteServerListener(d.p, d.user, true, d.onInviteServer)
	if !ts.Listen() {
		return errors.Errorf("%s: INVITE for %q already has a listener", d, d.user)
	}
	d.inviteTs = ts
	d.changeState(Waiting)
	return nil
}

// Respond sends resp to the pending request it answers. A 2xx to an INVITE
// is retransmitted until the ACK arrives.
func (d *InviteDialog) Respond(resp *sip.Message) error {
	cseq, err := resp.CSeq()
	if err != nil {
		return err
	}

	switch cseq.MethodName {
	case sip.INVITE:
		if !d.is(Invited, ReInvited) {
			return d.stateError("respond to INVITE")
		}
		code := resp.StatusCode()
		if code < 200 {
			return d.inviteTs.Respond(resp)
		}

		d.update(UAS, resp)
		if code < 300 {
			if d.state == Invited {
				d.changeState(Accepted)
			} else {
				d.changeState(ReAccepted)
			}
			// the ACK server owns the 2xx from here on
			conn := d.inviteTs.ConnectionID()
			d.inviteTs.Terminate()
			d.ackTs = transaction.NewAckServer(d.p, conn, resp, d.onAckServer)
			d.ackTs.Respond()
			return nil
		}

		if d.state == Invited {
			d.changeState(Refused)
		} else {
			d.changeState(ReRefused)
		}
		return d.inviteTs.Respond(resp)
	case sip.BYE:
		if d.state != Byed || d.byeTs == nil {
			return d.stateError("respond to BYE")
		}
		return d.byeTs.Respond(resp)
	default:
		id := resp.TransactionID()
		if ts, ok := d.servers[id]; ok {
			if resp.StatusCode() >= 200 {
				delete(d.servers, id)
			}
			return ts.Respond(resp)
		}
		_, err := d.p.SendMessage(resp)
		return err
	}
}

// RespondWith answers the pending INVITE with code.
func (d *InviteDialog) RespondWith(code sip.StatusCode, reason string, contact *sip.NameAddress, contentType string, body []byte) error {
	if !d.is(Invited, ReInvited) {
		return d.stateError("respond to INVITE")
	}
	resp := d.p.Factory().Response(d.invite, code, reason, contact)
	if len(body) > 0 {
		resp.SetBody(contentType, body)
	}
	return d.Respond(resp)
}

func (d *InviteDialog) Ring(contentType string, body []byte) error {
	return d.RespondWith(sip.StatusRinging, "", nil, contentType, body)
}

// Accept 200 OK, 携带应答 SDP
func (d *InviteDialog) Accept(contact *sip.NameAddress, contentType string, body []byte) error {
	return d.RespondWith(sip.StatusOK, "", contact, contentType, body)
}

func (d *InviteDialog) Refuse(code sip.StatusCode, reason string) error {
	return d.RespondWith(code, reason, nil, "", nil)
}

func (d *InviteDialog) Busy() error {
	return d.Refuse(sip.StatusBusyHere, "")
}

func (d *InviteDialog) Redirect(code sip.StatusCode, reason string, contact *sip.NameAddress) error {
	return d.RespondWith(code, reason, contact, "", nil)
}

// ---- UAC ----

// Invite sends the dialog's first INVITE.
func (d *InviteDialog) Invite(req *sip.Message) error {
	if d.state != Init {
		return d.stateError("invite")
	}
	d.changeState(Inviting)
	d.invite = req
	d.update(UAC, req)
	return d.startInvite(req)
}

// InviteTo builds and sends an INVITE. callee and caller are name-addresses
// or bare user names completed with the outbound proxy or local address; a
// nil contact is built from the caller's user name.
func (d *InviteDialog) InviteTo(callee, caller string, contact *sip.NameAddress, contentType string, body []byte) error {
	to, err := d.p.CompleteNameAddress(callee)
	if err != nil {
		return errors.Wrap(err, "callee")
	}
	from, err := d.p.CompleteNameAddress(caller)
	if err != nil {
		return errors.Wrap(err, "caller")
	}
	if contact == nil {
		contact = d.p.BuildContact(from.User())
	}
	return d.Invite(d.p.Factory().Invite(to.URI, to, from, contact, contentType, body))
}

// InviteWithoutOffer sends an INVITE without SDP; the ACK carries the answer
// (see AckWithAnswer).
func (d *InviteDialog) InviteWithoutOffer(req *sip.Message) error {
	d.offer = false
	return d.Invite(req)
}

// ReInvite sends an INVITE inside the established dialog.
func (d *InviteDialog) ReInvite(contact *sip.NameAddress, contentType string, body []byte) error {
	if d.state != Call {
		return d.stateError("re-invite")
	}
	req := d.newRequest(sip.INVITE, contentType, body)
	if contact != nil {
		req.SetHeader(sip.HeaderContact, contact.String())
	}
	return d.ReInviteRequest(req)
}

func (d *InviteDialog) ReInviteRequest(req *sip.Message) error {
	if d.state != Call {
		return d.stateError("re-invite")
	}
	d.changeState(ReInviting)
	d.invite = req
	d.update(UAC, req)
	return d.startInvite(req)
}

func (d *InviteDialog) ReInviteWithoutOffer(req *sip.Message) error {
	d.offer = false
	return d.ReInviteRequest(req)
}

func (d *InviteDialog) startInvite(req *sip.Message) error {
	tc := transaction.NewInviteClientTransaction(d.p, req, d.onInviteClient)
	d.inviteTc = tc
	return tc.Start()
}

// AckWithAnswer sends the ACK of a 2xx received for an INVITE without offer,
// carrying the answer, and enters Call.
func (d *InviteDialog) AckWithAnswer(contact *sip.NameAddress, contentType string, body []byte) error {
	if !d.is(Inviting, ReInviting) || d.offer {
		return d.stateError("ack with answer")
	}
	if contact != nil {
		d.info.LocalContact = contact
	}
	d.offer = true
	d.sendAck(d.buildAck(contentType, body))
	d.changeState(Call)
	d.emit(DlgCall, nil)
	return nil
}

func (d *InviteDialog) buildAck(contentType string, body []byte) *sip.Message {
	seq := uint32(d.info.LocalCSeq)
	if cseq, err := d.invite.CSeq(); err == nil {
		seq = cseq.SeqNo
	}
	return d.p.Factory().Ack2xx(d.info.Params(seq), contentType, body)
}

func (d *InviteDialog) sendAck(ack *sip.Message) {
	d.ack = ack
	transaction.NewAckClient(d.p, ack).Start()
}

// Bye ends an established call.
func (d *InviteDialog) Bye() error {
	if d.state != Call {
		return d.stateError("bye")
	}
	bye := d.p.Factory().Bye(d.info.Params(d.info.NextLocalCSeq()))
	return d.ByeRequest(bye)
}

func (d *InviteDialog) ByeRequest(bye *sip.Message) error {
	if d.state != Call {
		return d.stateError("bye")
	}
	d.changeState(Byeing)
	return transaction.NewClientTransaction(d.p, bye, d.onByeClient).Start()
}

// Cancel cancels the pending outgoing INVITE, or stops waiting for one.
func (d *InviteDialog) Cancel() error {
	switch {
	case d.is(Inviting, ReInviting):
		cancel := d.p.Factory().Cancel(d.invite)
		return transaction.NewClientTransaction(d.p, cancel, nil).Start()
	case d.is(Waiting, ReWaiting):
		d.inviteTs.Terminate()
		d.changeState(Close)
		d.emit(DlgClose, nil)
		return nil
	}
	return d.stateError("cancel")
}

// SendMessage sends a MESSAGE inside the dialog.
func (d *InviteDialog) SendMessage(contentType string, body []byte) error {
	if !d.IsConfirmed() {
		return d.stateError("message")
	}
	req := d.newRequest(sip.MESSAGE, contentType, body)
	return transaction.NewClientTransaction(d.p, req, nil).Start()
}

func (d *InviteDialog) newRequest(method sip.RequestMethod, contentType string, body []byte) *sip.Message {
	return d.p.Factory().DialogRequest(d.info.Params(d.info.NextLocalCSeq()), method, contentType, body)
}

// ---- inbound ----

func (d *InviteDialog) OnReceivedMessage(msg *sip.Message) {
	if d.state == Close {
		return
	}
	if msg.IsRequest() {
		if !d.fresh(msg) {
			d.log.Infof("%s old CSeq in %s, dropped", d, msg.Short())
			return
		}
		d.onRequest(msg)
		return
	}
	d.onResponse(msg)
}

func (d *InviteDialog) dropped(msg *sip.Message) {
	err := &ProtocolStateError{Dialog: d.String(), State: d.state.String(), Method: msg.Method().String()}
	d.log.Infof("%s, dropped", err)
}

func (d *InviteDialog) onRequest(msg *sip.Message) {
	switch msg.Method() {
	case sip.INVITE:
		if !d.is(Init, Call) {
			d.dropped(msg)
			return
		}
		ts, err := transaction.NewInviteServerTransaction(d.p, msg, true, d.onInviteServer)
		if err != nil {
			d.log.Warnf("%s: %s", d, err)
			return
		}
		d.inviteTs = ts
		d.invite = msg
		reinvite := d.state == Call
		if reinvite {
			d.changeState(ReInvited)
		} else {
			d.changeState(Invited)
		}
		d.update(UAS, msg)
		if reinvite {
			d.emit(DlgReInvite, msg)
		} else {
			d.emit(DlgInvite, msg)
		}
	case sip.ACK:
		if !d.is(Accepted, ReAccepted) {
			d.dropped(msg)
			return
		}
		d.changeState(Call)
		if d.ackTs != nil {
			d.ackTs.Terminate()
		}
		d.emit(DlgAck, msg)
		d.emit(DlgCall, nil)
	case sip.BYE:
		if !d.is(Call, Byeing) {
			d.dropped(msg)
			return
		}
		d.changeState(Byed)
		ts, err := transaction.NewServerTransaction(d.p, msg, nil)
		if err != nil {
			d.log.Warnf("%s: %s", d, err)
			return
		}
		d.byeTs = ts
		if err := d.Respond(d.p.Factory().Response(msg, sip.StatusOK, "", nil)); err != nil {
			d.log.Warnf("%s answer BYE: %s", d, err)
		}
		d.emit(DlgBye, msg)
		d.changeState(Close)
		d.emit(DlgClose, nil)
	case sip.CANCEL:
		if !d.is(Invited, ReInvited) {
			d.dropped(msg)
			return
		}
		d.answer(msg, sip.StatusOK)
		resp := d.p.Factory().Response(d.invite, sip.StatusRequestTerminated, "", nil)
		if err := d.Respond(resp); err != nil {
			d.log.Warnf("%s answer INVITE with 487: %s", d, err)
		}
		d.emit(DlgCancel, msg)
	default:
		if d.hooks.request != nil && d.hooks.request(msg) {
			return
		}
		if msg.IsInfo() {
			if d.state != Call {
				d.dropped(msg)
				return
			}
			d.answer(msg, sip.StatusOK)
			d.emit(DlgInfo, msg)
			return
		}
		d.answer(msg, sip.StatusOK)
		d.emit(DlgMessage, msg)
	}
}

// answer responds to req on its own server transaction.
func (d *InviteDialog) answer(req *sip.Message, code sip.StatusCode) {
	ts, err := transaction.NewServerTransaction(d.p, req, nil)
	if err != nil {
		d.log.Warnf("%s: %s", d, err)
		return
	}
	if err := ts.Respond(d.p.Factory().Response(req, code, "", nil)); err != nil {
		d.log.Warnf("%s answer %s: %s", d, req.Short(), err)
	}
}

// onResponse sees 2xx retransmissions arriving after the INVITE client
// transaction ended; each one gets the ACK again.
func (d *InviteDialog) onResponse(msg *sip.Message) {
	if d.state != Call {
		d.log.Debugf("%s %s ignored in %s", d, msg.Short(), d.state)
		return
	}
	if code := msg.StatusCode(); code < 200 || code >= 300 {
		d.log.Warnf("%s expected a 2xx, got %s", d, msg.Short())
		return
	}
	if d.ack != nil {
		transaction.NewAckClient(d.p, d.ack).Start()
	}
}

// ---- transaction events ----

func (d *InviteDialog) onInviteClient(ev transaction.Event) {
	switch ev.Kind {
	case transaction.EventProvisional:
		if d.is(Inviting, ReInviting) {
			d.emit(DlgProvisional, ev.Msg)
		}
	case transaction.EventSuccess:
		d.inviteSuccess(ev.Msg)
	case transaction.EventFailure:
		d.inviteFailure(ev.Tx, ev.Msg)
	case transaction.EventTimeout:
		if !d.is(Inviting, ReInviting) {
			return
		}
		d.changeState(Close)
		d.emit(DlgTimeout, nil)
		d.emit(DlgClose, nil)
	case transaction.EventTransportError:
		d.log.Warnf("%s INVITE transport error: %s", d, ev.Err)
	}
}

func (d *InviteDialog) inviteSuccess(resp *sip.Message) {
	if !d.is(Inviting, ReInviting) {
		d.log.Debugf("%s %s ignored in %s", d, resp.Short(), d.state)
		return
	}
	if d.hooks.success != nil {
		d.hooks.success()
	}

	reinvite := d.state == ReInviting
	d.update(UAC, resp)
	if d.offer {
		d.sendAck(d.buildAck("", nil))
		d.changeState(Call)
	}

	if reinvite {
		d.emit(DlgReInviteSuccess, resp)
		return
	}
	d.emit(DlgInviteSuccess, resp)
	if d.state == Call {
		d.emit(DlgCall, nil)
	}
}

func (d *InviteDialog) inviteFailure(tx transaction.Transaction, resp *sip.Message) {
	var authErr error
	if d.hooks.challenge != nil {
		handled, err := d.hooks.challenge(tx, resp)
		if handled {
			return
		}
		authErr = err
	}
	if !d.is(Inviting, ReInviting) {
		return
	}

	if d.state == ReInviting {
		d.changeState(Call)
		d.emitEvent(InviteEvent{Kind: DlgReInviteFailure, Msg: resp, Err: authErr})
		return
	}

	d.changeState(Close)
	if code := resp.StatusCode(); code >= 300 && code < 400 {
		contacts, _ := resp.Contacts()
		d.emitEvent(InviteEvent{Kind: DlgInviteRedirect, Msg: resp, Contacts: contacts})
	} else {
		d.emitEvent(InviteEvent{Kind: DlgInviteFailure, Msg: resp, Err: authErr})
	}
	d.emit(DlgClose, nil)
}

func (d *InviteDialog) onByeClient(ev transaction.Event) {
	switch ev.Kind {
	case transaction.EventSuccess:
		if d.state != Byeing {
			return
		}
		if d.hooks.success != nil {
			d.hooks.success()
		}
		d.changeState(Close)
		d.emit(DlgByeSuccess, ev.Msg)
		d.emit(DlgClose, nil)
	case transaction.EventFailure:
		var authErr error
		if d.hooks.challenge != nil {
			handled, err := d.hooks.challenge(ev.Tx, ev.Msg)
			if handled {
				return
			}
			authErr = err
		}
		if d.state != Byeing {
			return
		}
		d.changeState(Call)
		d.emitEvent(InviteEvent{Kind: DlgByeFailure, Msg: ev.Msg, Err: authErr})
	case transaction.EventTimeout:
		if d.state != Byeing {
			return
		}
		d.changeState(Close)
		d.emit(DlgClose, nil)
	}
}

func (d *InviteDialog) onInviteServer(ev transaction.Event) {
	switch ev.Kind {
	case transaction.EventRequest:
		// Listen 收到的第一个 INVITE
		if d.state != Waiting {
			return
		}
		d.changeState(Invited)
		d.invite = ev.Msg
		d.update(UAS, ev.Msg)
		d.emit(DlgInvite, ev.Msg)
	case transaction.EventFailureAck:
		switch d.state {
		case ReRefused:
			d.changeState(Call)
		case Refused:
			d.changeState(Close)
			d.emit(DlgClose, nil)
		}
	case transaction.EventTimeout:
		// no ACK for a 3xx-6xx
		if d.is(Refused, ReRefused) {
			d.changeState(Close)
			d.emit(DlgClose, nil)
		}
	case transaction.EventTransportError:
		d.log.Warnf("%s INVITE response transport error: %s", d, ev.Err)
	}
}

func (d *InviteDialog) onAckServer(ev transaction.Event) {
	if ev.Kind != transaction.EventAckTimeout {
		return
	}
	if !d.is(Accepted, ReAccepted, Refused, ReRefused) {
		return
	}
	d.log.Warnf("%s no ACK for %s", d, ev.Msg.Short())
	d.changeState(Close)
	d.emit(DlgClose, nil)
}
