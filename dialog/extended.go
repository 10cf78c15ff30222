package dialog

import (
	"fmt"

	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
)

const maxAuthAttempts = 3

const kindExtendedDialog = "extendedInviteDialog"

// ExtendedInviteDialog is an InviteDialog that answers 401/407 challenges to
// its own requests, and carries REFER, INFO, NOTIFY and arbitrary in-dialog
// requests. Those requests are reported with DlgRefer, DlgNotify and
// DlgAltRequest and answered with Respond, AcceptRefer or RefuseRefer.
type ExtendedInviteDialog struct {
	*InviteDialog
	creds    sip.Credentials
	attempts int
}

// NewExtendedInviteDialog uses the provider's credentials for challenges.
func NewExtendedInviteDialog(p *provider.Provider, user string, handler InviteHandler) *ExtendedInviteDialog {
	inv := newInviteDialog(p, kindExtendedDialog, user, handler)
	d := &ExtendedInviteDialog{
		InviteDialog: inv,
		creds:        p.Credentials(),
	}
	inv.self = inv
	inv.hooks = hooks{
		request:   d.onRequest,
		challenge: d.challenge,
		success:   d.resetAttempts,
	}
	return d
}

func NewIncomingExtendedInviteDialog(p *provider.Provider, invite *sip.Message, handler InviteHandler) (*ExtendedInviteDialog, error) {
	d := NewExtendedInviteDialog(p, "", handler)
	if err := d.accept(invite); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *ExtendedInviteDialog) SetCredentials(creds sip.Credentials) {
	d.creds = creds
}

// Attempts 当前已重试的认证次数
func (d *ExtendedInviteDialog) Attempts() int {
	return d.attempts
}

func (d *ExtendedInviteDialog) resetAttempts() {
	d.attempts = 0
}

// Request sends req inside the dialog on a new client transaction. The
// final response is reported as DlgReferResponse or DlgAltResponse.
func (d *ExtendedInviteDialog) Request(req *sip.Message) error {
	if !d.IsConfirmed() {
		return d.stateError("request " + req.Method().String())
	}
	return transaction.NewClientTransaction(d.p, req, d.onClient).Start()
}

// Refer asks the remote party to call referTo.
func (d *ExtendedInviteDialog) Refer(referTo, referredBy *sip.NameAddress) error {
	if !d.IsConfirmed() {
		return d.stateError("refer")
	}
	req := d.p.Factory().Refer(d.info.Params(d.info.NextLocalCSeq()), referTo, referredBy)
	return d.Request(req)
}

// SendInfo sends a DTMF digit as application/dtmf-relay.
func (d *ExtendedInviteDialog) SendInfo(signal byte, duration int) error {
	if !d.IsConfirmed() {
		return d.stateError("info")
	}
	body := fmt.Sprintf("Signal=%c\r\nDuration=%d\r\n", signal, duration)
	req := d.newRequest(sip.INFO, "application/dtmf-relay", []byte(body))
	return d.Request(req)
}

// NotifySipfrag reports the progress of an accepted REFER.
func (d *ExtendedInviteDialog) NotifySipfrag(code sip.StatusCode, reason string) error {
	if !d.IsConfirmed() {
		return d.stateError("notify")
	}
	if reason == "" {
		reason = sip.StatusText(code)
	}
	frag := fmt.Sprintf("SIP/2.0 %d %s", code, reason)
	req := d.p.Factory().DialogNotify(d.info.Params(d.info.NextLocalCSeq()), &sip.Event{Type: "refer"},
		nil, "message/sipfrag;version=2.0", []byte(frag))
	return d.Request(req)
}

func (d *ExtendedInviteDialog) AcceptRefer(refer *sip.Message) error {
	return d.Respond(d.p.Factory().Response(refer, sip.StatusAccepted, "", nil))
}

func (d *ExtendedInviteDialog) RefuseRefer(refer *sip.Message) error {
	return d.Respond(d.p.Factory().Response(refer, sip.StatusDecline, "", nil))
}

func (d *ExtendedInviteDialog) onRequest(msg *sip.Message) bool {
	switch msg.Method() {
	case sip.INVITE, sip.ACK, sip.CANCEL, sip.BYE:
		return false
	}

	ts, err := transaction.NewServerTransaction(d.p, msg, nil)
	if err != nil {
		d.log.Warnf("%s: %s", d, err)
		return true
	}
	d.servers[ts.Key()] = ts

	switch msg.Method() {
	case sip.REFER:
		ev := InviteEvent{Kind: DlgRefer, Msg: msg}
		if v, ok := msg.GetHeader(sip.HeaderReferTo); ok {
			ev.ReferTo, _ = sip.ParseNameAddress(v)
		}
		if v, ok := msg.GetHeader(sip.HeaderReferredBy); ok {
			ev.ReferredBy, _ = sip.ParseNameAddress(v)
		}
		d.emitEvent(ev)
	case sip.NOTIFY:
		if err := d.Respond(d.p.Factory().Response(msg, sip.StatusOK, "", nil)); err != nil {
			d.log.Warnf("%s answer NOTIFY: %s", d, err)
		}
		d.emit(DlgNotify, msg)
	default:
		d.log.Debugf("%s alternative request %s", d, msg.Method())
		d.emit(DlgAltRequest, msg)
	}
	return true
}

func (d *ExtendedInviteDialog) onClient(ev transaction.Event) {
	kind := DlgAltResponse
	if ev.Tx.Request().IsRefer() {
		kind = DlgReferResponse
	}

	switch ev.Kind {
	case transaction.EventSuccess:
		d.resetAttempts()
		d.emit(kind, ev.Msg)
	case transaction.EventFailure:
		handled, err := d.challenge(ev.Tx, ev.Msg)
		if handled {
			return
		}
		d.emitEvent(InviteEvent{Kind: kind, Msg: ev.Msg, Err: err})
	case transaction.EventTimeout:
		d.log.Infof("%s %s timed out", d, ev.Tx.Request().Short())
		d.emitEvent(InviteEvent{Kind: DlgTimeout, Msg: ev.Tx.Request(), Err: ev.Err})
	}
}

// challenge resends the request of tx with digest credentials when resp is
// a 401/407 and attempts remain.
func (d *ExtendedInviteDialog) challenge(tx transaction.Transaction, resp *sip.Message) (bool, error) {
	code := resp.StatusCode()
	if code != sip.StatusUnauthorized && code != sip.StatusProxyAuthenticationRequired {
		return false, nil
	}
	if d.attempts >= maxAuthAttempts {
		d.log.Warnf("%s still challenged after %d attempts", d, d.attempts)
		return false, ErrAuthAttempts
	}

	req := tx.Request().Clone()
	if err := sip.Authorize(req, resp, d.creds); err != nil {
		d.log.Warnf("%s answer challenge: %s", d, err)
		return false, err
	}
	req.SetCSeq(&sip.CSeq{SeqNo: d.info.NextLocalCSeq(), MethodName: req.Method()})
	if hop, err := req.Via(); err == nil {
		hop.SetBranch(d.p.PickBranch())
		req.SetTopVia(hop)
	}
	d.attempts++
	d.p.Metrics().AuthRetries.Inc()
	d.log.Infof("%s retry %s with credentials, attempt %d", d, req.Method(), d.attempts)

	var err error
	switch req.Method() {
	case sip.INVITE:
		d.invite = req
		err = d.startInvite(req)
	case sip.BYE:
		err = transaction.NewClientTransaction(d.p, req, d.onByeClient).Start()
	default:
		err = transaction.NewClientTransaction(d.p, req, d.onClient).Start()
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
