package dialog

import (
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
)

const kindNotifierDialog = "notifierDialog"

// NotifierDialog is the notifier side of a subscription: it answers
// SUBSCRIBE requests and sends NOTIFY requests whose Subscription-State
// drives its own state.
type NotifierDialog struct {
	base
	fsm     *machine
	handler SubscriptionHandler

	subscribe   *sip.Message
	subscribeTs *transaction.ServerTransaction
	listenID    sip.Identifier
	listening   bool
	event       *sip.Event
	expires     int
}

func NewNotifierDialog(p *provider.Provider, user string, handler SubscriptionHandler) *NotifierDialog {
	d := &NotifierDialog{handler: handler}
	d.init(p, kindNotifierDialog, user, d)
	d.fsm = newMachine(&d.base, fsm.Events{
		{Name: eventListen, Src: []string{StateInit}, Dst: StateWaiting},
		{Name: eventSubscribe, Src: []string{StateInit, StateWaiting}, Dst: StateSubscribed},
		{Name: eventPending, Src: []string{StateSubscribed}, Dst: StatePending},
		{Name: eventActivate, Src: []string{StateSubscribed, StatePending}, Dst: StateActive},
		{Name: eventTerminate, Src: []string{StateInit, StateWaiting, StateSubscribed, StatePending, StateActive}, Dst: StateTerminated},
	}, d.terminated)
	return d
}

// NewIncomingNotifierDialog creates the dialog of a received SUBSCRIBE; it
// is Subscribed and the application answers with Accept or Refuse.
func NewIncomingNotifierDialog(p *provider.Provider, subscribe *sip.Message, handler SubscriptionHandler) (*NotifierDialog, error) {
	d := NewNotifierDialog(p, "", handler)
	ts, err := transaction.NewServerTransaction(p, subscribe, nil)
	if err != nil {
		return nil, err
	}
	d.subscribeTs = ts
	d.received(subscribe)
	d.fsm.fire(eventSubscribe)
	d.update(UAS, subscribe)
	return d, nil
}

func (d *NotifierDialog) State() string {
	return d.fsm.Current()
}

func (d *NotifierDialog) IsEarly() bool {
	return d.fsm.is(StateInit, StateWaiting, StateSubscribed)
}

func (d *NotifierDialog) IsConfirmed() bool {
	return d.fsm.is(StatePending, StateActive)
}

func (d *NotifierDialog) IsTerminated() bool {
	return d.fsm.is(StateTerminated)
}

func (d *NotifierDialog) IsSubscriptionActive() bool {
	return d.fsm.is(StateActive)
}

// Event 订阅的事件包
func (d *NotifierDialog) Event() *sip.Event {
	return d.event
}

// Expires of the last SUBSCRIBE.
func (d *NotifierDialog) Expires() int {
	return d.expires
}

func (d *NotifierDialog) SubscribeMessage() *sip.Message {
	return d.subscribe
}

func (d *NotifierDialog) stateError(op string) error {
	return &ProtocolStateError{Dialog: d.String(), State: d.fsm.Current(), Method: op}
}

// Listen waits for the next SUBSCRIBE addressed to the dialog's user. A
// dialog already listening there is replaced.
func (d *NotifierDialog) Listen() error {
	if !d.fsm.is(StateInit) {
		return d.stateError("listen")
	}
	d.listenID = sip.MethodIdentifier(sip.SUBSCRIBE, d.user)
	d.p.RemoveListener(d.listenID)
	if !d.p.AddListener(d.listenID, d) {
		return errors.Errorf("%s: cannot listen on %s", d, d.listenID)
	}
	d.listening = true
	d.fsm.fire(eventListen)
	return nil
}

// ListenNext starts a new notifier for the same user.
func (d *NotifierDialog) ListenNext() (*NotifierDialog, error) {
	next := NewNotifierDialog(d.p, d.user, d.handler)
	if err := next.Listen(); err != nil {
		return nil, err
	}
	return next, nil
}

func (d *NotifierDialog) stopListening() {
	if d.listening {
		d.p.RemoveListener(d.listenID)
		d.listening = false
	}
}

func (d *NotifierDialog) terminated() {
	d.stopListening()
	d.close()
}

func (d *NotifierDialog) OnReceivedMessage(msg *sip.Message) {
	if d.fsm.is(StateTerminated) {
		return
	}
	if !msg.IsRequest() || !msg.IsSubscribe() {
		d.log.Debugf("%s ignored %s", d, msg.Short())
		return
	}
	waiting := d.fsm.is(StateWaiting)
	if !waiting && !d.fresh(msg) {
		d.log.Infof("%s old CSeq in %s, dropped", d, msg.Short())
		return
	}

	ts, err := transaction.NewServerTransaction(d.p, msg, nil)
	if err != nil {
		d.log.Warnf("%s: %s", d, err)
		return
	}
	d.subscribeTs = ts
	d.received(msg)

	if d.expires == 0 {
		// 取消订阅: 直接回复 200 并结束
		d.log.Infof("%s unsubscribed by %s", d, msg.Short())
		if waiting {
			d.stopListening()
		}
		d.respond(sip.StatusOK, 0, nil)
		d.emitSubscribe(msg)
		d.fsm.fire(eventTerminate)
		return
	}

	if waiting {
		d.stopListening()
		d.fsm.fire(eventSubscribe)
	}
	d.update(UAS, msg)
	d.emitSubscribe(msg)
}

func (d *NotifierDialog) received(msg *sip.Message) {
	d.subscribe = msg
	d.expires = d.p.Config().SIP.DefaultExpires
	if n, ok := msg.Expires(); ok {
		d.expires = n
	}
	if ev, ok := msg.Event(); ok {
		d.event = ev
	}
}

func (d *NotifierDialog) emitSubscribe(msg *sip.Message) {
	d.emit(SubscriptionEvent{Kind: SubSubscribe, Msg: msg, Expires: d.expires})
}

func (d *NotifierDialog) emit(ev SubscriptionEvent) {
	ev.Notifier = d
	if ev.Msg != nil {
		ev.Code, ev.Reason = responseFields(ev.Msg)
		ev.ContentType = ev.Msg.ContentType()
		ev.Body = ev.Msg.Body()
	}
	if d.handler != nil {
		d.handler(ev)
	}
}

// Accept answers the SUBSCRIBE with 200, echoing its Expires.
func (d *NotifierDialog) Accept(contact *sip.NameAddress) error {
	return d.respond(sip.StatusOK, d.expires, contact)
}

// Refuse answers 403; the subscription ends.
func (d *NotifierDialog) Refuse() error {
	if err := d.respond(sip.StatusForbidden, -1, nil); err != nil {
		return err
	}
	d.fsm.fire(eventTerminate)
	return nil
}

func (d *NotifierDialog) respond(code sip.StatusCode, expires int, contact *sip.NameAddress) error {
	if d.subscribe == nil {
		return d.stateError("respond")
	}
	resp := d.p.Factory().Response(d.subscribe, code, "", contact)
	if expires >= 0 {
		resp.SetExpires(expires)
	}
	return d.Respond(resp)
}

// Respond sends resp to the last SUBSCRIBE.
func (d *NotifierDialog) Respond(resp *sip.Message) error {
	if d.subscribeTs == nil {
		return d.stateError("respond")
	}
	if code := resp.StatusCode(); code >= 200 && code < 300 && d.fsm.is(StateSubscribed) {
		d.update(UAS, resp)
	}
	return d.subscribeTs.Respond(resp)
}

// Activate sends a NOTIFY with Subscription-State active.
func (d *NotifierDialog) Activate(expires int) error {
	return d.NotifyBody(sip.SubscriptionActive, expires, "", nil)
}

func (d *NotifierDialog) Pending(expires int) error {
	return d.NotifyBody(sip.SubscriptionPending, expires, "", nil)
}

// Terminate sends the final NOTIFY; reason may be empty.
func (d *NotifierDialog) Terminate(reason string) error {
	if !d.notifiable() {
		return d.stateError("notify")
	}
	state := sip.NewSubscriptionState(sip.SubscriptionTerminated, -1)
	state.Reason = reason
	return d.Notify(d.newNotify(state, "", nil))
}

// NotifyBody sends a NOTIFY; a negative expires leaves the parameter out.
func (d *NotifierDialog) NotifyBody(state string, expires int, contentType string, body []byte) error {
	if !d.notifiable() {
		return d.stateError("notify")
	}
	return d.Notify(d.newNotify(sip.NewSubscriptionState(state, expires), contentType, body))
}

func (d *NotifierDialog) newNotify(state *sip.SubscriptionState, contentType string, body []byte) *sip.Message {
	return d.p.Factory().DialogNotify(d.info.Params(d.info.NextLocalCSeq()), d.event, state, contentType, body)
}

func (d *NotifierDialog) notifiable() bool {
	return d.fsm.is(StateSubscribed, StatePending, StateActive)
}

// Notify sends req and moves the dialog according to its Subscription-State.
func (d *NotifierDialog) Notify(req *sip.Message) error {
	if !d.notifiable() {
		return d.stateError("notify")
	}
	switch state, _ := subscriptionState(req); state {
	case sip.SubscriptionActive:
		d.fsm.fire(eventActivate)
	case sip.SubscriptionPending:
		d.fsm.fire(eventPending)
	case sip.SubscriptionTerminated:
		d.fsm.fire(eventTerminate)
	}
	return transaction.NewClientTransaction(d.p, req, d.onNotifyClient).Start()
}

func (d *NotifierDialog) onNotifyClient(ev transaction.Event) {
	switch ev.Kind {
	case transaction.EventSuccess:
		d.emit(SubscriptionEvent{Kind: SubNotificationSuccess, Msg: ev.Msg})
	case transaction.EventFailure:
		d.emit(SubscriptionEvent{Kind: SubNotificationFailure, Msg: ev.Msg})
	case transaction.EventTimeout:
		if d.fsm.fire(eventTerminate) {
			d.emit(SubscriptionEvent{Kind: SubNotifyTimeout})
		}
	}
}
