package dialog

import (
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/scheduler"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
)

const kindSubscriberDialog = "subscriberDialog"

// ResubscribeMargin 提前多久重新订阅
const ResubscribeMargin = 30 * time.Second

// SubscriberDialog is the subscriber side of a subscription. It refreshes
// the subscription before it expires, answers every NOTIFY with 200 and
// follows their Subscription-State.
type SubscriberDialog struct {
	base
	fsm     *machine
	handler SubscriptionHandler

	event      *sip.Event
	target     *sip.NameAddress
	subscriber *sip.NameAddress
	contact    *sip.NameAddress
	expires    int

	contentType   string
	body          []byte
	subscribeTc   *transaction.ClientTransaction
	unsubscribing bool
}

func NewSubscriberDialog(p *provider.Provider, event *sip.Event, handler SubscriptionHandler) *SubscriberDialog {
	d := &SubscriberDialog{
		handler: handler,
		event:   event,
		expires: p.Config().SIP.DefaultExpires,
	}
	d.init(p, kindSubscriberDialog, "", d)
	d.fsm = newMachine(&d.base, fsm.Events{
		{Name: eventSubscribe, Src: []string{StateInit}, Dst: StateSubscribing},
		{Name: eventAccept, Src: []string{StateSubscribing}, Dst: StateAccepted},
		{Name: eventPending, Src: []string{StateAccepted}, Dst: StatePending},
		{Name: eventActivate, Src: []string{StateSubscribing, StateAccepted, StatePending}, Dst: StateActive},
		{Name: eventTerminate, Src: []string{StateInit, StateSubscribing, StateAccepted, StatePending, StateActive}, Dst: StateTerminated},
	}, d.terminated)
	return d
}

// Setup sets who is subscribed to, by whom and for how long. target and
// subscriber may be bare user names; a nil contact is built from the
// subscriber.
func (d *SubscriberDialog) Setup(target, subscriber string, contact *sip.NameAddress, expires int) error {
	to, err := d.p.CompleteNameAddress(target)
	if err != nil {
		return errors.Wrap(err, "target")
	}
	from, err := d.p.CompleteNameAddress(subscriber)
	if err != nil {
		return errors.Wrap(err, "subscriber")
	}
	if contact == nil {
		contact = d.p.BuildContact(from.User())
	}
	d.target, d.subscriber, d.contact = to, from, contact
	if expires > 0 {
		d.expires = expires
	}
	return nil
}

func (d *SubscriberDialog) State() string {
	return d.fsm.Current()
}

func (d *SubscriberDialog) IsEarly() bool {
	return d.fsm.is(StateInit, StateSubscribing)
}

func (d *SubscriberDialog) IsConfirmed() bool {
	return d.fsm.is(StateAccepted, StatePending, StateActive)
}

func (d *SubscriberDialog) IsTerminated() bool {
	return d.fsm.is(StateTerminated)
}

func (d *SubscriberDialog) IsSubscriptionActive() bool {
	return d.fsm.is(StateActive)
}

func (d *SubscriberDialog) Event() *sip.Event {
	return d.event
}

func (d *SubscriberDialog) Expires() int {
	return d.expires
}

func (d *SubscriberDialog) stateError(op string) error {
	return &ProtocolStateError{Dialog: d.String(), State: d.fsm.Current(), Method: op}
}

func (d *SubscriberDialog) resubscribeKey() scheduler.TaskKey {
	return scheduler.TaskKey{Owner: fmt.Sprintf("%s#%d", d.kind, d.seq), Kind: "resubscribe"}
}

// Subscribe sends a SUBSCRIBE carrying body; later refreshes repeat it.
func (d *SubscriberDialog) Subscribe(contentType string, body []byte) error {
	if d.fsm.is(StateTerminated) {
		return d.stateError("subscribe")
	}
	if d.target == nil {
		return errors.Errorf("%s: subscribe before setup", d)
	}
	d.contentType, d.body = contentType, body
	return d.send(d.expires)
}

// Resubscribe refreshes the subscription with the last body.
func (d *SubscriberDialog) Resubscribe() error {
	if !d.IsConfirmed() {
		return d.stateError("resubscribe")
	}
	return d.send(d.expires)
}

// Unsubscribe sends a SUBSCRIBE with Expires 0; the dialog terminates on
// its response.
func (d *SubscriberDialog) Unsubscribe() error {
	if !d.IsConfirmed() {
		return d.stateError("unsubscribe")
	}
	d.unsubscribing = true
	d.p.Scheduler().Cancel(d.resubscribeKey())
	return d.send(0)
}

func (d *SubscriberDialog) send(expires int) error {
	var req *sip.Message
	if d.info.CallID == "" {
		req = d.p.Factory().Subscribe(d.target.URI, d.target, d.subscriber, d.contact, d.event, expires, d.contentType, d.body)
	} else {
		req = d.p.Factory().DialogSubscribe(d.info.Params(d.info.NextLocalCSeq()), d.event, expires, d.contentType, d.body)
	}
	if d.contentType != "" {
		req.SetHeader(sip.HeaderAccept, d.contentType)
	}

	d.fsm.fire(eventSubscribe)
	d.update(UAC, req)
	tc := transaction.NewClientTransaction(d.p, req, d.onSubscribeClient)
	d.subscribeTc = tc
	return tc.Start()
}

// Terminate ends the subscription locally without sending anything.
func (d *SubscriberDialog) Terminate() {
	if d.subscribeTc != nil {
		d.subscribeTc.Terminate()
		d.subscribeTc = nil
	}
	d.fsm.fire(eventTerminate)
}

func (d *SubscriberDialog) terminated() {
	d.p.Scheduler().Cancel(d.resubscribeKey())
	d.close()
}

func (d *SubscriberDialog) emit(ev SubscriptionEvent) {
	ev.Subscriber = d
	if ev.Msg != nil {
		ev.Code, ev.Reason = responseFields(ev.Msg)
		ev.ContentType = ev.Msg.ContentType()
		ev.Body = ev.Msg.Body()
	}
	if d.handler != nil {
		d.handler(ev)
	}
}

func (d *SubscriberDialog) onSubscribeClient(ev transaction.Event) {
	if d.fsm.is(StateTerminated) {
		return
	}
	switch ev.Kind {
	case transaction.EventSuccess:
		if !d.fsm.is(StateActive) {
			d.fsm.fire(eventAccept)
			d.update(UAC, ev.Msg)
		}
		d.emit(SubscriptionEvent{Kind: SubSuccess, Msg: ev.Msg})
		if d.unsubscribing {
			d.fsm.fire(eventTerminate)
			d.emit(SubscriptionEvent{Kind: SubTerminated})
			return
		}
		expires := d.expires
		if n, ok := ev.Msg.Expires(); ok && n > 0 {
			expires = n
		}
		d.scheduleResubscribe(time.Duration(expires) * time.Second)
	case transaction.EventFailure:
		d.fsm.fire(eventTerminate)
		d.emit(SubscriptionEvent{Kind: SubFailure, Msg: ev.Msg})
	case transaction.EventTimeout:
		d.fsm.fire(eventTerminate)
		d.emit(SubscriptionEvent{Kind: SubTimeout})
	}
}

func (d *SubscriberDialog) scheduleResubscribe(expires time.Duration) {
	delay := expires - ResubscribeMargin
	if delay <= 0 {
		delay = expires / 2
	}
	d.p.Scheduler().RunAfterDelay(d.resubscribeKey(), delay, func() {
		if !d.IsConfirmed() {
			return
		}
		if err := d.Resubscribe(); err != nil {
			d.log.Warnf("%s resubscribe: %s", d, err)
		}
	})
}

func (d *SubscriberDialog) OnReceivedMessage(msg *sip.Message) {
	if d.fsm.is(StateTerminated) {
		return
	}
	if !msg.IsRequest() || !msg.IsNotify() {
		d.log.Debugf("%s ignored %s", d, msg.Short())
		return
	}
	if !d.fresh(msg) {
		d.log.Infof("%s old CSeq in %s, dropped", d, msg.Short())
		return
	}

	ts, err := transaction.NewServerTransaction(d.p, msg, nil)
	if err != nil {
		d.log.Warnf("%s: %s", d, err)
		return
	}
	if err := ts.Respond(d.p.Factory().Response(msg, sip.StatusOK, "", nil)); err != nil {
		d.log.Warnf("%s answer NOTIFY: %s", d, err)
	}
	if contact, err := msg.Contact(); err == nil {
		d.info.RemoteContact = contact
	}

	state, _ := subscriptionState(msg)
	d.emit(SubscriptionEvent{Kind: SubNotify, Msg: msg, State: state})

	switch state {
	case sip.SubscriptionActive:
		d.fsm.fire(eventActivate)
	case sip.SubscriptionPending:
		d.fsm.fire(eventPending)
	case sip.SubscriptionTerminated:
		if d.fsm.fire(eventTerminate) {
			d.emit(SubscriptionEvent{Kind: SubTerminated})
		}
	}
}
