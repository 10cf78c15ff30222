package dialog

import "github.com/zenghr0820/gbsip/sip"

type InviteEventKind int

const (
	DlgInvite InviteEventKind = iota + 1
	DlgReInvite
	DlgProvisional
	DlgInviteSuccess
	DlgInviteFailure
	DlgInviteRedirect
	DlgReInviteSuccess
	DlgReInviteFailure
	DlgTimeout
	DlgAck
	DlgCall
	DlgCancel
	DlgBye
	DlgByeSuccess
	DlgByeFailure
	DlgInfo
	DlgMessage
	DlgClose

	// extended dialog only
	DlgRefer
	DlgNotify
	DlgAltRequest
	DlgReferResponse
	DlgAltResponse
)

var inviteEventNames = map[InviteEventKind]string{
	DlgInvite:          "invite",
	DlgReInvite:        "re-invite",
	DlgProvisional:     "provisional",
	DlgInviteSuccess:   "invite-success",
	DlgInviteFailure:   "invite-failure",
	DlgInviteRedirect:  "invite-redirect",
	DlgReInviteSuccess: "re-invite-success",
	DlgReInviteFailure: "re-invite-failure",
	DlgTimeout:         "timeout",
	DlgAck:             "ack",
	DlgCall:            "call",
	DlgCancel:          "cancel",
	DlgBye:             "bye",
	DlgByeSuccess:      "bye-success",
	DlgByeFailure:      "bye-failure",
	DlgInfo:            "info",
	DlgMessage:         "message",
	DlgClose:           "close",
	DlgRefer:           "refer",
	DlgNotify:          "notify",
	DlgAltRequest:      "alt-request",
	DlgReferResponse:   "refer-response",
	DlgAltResponse:     "alt-response",
}

func (k InviteEventKind) String() string {
	if name, ok := inviteEventNames[k]; ok {
		return name
	}
	return "unknown"
}

// InviteEvent is everything an INVITE dialog reports. Msg is the message that
// caused the event (nil for Call, Close and an INVITE Timeout; the request
// for an in-dialog request that timed out); Code and Reason are set for
// responses.
type InviteEvent struct {
	Kind     InviteEventKind
	Dialog   *InviteDialog
	Msg      *sip.Message
	Code     sip.StatusCode
	Reason   string
	Body     []byte
	Contacts []*sip.NameAddress
	// REFER
	ReferTo    *sip.NameAddress
	ReferredBy *sip.NameAddress
	// set when the failure ends an exhausted digest retry, and on Timeout of
	// an in-dialog request
	Err error
}

// Method of the request the event is about.
func (ev InviteEvent) Method() sip.RequestMethod {
	if ev.Msg == nil {
		return ""
	}
	if ev.Msg.IsRequest() {
		return ev.Msg.Method()
	}
	if cseq, err := ev.Msg.CSeq(); err == nil {
		return cseq.MethodName
	}
	return ""
}

type InviteHandler func(ev InviteEvent)

type SubscriptionEventKind int

const (
	// notifier
	SubSubscribe SubscriptionEventKind = iota + 1
	SubNotificationSuccess
	SubNotificationFailure
	SubNotifyTimeout

	// subscriber
	SubSuccess
	SubFailure
	SubTimeout
	SubNotify
	SubTerminated
)

var subscriptionEventNames = map[SubscriptionEventKind]string{
	SubSubscribe:           "subscribe",
	SubNotificationSuccess: "notification-success",
	SubNotificationFailure: "notification-failure",
	SubNotifyTimeout:       "notify-timeout",
	SubSuccess:             "subscription-success",
	SubFailure:             "subscription-failure",
	SubTimeout:             "subscribe-timeout",
	SubNotify:              "notify",
	SubTerminated:          "subscription-terminated",
}

func (k SubscriptionEventKind) String() string {
	if name, ok := subscriptionEventNames[k]; ok {
		return name
	}
	return "unknown"
}

// SubscriptionEvent is reported by notifier and subscriber dialogs; exactly
// one of Notifier and Subscriber is set.
type SubscriptionEvent struct {
	Kind       SubscriptionEventKind
	Notifier   *NotifierDialog
	Subscriber *SubscriberDialog
	Msg        *sip.Message
	Code       sip.StatusCode
	Reason     string
	// Expires of a SUBSCRIBE, -1 when absent
	Expires int
	// Subscription-State of a NOTIFY
	State       string
	ContentType string
	Body        []byte
}

type SubscriptionHandler func(ev SubscriptionEvent)

func responseFields(msg *sip.Message) (sip.StatusCode, string) {
	if msg == nil || !msg.IsResponse() {
		return 0, ""
	}
	return msg.StatusCode(), msg.Reason()
}
