package sip

import (
	"fmt"
	"strconv"
	"strings"
)

type CSeq struct {
	SeqNo      uint32
	MethodName RequestMethod
}

func ParseCSeq(value string) (*CSeq, error) {
	fields := strings.Fields(value)
	if len(fields) != 2 {
		return nil, fmt.Errorf("invalid CSeq %q", value)
	}
	n, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid CSeq number %q", fields[0])
	}
	return &CSeq{SeqNo: uint32(n), MethodName: RequestMethod(strings.ToUpper(fields[1]))}, nil
}

func (seq *CSeq) String() string {
	return fmt.Sprintf("%d %s", seq.SeqNo, seq.MethodName)
}

// Event 头部, "presence;id=1"
type Event struct {
	Type   string
	ID     string
	Params Params
}

func ParseEvent(value string) *Event {
	ev := new(Event)
	parts := strings.SplitN(value, ";", 2)
	ev.Type = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		ev.Params = ParseParams(parts[1], ';')
		ev.ID, _ = ev.Params.Get("id")
		ev.Params.Del("id")
	}
	return ev
}

func (ev *Event) String() string {
	s := ev.Type
	if ev.ID != "" {
		s += ";id=" + ev.ID
	}
	return s + ev.Params.ToString(';')
}

// 订阅状态
const (
	SubscriptionActive     = "active"
	SubscriptionPending    = "pending"
	SubscriptionTerminated = "terminated"
)

// SubscriptionState 头部, "active;expires=600", "terminated;reason=timeout"
type SubscriptionState struct {
	State   string
	Expires int // -1 表示没有 expires 参数
	Reason  string
}

func NewSubscriptionState(state string, expires int) *SubscriptionState {
	return &SubscriptionState{State: state, Expires: expires}
}

func ParseSubscriptionState(value string) *SubscriptionState {
	ss := &SubscriptionState{Expires: -1}
	parts := strings.SplitN(value, ";", 2)
	ss.State = strings.ToLower(strings.TrimSpace(parts[0]))
	if len(parts) == 2 {
		params := ParseParams(parts[1], ';')
		if v, ok := params.Get("expires"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				ss.Expires = n
			}
		}
		ss.Reason, _ = params.Get("reason")
	}
	return ss
}

func (ss *SubscriptionState) String() string {
	s := ss.State
	if ss.Expires >= 0 {
		s += ";expires=" + strconv.Itoa(ss.Expires)
	}
	if ss.Reason != "" {
		s += ";reason=" + ss.Reason
	}
	return s
}

func (ss *SubscriptionState) IsActive() bool     { return ss.State == SubscriptionActive }
func (ss *SubscriptionState) IsPending() bool    { return ss.State == SubscriptionPending }
func (ss *SubscriptionState) IsTerminated() bool { return ss.State == SubscriptionTerminated }
