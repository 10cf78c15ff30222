package sip

import (
	"strings"

	uuid "github.com/satori/go.uuid"
	"github.com/zenghr0820/gbsip/utils"
)

// 请求方法
type RequestMethod string

func (method RequestMethod) String() string {
	return string(method)
}

const (
	INVITE    RequestMethod = "INVITE"
	ACK       RequestMethod = "ACK"
	CANCEL    RequestMethod = "CANCEL"
	BYE       RequestMethod = "BYE"
	REGISTER  RequestMethod = "REGISTER"
	OPTIONS   RequestMethod = "OPTIONS"
	SUBSCRIBE RequestMethod = "SUBSCRIBE"
	NOTIFY    RequestMethod = "NOTIFY"
	REFER     RequestMethod = "REFER"
	INFO      RequestMethod = "INFO"
	MESSAGE   RequestMethod = "MESSAGE"
)

// AllMethods 支持的请求方法, 用于 Allow 头
var AllMethods = []RequestMethod{INVITE, ACK, CANCEL, BYE, REGISTER, OPTIONS, SUBSCRIBE, NOTIFY, REFER, INFO, MESSAGE}

// CreatesDialog 会创建对话的请求
func (method RequestMethod) CreatesDialog() bool {
	return method == INVITE || method == SUBSCRIBE || method == REFER
}

const (
	SIPVersion  = "SIP/2.0"
	MagicCookie = "z9hG4bK"

	DefaultPort    = 5060
	DefaultProto   = "udp"
	MaxForwards    = 70
	InitialCSeq    = 1
	DefaultExpires = 3600
)

// IsReliable 判断传输协议是否可靠
func IsReliable(proto string) bool {
	switch strings.ToLower(proto) {
	case "tcp", "tls", "sctp", "ws", "wss":
		return true
	}
	return false
}

// GenerateBranch RFC 3261 兼容的 branch
func GenerateBranch() string {
	return MagicCookie + utils.RandString(16, false)
}

func GenerateTag() string {
	return utils.RandString(10, true)
}

func GenerateCallID() string {
	return uuid.Must(uuid.NewV4(), nil).String()
}
