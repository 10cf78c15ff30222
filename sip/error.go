package sip

import (
	"errors"
	"fmt"
)

// 消息异常
type MessageError interface {
	error
	// Malformed indicates that message is syntactically valid but has invalid headers, or
	// without required headers.
	// 格式错误表示消息在语法上有效，但具有无效的头，或没有必需的头
	Malformed() bool
	// Broken or incomplete message, or not a SIP message
	// 消息已断开或不完整，或不是SIP消息
	Broken() bool
}

// 错误的开始行
type InvalidStartLineError string

func (err InvalidStartLineError) Malformed() bool { return false }
func (err InvalidStartLineError) Broken() bool    { return true }
func (err InvalidStartLineError) Error() string {
	return "parser.InvalidStartLineError: " + string(err)
}

// Broken or incomplete messages, or not a SIP message.
// 该异常表示：消息已断开或不完整，比如头部没有结束或者 body 被截断
type BrokenMessageError struct {
	Err error
	Msg string
}

func (err *BrokenMessageError) Malformed() bool { return false }
func (err *BrokenMessageError) Broken() bool    { return true }
func (err *BrokenMessageError) Unwrap() error   { return err.Err }
func (err *BrokenMessageError) Error() string {
	if err == nil {
		return "<nil>"
	}

	s := "BrokenMessageError: " + err.Err.Error()
	if err.Msg != "" {
		s += fmt.Sprintf("\nMessage dump:\n%s", err.Msg)
	}

	return s
}

// syntactically valid but logically invalid message
// 该异常表示：无效的消息
type MalformedMessageError struct {
	Err error
	Msg string
}

func (err *MalformedMessageError) Malformed() bool { return true }
func (err *MalformedMessageError) Broken() bool    { return false }
func (err *MalformedMessageError) Unwrap() error   { return err.Err }
func (err *MalformedMessageError) Error() string {
	if err == nil {
		return "<nil>"
	}

	s := "MalformedMessageError: " + err.Err.Error()
	if err.Msg != "" {
		s += fmt.Sprintf("\nMessage dump:\n%s", err.Msg)
	}

	return s
}

// 缺少必要的头部
type MissingHeaderError string

func (err MissingHeaderError) Malformed() bool { return true }
func (err MissingHeaderError) Broken() bool    { return false }
func (err MissingHeaderError) Error() string {
	return "MissingHeaderError: missing " + string(err) + " header"
}

// IsParseError reports whether err came out of the message parser.
func IsParseError(err error) bool {
	var me MessageError
	return errors.As(err, &me)
}
