package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// 定义传输层的错误

// Error is satisfied by every transport error.
type Error interface {
	net.Error
	// Network indicates network level errors
	Network() bool
}

func isNetwork(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func isTemporary(err error) bool {
	return isTimeout(err)
}

// ConnectionError 连接级别错误
type ConnectionError struct {
	Err    error
	Op     string
	Net    string
	Source string
	Dest   string
}

func (err *ConnectionError) Unwrap() error   { return err.Err }
func (err *ConnectionError) Network() bool   { return isNetwork(err.Err) }
func (err *ConnectionError) Timeout() bool   { return isTimeout(err.Err) }
func (err *ConnectionError) Temporary() bool { return isTemporary(err.Err) }
func (err *ConnectionError) Error() string {
	if err == nil {
		return "<nil>"
	}

	fields := make(map[string]interface{})

	if err.Net != "" {
		fields["net"] = err.Net
	}
	if err.Source != "" {
		fields["source"] = err.Source
	}
	if err.Dest != "" {
		fields["destination"] = err.Dest
	}

	return fmt.Sprintf("transport.ConnectionError<%s> %s failed: %s", fields, err.Op, err.Err)
}

// ProtocolError 网络协议错误
type ProtocolError struct {
	Err      error
	Op       string
	ProtoPtr string
}

func (err *ProtocolError) Unwrap() error   { return err.Err }
func (err *ProtocolError) Network() bool   { return isNetwork(err.Err) }
func (err *ProtocolError) Timeout() bool   { return isTimeout(err.Err) }
func (err *ProtocolError) Temporary() bool { return isTemporary(err.Err) }
func (err *ProtocolError) Error() string {
	if err == nil {
		return "<nil>"
	}

	fields := make(map[string]interface{})

	if err.ProtoPtr != "" {
		fields["protocol_ptr"] = err.ProtoPtr
	}

	return fmt.Sprintf("transport.ProtocolError<%s> %s failed: %s", fields, err.Op, err.Err)
}

// ExpireError 连接空闲过期
type ExpireError string

func (err ExpireError) Network() bool   { return false }
func (err ExpireError) Timeout() bool   { return true }
func (err ExpireError) Temporary() bool { return false }
func (err ExpireError) Error() string   { return "transport.ExpireError: " + string(err) }

// UnsupportedProtocolError 不支持的协议错误
type UnsupportedProtocolError string

func (err UnsupportedProtocolError) Network() bool   { return false }
func (err UnsupportedProtocolError) Timeout() bool   { return false }
func (err UnsupportedProtocolError) Temporary() bool { return false }
func (err UnsupportedProtocolError) Error() string {
	return "transport.UnsupportedProtocolError: " + string(err)
}
