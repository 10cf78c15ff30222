package transaction

// 定义事务层常见异常
import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/sip"
)

var errAckTimeout = errors.New("no ACK received")

type TxError interface {
	error
	Key() sip.Identifier
	Terminated() bool
	Timeout() bool
	Transport() bool
}

func describe(name string, key sip.Identifier, ptr string, err error) string {
	fields := map[string]interface{}{
		"transaction_key": "???",
		"transaction_ptr": "???",
	}

	if !key.IsZero() {
		fields["transaction_key"] = key.String()
	}
	if ptr != "" {
		fields["transaction_ptr"] = ptr
	}

	return fmt.Sprintf("transaction.%s<%s>: %s", name, fields, err)
}

// 事务终止异常
type TxTerminatedError struct {
	Err   error
	TxKey sip.Identifier
	TxPtr string
}

func (err *TxTerminatedError) Unwrap() error       { return err.Err }
func (err *TxTerminatedError) Terminated() bool    { return true }
func (err *TxTerminatedError) Timeout() bool       { return false }
func (err *TxTerminatedError) Transport() bool     { return false }
func (err *TxTerminatedError) Key() sip.Identifier { return err.TxKey }
func (err *TxTerminatedError) Error() string {
	if err == nil {
		return "<nil>"
	}
	return describe("TxTerminatedError", err.TxKey, err.TxPtr, err.Err)
}

// 事务超时异常
type TxTimeoutError struct {
	Err   error
	TxKey sip.Identifier
	TxPtr string
}

func (err *TxTimeoutError) Unwrap() error       { return err.Err }
func (err *TxTimeoutError) Terminated() bool    { return false }
func (err *TxTimeoutError) Timeout() bool       { return true }
func (err *TxTimeoutError) Transport() bool     { return false }
func (err *TxTimeoutError) Key() sip.Identifier { return err.TxKey }
func (err *TxTimeoutError) Error() string {
	if err == nil {
		return "<nil>"
	}
	return describe("TxTimeoutError", err.TxKey, err.TxPtr, err.Err)
}

// 传输层异常
type TxTransportError struct {
	Err   error
	TxKey sip.Identifier
	TxPtr string
}

func (err *TxTransportError) Unwrap() error       { return err.Err }
func (err *TxTransportError) Terminated() bool    { return false }
func (err *TxTransportError) Timeout() bool       { return false }
func (err *TxTransportError) Transport() bool     { return true }
func (err *TxTransportError) Key() sip.Identifier { return err.TxKey }
func (err *TxTransportError) Error() string {
	if err == nil {
		return "<nil>"
	}
	return describe("TxTransportError", err.TxKey, err.TxPtr, err.Err)
}
