package dialog

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrAuthAttempts is attached to the failure event of a request still
// challenged after the last digest attempt.
var ErrAuthAttempts = errors.New("digest authentication attempts exhausted")

// ProtocolStateError 当前状态不允许的操作或消息
type ProtocolStateError struct {
	Dialog string
	State  string
	Method string
}

func (err *ProtocolStateError) Error() string {
	return fmt.Sprintf("dialog %s: %s not allowed in state %s", err.Dialog, err.Method, err.State)
}
