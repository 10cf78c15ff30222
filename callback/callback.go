package callback

import (
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
)

// ServerTransaction is what a request handler answers on: the non-INVITE or
// INVITE server transaction created for the request.
type ServerTransaction interface {
	transaction.Transaction
	Respond(resp *sip.Message) error
}

// RequestHandler 处理未被事务或对话接收的请求, 运行在 provider 的调度器上.
// tx is nil for INVITE and SUBSCRIBE; the handler answers them through
// dialog.NewIncomingInviteDialog or dialog.NewIncomingNotifierDialog.
type RequestHandler func(req *sip.Message, tx ServerTransaction)

// ResponseHandler 处理没有客户端事务对应的响应
type ResponseHandler func(resp *sip.Message)

// 定义回调函数
type Callback interface {
	// 根据 Method 添加回调函数
	AddRequestHandle(method sip.RequestMethod, handler RequestHandler)
	// 设置
	SetRequestHandle(callback map[sip.RequestMethod]RequestHandler) error
	SetResponseHandle(callback ResponseHandler) error
	// 根据 Method 获取回调函数
	GetRequestHandle(method sip.RequestMethod) (RequestHandler, bool)
	GetResponseHandle() (ResponseHandler, bool)
	// 执行回调函数
	DoRequest(req *sip.Message) error
	DoResponse(resp *sip.Message) error
	// 返回用户实现的函数
	GetAllowedMethods() []sip.RequestMethod
	// provider.Listener
	OnReceivedMessage(msg *sip.Message)

	String() string
}

// 定义异常
type NotExitCallbackError struct {
	name string // 函数对应名称
}

func (notExitError *NotExitCallbackError) Error() string {
	return "NotExitCallbackError: " + notExitError.name
}
