package callback

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/zenghr0820/gbsip/logger"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
)

var log = logger.Component("callback")

// NewCallback creates the method registry of p. Bind it with
// p.AddListener(sip.AnyIdentifier, cb) to answer every request no
// transaction or dialog claims.
func NewCallback(p *provider.Provider) Callback {
	return &callback{
		p:               p,
		mu:              new(sync.RWMutex),
		requestHandlers: make(map[sip.RequestMethod]RequestHandler),
	}
}

type callback struct {
	p *provider.Provider
	// 请求处理方法集合
	requestHandlers map[sip.RequestMethod]RequestHandler
	responseHandler ResponseHandler
	mu              *sync.RWMutex
}

func (c *callback) AddRequestHandle(method sip.RequestMethod, handler RequestHandler) {
	c.mu.Lock()
	c.requestHandlers[method] = handler
	c.mu.Unlock()
}

func (c *callback) SetRequestHandle(callback map[sip.RequestMethod]RequestHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if callback == nil {
		return errors.New("[requestHandle] -> Parameter exception")
	}
	c.requestHandlers = make(map[sip.RequestMethod]RequestHandler, len(callback))
	for method, handler := range callback {
		c.requestHandlers[method] = handler
	}
	return nil
}

func (c *callback) SetResponseHandle(callback ResponseHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if callback == nil {
		return errors.New("[responseHandle] -> Parameter exception")
	}
	c.responseHandler = callback
	return nil
}

func (c *callback) GetRequestHandle(method sip.RequestMethod) (RequestHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handler, ok := c.requestHandlers[method]
	return handler, ok
}

func (c *callback) GetResponseHandle() (ResponseHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.responseHandler != nil {
		return c.responseHandler, true
	}
	return nil, false
}

func (c *callback) OnReceivedMessage(msg *sip.Message) {
	var err error
	if msg.IsRequest() {
		err = c.DoRequest(msg)
	} else {
		err = c.DoResponse(msg)
	}

	var notExitCallbackError *NotExitCallbackError
	if err != nil && !errors.As(err, &notExitCallbackError) {
		log.Warnf("%s: %s", msg.Short(), err)
	}
}

// DoRequest opens the server transaction of req and passes both to the
// handler of its method. INVITE and SUBSCRIBE reach their handler without a
// transaction: the incoming dialog built from them opens its own. Without a
// handler the request is answered 405 with the allowed methods.
func (c *callback) DoRequest(req *sip.Message) error {
	// ACK 没有事务可回复
	if req.IsAck() {
		log.Debugf("stray ACK %s dropped", req.CallID())
		return nil
	}

	handler, ok := c.GetRequestHandle(req.Method())
	if ok && opensDialog(req) {
		handler(req, nil)
		return nil
	}

	tx, err := c.serverTransaction(req)
	if err != nil {
		return err
	}

	if !ok && req.IsCancel() {
		return tx.Respond(c.p.Factory().Response(req, sip.StatusCallTransactionDoesNotExist, "", nil))
	}
	if !ok {
		log.Warnf("SIP %s request handler not found", req.Method())

		resp := c.p.Factory().Response(req, sip.StatusMethodNotAllowed, "Method Not Allowed", nil)
		resp.SetHeader(sip.HeaderAllow, c.allow())
		if err := tx.Respond(resp); err != nil {
			log.Errorf("send '405 Method Not Allowed' failed: %s", err)
		}
		return &NotExitCallbackError{
			name: req.Method().String(),
		}
	}

	handler(req, tx)
	return nil
}

func opensDialog(req *sip.Message) bool {
	return req.IsInvite() || req.Method() == sip.SUBSCRIBE
}

func (c *callback) serverTransaction(req *sip.Message) (ServerTransaction, error) {
	if req.IsInvite() {
		tx, err := transaction.NewInviteServerTransaction(c.p, req, true, nil)
		if err != nil {
			return nil, err
		}
		return tx, nil
	}
	tx, err := transaction.NewServerTransaction(c.p, req, nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *callback) DoResponse(resp *sip.Message) error {
	handler, ok := c.GetResponseHandle()

	if !ok {
		log.Debugf("SIP response handler not found, %s dropped", resp.Short())

		return &NotExitCallbackError{
			name: "response",
		}
	}
	handler(resp)

	return nil
}

func (c *callback) String() string {
	return "callback"
}

// 返回实现的回调函数, 按方法名排序
func (c *callback) GetAllowedMethods() []sip.RequestMethod {
	var methods []sip.RequestMethod

	c.mu.RLock()
	for method := range c.requestHandlers {
		methods = append(methods, method)
	}
	c.mu.RUnlock()

	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })
	return methods
}

func (c *callback) allow() string {
	methods := c.GetAllowedMethods()
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		names = append(names, m.String())
	}
	return strings.Join(names, ", ")
}
