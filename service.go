package gbsip

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/icholy/digest"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/callback"
	"github.com/zenghr0820/gbsip/logger"
	"github.com/zenghr0820/gbsip/metrics"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/scheduler"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
	"github.com/zenghr0820/gbsip/transport"
)

var log = logger.Component("G.SIP")

// 未完成认证的 REGISTER 挑战数
const challengeCacheSize = 1024

type service struct {
	opts Options

	sched     scheduler.Scheduler
	ownLoop   *scheduler.Loop
	provider  *provider.Provider
	layer     *transport.Layer
	callback  callback.Callback
	challenge *lru.Cache[string, *digest.Challenge]

	close chan struct{}
	once  sync.Once
}

func newService(opts ...Option) (*service, error) {
	s := &service{
		opts:  newOptions(opts...),
		close: make(chan struct{}),
	}
	cfg := s.opts.Config

	s.sched = s.opts.Scheduler
	if s.sched == nil {
		s.ownLoop = scheduler.NewLoop()
		s.sched = s.ownLoop
	}

	p, err := provider.New(cfg, s.sched, provider.WithMetrics(metrics.New(s.opts.Registerer)))
	if err != nil {
		s.stopLoop()
		return nil, err
	}
	s.provider = p
	s.layer = transport.New(p, s.opts.Transport...)
	p.SetTransport(s.layer)

	s.callback = callback.NewCallback(p)
	if err := s.callback.SetRequestHandle(s.opts.Requests); err != nil {
		s.stopLoop()
		return nil, err
	}
	if s.opts.Response != nil {
		_ = s.callback.SetResponseHandle(s.opts.Response)
	}

	if len(s.opts.Users) > 0 {
		s.challenge, err = lru.New[string, *digest.Challenge](challengeCacheSize)
		if err != nil {
			s.stopLoop()
			return nil, err
		}
		next, ok := s.callback.GetRequestHandle(sip.REGISTER)
		if !ok {
			next = s.acceptRegister
		}
		s.callback.AddRequestHandle(sip.REGISTER, s.authorize(next))
	}

	p.AddListener(sip.AnyIdentifier, s.callback)
	log.Infof("service created, via %s:%d", p.ViaAddr(), p.Port())
	return s, nil
}

func (s *service) Options() Options {
	return s.opts
}

func (s *service) Provider() *provider.Provider {
	return s.provider
}

func (s *service) Callback() callback.Callback {
	return s.callback
}

func (s *service) Listen(network string, listenAddr string) error {
	if s.closed() {
		return fmt.Errorf("[G.SIP] -> G.SIP Service Closed")
	}
	if err := s.layer.Listen(network, listenAddr); err != nil {
		return errors.Wrapf(err, "listen %s %s", network, listenAddr)
	}
	addr, _ := s.layer.Addr(network)
	log.Infof("listening on %s %s", network, addr)
	return nil
}

func (s *service) Addr(network string) (net.Addr, bool) {
	return s.layer.Addr(network)
}

func (s *service) Start() error {
	port := strconv.Itoa(s.opts.Config.SIP.HostPort)
	for _, network := range s.opts.Config.SIP.Transports {
		if err := s.Listen(network, net.JoinHostPort(s.opts.ListenHost, port)); err != nil {
			return err
		}
	}
	return nil
}

// Request starts a client transaction for req on the scheduler. A start
// failure reaches handler as a transport error event.
func (s *service) Request(req *sip.Message, handler transaction.Handler) (transaction.Transaction, error) {
	if s.closed() {
		return nil, fmt.Errorf("[G.SIP] -> G.SIP Service Closed")
	}
	if !req.IsRequest() {
		return nil, errors.New("not a request")
	}
	switch req.Method() {
	case sip.INVITE, sip.ACK, sip.CANCEL:
		return nil, errors.Errorf("%s belongs to an invite dialog", req.Method())
	}

	tx := transaction.NewClientTransaction(s.provider, req, handler)
	s.sched.Post(func() {
		if err := tx.Start(); err != nil {
			log.Errorf("start %s: %s", tx, err)
			if handler != nil {
				handler(transaction.Event{Kind: transaction.EventTransportError, Tx: tx, Err: err})
			}
		}
	})
	return tx, nil
}

func (s *service) Respond(req *sip.Message, code sip.StatusCode, reason string) error {
	if s.closed() {
		return fmt.Errorf("[G.SIP] -> G.SIP Service Closed")
	}
	resp := s.provider.Factory().Response(req, code, reason, nil)
	s.sched.Post(func() {
		if _, err := s.provider.SendMessage(resp); err != nil {
			log.Errorf("send %s failed: %s", resp.Short(), err)
		}
	})
	return nil
}

func (s *service) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return s.Close()
	case <-s.close:
		return nil
	}
}

func (s *service) Close() error {
	// 确保关闭方法只执行一次
	s.once.Do(func() {
		close(s.close)
		s.layer.Close()
		s.sched.Post(s.provider.Halt)
		s.stopLoop()
		log.Infof("service closed")
	})

	return nil
}

func (s *service) closed() bool {
	select {
	case <-s.close:
		return true
	default:
		return false
	}
}

func (s *service) stopLoop() {
	if s.ownLoop != nil {
		s.ownLoop.Stop()
	}
}

func (s *service) String() string {
	return "g.sip"
}

func (s *service) realm() string {
	if s.opts.Config.Auth.Realm != "" {
		return s.opts.Config.Auth.Realm
	}
	return s.provider.ViaAddr()
}

// authorize 对 REGISTER 做摘要认证, 通过后交给 next
func (s *service) authorize(next callback.RequestHandler) callback.RequestHandler {
	lookup := func(username string) (string, bool) {
		password, ok := s.opts.Users[username]
		return password, ok
	}

	return func(req *sip.Message, tx callback.ServerTransaction) {
		callID := req.CallID()
		if chal, ok := s.challenge.Get(callID); ok && req.HasHeader(sip.HeaderAuthorization) {
			user, err := sip.VerifyAuthorization(req, chal, lookup)
			if err == nil {
				s.challenge.Remove(callID)
				log.Debugf("REGISTER of %s authorized", user)
				next(req, tx)
				return
			}
			log.Warnf("REGISTER of %q rejected: %s", user, err)
		}

		chal := sip.NewChallenge(s.realm())
		s.challenge.Add(callID, chal)
		resp := s.provider.Factory().Response(req, sip.StatusUnauthorized, "", nil)
		resp.SetHeader(sip.HeaderWWWAuthenticate, chal.String())
		if err := tx.Respond(resp); err != nil {
			log.Errorf("send 401 failed: %s", err)
		}
	}
}

// acceptRegister 默认的 REGISTER 处理: 200 并回显 Expires
func (s *service) acceptRegister(req *sip.Message, tx callback.ServerTransaction) {
	resp := s.provider.Factory().Response(req, sip.StatusOK, "", nil)
	if expires, ok := req.Expires(); ok {
		resp.SetExpires(expires)
	}
	for _, c := range req.GetHeaders(sip.HeaderContact) {
		resp.AddHeader(sip.HeaderContact, c)
	}
	if err := tx.Respond(resp); err != nil {
		log.Errorf("answer REGISTER failed: %s", err)
	}
}
