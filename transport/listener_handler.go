package transport

import (
	"errors"
	"net"
	"time"
)

// listenerHandler accepts stream connections and puts them in the pool.
type listenerHandler struct {
	network  string
	listener net.Listener
	pool     *connectionPool
	ttl      time.Duration
	cancel   chan struct{}
}

func newListenerHandler(network string, listener net.Listener, pool *connectionPool, ttl time.Duration) *listenerHandler {
	return &listenerHandler{
		network:  network,
		listener: listener,
		pool:     pool,
		ttl:      ttl,
		cancel:   make(chan struct{}),
	}
}

// 执行监听 Accept 获取连接上来的连接
func (handler *listenerHandler) serve(done func()) {
	defer done()

	log.Infof("begin accepting %s connections on %s", handler.network, handler.listener.Addr())
	defer log.Infof("stop accepting %s connections on %s", handler.network, handler.listener.Addr())

	for {
		baseConn, err := handler.listener.Accept()
		if err != nil {
			select {
			case <-handler.cancel:
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Warnf("listener timeout, sleep by %s", NetErrRetryTime)
				select {
				case <-handler.cancel:
					return
				case <-time.After(NetErrRetryTime):
				}
				continue
			}
			log.Errorf("accept on %s: %s", handler.listener.Addr(), err)
			return
		}

		conn := newConnection(handler.network, baseConn, handler.ttl)
		log.Debugf("accepted %s", conn)
		if !handler.pool.put(conn) {
			_ = conn.Close()
			return
		}
	}
}

func (handler *listenerHandler) close() {
	select {
	case <-handler.cancel:
		return
	default:
	}
	close(handler.cancel)
	if err := handler.listener.Close(); err != nil {
		log.Errorf("listener close failed: %s", err)
	}
}
