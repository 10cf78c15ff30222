package transport

import (
	"sync"

	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// connectionPool tracks the live stream connections of a protocol and the
// goroutines serving them.
type connectionPool struct {
	receiver provider.Receiver

	mu      sync.RWMutex
	conns   map[sip.Identifier]*connection
	closing bool
	wg      sync.WaitGroup
}

func newConnectionPool(receiver provider.Receiver) *connectionPool {
	return &connectionPool{
		receiver: receiver,
		conns:    make(map[sip.Identifier]*connection),
	}
}

// put starts serving conn. It returns false once the pool is closing.
func (pool *connectionPool) put(conn *connection) bool {
	pool.mu.Lock()
	if pool.closing {
		pool.mu.Unlock()
		return false
	}
	if old, ok := pool.conns[conn.ID()]; ok && old != conn {
		_ = old.Close()
	}
	pool.conns[conn.ID()] = conn
	pool.wg.Add(1)
	pool.mu.Unlock()

	handler := &connectionHandler{conn: conn, receiver: pool.receiver}
	go handler.serve(func() {
		pool.remove(conn)
		pool.wg.Done()
	})
	return true
}

func (pool *connectionPool) get(id sip.Identifier) (*connection, bool) {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	conn, ok := pool.conns[id]
	return conn, ok
}

func (pool *connectionPool) remove(conn *connection) {
	pool.mu.Lock()
	if cur, ok := pool.conns[conn.ID()]; ok && cur == conn {
		delete(pool.conns, conn.ID())
	}
	pool.mu.Unlock()
}

func (pool *connectionPool) length() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	return len(pool.conns)
}

// close closes every connection and waits for their handlers.
func (pool *connectionPool) close() {
	pool.mu.Lock()
	pool.closing = true
	for _, conn := range pool.conns {
		_ = conn.Close()
	}
	pool.mu.Unlock()

	pool.wg.Wait()
}
