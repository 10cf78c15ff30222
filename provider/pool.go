package provider

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zenghr0820/gbsip/sip"
)

// Pool keeps the most recently used connections. When full, the least
// recently used connection is evicted and closed.
type Pool struct {
	cache    *lru.Cache[sip.Identifier, Connection]
	onChange func(size int)
}

func NewPool(size int, onChange func(size int)) (*Pool, error) {
	if size <= 0 {
		size = 32
	}
	p := &Pool{onChange: onChange}
	cache, err := lru.NewWithEvict[sip.Identifier, Connection](size, func(id sip.Identifier, conn Connection) {
		log.Debugf("connection %s removed from pool", id)
		if err := conn.Close(); err != nil {
			log.Debugf("close connection %s: %v", id, err)
		}
	})
	if err != nil {
		return nil, err
	}
	p.cache = cache

	return p, nil
}

func (p *Pool) changed() {
	if p.onChange != nil {
		p.onChange(p.cache.Len())
	}
}

// Add stores conn under its ID; a different connection already stored under
// the same ID is closed and replaced.
func (p *Pool) Add(conn Connection) {
	id := conn.ID()
	if old, ok := p.cache.Peek(id); ok && old != conn {
		log.Debugf("connection %s replaced", id)
		_ = old.Close()
	}
	p.cache.Add(id, conn)
	p.changed()
}

// Get returns the connection and marks it as used.
func (p *Pool) Get(id sip.Identifier) (Connection, bool) {
	return p.cache.Get(id)
}

func (p *Pool) Contains(id sip.Identifier) bool {
	return p.cache.Contains(id)
}

// Remove drops and closes the connection of id.
func (p *Pool) Remove(id sip.Identifier) {
	if p.cache.Remove(id) {
		p.changed()
	}
}

func (p *Pool) Len() int {
	return p.cache.Len()
}

// Purge closes every pooled connection.
func (p *Pool) Purge() {
	p.cache.Purge()
	p.changed()
}
