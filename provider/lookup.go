package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/sip"
)

const (
	lookupCacheSize  = 256
	lookupAnswerTTL  = time.Minute
	lookupFailureTTL = 10 * time.Second
)

// lookups caches what the resolver answered, failures included, and queues
// the sends waiting on a lookup in flight. Resolve runs off the scheduler;
// its result comes back through Post.
type lookups struct {
	answers  *expirable.LRU[string, Target]
	failures *expirable.LRU[string, error]
	// guarded by Provider.mu
	waiting map[string][]pendingSend

	ctx    context.Context
	cancel context.CancelFunc
}

type pendingSend struct {
	msg  *sip.Message
	data []byte
}

func newLookups() *lookups {
	ctx, cancel := context.WithCancel(context.Background())
	return &lookups{
		answers:  expirable.NewLRU[string, Target](lookupCacheSize, nil, lookupAnswerTTL),
		failures: expirable.NewLRU[string, error](lookupCacheSize, nil, lookupFailureTTL),
		waiting:  make(map[string][]pendingSend),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func lookupKey(proto, host string, port int) string {
	return proto + "|" + strings.ToLower(host) + "|" + strconv.Itoa(port)
}

// cached reports a remembered answer or failure for key.
func (l *lookups) cached(key string) (Target, error, bool) {
	if err, ok := l.failures.Get(key); ok {
		return Target{}, err, true
	}
	if t, ok := l.answers.Get(key); ok {
		return t, nil, true
	}
	return Target{}, nil, false
}

func (l *lookups) remember(key string, t Target, err error) {
	if err != nil {
		l.failures.Add(key, err)
		return
	}
	l.answers.Add(key, t)
}

// resolveThenSend queues msg behind the lookup of host; the first send for a
// key starts the lookup, the ones after it wait for the same answer.
func (p *Provider) resolveThenSend(msg *sip.Message, proto, host string, port int) {
	key := lookupKey(proto, host, port)
	pending := pendingSend{msg: msg, data: msg.Bytes()}

	p.mu.Lock()
	queued, busy := p.lookups.waiting[key]
	p.lookups.waiting[key] = append(queued, pending)
	p.mu.Unlock()
	if busy {
		return
	}

	log.Debugf("resolving %s for %s", host, msg.Short())
	go func() {
		ctx, cancel := context.WithTimeout(p.lookups.ctx, resolverTimeout)
		target, err := p.resolver.Resolve(ctx, host, port, proto)
		cancel()
		p.sched.Post(func() { p.resolved(key, host, proto, target, err) })
	}()
}

func (p *Provider) resolved(key, host, proto string, target Target, err error) {
	p.lookups.remember(key, target, err)

	p.mu.Lock()
	queued := p.lookups.waiting[key]
	delete(p.lookups.waiting, key)
	p.mu.Unlock()

	for _, s := range queued {
		if err != nil {
			log.Warnf("%s dropped: resolve %s: %v", s.msg.Short(), host, err)
			continue
		}
		if _, err := p.deliver(s.msg, s.data, proto, target.Host, target.Port); err != nil {
			log.Warnf("%s dropped: %v", s.msg.Short(), err)
		}
	}
}

// lookup returns the address of host when it is known now. ok is false when
// msg was queued behind a lookup in flight.
func (p *Provider) lookup(msg *sip.Message, proto, host string, port int) (Target, bool, error) {
	t, err, ok := p.lookups.cached(lookupKey(proto, host, port))
	if !ok {
		p.resolveThenSend(msg, proto, host, port)
		return Target{}, false, nil
	}
	if err != nil {
		return Target{}, false, errors.Wrapf(err, "resolve %s", host)
	}
	return t, true, nil
}
