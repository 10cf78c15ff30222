package transport

import (
	"time"
)

// transport 的配置选项
type Options struct {
	// TCP 连接空闲多久后关闭, 0 表示不过期
	ConnectionTTL time.Duration
	DialTimeout   time.Duration
}

type Option func(o *Options)

func newOptions(opts ...Option) Options {
	opt := Options{
		ConnectionTTL: SockTTL,
		DialTimeout:   DefaultDialTimeout,
	}

	for _, o := range opts {
		o(&opt)
	}

	return opt
}

func ConnectionTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.ConnectionTTL = ttl
	}
}

func DialTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.DialTimeout = d
		}
	}
}
