package transport

import (
	"time"

	"github.com/zenghr0820/gbsip/logger"
)

const (
	MTU uint = 1500

	// IPv4 max size - IPv4 Header size - UDP Header size
	BufferSize      uint16 = 65535 - 20 - 8
	NetErrRetryTime        = 5 * time.Second

	// SockTTL 连接空闲多久后关闭
	SockTTL            = time.Hour
	DefaultDialTimeout = 5 * time.Second
)

var log = logger.Component("transport")
