package transport

import (
	"errors"
	"io"

	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// connectionHandler reads framed messages from one stream connection and
// passes them to the receiver until the connection breaks, expires or is
// closed locally.
type connectionHandler struct {
	conn     *connection
	receiver provider.Receiver
}

func (handler *connectionHandler) serve(done func()) {
	defer done()

	log.Debugf("begin connection %s handler", handler.conn)
	defer log.Debugf("stop connection %s handler", handler.conn)

	host, port := splitAddr(handler.conn.RemoteAddr())
	rd := sip.NewReader(handler.conn)
	for {
		data, err := rd.Next()
		if err != nil {
			handler.closed(err)
			return
		}
		handler.receiver.OnReceivedBytes(data, host, port, handler.conn.network, handler.conn)
	}
}

func (handler *connectionHandler) closed(err error) {
	select {
	case <-handler.conn.Done():
		// 本地主动关闭
		err = nil
	default:
		switch {
		case errors.Is(err, io.EOF):
			err = nil
		case isTimeout(err):
			err = ExpireError("connection " + handler.conn.ID().String() + " idle for " + handler.conn.ttl.String())
		case sip.IsParseError(err):
			log.Warnf("broken stream on %s: %s", handler.conn, err)
		}
	}

	_ = handler.conn.Close()
	handler.receiver.OnConnectionClosed(handler.conn.ID(), err)
}
