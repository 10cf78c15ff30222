// Forked from github.com/StefanKopieczek/gossip by @StefanKopieczek
package utils

// The buffer size of the primitive input and output chans.
// 初始化 输入、输出通道大小
const cElasticChanSize = 3

// ElasticChan is a channel that never blocks the sender: values are buffered
// in a slice until the consumer drains Out.
// 发送时不阻塞，缓冲容量无限
type ElasticChan[T any] struct {
	In     chan T // 输入通道
	Out    chan T // 输出通道
	buffer []T
	done   chan struct{}
}

func NewElasticChan[T any]() *ElasticChan[T] {
	c := &ElasticChan[T]{
		In:     make(chan T, cElasticChanSize),
		Out:    make(chan T, cElasticChanSize),
		buffer: make([]T, 0),
		done:   make(chan struct{}),
	}
	go c.manage()

	return c
}

// Stop closes the input side. Buffered values are still delivered on Out,
// which is closed afterwards.
func (c *ElasticChan[T]) Stop() {
	select {
	case <-c.done:
		return
	default:
	}

	close(c.In)
	<-c.done
}

// Done is closed once the management goroutine has exited.
func (c *ElasticChan[T]) Done() <-chan struct{} {
	return c.done
}

func (c *ElasticChan[T]) manage() {
	defer close(c.done)

	for {
		if len(c.buffer) == 0 {
			in, ok := <-c.In
			if !ok {
				break
			}
			c.buffer = append(c.buffer, in)
			continue
		}

		// Receive first in order to minimize blocked sends.
		select {
		case in, ok := <-c.In:
			if !ok {
				c.drain()
				return
			}
			c.buffer = append(c.buffer, in)
		case c.Out <- c.buffer[0]:
			c.buffer = c.buffer[1:]
		}
	}

	c.drain()
}

func (c *ElasticChan[T]) drain() {
	for _, v := range c.buffer {
		c.Out <- v
	}
	c.buffer = nil
	close(c.Out)
}
