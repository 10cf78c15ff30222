package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestElasticChanNeverBlocks(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewElasticChan[int]()
	for i := 0; i < 1000; i++ {
		c.In <- i
	}
	c.Stop()

	n := 0
	for v := range c.Out {
		assert.Equal(t, n, v)
		n++
	}
	assert.Equal(t, 1000, n)
}

func TestRandString(t *testing.T) {
	s := RandString(12, true)
	assert.Len(t, s, 12)
	for _, r := range s {
		assert.True(t, r >= '0' && r <= '9')
	}
	assert.Len(t, RandHex(8), 8)
}
