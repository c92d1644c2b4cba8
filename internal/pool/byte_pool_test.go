package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytePool_ReturnsEmptyBuffers(t *testing.T) {
	p := NewBytePool()

	buf := p.Get()
	assert.NotNil(t, buf)
	assert.Zero(t, buf.Len())

	buf.WriteString("0101\n1010\n")
	p.Put(buf)

	again := p.Get()
	assert.Zero(t, again.Len(), "recycled buffer should be reset")
}

func TestBytePool_DropsOversized(t *testing.T) {
	p := NewBytePool()
	big := bytes.NewBuffer(make([]byte, 0, maxRetained+1))
	p.Put(big)
	p.Put(nil)

	buf := p.Get()
	assert.LessOrEqual(t, buf.Cap(), maxRetained)
}
