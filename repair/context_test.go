package repair

import "testing"

import "github.com/stretchr/testify/assert"

func TestNewContextDefaults(t *testing.T) {
	assert := assert.New(t)
	c := NewContext()
	assert.False(c.NoModify)
	assert.False(c.InoDiscovery)
	assert.False(c.NeedRootDotdot())
}

func TestNewContextOptions(t *testing.T) {
	assert := assert.New(t)
	c := NewContext(WithNoModify(), WithInoDiscovery())
	assert.True(c.NoModify)
	assert.True(c.InoDiscovery)
}

func TestNeedRootDotdotLatch(t *testing.T) {
	assert := assert.New(t)
	c := NewContext()
	assert.False(c.NeedRootDotdot())
	c.SetNeedRootDotdot()
	assert.True(c.NeedRootDotdot())
	// Idempotent: setting again doesn't unlatch or panic.
	c.SetNeedRootDotdot()
	assert.True(c.NeedRootDotdot())
}
