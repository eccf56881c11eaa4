package redisrepo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt(t *testing.T) {
	assert.Equal(t, int64(3), toInt(int64(3)))
	assert.Equal(t, int64(4), toInt(4))
	assert.Equal(t, int64(5), toInt(float64(5)))
	assert.Equal(t, int64(1200), toInt("1200"))
	assert.Equal(t, int64(0), toInt(nil))
}

func TestRandomHex(t *testing.T) {
	a, b := randomHex(12), randomHex(12)
	assert.Len(t, a, 24)
	assert.NotEqual(t, a, b)
}
