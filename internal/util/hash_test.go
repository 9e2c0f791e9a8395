package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnTagStable(t *testing.T) {
	a := ConnTag("127.0.0.1:2000", "127.0.0.1:53211")
	b := ConnTag("127.0.0.1:2000", "127.0.0.1:53211")
	c := ConnTag("127.0.0.1:2000", "127.0.0.1:53212")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, string(a), 8)
}
