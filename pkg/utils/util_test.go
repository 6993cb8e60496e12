package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntMenuValue(t *testing.T) {
	assert.Equal(t, int64(0), IntMenuValue(""))
	assert.Equal(t, int64(100), IntMenuValue("d"))
	assert.Equal(t, int64(1600), IntMenuValue(string([]byte{0x40, 0x06})))
}
