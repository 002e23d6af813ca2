package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPointer(t *testing.T) {
	v := float32(0.7)
	p := Pointer(v)
	assert.Equal(t, v, *p)

	v = 1
	assert.Equal(t, float32(0.7), *p)
}
