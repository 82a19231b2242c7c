package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvance(t *testing.T) {
	assert.Equal(t, int64(200), Advance(100, 200))
	assert.Equal(t, int64(100), Advance(100, 100))

	// a smaller proposal is clamped, the committed value never regresses
	assert.Equal(t, int64(100), Advance(100, 50))
	assert.Equal(t, int64(100), Advance(100, 0))
	assert.Equal(t, int64(0), Advance(0, 0))
}
