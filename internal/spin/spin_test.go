package spin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUntil(t *testing.T) {
	calls := 0
	ok := Until(10, func() bool {
		calls++
		return calls == 3
	})
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}

func TestUntilExhausted(t *testing.T) {
	calls := 0
	ok := Until(5, func() bool {
		calls++
		return false
	})
	assert.False(t, ok)
	assert.Equal(t, 5, calls)
}

func TestBudget(t *testing.T) {
	assert.Equal(t, uint32(100_000), Budget(100))
	assert.Equal(t, uint32(0), Budget(0))
}
