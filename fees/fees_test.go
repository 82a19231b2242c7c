package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNet(t *testing.T) {
	tests := []struct {
		name     string
		gross    int64
		flat     int64
		bps      int64
		expected int64
	}{
		{"no fees", 1000000, 0, 0, 1000000},
		{"flat only", 1000000, 100000, 0, 900000},
		{"dynamic only", 1000000, 0, 50, 995000},
		{"flat and dynamic", 1000000, 100000, 50, 895000},
		{"dynamic truncates", 999, 0, 50, 995}, // 999*50/10000 = 4.995 -> 4
		{"fees consume all", 100000, 100000, 0, 0},
		{"fees exceed gross", 50000, 100000, 0, 0},
		{"zero gross", 0, 100000, 50, 0},
		{"negative gross", -5, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Net(tt.gross, tt.flat, tt.bps))
		})
	}
}

func TestNetNeverExceedsGross(t *testing.T) {
	for gross := int64(0); gross < 2000; gross += 7 {
		net := Net(gross, 100, 50)
		assert.True(t, net <= gross, "net %d exceeds gross %d", net, gross)
		assert.True(t, net >= 0)
	}
}

func TestDynamic(t *testing.T) {
	assert.Equal(t, int64(5000), Dynamic(1000000, 50))
	assert.Equal(t, int64(4), Dynamic(999, 50))
	assert.Equal(t, int64(0), Dynamic(0, 50))
	assert.Equal(t, int64(0), Dynamic(-10, 50))
}

func TestRefundNet(t *testing.T) {
	assert.Equal(t, int64(900000), RefundNet(1000000, 100000))
	assert.Equal(t, int64(0), RefundNet(100000, 100000))
	assert.Equal(t, int64(0), RefundNet(50000, 100000))
}

func TestBackingPaused(t *testing.T) {
	// 90% threshold: vault must hold at least 90 per 100 circulating
	assert.False(t, BackingPaused(90, 100, 90))
	assert.True(t, BackingPaused(89, 100, 90))
	assert.False(t, BackingPaused(1000, 1000, 90))
	assert.True(t, BackingPaused(0, 1, 90))

	// nothing circulating, nothing to back
	assert.False(t, BackingPaused(0, 0, 90))
	assert.False(t, BackingPaused(100, 0, 90))
}

func TestScale(t *testing.T) {
	assert.Equal(t, int64(1000000), Scale(1000000, 6, 6))
	assert.Equal(t, int64(1000000000), Scale(1000000, 6, 9))
	assert.Equal(t, int64(1000), Scale(1000000, 6, 3))
	assert.Equal(t, int64(0), Scale(999, 6, 3))
}
