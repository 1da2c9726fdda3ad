package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpotPrice_NoPositionsIsInitialPrice(t *testing.T) {
	assert.InDelta(t, 10.0, SpotPrice(10, 10_000, 0), 1e-9)
}

func TestSpotPrice_LongHoldingsPushPriceUp(t *testing.T) {
	p := SpotPrice(10, 10_000, 500)
	assert.True(t, p > 10)
}

func TestSpotPrice_ShortHoldingsPushPriceDown(t *testing.T) {
	p := SpotPrice(10, 10_000, -500)
	assert.True(t, p < 10)
}

func TestSpotPrice_ClampedToBand(t *testing.T) {
	// current_price must stay inside [P0*0.01, P0*100].
	high := SpotPrice(10, 10_000, 1_000_000_000)
	assert.InDelta(t, 1000, high, 1e-9)

	low := SpotPrice(10, 10_000, -1_000_000_000)
	assert.InDelta(t, 0.1, low, 1e-9)
}

func TestSpotPrice_DefaultsSyntheticSupply(t *testing.T) {
	a := SpotPrice(10, 0, 100)
	b := SpotPrice(10, DefaultSyntheticSupply, 100)
	assert.InDelta(t, a, b, 1e-9)
}

func TestSignedSize(t *testing.T) {
	assert.Equal(t, 100.0, SignedSize(Long, 100))
	assert.Equal(t, -100.0, SignedSize(Short, 100))
}
