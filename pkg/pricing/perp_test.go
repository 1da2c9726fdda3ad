package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnrealizedPnL_Zero_AtEntry(t *testing.T) {
	// A freshly opened position has zero PnL.
	assert.InDelta(t, 0, UnrealizedPnL(Long, 50, 50, 500), 1e-9)
	assert.InDelta(t, 0, UnrealizedPnL(Short, 100, 100, 1000), 1e-9)
}

func TestUnrealizedPnL_PerpOpenCloseScenario(t *testing.T) {
	// entry=50, size=500, leverage=5, mark=60.
	pnl := UnrealizedPnL(Long, 50, 60, 500)
	assert.InDelta(t, 100, pnl, 1e-9)
}

func TestLiquidationPrice_LongScenario(t *testing.T) {
	liq, err := LiquidationPrice(Long, 50, 5, DefaultMaintenanceMargin)
	require.NoError(t, err)
	assert.InDelta(t, 40.25, liq, 1e-9)
}

func TestLiquidationPrice_ShortScenario(t *testing.T) {
	liq, err := LiquidationPrice(Short, 100, 10, DefaultMaintenanceMargin)
	require.NoError(t, err)
	assert.InDelta(t, 109.5, liq, 1e-9)
}

func TestLiquidationPrice_RejectsOutOfRangeLeverage(t *testing.T) {
	_, err := LiquidationPrice(Long, 100, 0, DefaultMaintenanceMargin)
	require.Error(t, err)
	_, err = LiquidationPrice(Long, 100, 101, DefaultMaintenanceMargin)
	require.Error(t, err)
}

func TestIsLiquidatable_BoundaryAtExactPrice(t *testing.T) {
	// Exactly at liquidation_price counts as liquidatable.
	liq, err := LiquidationPrice(Short, 100, 10, DefaultMaintenanceMargin)
	require.NoError(t, err)
	assert.True(t, IsLiquidatable(Short, liq, liq))
	assert.True(t, IsLiquidatable(Short, 110, liq))
	assert.False(t, IsLiquidatable(Short, 109, liq))
}

func TestFundingRate_SkewSign(t *testing.T) {
	r := FundingRate(0.01, 1000, 500)
	assert.True(t, r > 0)
	r2 := FundingRate(0.01, 500, 1000)
	assert.True(t, r2 < 0)
}

func TestFundingPayment_CreditsOppositeSignOfRate(t *testing.T) {
	// positive funding rate credits shorts, debits longs.
	assert.True(t, FundingPayment(Short, 0.01, 1000) > 0)
	assert.True(t, FundingPayment(Long, 0.01, 1000) < 0)
}
