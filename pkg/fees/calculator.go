package fees

import (
	"math/big"

	"github.com/tonfabric/agent-engine/pkg/types"
)

// Config carries the fee rates (basis points) and floors (nanoTON).
type Config struct {
	PerformanceFeeBps        int64
	ProtocolFeeBps           int64
	MarketplaceCommissionBps int64
	ReferralCommissionBps    int64

	// MinPerformanceFee zeroes (does not charge) a performance fee that
	// computes below it. MinProtocolFee is a floor: the protocol fee is
	// raised to it instead.
	MinPerformanceFee *big.Int
	MinProtocolFee    *big.Int

	TreasuryAddress string
	ProtocolAddress string
}

// Share of a performance fee routed to protocol and treasury after the
// referral cut; the creator takes the remainder, which also absorbs
// integer-division dust so the split always sums exactly.
const (
	performanceProtocolBps = 3_000
	performanceTreasuryBps = 4_000
	marketplaceProtocolBps = 3_000
)

// Calculator is the stateless fee arithmetic.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// PerformanceFee returns profit * performanceFeeBps / 10000, zero for
// non-positive profit, and zero when the computed fee is below the
// configured minimum floor.
func (c *Calculator) PerformanceFee(profit *big.Int) *big.Int {
	fee := types.ApplyBps(profit, c.cfg.PerformanceFeeBps)
	if c.cfg.MinPerformanceFee != nil && fee.Cmp(c.cfg.MinPerformanceFee) < 0 {
		return new(big.Int)
	}
	return fee
}

// ProtocolFee returns max(volume * protocolFeeBps / 10000, minFee), zero for
// non-positive volume.
func (c *Calculator) ProtocolFee(volume *big.Int) *big.Int {
	if !types.IsPositive(volume) {
		return new(big.Int)
	}
	fee := types.ApplyBps(volume, c.cfg.ProtocolFeeBps)
	if c.cfg.MinProtocolFee != nil && fee.Cmp(c.cfg.MinProtocolFee) < 0 {
		return types.CloneAmount(c.cfg.MinProtocolFee)
	}
	return fee
}

// MarketplaceCommission returns amount * marketplaceCommissionBps / 10000.
func (c *Calculator) MarketplaceCommission(amount *big.Int) *big.Int {
	return types.ApplyBps(amount, c.cfg.MarketplaceCommissionBps)
}

// ReferralCommission returns feeAmount * referralCommissionBps / 10000.
// Callers only apply it when the agent has a registered referrer.
func (c *Calculator) ReferralCommission(feeAmount *big.Int) *big.Int {
	return types.ApplyBps(feeAmount, c.cfg.ReferralCommissionBps)
}

// splitPerformance splits a performance fee: referral off the top, then
// 30% protocol / 40% treasury / remainder creator.
func splitPerformance(fee, referral *big.Int) RevenueDistribution {
	remainder := new(big.Int).Sub(fee, referral)
	protocol := types.ApplyBps(remainder, performanceProtocolBps)
	treasury := types.ApplyBps(remainder, performanceTreasuryBps)
	creator := new(big.Int).Sub(remainder, protocol)
	creator.Sub(creator, treasury)
	return RevenueDistribution{
		Total:    types.CloneAmount(fee),
		Protocol: protocol,
		Treasury: treasury,
		Referral: types.CloneAmount(referral),
		Creator:  creator,
	}
}

// splitMarketplace splits a marketplace commission 30% protocol / 70%
// creator with no referral cut.
func splitMarketplace(commission *big.Int) RevenueDistribution {
	protocol := types.ApplyBps(commission, marketplaceProtocolBps)
	creator := new(big.Int).Sub(commission, protocol)
	return RevenueDistribution{
		Total:    types.CloneAmount(commission),
		Protocol: protocol,
		Treasury: new(big.Int),
		Referral: new(big.Int),
		Creator:  creator,
	}
}
