package types

import "math/big"

// All monetary fields in the engine are integers denominated in nanoTON,
// the smallest on-chain unit. Balances, fees, gas and PnL never touch
// floating point; rates are expressed in basis points (1/100 of a percent).

// BpsDenominator is the divisor for basis-point rate math.
const BpsDenominator = 10_000

// Nano returns v as a nanoTON amount.
func Nano(v int64) *big.Int {
	return big.NewInt(v)
}

// CloneAmount returns an independent copy of a, treating nil as zero.
func CloneAmount(a *big.Int) *big.Int {
	if a == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a)
}

// IsPositive reports whether a is non-nil and strictly greater than zero.
func IsPositive(a *big.Int) bool {
	return a != nil && a.Sign() > 0
}

// ApplyBps returns amount * bps / 10000, truncated toward zero.
// A nil or non-positive amount yields zero.
func ApplyBps(amount *big.Int, bps int64) *big.Int {
	if !IsPositive(amount) {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Div(out, big.NewInt(BpsDenominator))
}
