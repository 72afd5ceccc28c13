package orca

import (
	"fmt"
	"math"
	"math/big"
)

// SwapOutput computes a constant-product (x * y = k) output with the fee taken from
// the input. priceImpact is 1 - execution rate / spot rate, so 0.01 is 1%.
func SwapOutput(amountIn, reserveIn, reserveOut, feeNumerator, feeDenominator uint64) (amountOut uint64, priceImpact float64, err error) {
	if amountIn == 0 || reserveIn == 0 || reserveOut == 0 {
		return 0, 0, fmt.Errorf("invalid inputs: amounts must be > 0")
	}
	if feeDenominator == 0 || feeNumerator >= feeDenominator {
		return 0, 0, fmt.Errorf("invalid fee %d/%d", feeNumerator, feeDenominator)
	}

	// amountInAfterFee = amountIn * (den - num) / den
	afterFee := new(big.Int).Mul(new(big.Int).SetUint64(amountIn), new(big.Int).SetUint64(feeDenominator-feeNumerator))
	afterFee.Div(afterFee, new(big.Int).SetUint64(feeDenominator))

	// out = afterFee * reserveOut / (reserveIn + afterFee)
	numerator := new(big.Int).Mul(afterFee, new(big.Int).SetUint64(reserveOut))
	denominator := new(big.Int).Add(new(big.Int).SetUint64(reserveIn), afterFee)
	out := new(big.Int).Div(numerator, denominator)
	if !out.IsUint64() {
		return 0, 0, fmt.Errorf("output amount overflow")
	}
	amountOut = out.Uint64()

	spot := float64(reserveOut) / float64(reserveIn)
	execution := float64(amountOut) / float64(amountIn)
	return amountOut, math.Max(0, 1-execution/spot), nil
}

// CheckPriceImpact rejects impact above maxImpactBps. Zero disables the check.
func CheckPriceImpact(priceImpact float64, maxImpactBps uint16) error {
	if maxImpactBps == 0 {
		return nil
	}
	maxImpact := float64(maxImpactBps) / 10000.0
	if priceImpact > maxImpact {
		return fmt.Errorf("price impact %.4f%% exceeds max %.4f%%", priceImpact*100, maxImpact*100)
	}
	return nil
}
