package quote

import "math/big"

// MinOut calculates minimum output with slippage tolerance
// slippageBps: basis points (e.g., 100 = 1%, 50 = 0.5%)
func MinOut(amountOut uint64, slippageBps uint16) uint64 {
	if slippageBps >= 10000 {
		return 0
	}

	// minOut = amountOut * (10000 - slippageBps) / 10000, floored
	result := new(big.Int).SetUint64(amountOut)
	result.Mul(result, new(big.Int).SetUint64(10000-uint64(slippageBps)))
	result.Div(result, big.NewInt(10000))

	return result.Uint64()
}
