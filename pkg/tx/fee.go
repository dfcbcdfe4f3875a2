package tx

// EstimateTxFee returns the network fee for a transaction with the given
// number of inputs and P2PKH outputs carrying a script of scriptLen bytes,
// at feeRate base units per byte of SigningBytes.
//
//	version(4) + type(1) + inputCount(4) + inputs(36*n) + outputCount(4) +
//	outputs(33*n) + scriptLen(4) + script + gas(8) + locktime(8)
func EstimateTxFee(numInputs, numOutputs, scriptLen int, feeRate uint64) uint64 {
	const overhead = 4 + 1 + 4 + 4 + 4 + 8 + 8
	const perInput = 32 + 4
	const perOutput = 8 + 1 + 4 + 20

	size := overhead + perInput*numInputs + perOutput*numOutputs + scriptLen
	return uint64(size) * feeRate
}
