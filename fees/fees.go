package fees

// Net returns the payout after the flat fee and the dynamic
// basis-point fee. All math is integer with truncation, so the payout
// can never exceed what was collected. A result of 0 means the item is
// entirely fee and no transfer may be attempted.
func Net(gross, flatFee, dynamicBps int64) int64 {
	if gross <= 0 {
		return 0
	}
	dyn := gross * dynamicBps / 10000
	net := gross - flatFee - dyn
	if net < 0 {
		return 0
	}
	return net
}

// Dynamic returns just the basis-point portion for fee-ledger
// bookkeeping, using the same truncation as Net.
func Dynamic(gross, dynamicBps int64) int64 {
	if gross <= 0 {
		return 0
	}
	return gross * dynamicBps / 10000
}

// RefundNet returns the amount returned to a sender after the flat
// refund fee. 0 means the whole deposit is retained as fee.
func RefundNet(gross, flatFee int64) int64 {
	net := gross - flatFee
	if net < 0 {
		return 0
	}
	return net
}

// BackingPaused reports whether new outbound debits must pause:
// vault collateral below pausePct percent of circulating liability.
// With no liability outstanding there is nothing to back.
func BackingPaused(vaultUnits, circulatingUnits, pausePct int64) bool {
	if circulatingUnits <= 0 {
		return false
	}
	return vaultUnits*100 < pausePct*circulatingUnits
}

// Scale converts between base units of tokens with different decimals,
// truncating when scaling down.
func Scale(amount int64, srcDecimals, dstDecimals int) int64 {
	if srcDecimals == dstDecimals {
		return amount
	}
	if srcDecimals < dstDecimals {
		for i := 0; i < dstDecimals-srcDecimals; i++ {
			amount *= 10
		}
		return amount
	}
	for i := 0; i < srcDecimals-dstDecimals; i++ {
		amount /= 10
	}
	return amount
}
