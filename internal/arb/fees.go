package arb

// Fee returns the proportional taker fee charged on a basket of the given
// notional cost.
func Fee(cost, rate float64) float64 {
	return cost * rate
}
