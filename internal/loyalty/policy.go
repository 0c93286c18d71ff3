// Package loyalty tracks customer purchase counts and the loyalty discount eligibility
// derived from them.
package loyalty

// Policy decides loyalty eligibility from a customer's completed purchases.
type Policy struct {
	// Threshold is the purchase number from which the discount applies. Zero or
	// less disables the programme.
	Threshold int
}

// Eligible reports whether the purchase being made now (prior+1) reaches the threshold.
func (p Policy) Eligible(priorPurchases int64) bool {
	if p.Threshold <= 0 {
		return false
	}
	return priorPurchases+1 >= int64(p.Threshold)
}

// Remaining is how many more purchases, including the current one, are needed
// before the discount applies. It is zero once eligible.
func (p Policy) Remaining(priorPurchases int64) int64 {
	if p.Threshold <= 0 || p.Eligible(priorPurchases) {
		return 0
	}
	return int64(p.Threshold) - (priorPurchases + 1)
}
