package surge

import "math"

// curveSteepness controls how fast the asymptotic segment approaches
// max_cap once the demand/supply ratio exceeds 2.0.
const curveSteepness = 6.0

// multiplierFor maps a demand/supply ratio through the monotonic capped
// pricing curve: flat at 1.0 up to balance, linear to 1.3x at ratio 1.5,
// linear to 1.7x at ratio 2.0, then asymptotic toward max_cap.
func multiplierFor(ratio, maxCap float64) float64 {
	var m float64
	switch {
	case ratio <= 1.0:
		m = 1.0
	case ratio <= 1.5:
		m = 1.0 + (ratio-1.0)*0.6
	case ratio <= 2.0:
		m = 1.3 + (ratio-1.5)*0.8
	default:
		m = maxCap - (maxCap-1.7)*math.Exp(-(ratio-2.0)*curveSteepness)
	}
	if m < 1.0 {
		m = 1.0
	}
	if m > maxCap {
		m = maxCap
	}
	return math.Round(m*100) / 100
}

// ratioFor computes the demand/supply ratio with both sides floored at 1
// so empty zones price at the base fare instead of dividing by zero.
func ratioFor(demand, drivers float64) float64 {
	return math.Max(1, demand) / math.Max(1, drivers)
}

// reasonFor renders a short human-readable justification for the
// automatic multiplier.
func reasonFor(ratio float64) string {
	switch {
	case ratio > 2.0:
		return "severe driver shortage"
	case ratio > 1.5:
		return "high demand"
	case ratio > 1.0:
		return "elevated demand"
	default:
		return "balanced supply"
	}
}
