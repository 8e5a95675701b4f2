package scoring

import (
	"fmt"
	"math"
)

// DecayFunc maps an age in hours to a multiplier in (0,1].
type DecayFunc func(ageHours float64) float64

// DecayParams describes a half-life curve that flattens out at Floor.
type DecayParams struct {
	HalfLifeHours float64
	Floor         float64
}

// Validate requires a positive half-life and a floor in (0,1].
func (p DecayParams) Validate() error {
	if p.HalfLifeHours <= 0 {
		return fmt.Errorf("half-life must be positive, got %v", p.HalfLifeHours)
	}
	if p.Floor <= 0 || p.Floor > 1 {
		return fmt.Errorf("decay floor must be in (0,1], got %v", p.Floor)
	}
	return nil
}

// Func returns floor + (1-floor) * 0.5^(age/halfLife).
// Negative ages count as zero, so the result never exceeds 1 and never drops below floor.
func (p DecayParams) Func() DecayFunc {
	halfLife, floor := p.HalfLifeHours, p.Floor
	return func(ageHours float64) float64 {
		if halfLife <= 0 || ageHours <= 0 || math.IsNaN(ageHours) {
			return 1
		}
		m := floor + (1-floor)*math.Pow(0.5, ageHours/halfLife)
		if m < floor {
			return floor
		}
		return m
	}
}
