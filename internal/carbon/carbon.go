// Package carbon estimates methane emission and carbon credit for rice
// fields. The estimator is a pure function: no state, no I/O, standard
// IEEE-754 double precision throughout.
package carbon

import "fmt"

// Coefficients for the seasonal methane-emission estimate.
const (
	// MethaneEmissionCoeff is the methane emission coefficient per rai per day.
	MethaneEmissionCoeff = 0.1952
	// GWPMethane is the Global Warming Potential of methane.
	GWPMethane = 25
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Estimate is the result of a carbon-credit estimation.
type Estimate struct {
	// MethaneEmission is the estimated seasonal methane emission in kg CO2e.
	MethaneEmission float64
	// CarbonCredit is the credit earned, in units (tonnes CO2e).
	CarbonCredit float64
}

// EstimateEmission computes the methane emission and resulting carbon credit
// for a rice field of areaRai rai harvested after harvestAgeDays days.
//
//	methane = 0.1952 * area * age * 1e-3 * 25   (kg CO2e)
//	credit  = methane / 1000                    (units)
func EstimateEmission(areaRai float64, harvestAgeDays int) (Estimate, error) {
	if areaRai <= 0 {
		return Estimate{}, &ValidationError{Field: "area", Reason: "must be greater than 0"}
	}
	if harvestAgeDays <= 0 {
		return Estimate{}, &ValidationError{Field: "harvest_age", Reason: "must be greater than 0"}
	}
	methane := MethaneEmissionCoeff * areaRai * float64(harvestAgeDays) * 1e-3 * GWPMethane
	return Estimate{
		MethaneEmission: methane,
		CarbonCredit:    methane / 1000,
	}, nil
}
