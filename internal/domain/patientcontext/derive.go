package patientcontext

import "math"

// MostellerBSA returns body surface area in square meters from the
// Mosteller formula.
func MostellerBSA(heightCm, weightKg float64) float64 {
	return math.Sqrt(heightCm * weightKg / 3600)
}

// CockcroftGault estimates creatinine clearance in mL/min. It is an adult
// estimate; the assembler does not apply it under age 18, where renal
// checks fall back to a reported eGFR instead.
func CockcroftGault(ageYears, weightKg, serumCreatinineMgDL float64, sex string) float64 {
	crcl := (140 - ageYears) * weightKg / (72 * serumCreatinineMgDL)
	if sex == "female" {
		crcl *= 0.85
	}
	return crcl
}
