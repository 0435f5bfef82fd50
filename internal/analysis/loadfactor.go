package analysis

// HoursPerDay is the period length of a daily record.
const HoursPerDay = 24.0

// LoadFactorPct is the ratio of the energy drawn to the energy the peak demand would have
// drawn over the whole period, in percent.
//
// The result is 0 when the peak or the period is not positive, and is clamped to [0, 100].
// The upper clamp hides windows where counter energy exceeds what the recorded peak allows;
// such data errors are not corrected here.
func LoadFactorPct(importedKWh, peakDemandKW, periodHours float64) float64 {
	if peakDemandKW <= 0 || periodHours <= 0 {
		return 0
	}
	lf := importedKWh / (peakDemandKW * periodHours) * 100
	return clamp(lf, 0, 100)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
