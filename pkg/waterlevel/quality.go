package waterlevel

import "github.com/paddyworks/irrigate/pkg/models"

// QualityThresholds configures the age-hours boundaries used to derive a
// reading's quality grade from its source and age: an API reading within
// an hour grades excellent, a cached reading past 24h grades poor.
type QualityThresholds struct {
	ExcellentMaxAgeH float64
	GoodMaxAgeH       float64
	FairMaxAgeH       float64
}

// DefaultQualityThresholds returns the standard age thresholds.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		ExcellentMaxAgeH: 1,
		GoodMaxAgeH:       6,
		FairMaxAgeH:       24,
	}
}

// DeriveQuality grades a reading from its source and age. Derivation is
// total: every combination of source and age maps to a defined quality.
func DeriveQuality(source models.ReadingSource, ageHours float64, th QualityThresholds) models.ReadingQuality {
	switch source {
	case models.SourceAPI, models.SourceManual:
		switch {
		case ageHours <= th.ExcellentMaxAgeH:
			return models.QualityExcellent
		case ageHours <= th.GoodMaxAgeH:
			return models.QualityGood
		case ageHours <= th.FairMaxAgeH:
			return models.QualityFair
		default:
			return models.QualityPoor
		}
	case models.SourceInterpolated:
		switch {
		case ageHours <= th.GoodMaxAgeH:
			return models.QualityGood
		case ageHours <= th.FairMaxAgeH:
			return models.QualityFair
		default:
			return models.QualityPoor
		}
	case models.SourceCached:
		switch {
		case ageHours <= th.FairMaxAgeH:
			return models.QualityFair
		default:
			return models.QualityPoor
		}
	case models.SourceConfig:
		return models.QualityFair
	default:
		return models.QualityPoor
	}
}

// ConfidenceFromPayload computes a sensor reading's confidence (0..1) from
// payload completeness: timestamp present, sensor-id present, value
// in-range.
func ConfidenceFromPayload(hasTimestamp, hasSensorID, inRange bool) float64 {
	if !inRange {
		return 0
	}
	confidence := 0.6
	if hasTimestamp {
		confidence += 0.2
	}
	if hasSensorID {
		confidence += 0.2
	}
	return confidence
}
