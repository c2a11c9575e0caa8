package model

import (
	"fmt"
	"math"
)

// StandardScaler standardizes each feature with the mean and scale fitted at
// training time. Zero scales are treated as 1, matching the fitted transform.
type StandardScaler struct {
	mean  FeatureVector
	scale FeatureVector
}

// NewStandardScaler validates the fitted parameters.
func NewStandardScaler(mean, scale []float64) (*StandardScaler, error) {
	if len(mean) != FeatureCount || len(scale) != FeatureCount {
		return nil, fmt.Errorf("scaler expects %d means and scales, got %d and %d", FeatureCount, len(mean), len(scale))
	}

	s := &StandardScaler{}
	for i := 0; i < FeatureCount; i++ {
		if math.IsNaN(mean[i]) || math.IsInf(mean[i], 0) {
			return nil, fmt.Errorf("scaler mean for %s is not finite", FeatureOrder[i])
		}
		if math.IsNaN(scale[i]) || math.IsInf(scale[i], 0) || scale[i] < 0 {
			return nil, fmt.Errorf("scaler scale for %s is invalid: %v", FeatureOrder[i], scale[i])
		}
		s.mean[i] = mean[i]
		s.scale[i] = scale[i]
		if s.scale[i] == 0 {
			s.scale[i] = 1
		}
	}
	return s, nil
}

// Scale returns the standardized vector in the same positions.
func (s *StandardScaler) Scale(v FeatureVector) FeatureVector {
	var out FeatureVector
	for i := range v {
		out[i] = (v[i] - s.mean[i]) / s.scale[i]
	}
	return out
}
