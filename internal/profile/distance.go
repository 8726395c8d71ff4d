package profile

import (
	"fmt"
	"math"

	"github.com/opensource-finance/cadence/internal/domain"
)

// CityBlock returns sum(|x[i]-center[i]| / dispersion[i]).
// Vectors must share one length.
func CityBlock(x, center, dispersion []float64) float64 {
	var d float64
	for i := range x {
		d += math.Abs(x[i]-center[i]) / dispersion[i]
	}
	return d
}

// ChannelDistances returns the weighted city-block distance of every channel
// of s from the profile centroid.
func ChannelDistances(p *domain.AccountProfile, s *domain.KeystrokeSample) ([domain.NumChannels]float64, error) {
	var out [domain.NumChannels]float64
	if err := checkShape(s); err != nil {
		return out, err
	}
	if s.Len() != p.Keystrokes {
		return out, fmt.Errorf("%w: sample has %d keystrokes, profile has %d",
			domain.ErrProfileInconsistency, s.Len(), p.Keystrokes)
	}

	for _, c := range domain.Channels {
		out[c] = CityBlock(s.Vector(c), p.Centroid[c], p.Dispersion[c])
	}
	return out, nil
}

// Combine folds channel distances into one scalar with the channel weights.
func Combine(d [domain.NumChannels]float64, params Params) float64 {
	var total float64
	for _, c := range domain.Channels {
		total += d[c] * params.Weights[c]
	}
	return total
}

// Sigmoid is the logistic function.
func Sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Score compares s with the profile and returns the combined distance and a
// confidence in (0, 1). A distance equal to the threshold maps to 0.5.
func Score(p *domain.AccountProfile, s *domain.KeystrokeSample, params Params) (distance, confidence float64, err error) {
	d, err := ChannelDistances(p, s)
	if err != nil {
		return 0, 0, err
	}
	distance = Combine(d, params)
	diff := p.Threshold - distance
	confidence = Sigmoid(2 * diff / p.Threshold)
	return distance, confidence, nil
}
