package profile

import (
	"math"

	"github.com/opensource-finance/cadence/internal/domain"
)

// WorstDistance returns the combined distance of the per-channel maxima over
// the history: for each channel, the largest distance any history sample has
// from the centroid, then weighted and summed.
func WorstDistance(p *domain.AccountProfile, history []*domain.KeystrokeSample, params Params) float64 {
	var worst [domain.NumChannels]float64
	for _, s := range history {
		for _, c := range domain.Channels {
			d := CityBlock(s.Vector(c), p.Centroid[c], p.Dispersion[c])
			worst[c] = math.Max(worst[c], d)
		}
	}
	return Combine(worst, params)
}

// Calibrate derives the acceptance threshold from the history that built p
// and stores it on the profile.
func Calibrate(p *domain.AccountProfile, history []*domain.KeystrokeSample, params Params) float64 {
	if p.Empty() {
		return 0
	}
	t := params.Multiplier * WorstDistance(p, history, params)
	t = math.Min(params.MaxThreshold, t)
	t = math.Max(params.MinThreshold, t)
	p.Threshold = t
	return t
}
