package profile

import (
	"fmt"
	"math"

	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/keystroke"
)

// Build computes the centroid and dispersion of each channel across the
// history window. history is ordered newest first; its first element supplies
// the profile fingerprint. An empty history yields an empty profile.
//
// Every sample must have the same keystroke count, otherwise Build fails with
// domain.ErrProfileInconsistency.
func Build(history []*domain.KeystrokeSample) (*domain.AccountProfile, error) {
	p := &domain.AccountProfile{Samples: len(history)}
	if len(history) == 0 {
		return p, nil
	}

	k := history[0].Len()
	for i, s := range history {
		if err := checkShape(s); err != nil {
			return nil, fmt.Errorf("history sample %d: %w", i, err)
		}
		if s.Len() != k {
			return nil, fmt.Errorf("%w: history sample %d has %d keystrokes, newest has %d",
				domain.ErrProfileInconsistency, i, s.Len(), k)
		}
	}

	p.Keystrokes = k
	p.Fingerprint = keystroke.Fingerprint(history[0])

	for _, c := range domain.Channels {
		p.Centroid[c], p.Dispersion[c] = channelStats(history, c, k)
	}
	return p, nil
}

// channelStats returns the per-position mean and mean absolute deviation of
// one channel. Zero deviations are replaced with 1 so they can divide.
func channelStats(history []*domain.KeystrokeSample, c domain.Channel, k int) (mean, mad []float64) {
	n := float64(len(history))
	mean = make([]float64, k)
	mad = make([]float64, k)

	for j := 0; j < k; j++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		var sum float64
		for _, s := range history {
			v := s.Vector(c)[j]
			sum += v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		mean[j] = sum / n

		// identical values must give an exact zero, not rounding residue
		if lo == hi {
			mad[j] = 1
			continue
		}

		var dev float64
		for _, s := range history {
			dev += math.Abs(s.Vector(c)[j] - mean[j])
		}
		mad[j] = dev / n
		if mad[j] == 0 {
			mad[j] = 1
		}
	}
	return mean, mad
}

// checkShape enforces that all channels of a sample share one length.
func checkShape(s *domain.KeystrokeSample) error {
	if s == nil {
		return fmt.Errorf("%w: nil sample", domain.ErrInvalidInput)
	}
	k := s.Len()
	for _, c := range domain.Channels {
		if len(s.Vector(c)) != k {
			return fmt.Errorf("%w: channel %s has %d values, expected %d",
				domain.ErrProfileInconsistency, c, len(s.Vector(c)), k)
		}
	}
	return nil
}
