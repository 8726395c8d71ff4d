// Package profile builds per-account keystroke profiles and scores samples against them.
//
// A profile is the element-wise mean (centroid) and mean absolute deviation
// (dispersion) of each channel across an account's recent history. Samples are
// compared to the centroid with a city-block distance weighted by inverse
// dispersion, and the four channel distances are folded into one scalar with
// fixed channel weights that offset the channels' numeric scales.
package profile

import (
	"github.com/opensource-finance/cadence/internal/domain"
)

// Params are the calibration constants of the model.
type Params struct {
	// Weights are indexed by domain.Channel.
	Weights [domain.NumChannels]float64

	Multiplier   float64
	MinThreshold float64
	MaxThreshold float64
	MinSamples   int
	WindowSize   int
}

// DefaultParams returns the default calibration constants.
func DefaultParams() Params {
	return ParamsFromConfig(domain.DefaultModelConfig())
}

// ParamsFromConfig converts model configuration into Params.
// Zero values fall back to the defaults.
func ParamsFromConfig(cfg domain.ModelConfig) Params {
	def := domain.DefaultModelConfig()

	p := Params{
		Weights: [domain.NumChannels]float64{
			domain.ChannelCharCode:  orDefault(cfg.CharCodeWeight, def.CharCodeWeight),
			domain.ChannelSeekTime:  orDefault(cfg.SeekTimeWeight, def.SeekTimeWeight),
			domain.ChannelPressTime: orDefault(cfg.PressTimeWeight, def.PressTimeWeight),
			domain.ChannelKeyCode:   orDefault(cfg.KeyCodeWeight, def.KeyCodeWeight),
		},
		Multiplier:   orDefault(cfg.ThresholdMultiplier, def.ThresholdMultiplier),
		MinThreshold: orDefault(cfg.MinThreshold, def.MinThreshold),
		MaxThreshold: orDefault(cfg.MaxThreshold, def.MaxThreshold),
		MinSamples:   cfg.MinSamples,
		WindowSize:   cfg.WindowSize,
	}
	if p.MinSamples <= 0 {
		p.MinSamples = def.MinSamples
	}
	if p.WindowSize <= 0 {
		p.WindowSize = def.WindowSize
	}
	return p
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
