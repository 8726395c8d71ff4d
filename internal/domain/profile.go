package domain

import (
	"time"
)

// AccountProfile is the statistical model of an account's typing, derived
// from its history window. It is recomputed on demand and never persisted.
type AccountProfile struct {
	TenantID  string `json:"tenantId"`
	AccountID string `json:"accountId"`

	// Samples is the number of history samples the profile was built from.
	Samples int `json:"samples"`

	// Keystrokes is K, the shared length of every channel vector.
	Keystrokes int `json:"keystrokes"`

	// Centroid and Dispersion are indexed by Channel.
	Centroid   [NumChannels][]float64 `json:"centroid"`
	Dispersion [NumChannels][]float64 `json:"dispersion"`

	// Threshold is the calibrated acceptance threshold.
	Threshold float64 `json:"threshold"`

	// Fingerprint of the newest history sample; used by the device gate.
	Fingerprint DeviceFingerprint `json:"fingerprint"`

	// Digest identifies the exact history the profile was computed from.
	Digest string `json:"digest"`
}

// Empty reports whether the profile has no history behind it.
func (p *AccountProfile) Empty() bool {
	return p == nil || p.Samples == 0
}

// Outcome describes which branch of verification produced a confidence.
type Outcome string

const (
	// OutcomeDeviceMismatch means the password hash differed from the newest stored sample.
	OutcomeDeviceMismatch Outcome = "device_mismatch"

	// OutcomeColdStart means too little history exists to judge.
	OutcomeColdStart Outcome = "cold_start"

	// OutcomeScored means the statistical comparison ran.
	OutcomeScored Outcome = "scored"
)

// Verification is the result of scoring one sample against an account profile.
type Verification struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenantId"`
	AccountID        string    `json:"accountId"`
	Outcome          Outcome   `json:"outcome"`
	Confidence       float64   `json:"confidence"`
	Threshold        float64   `json:"threshold"`
	ObservedDistance float64   `json:"observedDistance"`
	HistorySize      int       `json:"historySize"`
	Decision         string    `json:"decision,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	TraceID          string    `json:"traceId,omitempty"`
}

// Service-level decisions, as returned to the capture page.
const (
	DecisionVerified     = "Verified"
	DecisionNotVerified  = "Not Verified"
	DecisionAdded        = "Added"
	DecisionInconsistent = "Inconsistent"
)
