// Package verifier runs keystroke verification for an account: it loads the
// history window, builds and calibrates the profile, applies the device gate
// and cold-start rule, and scores the sample.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/keystroke"
	"github.com/opensource-finance/cadence/internal/profile"
)

var tracer = otel.Tracer("cadence-verifier")

// Trace carries the intermediate values of one verification.
type Trace struct {
	TenantID         string
	AccountID        string
	Outcome          domain.Outcome
	Threshold        float64
	ObservedDistance float64
	Confidence       float64
}

// TraceFunc receives a Trace after every verification.
type TraceFunc func(ctx context.Context, t Trace)

// Verifier scores keystroke samples against account history.
// It is safe for concurrent use.
type Verifier struct {
	store      domain.SampleStore
	cache      domain.Cache
	params     profile.Params
	profileTTL time.Duration
	trace      TraceFunc
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithCache caches built profiles keyed by a digest of the history they
// came from. A nil cache disables caching; a non-positive ttl keeps the
// ten minute default.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(v *Verifier) {
		v.cache = c
		if ttl > 0 {
			v.profileTTL = ttl
		}
	}
}

// WithTrace installs a trace callback.
func WithTrace(fn TraceFunc) Option {
	return func(v *Verifier) { v.trace = fn }
}

// New creates a verifier over store.
func New(store domain.SampleStore, params profile.Params, opts ...Option) *Verifier {
	v := &Verifier{
		store:      store,
		params:     params,
		profileTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Params returns the model parameters in use.
func (v *Verifier) Params() profile.Params {
	return v.params
}

// BuildProfile loads the newest WindowSize samples of an account and returns
// its calibrated profile. An account without history yields an empty profile.
func (v *Verifier) BuildProfile(ctx context.Context, tenantID, accountID string) (*domain.AccountProfile, error) {
	ctx, span := tracer.Start(ctx, "verifier.BuildProfile",
		trace.WithAttributes(attribute.String("account_id", accountID)),
	)
	defer span.End()

	p, err := v.buildProfile(ctx, tenantID, accountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("history_size", p.Samples))
	return p, nil
}

func (v *Verifier) buildProfile(ctx context.Context, tenantID, accountID string) (*domain.AccountProfile, error) {
	if err := requireIDs(tenantID, accountID); err != nil {
		return nil, err
	}

	raws, err := v.store.FetchRecent(ctx, tenantID, accountID, v.params.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch history: %w", domain.ErrStore, err)
	}

	digest := v.digest(raws)
	cacheKey := accountID + ":" + digest
	if v.cache != nil {
		cached, err := v.cache.GetProfile(ctx, tenantID, cacheKey)
		if err != nil {
			slog.Warn("profile cache read failed", "account_id", accountID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	history, err := keystroke.ParseAll(raws)
	if err != nil {
		return nil, fmt.Errorf("stored history for %s: %w", accountID, err)
	}

	p, err := profile.Build(history)
	if err != nil {
		return nil, err
	}
	profile.Calibrate(p, history, v.params)
	p.TenantID = tenantID
	p.AccountID = accountID
	p.Digest = digest

	if v.cache != nil {
		if err := v.cache.SetProfile(ctx, tenantID, cacheKey, p, v.profileTTL); err != nil {
			slog.Warn("profile cache write failed", "account_id", accountID, "error", err)
		}
	}
	return p, nil
}

// Verify scores raw against the account profile. Parse errors, store errors
// and keystroke count mismatches are returned; device mismatch and cold start
// are outcomes, not errors.
func (v *Verifier) Verify(ctx context.Context, tenantID, accountID, raw string) (*domain.Verification, error) {
	ctx, span := tracer.Start(ctx, "verifier.Verify",
		trace.WithAttributes(attribute.String("account_id", accountID)),
	)
	defer span.End()

	res, err := v.verify(ctx, tenantID, accountID, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Float64("confidence", res.Confidence),
		attribute.Float64("threshold", res.Threshold),
		attribute.Float64("observed_distance", res.ObservedDistance),
	)
	if sc := span.SpanContext(); sc.HasTraceID() {
		res.TraceID = sc.TraceID().String()
	}
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, tenantID, accountID, raw string) (*domain.Verification, error) {
	if err := requireIDs(tenantID, accountID); err != nil {
		return nil, err
	}

	sample, err := keystroke.Parse(raw)
	if err != nil {
		return nil, err
	}

	p, err := v.buildProfile(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}

	res := &domain.Verification{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		AccountID:   accountID,
		Threshold:   p.Threshold,
		HistorySize: p.Samples,
		Timestamp:   time.Now().UTC(),
	}

	switch {
	case !p.Empty() && keystroke.Fingerprint(sample).PasswordHash != p.Fingerprint.PasswordHash:
		res.Outcome = domain.OutcomeDeviceMismatch
		res.Confidence = 0

	case !p.Empty() && sample.Len() != p.Keystrokes:
		return nil, fmt.Errorf("%w: sample has %d keystrokes, profile has %d",
			domain.ErrProfileInconsistency, sample.Len(), p.Keystrokes)

	case p.Samples < v.params.MinSamples:
		res.Outcome = domain.OutcomeColdStart
		res.Confidence = 1

	default:
		distance, confidence, err := profile.Score(p, sample, v.params)
		if err != nil {
			return nil, err
		}
		res.Outcome = domain.OutcomeScored
		res.ObservedDistance = distance
		res.Confidence = confidence
	}

	slog.Debug("sample verified",
		"tenant_id", tenantID,
		"account_id", accountID,
		"outcome", res.Outcome,
		"threshold", res.Threshold,
		"observed_distance", res.ObservedDistance,
		"confidence", res.Confidence,
	)
	if v.trace != nil {
		v.trace(ctx, Trace{
			TenantID:         tenantID,
			AccountID:        accountID,
			Outcome:          res.Outcome,
			Threshold:        res.Threshold,
			ObservedDistance: res.ObservedDistance,
			Confidence:       res.Confidence,
		})
	}
	return res, nil
}

// Enroll validates raw and appends it to the account history without scoring
// it. A sample whose keystroke count differs from the newest stored sample is
// rejected with ErrProfileInconsistency.
func (v *Verifier) Enroll(ctx context.Context, tenantID, accountID, raw string) error {
	ctx, span := tracer.Start(ctx, "verifier.Enroll",
		trace.WithAttributes(attribute.String("account_id", accountID)),
	)
	defer span.End()

	err := v.enroll(ctx, tenantID, accountID, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (v *Verifier) enroll(ctx context.Context, tenantID, accountID, raw string) error {
	if err := requireIDs(tenantID, accountID); err != nil {
		return err
	}
	sample, err := keystroke.Parse(raw)
	if err != nil {
		return err
	}
	if err := v.matchesHistory(ctx, tenantID, accountID, sample); err != nil {
		return err
	}
	if err := v.store.AppendSample(ctx, tenantID, accountID, raw); err != nil {
		return fmt.Errorf("%w: append sample: %w", domain.ErrStore, err)
	}
	return nil
}

// matchesHistory checks sample against the newest stored sample, so a
// history window never mixes keystroke counts.
func (v *Verifier) matchesHistory(ctx context.Context, tenantID, accountID string, sample *domain.KeystrokeSample) error {
	raws, err := v.store.FetchRecent(ctx, tenantID, accountID, 1)
	if err != nil {
		return fmt.Errorf("%w: fetch history: %w", domain.ErrStore, err)
	}
	if len(raws) == 0 {
		return nil
	}
	newest, err := keystroke.Parse(raws[0])
	if err != nil {
		return fmt.Errorf("stored history for %s: %w", accountID, err)
	}
	if newest.Len() != sample.Len() {
		return fmt.Errorf("%w: sample has %d keystrokes, history has %d",
			domain.ErrProfileInconsistency, sample.Len(), newest.Len())
	}
	return nil
}

// Reset deletes the account history, after which the next samples enroll
// from cold start. It returns the number of samples removed.
func (v *Verifier) Reset(ctx context.Context, tenantID, accountID string) (int64, error) {
	if err := requireIDs(tenantID, accountID); err != nil {
		return 0, err
	}
	n, err := v.store.DeleteSamples(ctx, tenantID, accountID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete samples: %w", domain.ErrStore, err)
	}
	slog.Info("account history reset", "tenant_id", tenantID, "account_id", accountID, "samples", n)
	return n, nil
}

// digest identifies a history window together with the model parameters,
// so a cached profile is only reused for the exact inputs that produced it.
func (v *Verifier) digest(raws []string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%v\n", v.params)
	for _, r := range raws {
		h.Write([]byte(r))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func requireIDs(tenantID, accountID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if accountID == "" {
		return fmt.Errorf("%w: accountID is required", domain.ErrInvalidInput)
	}
	return nil
}
