package verifier

import (
	"context"
	"log/slog"

	"github.com/opensource-finance/cadence/internal/bus"
	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/policy"
)

// Service turns verifications into decisions. Submit gates enrollment on the
// accept policy; Authenticate answers a login and, when the adapt policy
// holds, folds the sample into the history. Every decision is audited.
type Service struct {
	verifier *Verifier
	store    domain.SampleStore
	policy   *policy.Policy
	bus      domain.EventBus
}

// NewService creates a decision service. eventBus may be nil.
func NewService(v *Verifier, store domain.SampleStore, pol *policy.Policy, eventBus domain.EventBus) *Service {
	return &Service{
		verifier: v,
		store:    store,
		policy:   pol,
		bus:      eventBus,
	}
}

// Verifier returns the underlying verifier.
func (s *Service) Verifier() *Verifier {
	return s.verifier
}

// Policy returns the active decision policy.
func (s *Service) Policy() *policy.Policy {
	return s.policy
}

// Enroll appends raw unconditionally and announces it.
func (s *Service) Enroll(ctx context.Context, tenantID, accountID, raw string) error {
	if err := s.verifier.Enroll(ctx, tenantID, accountID, raw); err != nil {
		return err
	}
	s.publish(ctx, tenantID, domain.TopicSampleEnrolled, domain.SampleMessage{
		AccountID: accountID,
		Keystroke: raw,
	})
	return nil
}

// Submit verifies raw and enrolls it when the accept policy holds.
// The decision is Added or Inconsistent.
func (s *Service) Submit(ctx context.Context, tenantID, accountID, raw string) (*domain.Verification, error) {
	res, err := s.verifier.Verify(ctx, tenantID, accountID, raw)
	if err != nil {
		return nil, err
	}

	accepted, err := s.policy.Accepted(inputOf(res))
	if err != nil {
		return nil, err
	}

	res.Decision = domain.DecisionInconsistent
	if accepted {
		if err := s.Enroll(ctx, tenantID, accountID, raw); err != nil {
			return nil, err
		}
		res.Decision = domain.DecisionAdded
	}

	s.record(ctx, res)
	return res, nil
}

// Authenticate verifies raw and decides Verified or Not Verified.
func (s *Service) Authenticate(ctx context.Context, tenantID, accountID, raw string) (*domain.Verification, error) {
	res, err := s.verifier.Verify(ctx, tenantID, accountID, raw)
	if err != nil {
		return nil, err
	}

	in := inputOf(res)
	verified, err := s.policy.Verified(in)
	if err != nil {
		return nil, err
	}

	res.Decision = domain.DecisionNotVerified
	if verified {
		res.Decision = domain.DecisionVerified

		adapt, err := s.policy.Adapt(in)
		if err != nil {
			return nil, err
		}
		if adapt {
			if err := s.Enroll(ctx, tenantID, accountID, raw); err != nil {
				return nil, err
			}
		}
	}

	s.record(ctx, res)
	return res, nil
}

// Reset deletes the account history. It is the way out for an account whose
// keystroke count changed, such as after a password change.
func (s *Service) Reset(ctx context.Context, tenantID, accountID string) (int64, error) {
	return s.verifier.Reset(ctx, tenantID, accountID)
}

// Verification returns a stored decision.
func (s *Service) Verification(ctx context.Context, tenantID, id string) (*domain.Verification, error) {
	return s.store.GetVerification(ctx, tenantID, id)
}

// record persists the decision and publishes it. The decision has already
// taken effect on the history, so a failed audit write is logged rather
// than returned.
func (s *Service) record(ctx context.Context, res *domain.Verification) {
	if err := s.store.SaveVerification(ctx, res.TenantID, res); err != nil {
		slog.Error("failed to save verification",
			"tenant_id", res.TenantID,
			"account_id", res.AccountID,
			"verification_id", res.ID,
			"decision", res.Decision,
			"error", err,
		)
	}
	s.publish(ctx, res.TenantID, domain.TopicVerificationCompleted, res)
}

// publish is best effort; a lost event never fails the request.
func (s *Service) publish(ctx context.Context, tenantID, topic string, v any) {
	if s.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, s.bus, tenantID, topic, v); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func inputOf(res *domain.Verification) policy.Input {
	return policy.Input{
		Confidence: res.Confidence,
		Outcome:    res.Outcome,
		History:    res.HistorySize,
	}
}
