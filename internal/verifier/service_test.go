package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/cadence/internal/bus"
	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/policy"
	"github.com/opensource-finance/cadence/internal/profile"
)

func newTestService(t *testing.T, store *memStore, eventBus domain.EventBus) *Service {
	t.Helper()
	pol, err := policy.New(domain.PolicyConfig{})
	if err != nil {
		t.Fatalf("policy.New failed: %v", err)
	}
	return NewService(New(store, profile.DefaultParams()), store, pol, eventBus)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("ColdStartIsAdded", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(t, store, nil)

		res, err := svc.Submit(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Decision != domain.DecisionAdded {
			t.Errorf("expected Added, got %s", res.Decision)
		}
		if store.count(accountID) != 1 {
			t.Errorf("expected 1 stored sample, got %d", store.count(accountID))
		}
	})

	t.Run("DeviceMismatchIsInconsistent", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, genuine)
		svc := newTestService(t, store, nil)

		res, err := svc.Submit(ctx, tenantID, accountID, strings.Replace(genuine, ",h1|", ",zz|", 1))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Decision != domain.DecisionInconsistent {
			t.Errorf("expected Inconsistent, got %s", res.Decision)
		}
		if store.count(accountID) != 1 {
			t.Errorf("expected history unchanged, got %d samples", store.count(accountID))
		}
	})

	t.Run("AuditRecorded", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(t, store, nil)

		res, err := svc.Submit(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		got, err := svc.Verification(ctx, tenantID, res.ID)
		if err != nil {
			t.Fatalf("Verification failed: %v", err)
		}
		if got.Decision != domain.DecisionAdded {
			t.Errorf("expected stored decision Added, got %s", got.Decision)
		}
	})

	t.Run("ParseErrorStoresNothing", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(t, store, nil)

		if _, err := svc.Submit(ctx, tenantID, accountID, "0,0,1|bad"); !errors.Is(err, domain.ErrParse) {
			t.Errorf("expected ErrParse, got %v", err)
		}
		if store.count(accountID) != 0 || len(store.verifications) != 0 {
			t.Error("expected no state change")
		}
	})

	t.Run("KeystrokeCountChangeIsRejected", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(t, store, nil)

		if _, err := svc.Submit(ctx, tenantID, accountID, genuine); err != nil {
			t.Fatalf("first Submit failed: %v", err)
		}
		longer := genuine + "|100,70,95,68"
		if _, err := svc.Submit(ctx, tenantID, accountID, longer); !errors.Is(err, domain.ErrProfileInconsistency) {
			t.Errorf("expected ErrProfileInconsistency, got %v", err)
		}
		if store.count(accountID) != 1 {
			t.Fatalf("expected history unchanged, got %d samples", store.count(accountID))
		}

		// the account keeps enrolling and scoring at its own length
		for i := range 4 {
			res, err := svc.Submit(ctx, tenantID, accountID, genuine)
			if err != nil {
				t.Fatalf("Submit %d failed: %v", i, err)
			}
			if res.Decision != domain.DecisionAdded {
				t.Errorf("Submit %d: expected Added, got %s", i, res.Decision)
			}
		}
		res, err := svc.Authenticate(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Outcome != domain.OutcomeScored || res.Decision != domain.DecisionVerified {
			t.Errorf("expected a scored Verified decision, got %s %s", res.Outcome, res.Decision)
		}
	})

	t.Run("AuditFailureKeepsDecision", func(t *testing.T) {
		store := newMemStore()
		store.saveErr = errors.New("audit table locked")
		svc := newTestService(t, store, nil)

		res, err := svc.Submit(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if res.Decision != domain.DecisionAdded || store.count(accountID) != 1 {
			t.Errorf("expected Added with the sample stored, got %s with %d samples", res.Decision, store.count(accountID))
		}
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("CentroidIsVerifiedAndAdapts", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 5)...)
		svc := newTestService(t, store, nil)

		res, err := svc.Authenticate(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Decision != domain.DecisionVerified {
			t.Errorf("expected Verified, got %s", res.Decision)
		}
		// sigmoid(2) exceeds the 0.8 adapt bar
		if store.count(accountID) != 6 {
			t.Errorf("expected sample to be enrolled, got %d samples", store.count(accountID))
		}
	})

	t.Run("DistantIsNotVerified", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 5)...)
		svc := newTestService(t, store, nil)

		res, err := svc.Authenticate(ctx, tenantID, accountID, "0,0,1,2,3,h1|97,999,140,65|98,90,60,66|99,10,150,67")
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Decision != domain.DecisionNotVerified {
			t.Errorf("expected Not Verified, got %s", res.Decision)
		}
		if store.count(accountID) != 5 {
			t.Errorf("expected history unchanged, got %d samples", store.count(accountID))
		}
	})

	t.Run("VerifiedWithoutAdapt", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 5)...)
		pol, err := policy.New(domain.PolicyConfig{Adapt: "false"})
		if err != nil {
			t.Fatalf("policy.New failed: %v", err)
		}
		svc := NewService(New(store, profile.DefaultParams()), store, pol, nil)

		res, err := svc.Authenticate(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}
		if res.Decision != domain.DecisionVerified || store.count(accountID) != 5 {
			t.Errorf("expected Verified without enrollment, got %s with %d samples", res.Decision, store.count(accountID))
		}
	})

	t.Run("PublishesDecision", func(t *testing.T) {
		eventBus := bus.NewChannelBus(10)
		defer eventBus.Close()

		got := make(chan domain.Verification, 1)
		_, err := eventBus.Subscribe(ctx, tenantID, domain.TopicVerificationCompleted, func(ctx context.Context, msg *domain.Message) error {
			var v domain.Verification
			if err := json.Unmarshal(msg.Payload, &v); err != nil {
				return err
			}
			got <- v
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		svc := newTestService(t, newMemStore(), eventBus)
		res, err := svc.Authenticate(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Authenticate failed: %v", err)
		}

		select {
		case v := <-got:
			if v.ID != res.ID || v.Decision != domain.DecisionVerified {
				t.Errorf("unexpected event: %+v", v)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for verification event")
		}
	})
}

func TestServiceReset(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.seed(t, accountID, repeat(genuine, 3)...)
	svc := newTestService(t, store, nil)

	n, err := svc.Reset(ctx, tenantID, accountID)
	if err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 deleted samples, got %d", n)
	}

	res, err := svc.Submit(ctx, tenantID, accountID, genuine+"|100,70,95,68")
	if err != nil {
		t.Fatalf("Submit after reset failed: %v", err)
	}
	if res.Outcome != domain.OutcomeColdStart || res.Decision != domain.DecisionAdded {
		t.Errorf("expected cold start Added, got %s %s", res.Outcome, res.Decision)
	}
}
