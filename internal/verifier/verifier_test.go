package verifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/opensource-finance/cadence/internal/cache"
	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/profile"
)

const (
	tenantID  = "tenant-001"
	accountID = "alice@example.com"

	// genuine is a three-keystroke sample whose normalized seek times are 50,40,60.
	genuine = "0,0,1,2,3,h1|97,999,100,65|98,40,110,66|99,60,90,67"
)

// memStore is an in-memory SampleStore that records calls.
type memStore struct {
	mu            sync.Mutex
	samples       map[string][]string
	verifications map[string]*domain.Verification
	limits        []int
	fetchErr      error
	appendErr     error
	saveErr       error
}

func newMemStore() *memStore {
	return &memStore{
		samples:       make(map[string][]string),
		verifications: make(map[string]*domain.Verification),
	}
}

func (m *memStore) AppendSample(ctx context.Context, tenantID, accountID, raw string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	key := tenantID + "/" + accountID
	m.samples[key] = append(m.samples[key], raw)
	return nil
}

func (m *memStore) FetchRecent(ctx context.Context, tenantID, accountID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, limit)
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	all := m.samples[tenantID+"/"+accountID]
	var out []string
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memStore) DeleteSamples(ctx context.Context, tenantID, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantID + "/" + accountID
	n := int64(len(m.samples[key]))
	delete(m.samples, key)
	return n, nil
}

func (m *memStore) SaveVerification(ctx context.Context, tenantID string, v *domain.Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.verifications[tenantID+"/"+v.ID] = v
	return nil
}

func (m *memStore) GetVerification(ctx context.Context, tenantID, id string) (*domain.Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.verifications[tenantID+"/"+id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func (m *memStore) count(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples[tenantID+"/"+accountID])
}

func (m *memStore) seed(t *testing.T, accountID string, raws ...string) {
	t.Helper()
	for _, r := range raws {
		if err := m.AppendSample(context.Background(), tenantID, accountID, r); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

func repeat(raw string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = raw
	}
	return out
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("ColdStartEmptyHistory", func(t *testing.T) {
		v := New(newMemStore(), profile.DefaultParams())

		res, err := v.Verify(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if res.Confidence != 1 || res.Outcome != domain.OutcomeColdStart {
			t.Errorf("expected cold start with confidence 1, got %s %v", res.Outcome, res.Confidence)
		}
		if res.ID == "" || res.HistorySize != 0 {
			t.Errorf("unexpected result: %+v", res)
		}
	})

	t.Run("ColdStartIgnoresContent", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, genuine, genuine)
		v := New(store, profile.DefaultParams())

		// wildly different rhythm and a different keystroke count
		res, err := v.Verify(ctx, tenantID, accountID, "0,0,1,2,3,h1|1,1,1,1|2,2,2,2|3,3,3,3|4,4,4,4")
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if res.Confidence != 1 {
			t.Errorf("expected confidence 1 with 2 samples, got %v", res.Confidence)
		}
	})

	t.Run("DeviceGate", func(t *testing.T) {
		for _, n := range []int{1, 5} {
			store := newMemStore()
			store.seed(t, accountID, repeat(genuine, n)...)
			v := New(store, profile.DefaultParams())

			other := strings.Replace(genuine, ",h1|", ",zz|", 1)
			res, err := v.Verify(ctx, tenantID, accountID, other)
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if res.Confidence != 0 || res.Outcome != domain.OutcomeDeviceMismatch {
				t.Errorf("history %d: expected device mismatch with confidence 0, got %s %v", n, res.Outcome, res.Confidence)
			}
		}
	})

	t.Run("DeviceGateUsesNewestSample", func(t *testing.T) {
		store := newMemStore()
		older := strings.Replace(genuine, ",h1|", ",old|", 1)
		store.seed(t, accountID, older, older, older, genuine)
		v := New(store, profile.DefaultParams())

		res, err := v.Verify(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if res.Outcome != domain.OutcomeScored {
			t.Errorf("expected newest hash to pass the gate, got %s", res.Outcome)
		}
	})

	t.Run("CentroidSample", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 5)...)
		v := New(store, profile.DefaultParams())

		res, err := v.Verify(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		want := 1 / (1 + math.Exp(-2))
		if math.Abs(res.Confidence-want) > 1e-9 {
			t.Errorf("expected confidence %.6f, got %.6f", want, res.Confidence)
		}
		if res.ObservedDistance != 0 || res.Threshold != 50 {
			t.Errorf("expected distance 0 and threshold 50, got %v and %v", res.ObservedDistance, res.Threshold)
		}
	})

	t.Run("DistantSample", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 5)...)
		v := New(store, profile.DefaultParams())

		res, err := v.Verify(ctx, tenantID, accountID, "0,0,1,2,3,h1|97,999,140,65|98,90,60,66|99,10,150,67")
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if res.Confidence >= 0.5 {
			t.Errorf("expected confidence below 0.5, got %v", res.Confidence)
		}
	})

	t.Run("KeystrokeCountMismatch", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 3)...)
		v := New(store, profile.DefaultParams())

		_, err := v.Verify(ctx, tenantID, accountID, genuine+"|100,70,95,68")
		if !errors.Is(err, domain.ErrProfileInconsistency) {
			t.Errorf("expected ErrProfileInconsistency, got %v", err)
		}
	})

	t.Run("KeystrokeCountMismatchDuringColdStart", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, genuine)
		v := New(store, profile.DefaultParams())

		_, err := v.Verify(ctx, tenantID, accountID, genuine+"|100,70,95,68")
		if !errors.Is(err, domain.ErrProfileInconsistency) {
			t.Errorf("expected ErrProfileInconsistency, got %v", err)
		}
	})

	t.Run("DeviceGateBeforeKeystrokeCount", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, genuine)
		v := New(store, profile.DefaultParams())

		other := strings.Replace(genuine, ",h1|", ",zz|", 1) + "|100,70,95,68"
		res, err := v.Verify(ctx, tenantID, accountID, other)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if res.Outcome != domain.OutcomeDeviceMismatch || res.Confidence != 0 {
			t.Errorf("expected device mismatch with confidence 0, got %s %v", res.Outcome, res.Confidence)
		}
	})

	t.Run("MixedHistory", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, genuine, genuine, genuine+"|100,70,95,68")
		v := New(store, profile.DefaultParams())

		_, err := v.Verify(ctx, tenantID, accountID, genuine)
		if !errors.Is(err, domain.ErrProfileInconsistency) {
			t.Errorf("expected ErrProfileInconsistency, got %v", err)
		}
	})

	t.Run("ParseError", func(t *testing.T) {
		store := newMemStore()
		v := New(store, profile.DefaultParams())

		_, err := v.Verify(ctx, tenantID, accountID, "0,0,1,2,3,h1|97,x,100,65")
		if !errors.Is(err, domain.ErrParse) {
			t.Errorf("expected ErrParse, got %v", err)
		}
		if len(store.limits) != 0 {
			t.Error("expected no store access for malformed input")
		}
	})

	t.Run("StoreError", func(t *testing.T) {
		store := newMemStore()
		store.fetchErr = errors.New("connection refused")
		v := New(store, profile.DefaultParams())

		_, err := v.Verify(ctx, tenantID, accountID, genuine)
		if !errors.Is(err, domain.ErrStore) {
			t.Errorf("expected ErrStore, got %v", err)
		}
	})

	t.Run("RequiresIdentifiers", func(t *testing.T) {
		v := New(newMemStore(), profile.DefaultParams())
		if _, err := v.Verify(ctx, "", accountID, genuine); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := v.Verify(ctx, tenantID, "", genuine); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("TraceHook", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 5)...)

		var got []Trace
		v := New(store, profile.DefaultParams(), WithTrace(func(ctx context.Context, tr Trace) {
			got = append(got, tr)
		}))

		res, err := v.Verify(ctx, tenantID, accountID, genuine)
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("expected 1 trace, got %d", len(got))
		}
		if got[0].Threshold != res.Threshold || got[0].Confidence != res.Confidence || got[0].ObservedDistance != res.ObservedDistance {
			t.Errorf("trace %+v does not match result %+v", got[0], res)
		}
	})
}

func TestBuildProfile(t *testing.T) {
	ctx := context.Background()

	t.Run("WindowCapsAtFive", func(t *testing.T) {
		store := newMemStore()
		old := "0,0,1,2,3,h1|10,20,30,40|11,20,30,41|12,20,30,42"
		store.seed(t, accountID, repeat(old, 45)...)
		store.seed(t, accountID, repeat(genuine, 5)...)
		if store.count(accountID) != 50 {
			t.Fatalf("expected 50 stored samples, got %d", store.count(accountID))
		}

		v := New(store, profile.DefaultParams())
		p, err := v.BuildProfile(ctx, tenantID, accountID)
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}

		if len(store.limits) != 1 || store.limits[0] != 5 {
			t.Errorf("expected a single fetch with limit 5, got %v", store.limits)
		}
		if p.Samples != 5 {
			t.Errorf("expected 5 samples in profile, got %d", p.Samples)
		}
		if got := p.Centroid[domain.ChannelCharCode]; !reflect.DeepEqual(got, []float64{97, 98, 99}) {
			t.Errorf("expected centroid from newest samples only, got %v", got)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID,
			genuine,
			"0,0,1,2,3,h1|97,0,104,65|98,45,112,66|99,58,93,67",
			"0,0,1,2,3,h1|97,0,97,65|98,38,108,66|99,63,88,67",
			"0,0,1,2,3,h1|97,0,101,65|98,42,115,66|99,55,91,67",
		)
		v := New(store, profile.DefaultParams())

		p1, err := v.BuildProfile(ctx, tenantID, accountID)
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}
		p2, err := v.BuildProfile(ctx, tenantID, accountID)
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}
		if !reflect.DeepEqual(p1, p2) {
			t.Errorf("expected identical profiles:\n%+v\n%+v", p1, p2)
		}
		if p1.Threshold < 50 || p1.Threshold > 1000 {
			t.Errorf("threshold %v outside [50, 1000]", p1.Threshold)
		}
	})

	t.Run("EmptyAccount", func(t *testing.T) {
		v := New(newMemStore(), profile.DefaultParams())
		p, err := v.BuildProfile(ctx, tenantID, "nobody")
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}
		if !p.Empty() || p.Threshold != 0 {
			t.Errorf("expected empty profile, got %+v", p)
		}
	})

	t.Run("IdenticalHistoryFloorsThreshold", func(t *testing.T) {
		raw := "1,0,1,5,8,pw|104,0,80,72|101,130,95,69|108,120,88,76|108,110,90,76|111,140,85,79|119,150,92,87|111,100,87,79|114,125,93,82"
		store := newMemStore()
		store.seed(t, accountID, repeat(raw, 5)...)

		p, err := New(store, profile.DefaultParams()).BuildProfile(ctx, tenantID, accountID)
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}
		if p.Keystrokes != 8 || p.Threshold != 50 {
			t.Errorf("expected K=8 and threshold 50, got K=%d threshold=%v", p.Keystrokes, p.Threshold)
		}
		for _, c := range domain.Channels {
			for i, d := range p.Dispersion[c] {
				if d != 1 {
					t.Errorf("dispersion %s[%d]: expected 1, got %v", c, i, d)
				}
			}
		}
		if !p.Fingerprint.IsMobile || p.Fingerprint.PasswordLength != 8 {
			t.Errorf("unexpected fingerprint: %+v", p.Fingerprint)
		}
	})

	t.Run("CachedByHistoryDigest", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 3)...)
		lru := cache.NewLRUCache(100)
		v := New(store, profile.DefaultParams(), WithCache(lru, 0))

		p1, err := v.BuildProfile(ctx, tenantID, accountID)
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}
		cached, err := lru.GetProfile(ctx, tenantID, accountID+":"+p1.Digest)
		if err != nil || cached == nil {
			t.Fatalf("expected cached profile, got %v (err=%v)", cached, err)
		}

		store.seed(t, accountID, genuine)
		p2, err := v.BuildProfile(ctx, tenantID, accountID)
		if err != nil {
			t.Fatalf("BuildProfile failed: %v", err)
		}
		if p2.Digest == p1.Digest || p2.Samples != 4 {
			t.Errorf("expected a fresh profile after enrollment, got digest %s samples %d", p2.Digest, p2.Samples)
		}
	})
}

func TestEnroll(t *testing.T) {
	ctx := context.Background()

	t.Run("Appends", func(t *testing.T) {
		store := newMemStore()
		v := New(store, profile.DefaultParams())
		for i := 0; i < 3; i++ {
			if err := v.Enroll(ctx, tenantID, accountID, genuine); err != nil {
				t.Fatalf("Enroll failed: %v", err)
			}
		}
		if store.count(accountID) != 3 {
			t.Errorf("expected 3 samples, got %d", store.count(accountID))
		}
	})

	t.Run("RejectsMalformed", func(t *testing.T) {
		store := newMemStore()
		v := New(store, profile.DefaultParams())
		if err := v.Enroll(ctx, tenantID, accountID, "garbage"); !errors.Is(err, domain.ErrParse) {
			t.Errorf("expected ErrParse, got %v", err)
		}
		if store.count(accountID) != 0 {
			t.Error("expected nothing stored")
		}
	})

	t.Run("RejectsKeystrokeCountChange", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, genuine)
		v := New(store, profile.DefaultParams())

		err := v.Enroll(ctx, tenantID, accountID, genuine+"|100,70,95,68")
		if !errors.Is(err, domain.ErrProfileInconsistency) {
			t.Errorf("expected ErrProfileInconsistency, got %v", err)
		}
		if store.count(accountID) != 1 {
			t.Errorf("expected history unchanged, got %d samples", store.count(accountID))
		}
	})

	t.Run("FetchError", func(t *testing.T) {
		store := newMemStore()
		store.fetchErr = fmt.Errorf("connection reset")
		v := New(store, profile.DefaultParams())
		if err := v.Enroll(ctx, tenantID, accountID, genuine); !errors.Is(err, domain.ErrStore) {
			t.Errorf("expected ErrStore, got %v", err)
		}
	})

	t.Run("StoreError", func(t *testing.T) {
		store := newMemStore()
		store.appendErr = fmt.Errorf("disk full")
		v := New(store, profile.DefaultParams())
		if err := v.Enroll(ctx, tenantID, accountID, genuine); !errors.Is(err, domain.ErrStore) {
			t.Errorf("expected ErrStore, got %v", err)
		}
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()

	t.Run("ClearsHistory", func(t *testing.T) {
		store := newMemStore()
		store.seed(t, accountID, repeat(genuine, 4)...)
		v := New(store, profile.DefaultParams())

		n, err := v.Reset(ctx, tenantID, accountID)
		if err != nil {
			t.Fatalf("Reset failed: %v", err)
		}
		if n != 4 || store.count(accountID) != 0 {
			t.Errorf("expected 4 deleted and none left, got %d deleted and %d left", n, store.count(accountID))
		}

		longer := genuine + "|100,70,95,68"
		if err := v.Enroll(ctx, tenantID, accountID, longer); err != nil {
			t.Errorf("expected a new keystroke count to enroll after reset, got %v", err)
		}
	})

	t.Run("RequiresIdentifiers", func(t *testing.T) {
		v := New(newMemStore(), profile.DefaultParams())
		if _, err := v.Reset(ctx, tenantID, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
