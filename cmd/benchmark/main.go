// Benchmark tool for measuring Cadence accuracy on labelled typing data.
//
// Usage:
//
//	go run ./cmd/benchmark -users 50 -attempts 20
//	go run ./cmd/benchmark -csv /path/to/samples.csv
//
// This tool:
//  1. Generates (or reads) enrollment samples and labelled login attempts
//  2. Enrolls each account into a temporary SQLite store
//  3. Verifies every attempt in-process with the configured model
//  4. Reports false accept / false reject rates and latency
//
// The CSV format is: account,label,keystroke where label is "enroll",
// "genuine" or "impostor". Keystroke fields use the wire format and must be
// quoted because they contain commas.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/cadence/internal/domain"
	"github.com/opensource-finance/cadence/internal/keystroke"
	"github.com/opensource-finance/cadence/internal/policy"
	"github.com/opensource-finance/cadence/internal/profile"
	"github.com/opensource-finance/cadence/internal/repository"
	"github.com/opensource-finance/cadence/internal/verifier"
)

const tenantID = "benchmark"

// Attempt is one labelled login attempt.
type Attempt struct {
	Account  string
	Raw      string
	Impostor bool
}

// Dataset holds enrollment samples per account and the attempts to score.
type Dataset struct {
	Enroll   map[string][]string
	Attempts []Attempt
}

// Metrics tracks benchmark results
type Metrics struct {
	TrueAccepts  int64 // genuine attempt verified
	FalseRejects int64 // genuine attempt rejected
	TrueRejects  int64 // impostor attempt rejected
	FalseAccepts int64 // impostor attempt verified

	TotalProcessed int64
	TotalErrors    int64

	ProcessingTimeUs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to a labelled samples CSV (synthetic data when empty)")
	users := flag.Int("users", 50, "Synthetic accounts to generate")
	enroll := flag.Int("enroll", 5, "Synthetic enrollment samples per account")
	attempts := flag.Int("attempts", 20, "Synthetic attempts per account, half of them impostors")
	jitter := flag.Float64("jitter", 0.08, "Relative timing noise of genuine samples")
	seed := flag.Uint64("seed", 1, "Random seed for synthetic data")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each attempt result")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	fmt.Println("CADENCE BENCHMARK - keystroke verification")
	fmt.Println()

	var (
		data *Dataset
		err  error
	)
	if *csvPath != "" {
		fmt.Printf("Reading samples from %s...\n", *csvPath)
		data, err = readCSV(*csvPath)
	} else {
		fmt.Printf("Generating %d accounts (seed %d, jitter %.2f)...\n", *users, *seed, *jitter)
		data = generate(*users, *enroll, *attempts, *jitter, *seed)
	}
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d accounts and %d attempts\n", len(data.Enroll), len(data.Attempts))

	dir, err := os.MkdirTemp("", "cadence-benchmark-*")
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	cfg := domain.DefaultConfig()
	cfg.Repository.SQLitePath = filepath.Join(dir, "benchmark.db")
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		fmt.Printf("ERROR: open store: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	pol, err := policy.New(cfg.Policy)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	svc := verifier.NewService(verifier.New(repo, profile.ParamsFromConfig(cfg.Model)), repo, pol, nil)

	ctx := context.Background()
	for account, raws := range data.Enroll {
		for _, raw := range raws {
			if err := svc.Enroll(ctx, tenantID, account, raw); err != nil {
				fmt.Printf("ERROR: enroll %s: %v\n", account, err)
				os.Exit(1)
			}
		}
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	start := time.Now()
	metrics := runBenchmark(ctx, svc, data.Attempts, *workers, *verbose)
	printResults(metrics, time.Since(start))
}

// generate builds synthetic accounts that share the same password shape but
// differ in per-key rhythm. Impostor attempts type the victim's password
// with another account's rhythm.
func generate(users, enroll, attempts int, jitter float64, seed uint64) *Dataset {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	type rhythm struct{ seek, press []float64 }
	const pwdLen = 8

	password := make([]float64, pwdLen)
	for i := range password {
		password[i] = float64('a' + rng.IntN(26))
	}
	rhythms := make([]rhythm, users)
	for u := range rhythms {
		r := rhythm{seek: make([]float64, pwdLen), press: make([]float64, pwdLen)}
		for i := range pwdLen {
			r.seek[i] = 80 + rng.Float64()*170
			r.press[i] = 60 + rng.Float64()*80
		}
		rhythms[u] = r
	}

	noisy := func(v float64) float64 {
		return max(1, v*(1+rng.NormFloat64()*jitter))
	}
	sample := func(r rhythm) string {
		s := &domain.KeystrokeSample{
			Device:    []string{"0", "0", "1", "0", fmt.Sprint(pwdLen), "bench-pwd"},
			CharCode:  make([]float64, pwdLen),
			SeekTime:  make([]float64, pwdLen),
			PressTime: make([]float64, pwdLen),
			KeyCode:   make([]float64, pwdLen),
		}
		for i := range pwdLen {
			s.CharCode[i] = password[i]
			s.KeyCode[i] = password[i] - 32
			s.SeekTime[i] = float64(int(noisy(r.seek[i])))
			s.PressTime[i] = float64(int(noisy(r.press[i])))
		}
		return keystroke.Format(s)
	}

	data := &Dataset{Enroll: make(map[string][]string, users)}
	for u := range users {
		account := fmt.Sprintf("user-%03d", u)
		for range enroll {
			data.Enroll[account] = append(data.Enroll[account], sample(rhythms[u]))
		}
		for a := range attempts {
			impostor := users > 1 && a%2 == 1
			r := rhythms[u]
			if impostor {
				r = rhythms[(u+1+rng.IntN(users-1))%users]
			}
			data.Attempts = append(data.Attempts, Attempt{Account: account, Raw: sample(r), Impostor: impostor})
		}
	}
	return data
}

func readCSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 3

	data := &Dataset{Enroll: make(map[string][]string)}
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		account, label, raw := record[0], strings.ToLower(record[1]), record[2]
		switch label {
		case "label":
			continue // header
		case "enroll":
			data.Enroll[account] = append(data.Enroll[account], raw)
		case "genuine", "impostor":
			data.Attempts = append(data.Attempts, Attempt{Account: account, Raw: raw, Impostor: label == "impostor"})
		default:
			return nil, fmt.Errorf("line %d: unknown label %q", line, record[1])
		}
	}
	return data, nil
}

func runBenchmark(ctx context.Context, svc *verifier.Service, attempts []Attempt, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan Attempt, 100)
	var wg sync.WaitGroup

	for range max(1, numWorkers) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for at := range work {
				start := time.Now()
				res, err := svc.Verifier().Verify(ctx, tenantID, at.Account, at.Raw)
				var verified bool
				if err == nil {
					verified, err = svc.Policy().Verified(policy.Input{
						Confidence: res.Confidence,
						Outcome:    res.Outcome,
						History:    res.HistorySize,
					})
				}
				atomic.AddInt64(&metrics.ProcessingTimeUs, time.Since(start).Microseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", at.Account, err)
					}
					continue
				}

				switch {
				case !at.Impostor && verified:
					atomic.AddInt64(&metrics.TrueAccepts, 1)
				case !at.Impostor:
					atomic.AddInt64(&metrics.FalseRejects, 1)
				case verified:
					atomic.AddInt64(&metrics.FalseAccepts, 1)
				default:
					atomic.AddInt64(&metrics.TrueRejects, 1)
				}

				if verbose {
					mark := "ok "
					if verified == at.Impostor {
						mark = "BAD"
					}
					fmt.Printf("%s %-10s | impostor: %-5v | conf %.3f | dist %8.2f / %8.2f\n",
						mark, at.Account, at.Impostor, res.Confidence, res.ObservedDistance, res.Threshold)
				}
			}
		}()
	}

	for _, at := range attempts {
		work <- at
	}
	close(work)
	wg.Wait()

	return metrics
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Genuine:          %d\n", m.TrueAccepts+m.FalseRejects)
	fmt.Printf("   Impostor:         %d\n", m.TrueRejects+m.FalseAccepts)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                   verified   rejected")
	fmt.Printf("   genuine       %10d %10d\n", m.TrueAccepts, m.FalseRejects)
	fmt.Printf("   impostor      %10d %10d\n", m.FalseAccepts, m.TrueRejects)

	rate := func(n, d int64) float64 {
		if d == 0 {
			return 0
		}
		return float64(n) / float64(d)
	}
	far := rate(m.FalseAccepts, m.FalseAccepts+m.TrueRejects)
	frr := rate(m.FalseRejects, m.FalseRejects+m.TrueAccepts)
	total := m.TrueAccepts + m.FalseRejects + m.TrueRejects + m.FalseAccepts
	accuracy := rate(m.TrueAccepts+m.TrueRejects, total)

	fmt.Printf("\nERROR RATES\n")
	fmt.Printf("   FAR:        %.4f  (impostors verified)\n", far)
	fmt.Printf("   FRR:        %.4f  (genuine users rejected)\n", frr)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.1f us\n", float64(m.ProcessingTimeUs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f attempts/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
