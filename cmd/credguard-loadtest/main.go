package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/credguard"
)

const loadPassword = "Load-Test-Passw0rd!"

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func main() {
	var (
		sessions    = flag.Int("sessions", 500, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase (validate + refresh)")
		races       = flag.Int("races", 200, "families raced with concurrent refreshes")
		racers      = flag.Int("racers", 8, "concurrent refreshes per raced family")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 || *racers < 2 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency and ops must be > 0 and racers >= 2")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	engine, err := buildEngine(client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	states, err := seed(ctx, engine, *sessions, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, engine, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, engine, states, *ops, *concurrency)
	violations, err := runRacePhase(ctx, engine, *races, *racers, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "race phase failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	fmt.Printf("race: families=%d racers=%d violations=%d\n", *races, *racers, violations)

	snap := engine.MetricsSnapshot()
	fmt.Printf("reuse detections=%d refresh failures=%d\n",
		snap.Counters[credguard.MetricRefreshReuseDetected],
		snap.Counters[credguard.MetricRefreshFailure])

	if violations > 0 {
		os.Exit(1)
	}
}

// staticUsers serves one account per session so lockout and refresh state
// stay independent.
type staticUsers struct {
	hash string
}

func (s staticUsers) GetUserByIdentifier(_ context.Context, identifier string) (credguard.UserRecord, error) {
	if !strings.HasPrefix(identifier, "user-") {
		return credguard.UserRecord{}, credguard.ErrUserNotFound
	}
	return credguard.UserRecord{UserID: identifier, Identifier: identifier, PasswordHash: s.hash}, nil
}

func (s staticUsers) GetUserByID(ctx context.Context, userID string) (credguard.UserRecord, error) {
	return s.GetUserByIdentifier(ctx, userID)
}

func (staticUsers) UpdatePasswordHash(context.Context, string, string) error {
	return nil
}

func buildEngine(client redis.UniversalClient) (*credguard.Engine, error) {
	cfg := credguard.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.Secret = []byte(strings.Repeat("L", 32))
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Password.HistoryDepth = 0
	cfg.Metrics.Enabled = true

	log := logrus.New()
	log.SetOutput(io.Discard)

	// Hash once with a throwaway engine so every account shares it.
	seeder, err := credguard.New().WithConfig(cfg).WithUserProvider(staticUsers{}).WithLogger(log).Build()
	if err != nil {
		return nil, err
	}
	hash, err := seeder.EnrollPassword(context.Background(), "load-seed", loadPassword)
	seeder.Close()
	if err != nil {
		return nil, err
	}

	return credguard.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(staticUsers{hash: hash}).
		WithLogger(log).
		Build()
}

func seed(ctx context.Context, engine *credguard.Engine, n, concurrency int) ([]sessionState, error) {
	states := make([]sessionState, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			res, err := engine.Login(gctx, fmt.Sprintf("user-%d", i), loadPassword)
			if err != nil {
				return err
			}
			states[i].access = res.AccessToken
			states[i].refresh = res.RefreshToken
			return nil
		})
	}
	return states, g.Wait()
}

func runValidatePhase(ctx context.Context, engine *credguard.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]
				state.mu.Lock()
				tok := state.access
				state.mu.Unlock()

				t0 := time.Now()
				_, err := engine.ValidateAccess(ctx, tok)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runRefreshPhase(ctx context.Context, engine *credguard.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				state := &states[r.Intn(len(states))]

				state.mu.Lock()
				t0 := time.Now()
				res, err := engine.Refresh(ctx, state.refresh)
				d := time.Since(t0)
				if err == nil {
					state.access = res.AccessToken
					state.refresh = res.RefreshToken
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

// runRacePhase starts fresh families and fires racers concurrent refreshes
// at each one's first token. Exactly one may succeed; the rest must see
// reuse. Any other outcome counts as a violation.
func runRacePhase(ctx context.Context, engine *credguard.Engine, families, racers, concurrency int) (int64, error) {
	var violations int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, concurrency/racers))
	for f := 0; f < families; f++ {
		f := f
		g.Go(func() error {
			login, err := engine.Login(gctx, fmt.Sprintf("user-race-%d", f), loadPassword)
			if err != nil {
				return err
			}

			var (
				wins   int64
				wg     sync.WaitGroup
				starts = make(chan struct{})
			)
			for r := 0; r < racers; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-starts
					_, err := engine.Refresh(gctx, login.RefreshToken)
					switch {
					case err == nil:
						atomic.AddInt64(&wins, 1)
					case errors.Is(err, credguard.ErrTokenReused), errors.Is(err, credguard.ErrRefreshInvalid):
					default:
						atomic.AddInt64(&violations, 1)
					}
				}()
			}
			close(starts)
			wg.Wait()

			if wins != 1 {
				atomic.AddInt64(&violations, 1)
			}
			return nil
		})
	}
	return violations, g.Wait()
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
