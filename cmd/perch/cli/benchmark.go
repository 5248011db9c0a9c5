package cli

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/purrrlove/perch/internal/ratelimit"
)

func newBenchmarkCmd() *cobra.Command {
	var (
		redisAddr   string
		duration    time.Duration
		concurrency int
		limit       int64
	)

	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Benchmark rate-limit counter throughput",
		Long: `Run a load test against the rate-limit counter store to measure check
throughput and latency, and verify that a shared bucket admits exactly its
limit under concurrency. Uses the in-process store unless --redis is given.`,
		Example: `  perch benchmark --duration 10s --concurrency 50
  perch benchmark --redis localhost:6379 --concurrency 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLimiterBenchmark(redisAddr, duration, concurrency, limit)
		},
	}

	cmd.Flags().StringVar(&redisAddr, "redis", "", "Redis address (in-process counters if omitted)")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "Test duration")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "Number of concurrent workers")
	cmd.Flags().Int64Var(&limit, "limit", 10000, "Bucket limit for the exactness check")

	return cmd
}

func printBenchBanner(backend string, duration time.Duration, concurrency int) {
	fmt.Print(banner)
	fmt.Println("Perch Rate-Limit Benchmark")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Backend: %s\n", backend)
	fmt.Printf("Duration: %s | Concurrency: %d\n", duration, concurrency)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

type memSnapshot struct {
	HeapAlloc uint64
	Sys       uint64
}

func captureMem() memSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return memSnapshot{HeapAlloc: m.HeapAlloc, Sys: m.Sys}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

func runLimiterBenchmark(redisAddr string, duration time.Duration, concurrency int, limit int64) error {
	ctx := context.Background()

	backend := "memory"
	var counters ratelimit.CounterStore
	if redisAddr != "" {
		backend = "redis @ " + redisAddr
		rc, err := ratelimit.DialRedis(ctx, redisAddr, "", 0)
		if err != nil {
			return err
		}
		defer rc.Close()
		counters = rc
	} else {
		counters = ratelimit.NewMemoryCounters()
	}

	printBenchBanner(backend, duration, concurrency)

	memBefore := captureMem()

	tiers := map[string]ratelimit.Tier{
		"bench": {Name: "bench", Limit: limit, Window: time.Hour},
	}
	limiter := ratelimit.NewLimiter(counters, tiers)

	// Throughput phase: each worker hammers its own bucket so contention
	// stays realistic without tripping the limit.
	fmt.Println("Running throughput phase...")

	var (
		totalChecks atomic.Int64
		totalErrors atomic.Int64
		latencies   = make([]time.Duration, 0, 100000)
		latencyMu   sync.Mutex
	)

	deadline := time.Now().Add(duration)
	var wg sync.WaitGroup

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			key := fmt.Sprintf("bench:worker:%d", worker)
			for time.Now().Before(deadline) {
				start := time.Now()
				_, err := limiter.Check(ctx, key, "bench")
				elapsed := time.Since(start)

				if err != nil {
					totalErrors.Add(1)
					continue
				}
				totalChecks.Add(1)
				latencyMu.Lock()
				latencies = append(latencies, elapsed)
				latencyMu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	// Exactness phase: all workers share one bucket; exactly limit checks
	// must be admitted no matter how the goroutines interleave.
	fmt.Println("Running exactness phase...")

	var allowed, denied atomic.Int64
	perWorker := (limit + int64(concurrency*100)) / int64(concurrency)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := int64(0); j < perWorker; j++ {
				d, err := limiter.Check(ctx, "bench:shared", "bench")
				if err != nil {
					continue
				}
				if d.Allowed {
					allowed.Add(1)
				} else {
					denied.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	memAfter := captureMem()

	total := totalChecks.Load()
	qps := float64(total) / duration.Seconds()

	fmt.Println()
	fmt.Println("Results")
	fmt.Println("-------")
	fmt.Printf("  Total checks:   %d\n", total)
	fmt.Printf("  Errors:         %d\n", totalErrors.Load())
	fmt.Printf("  Checks/sec:     %.1f\n", qps)

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})
		fmt.Printf("  Latency p50:    %s\n", latencies[len(latencies)*50/100])
		fmt.Printf("  Latency p95:    %s\n", latencies[len(latencies)*95/100])
		fmt.Printf("  Latency p99:    %s\n", latencies[len(latencies)*99/100])
		fmt.Printf("  Latency max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("Exactness")
	fmt.Println("---------")
	fmt.Printf("  Bucket limit:   %d\n", limit)
	fmt.Printf("  Allowed:        %d\n", allowed.Load())
	fmt.Printf("  Denied:         %d\n", denied.Load())
	if allowed.Load() == limit {
		fmt.Println("  Exactly the limit was admitted.")
	} else {
		fmt.Printf("  MISMATCH: expected exactly %d admissions\n", limit)
	}

	fmt.Println()
	fmt.Println("Memory")
	fmt.Println("------")
	fmt.Printf("  Heap before:    %s\n", formatBytes(memBefore.HeapAlloc))
	fmt.Printf("  Heap after:     %s\n", formatBytes(memAfter.HeapAlloc))
	fmt.Printf("  Sys before:     %s\n", formatBytes(memBefore.Sys))
	fmt.Printf("  Sys after:      %s\n", formatBytes(memAfter.Sys))

	return nil
}
