// Command dinghy-loadtest hammers the access gate with concurrent downloads
// for a set of hot keys and reports throughput, latency percentiles, and how
// far past the nominal limit the soft cap drifted under contention.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dinghy-sh/dinghy/internal/counter"
	"github.com/dinghy-sh/dinghy/internal/gate"
)

func main() {
	var (
		keys        = flag.Int("keys", 1000, "number of distinct file keys")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "total gate checks to issue")
		limit       = flag.Int64("limit", 100, "per-key access limit")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *keys <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "keys, concurrency, and ops must be > 0")
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
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	counters := counter.NewStore(client, "fc")
	g := gate.New(counters)

	keyNames := make([]string, *keys)
	for i := range keyNames {
		keyNames[i] = fmt.Sprintf("load-%06d", i)
	}

	var (
		allowed   atomic.Uint64
		denied    atomic.Uint64
		failed    atomic.Uint64
		latencies = make([][]time.Duration, *concurrency)
	)

	perWorker := *ops / *concurrency
	total := perWorker * (*concurrency)
	fmt.Printf("issuing %d checks across %d workers (%d keys, limit %d)...\n",
		total, *concurrency, *keys, *limit)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			lats := make([]time.Duration, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				key := keyNames[rng.Intn(len(keyNames))]
				t0 := time.Now()
				err := g.CheckAndRecord(ctx, key, *limit)
				lats = append(lats, time.Since(t0))
				switch err {
				case nil:
					allowed.Add(1)
				case gate.ErrLimitReached:
					denied.Add(1)
				default:
					failed.Add(1)
				}
			}
			latencies[w] = lats
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var all []time.Duration
	for _, lats := range latencies {
		all = append(all, lats...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	completed := allowed.Load() + denied.Load() + failed.Load()
	fmt.Printf("done in %s: %.0f ops/s, allowed=%d denied=%d failed=%d\n",
		elapsed.Round(time.Millisecond), float64(completed)/elapsed.Seconds(),
		allowed.Load(), denied.Load(), failed.Load())
	fmt.Printf("latency p50=%s p99=%s max=%s\n",
		percentile(all, 0.50), percentile(all, 0.99), all[len(all)-1])

	// Soft-cap drift: how far any key's counter overshot the limit.
	var maxOver int64
	for _, key := range keyNames {
		count, err := counters.Get(ctx, key)
		if err != nil {
			continue
		}
		if over := count - *limit; over > maxOver {
			maxOver = over
		}
	}
	fmt.Printf("max overshoot past limit: %d\n", maxOver)
}

func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * q)
	return sorted[idx]
}
