package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Config describes one load test run.
type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Targets     []string
}

// Stats accumulates results from every worker.
type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
	byRoute     map[string]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
		byRoute:     make(map[string]int64),
	}
}

func (s *Stats) RecordRequest(route string, duration time.Duration, statusCode int, cacheHit bool, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}

	s.mu.Lock()
	s.latencies = append(s.latencies, duration)
	s.statusCodes[statusCode]++
	s.byRoute[route]++
	s.mu.Unlock()
}

// defaultTargets mixes the legacy routes with the versioned API.
func defaultTargets() []string {
	authors := []string{"frost", "dickinson", "shakespeare", "yeats", "keats"}
	titles := []string{"night", "love", "sonnet", "road", "spring"}
	types := []string{"Love", "Nature", "Mythology & Folklore"}

	var targets []string
	for _, a := range authors {
		targets = append(targets, "/author/"+url.PathEscape(a))
	}
	for _, t := range titles {
		targets = append(targets,
			"/title/"+url.PathEscape(t),
			"/api/v1/search/content?q="+url.QueryEscape(t)+"&limit=10",
			"/api/v1/fuzzy/title/"+url.PathEscape(t)+"?distance=1",
		)
	}
	for _, t := range types {
		targets = append(targets, "/type/"+url.PathEscape(t))
	}
	return append(targets,
		"/groupcounts/author",
		"/api/v1/search/title?sort=title&limit=20",
		"/api/v1/search/content?q="+url.QueryEscape("/^the/"),
	)
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "base URL of the poem search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Targets:     defaultTargets(),
	}

	fmt.Println("=== Poem Search Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Routes:      %d unique\n", len(cfg.Targets))
	fmt.Println()

	fmt.Print("Running")
	stats := runLoadTest(context.Background(), cfg, func() { fmt.Print(".") })
	fmt.Println(" done!")
	fmt.Println()

	if !printReport(os.Stdout, stats, cfg.Duration) {
		os.Exit(1)
	}
}

func runLoadTest(parent context.Context, cfg Config, progress func()) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(parent, cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := range cfg.Concurrency {
		wg.Go(func() {
			idx := w
			for ctx.Err() == nil {
				target := cfg.Targets[idx%len(cfg.Targets)]
				idx++
				start := time.Now()
				status, hit, err := fetch(ctx, client, cfg.BaseURL+target)
				if ctx.Err() != nil {
					return
				}
				stats.RecordRequest(routeOf(target), time.Since(start), status, hit, err)
			}
		})
	}

	if progress != nil {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					progress()
				}
			}
		}()
	}

	wg.Wait()
	return stats
}

// fetch issues one GET and reports the cache_hit flag of /api/v1 envelopes.
func fetch(ctx context.Context, client *http.Client, rawURL string) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	var envelope struct {
		CacheHit bool `json:"cache_hit"`
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, false, err
	}
	if len(body) > 0 && body[0] == '{' {
		_ = json.Unmarshal(body, &envelope)
	}
	return resp.StatusCode, envelope.CacheHit, nil
}

// routeOf reduces a target to its route family, e.g. "/author" or "/api/v1/search".
func routeOf(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	path := u.Path
	slashes := 0
	limit := 2
	if len(path) > 7 && path[:7] == "/api/v1" {
		limit = 4
	}
	for i, c := range path {
		if c == '/' {
			slashes++
			if slashes == limit {
				return path[:i]
			}
		}
	}
	return path
}

// printReport writes the summary and reports whether any request completed.
func printReport(w io.Writer, stats *Stats, duration time.Duration) bool {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	errors := stats.errorCount.Load()

	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", success)
	fmt.Fprintf(w, "Errors:          %d\n", errors)
	fmt.Fprintf(w, "Cache Hits:      %d\n", stats.cacheHits.Load())

	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	stats.mu.Lock()
	latencies := append([]time.Duration(nil), stats.latencies...)
	codes := make(map[int]int64, len(stats.statusCodes))
	for k, v := range stats.statusCodes {
		codes[k] = v
	}
	routes := make(map[string]int64, len(stats.byRoute))
	for k, v := range stats.byRoute {
		routes[k] = v
	}
	stats.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
		fmt.Fprintf(w, "P90:    %s\n", percentile(latencies, 90))
		fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
		fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])

		var sumSquared float64
		for _, l := range latencies {
			diff := float64(l) - float64(avg)
			sumSquared += diff * diff
		}
		fmt.Fprintf(w, "StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(latencies)))))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)
	for _, code := range keys {
		fmt.Fprintf(w, "  %d: %d\n", code, codes[code])
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Routes ===")
	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-24s %d\n", name, routes[name])
	}

	if total == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
