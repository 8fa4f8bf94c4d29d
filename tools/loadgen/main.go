// Command loadgen drives an engined instance with concurrent sessions and
// reports dispatch latency. Output is deterministic in shape so it can be
// consumed by automation; the final line is always a machine-readable
// summary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	enginelink "github.com/enginelink/enginelink/sdk/go"
)

const ToolVersion = "0.1.0"

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitInvalidArgs  = 2
	ExitMismatch     = 4
)

type Config struct {
	Addr      string
	Sessions  int
	Events    int
	Format    string
	Timeout   time.Duration
	AppScript string
}

// Output is the stable, structured loadgen output.
type Output struct {
	ToolVersion  string `json:"tool_version"`
	Addr         string `json:"addr"`
	Sessions     int    `json:"sessions"`
	EventsPerSes int    `json:"events_per_session"`
	Dispatches   int64  `json:"dispatches"`
	Errors       int64  `json:"errors"`
	Mismatches   int64  `json:"fingerprint_mismatches"`
	P50Ms        int64  `json:"p50_ms"`
	P95Ms        int64  `json:"p95_ms"`
	MaxMs        int64  `json:"max_ms"`
}

func summaryLine(status string, code int, dur time.Duration) string {
	return fmt.Sprintf("%s code=%d duration_ms=%d", status, code, dur.Milliseconds())
}

// parseFlags validates CLI flags without letting the flag package os.Exit,
// so exit codes stay contract-stable.
func parseFlags(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("enginelink-loadgen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Addr, "addr", "127.0.0.1:7777", "engine address")
	fs.IntVar(&cfg.Sessions, "sessions", 4, "concurrent sessions")
	fs.IntVar(&cfg.Events, "events", 100, "dispatches per session")
	fs.StringVar(&cfg.Format, "format", "json", "output format (json|text)")
	fs.DurationVar(&cfg.Timeout, "timeout", 60*time.Second, "overall deadline")
	fs.StringVar(&cfg.AppScript, "script", `app "loadgen" {}`, "app script source")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("flag parse error: %w", err)
	}
	if cfg.Sessions < 1 || cfg.Events < 1 {
		return nil, errors.New("--sessions and --events must be positive")
	}
	if cfg.Format != "json" && cfg.Format != "text" {
		return nil, fmt.Errorf("unknown format %q", cfg.Format)
	}
	return cfg, nil
}

type results struct {
	mu         sync.Mutex
	latencies  []time.Duration
	errors     int64
	mismatches int64
}

func (r *results) record(d time.Duration) {
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

func runSession(ctx context.Context, cfg *Config, id int, res *results) {
	client, err := enginelink.New(enginelink.Options{
		Addr:               cfg.Addr,
		AppScript:          cfg.AppScript,
		VerifyFingerprints: true,
		Logs: enginelink.LogSinkFunc(func(level, msg string, fields map[string]any) {
			if msg == "fingerprint mismatch" {
				res.mu.Lock()
				res.mismatches++
				res.mu.Unlock()
			}
		}),
	})
	if err != nil {
		res.mu.Lock()
		res.errors++
		res.mu.Unlock()
		return
	}
	if err := client.Ready(ctx, nil); err != nil {
		res.mu.Lock()
		res.errors++
		res.mu.Unlock()
		return
	}
	for i := 0; i < cfg.Events; i++ {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := client.Dispatch(ctx, "state", "set", map[string]any{
			"session": id,
			"i":       i,
		})
		if err != nil {
			res.mu.Lock()
			res.errors++
			res.mu.Unlock()
			continue
		}
		res.record(time.Since(start))
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func run(cfg *Config, stdout io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	res := &results{}
	var wg sync.WaitGroup
	for i := 0; i < cfg.Sessions; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runSession(ctx, cfg, id, res)
		}(i)
	}
	wg.Wait()

	sort.Slice(res.latencies, func(i, j int) bool { return res.latencies[i] < res.latencies[j] })
	out := Output{
		ToolVersion:  ToolVersion,
		Addr:         cfg.Addr,
		Sessions:     cfg.Sessions,
		EventsPerSes: cfg.Events,
		Dispatches:   int64(len(res.latencies)),
		Errors:       res.errors,
		Mismatches:   res.mismatches,
		P50Ms:        percentile(res.latencies, 0.50).Milliseconds(),
		P95Ms:        percentile(res.latencies, 0.95).Milliseconds(),
	}
	if n := len(res.latencies); n > 0 {
		out.MaxMs = res.latencies[n-1].Milliseconds()
	}

	switch cfg.Format {
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	case "text":
		fmt.Fprintf(stdout, "dispatches=%d errors=%d mismatches=%d p50=%dms p95=%dms max=%dms\n",
			out.Dispatches, out.Errors, out.Mismatches, out.P50Ms, out.P95Ms, out.MaxMs)
	}

	switch {
	case out.Mismatches > 0:
		return ExitMismatch
	case out.Dispatches == 0:
		return ExitGeneralError
	default:
		return ExitSuccess
	}
}

func main() {
	start := time.Now()

	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "loadgen:", err)
		fmt.Println(summaryLine("INVALID_ARGS", ExitInvalidArgs, time.Since(start)))
		os.Exit(ExitInvalidArgs)
	}

	code := run(cfg, os.Stdout)
	status := "OK"
	if code != ExitSuccess {
		status = "FAIL"
	}
	fmt.Println(summaryLine(status, code, time.Since(start)))
	os.Exit(code)
}
