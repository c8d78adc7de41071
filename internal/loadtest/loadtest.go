// Package loadtest exercises a vault under concurrent access.
//
// It populates a throwaway vault with generated prompts, then runs readers
// (full-text search) and writers (updates that rewrite the file, resync and
// snapshot a version) side by side, recording per-operation latency.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/record"
	"github.com/mschirtzinger/promptvault/internal/search"
	"github.com/mschirtzinger/promptvault/internal/storage"
	pvsync "github.com/mschirtzinger/promptvault/internal/sync"
	"github.com/mschirtzinger/promptvault/internal/version"
)

// Vault is a populated vault for load testing.
type Vault struct {
	Catalog *catalog.Catalog
	Service *storage.Service
	IDs     []string
}

// LatencyStats captures performance metrics from a run.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	Operations int
	Errors     int
	Durations  []time.Duration
}

// Result holds the read and write statistics of Run.
type Result struct {
	Reads   *LatencyStats
	Writes  *LatencyStats
	Elapsed time.Duration
}

// Options configures Run.
type Options struct {
	Readers         int
	Writers         int
	OpsPerWorker    int
	Queries         []string
	IncludeArchived bool
}

// words feeds the generated prompt bodies and the default queries.
var words = []string{
	"summarize", "translate", "review", "explain", "refactor", "classify",
	"extract", "rewrite", "outline", "critique", "draft", "compare",
}

// CreateVault creates a vault under dir holding n generated prompts.
func CreateVault(ctx context.Context, dir string, n int) (*Vault, error) {
	c, err := catalog.Open(filepath.Join(dir, "catalog.db"), quiet())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// Room for every worker plus the writers' transactions.
	c.RawDB().SetMaxOpenConns(64)
	c.RawDB().SetMaxIdleConns(16)

	if err := c.Migrate(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}

	store := record.NewStore(filepath.Join(dir, "prompts"), filepath.Join(dir, "archive"), quiet())
	index := search.New(c)
	svc := storage.New(store, c, pvsync.New(store, c, index, quiet()), index, version.New(c), quiet())

	v := &Vault{Catalog: c, Service: svc, IDs: make([]string, 0, n)}
	for _, in := range generatePrompts(n) {
		rec, err := svc.Create(ctx, in)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to create %s: %w", in.Name, err)
		}
		v.IDs = append(v.IDs, rec.ID)
	}
	return v, nil
}

// Close closes the vault's catalog.
func (v *Vault) Close() error {
	if v.Catalog != nil {
		return v.Catalog.Close()
	}
	return nil
}

// Run starts opts.Readers searchers and opts.Writers updaters, each doing
// opts.OpsPerWorker operations, and waits for all of them.
func (v *Vault) Run(ctx context.Context, opts Options) (*Result, error) {
	if len(v.IDs) == 0 {
		return nil, fmt.Errorf("vault is empty")
	}
	queries := opts.Queries
	if len(queries) == 0 {
		queries = words
	}

	var (
		wg                  sync.WaitGroup
		mu                  sync.Mutex
		reads, writes       []time.Duration
		readErrs, writeErrs int
	)
	collect := func(d []time.Duration, errs int, write bool) {
		mu.Lock()
		defer mu.Unlock()
		if write {
			writes = append(writes, d...)
			writeErrs += errs
		} else {
			reads = append(reads, d...)
			readErrs += errs
		}
	}

	start := time.Now()
	for i := 0; i < opts.Readers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			durations := make([]time.Duration, 0, opts.OpsPerWorker)
			errs := 0
			for j := 0; j < opts.OpsPerWorker && ctx.Err() == nil; j++ {
				q := queries[(worker+j)%len(queries)]
				t0 := time.Now()
				_, err := v.Service.Search(ctx, q, search.SearchOptions{Limit: 20, IncludeArchived: opts.IncludeArchived})
				durations = append(durations, time.Since(t0))
				if err != nil {
					errs++
				}
			}
			collect(durations, errs, false)
		}(i)
	}

	for i := 0; i < opts.Writers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker) + 1))
			durations := make([]time.Duration, 0, opts.OpsPerWorker)
			errs := 0
			for j := 0; j < opts.OpsPerWorker && ctx.Err() == nil; j++ {
				id := v.IDs[rng.Intn(len(v.IDs))]
				body := fmt.Sprintf("%s the input (worker %d, edit %d)", words[rng.Intn(len(words))], worker, j)
				t0 := time.Now()
				_, err := v.Service.Update(ctx, id, storage.UpdateInput{Content: &body, Reason: "load test"})
				durations = append(durations, time.Since(t0))
				if err != nil {
					errs++
				}
			}
			collect(durations, errs, true)
		}(i)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Elapsed: time.Since(start)}
	res.Reads = computeLatencyStats(reads)
	res.Reads.Errors = readErrs
	res.Writes = computeLatencyStats(writes)
	res.Writes.Errors = writeErrs
	return res, nil
}

// VerifyHistory checks that every record's version log is gapless and that
// its HEAD matches the record file.
func (v *Vault) VerifyHistory(ctx context.Context) error {
	for _, id := range v.IDs {
		versions, err := v.Service.Versions().ListVersions(ctx, id, version.ListOptions{})
		if err != nil {
			return err
		}
		for i, ver := range versions {
			if want := len(versions) - i; ver.Version != want {
				return fmt.Errorf("record %s: version %d at position %d, want %d", id, ver.Version, i, want)
			}
		}

		rec, err := v.Service.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if len(versions) > 0 && versions[0].Content != rec.Content {
			return fmt.Errorf("record %s: HEAD v%d does not match the file", id, versions[0].Version)
		}
	}
	return nil
}

// generatePrompts returns n inputs with bodies built from words.
func generatePrompts(n int) []storage.CreateInput {
	// Deterministic for reproducible runs.
	rng := rand.New(rand.NewSource(42))
	out := make([]storage.CreateInput, n)
	for i := range out {
		body := fmt.Sprintf("%s and %s the following text. Keep it under %d words.",
			words[rng.Intn(len(words))], words[rng.Intn(len(words))], 50+rng.Intn(200))
		out[i] = storage.CreateInput{
			Name:    fmt.Sprintf("prompt-%05d", i),
			Content: body,
			Tags:    []string{"loadtest", fmt.Sprintf("batch-%d", i/100)},
		}
	}
	return out
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		Operations: len(durations),
		Durations:  sorted,
	}
}

// Fprint writes the statistics to w under title.
func (s *LatencyStats) Fprint(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
	fmt.Fprintf(w, "  Operations:    %d\n", s.Operations)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}
