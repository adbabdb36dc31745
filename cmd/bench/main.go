package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aretw0/tally"
)

func main() {
	count := flag.Int("count", 10000, "Number of entries to generate")
	deltas := flag.Int("deltas", 50000, "Number of field updates to apply")
	capacity := flag.Int("capacity", 100, "Entries per chunk")
	digest := flag.String("digest", "sha256", "Digest algorithm (sha256, xxhash)")
	keep := flag.Bool("keep", false, "Keep the benchmark ledger after running")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "tally_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	open := func() *tally.Runtime {
		rt, err := tally.Open(ctx, benchDir,
			tally.WithLogger(logger),
			tally.WithCapacity(*capacity),
			tally.WithDigest(*digest),
		)
		if err != nil {
			panic(err)
		}
		return rt
	}

	// 1. Generate and commit
	fmt.Printf("Generating %d entries in %s...\n", *count, benchDir)
	rt := open()
	startGen := time.Now()
	for i := 0; i < *count; i++ {
		st, err := tally.NewStockTrade(fmt.Sprintf("trade-%d", i), decimal.NewFromInt(-int64(rand.Intn(1000))), "ACME", decimal.NewFromInt(int64(rand.Intn(50))))
		if err != nil {
			panic(err)
		}
		if err := rt.Book.Add(ctx, st); err != nil {
			panic(err)
		}
	}
	genDuration := time.Since(startGen)

	startCommit := time.Now()
	if err := rt.Book.Commit(ctx); err != nil {
		panic(err)
	}
	commitDuration := time.Since(startCommit)

	// 2. Deltas
	startDelta := time.Now()
	for i := 0; i < *deltas; i++ {
		key := fmt.Sprintf("trade-%d", rand.Intn(*count))
		if _, err := rt.Book.Update(ctx, key, "shares", fmt.Sprint(rand.Intn(50))); err != nil {
			panic(err)
		}
	}
	if err := rt.Book.Flush(ctx); err != nil {
		panic(err)
	}
	deltaDuration := time.Since(startDelta)

	findings, err := rt.Book.Verify(ctx)
	if err != nil {
		panic(err)
	}
	if err := rt.Book.Commit(ctx); err != nil {
		panic(err)
	}
	if err := rt.Close(ctx); err != nil {
		panic(err)
	}

	// 3. Reopen: every chunk is digested and recounted
	startOpen := time.Now()
	rt = open()
	openDuration := time.Since(startOpen)
	totals := rt.Book.Totals()
	if err := rt.Close(ctx); err != nil {
		panic(err)
	}

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d entries, %d chunks, %s):\n", *count, (*count+*capacity-1) / *capacity, *digest)
	fmt.Printf("  Add:    %v\n", genDuration)
	fmt.Printf("  Commit: %v\n", commitDuration)
	fmt.Printf("  Deltas: %v (%d, %.0f/s)\n", deltaDuration, *deltas, float64(*deltas)/deltaDuration.Seconds())
	fmt.Printf("  Reopen: %v (entries: %d, shares: %s)\n", openDuration, totals.Count, totals.Total("shares"))
	fmt.Printf("  Drift findings: %d\n", len(findings))
	fmt.Printf("--------------------------------------------------\n")
}
