// Package tally is the composition root of the tally ledger engine.
//
// A ledger is a directory of chunk files. Each chunk holds a bounded number
// of entries together with running totals, and is written with a digest
// header so corruption and foreign edits are detected on load. Field updates
// travel as Delta events on an explicit bus, so a chunk adjusts its totals
// without a recount.
//
// Features:
//
//   - **Chunked storage**: entries are split into fixed-capacity chunks; a full chunk seals.
//   - **Incremental totals**: per-chunk aggregates maintained from Deltas, verifiable by recount.
//   - **Integrity**: sha256 or xxhash digests, checked on load and on external change.
//   - **Explicit bus**: a single-dispatcher event bus with drain-on-halt.
//   - **Watcher**: optional fsnotify watcher that taints chunks edited by other processes.
//
// Usage:
//
//	rt, err := tally.Open(ctx, "./ledger",
//		tally.WithCapacity(50),
//		tally.WithLogger(logger),
//	)
//	defer rt.Close(ctx)
//
//	tx, _ := tally.NewTransaction("rent-01", decimal.NewFromInt(-950), "rent")
//	err = rt.Book.Add(ctx, tx)
//	err = rt.Book.Commit(ctx)
package tally
