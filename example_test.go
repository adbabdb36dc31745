package tally_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/shopspring/decimal"

	"github.com/aretw0/tally"
)

// Example_basic opens a ledger, records two entries, updates one and reads
// the totals back after a reopen.
func Example_basic() {
	tmpDir, err := os.MkdirTemp("", "tally-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()

	rt, err := tally.Open(ctx, tmpDir, tally.WithCapacity(10))
	if err != nil {
		log.Fatal(err)
	}

	rent, _ := tally.NewTransaction("rent-01", decimal.NewFromInt(-950), "rent")
	buy, _ := tally.NewStockTrade("buy-acme", decimal.NewFromInt(-500), "ACME", decimal.NewFromInt(5))
	for _, e := range []tally.Entry{rent, buy} {
		if err := rt.Book.Add(ctx, e); err != nil {
			log.Fatal(err)
		}
	}

	// Buying three more shares only publishes a Delta.
	if _, err := rt.Book.Update(ctx, "buy-acme", "shares", "8"); err != nil {
		log.Fatal(err)
	}
	if err := rt.Book.Commit(ctx); err != nil {
		log.Fatal(err)
	}
	if err := rt.Close(ctx); err != nil {
		log.Fatal(err)
	}

	rt, err = tally.Open(ctx, tmpDir)
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Close(ctx)

	totals := rt.Book.Totals()
	fmt.Println("entries:", totals.Count)
	fmt.Println("amount:", totals.Total("amount"))
	fmt.Println("shares:", totals.Total("shares"))

	// Output:
	// entries: 2
	// amount: -1450
	// shares: 8
}
