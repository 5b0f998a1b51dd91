// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"escrowmarket.org/escrowd/server/comms"
	"escrowmarket.org/escrowd/server/db"
	"escrowmarket.org/escrowd/server/db/driver/badger"
	"escrowmarket.org/escrowd/server/ledger"
	"escrowmarket.org/escrowd/server/market"
)

func mainCore(ctx context.Context) error {
	// Parse the configuration file, and setup logger.
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Failed to load escrowd config: %s\n", err.Error())
		return err
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Display app version.
	log.Infof("%s version %v (Go version %s)", appName, Version(), runtime.Version())

	// Open the listing archive.
	log.Infof("Opening listing archive at %q", cfg.DataDir)
	archiver, err := db.Open(ctx, badger.DriverName, &badger.Config{Path: cfg.DataDir})
	if err != nil {
		return fmt.Errorf("unable to open listing archive: %w", err)
	}
	defer func() {
		if err := archiver.Close(); err != nil {
			log.Errorf("error closing listing archive: %v", err)
		}
	}()

	// The balance ledger holds all asset and payment accounts, including the
	// custody sub-accounts and the fee vault.
	bal := ledger.New(cfg.LogMaker.NewLogger("LEDG", cfg.LogMaker.Level("LEDG")))

	// The settlement engine reloads any archived listings on construction.
	engine, err := market.New(&market.Config{
		Ledger:       bal,
		Archiver:     archiver,
		PaymentAsset: cfg.PaymentAsset,
		Admin:        cfg.Admin,
	})
	if err != nil {
		return fmt.Errorf("unable to create settlement engine: %w", err)
	}

	// The API server doubles as the engine's event notifier.
	srv := comms.NewServer(&comms.Config{
		Core: engine,
		Addr: cfg.APIAddr,
	})
	engine.SetNotifier(srv)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			log.Errorf("API server error: %v", err)
			requestShutdown()
		}
	}()

	log.Infof("The settlement engine is running. Hit CTRL+C to quit...")
	<-ctx.Done()
	wg.Wait()

	log.Info("Bye!")
	return nil
}

func main() {
	// Create a context that is canceled when a shutdown request is received
	// via requestShutdown.
	ctx := withShutdownCancel(context.Background())
	// Listen for both interrupt signals (e.g. CTRL+C) and shutdown requests
	// (requestShutdown calls).
	go shutdownListener()

	if err := mainCore(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(0)
}
