// Command igasync pulls the user inventory from the governance platform,
// imports it into the directory, and prints a security summary.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"sparrowvision.org/internal/directory"
	"sparrowvision.org/internal/igasync"
	"sparrowvision.org/internal/obs"
)

func main() {
	log.SetFlags(0)
	var (
		exportPath = flag.String("export", "", "Write the fetched inventory to this JSON file")
		riskFloor  = flag.Int("risk-threshold", 70, "Risk score at or above which a user is reported")
		windowDays = flag.Int("inactive-days", 90, "Days without a login before a user counts as inactive")
		timeout    = flag.Duration("timeout", 5*time.Minute, "Overall run deadline")
	)
	flag.Parse()

	obs.Init()

	cfg, err := igasync.ConfigFromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dir := directory.New()
	syncer := igasync.NewSyncer(igasync.NewClient(cfg), dir)

	stats, err := syncer.Run(ctx)
	if err != nil {
		log.Fatalf("sync: %v", err)
	}

	fmt.Printf("Synced %d users in %s (imported %d, updated %d, skipped %d)\n",
		stats.Fetched, stats.Duration.Round(time.Millisecond), stats.Imported, stats.Updated, stats.Skipped)

	users := syncer.LastUsers()
	now := time.Now().UTC()

	if high := igasync.HighRisk(users, *riskFloor); len(high) > 0 {
		fmt.Printf("\nHigh risk (score >= %d):\n", *riskFloor)
		for _, u := range high {
			fmt.Printf("  %3d  %s  %s\n", u.RiskScore, u.Email, u.Status)
		}
	}
	if inactive := igasync.Inactive(users, time.Duration(*windowDays)*24*time.Hour, now); len(inactive) > 0 {
		fmt.Printf("\nInactive for %d+ days: %d users\n", *windowDays, len(inactive))
	}
	if priv := igasync.Privileged(users); len(priv) > 0 {
		fmt.Printf("\nPrivileged group members:\n")
		for _, u := range priv {
			fmt.Printf("  %s  %v\n", u.Email, u.Groups)
		}
	}

	if *exportPath != "" {
		if err := syncer.ExportJSON(*exportPath); err != nil {
			log.Fatalf("export: %v", err)
		}
		fmt.Printf("\nInventory written to %s\n", *exportPath)
	}
}
