package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/repository"
	"github.com/noah-isme/account-activation-api/internal/service"
	"github.com/noah-isme/account-activation-api/pkg/cache"
	"github.com/noah-isme/account-activation-api/pkg/config"
	"github.com/noah-isme/account-activation-api/pkg/database"
	"github.com/noah-isme/account-activation-api/pkg/jobs"
	"github.com/noah-isme/account-activation-api/pkg/logger"
)

func main() {
	var (
		actorID string
		apply   bool
		limit   int
		asJSON  bool
		timeout time.Duration
	)

	flag.StringVar(&actorID, "actor", "", "Admin user id recorded on repairs (required with -apply)")
	flag.BoolVar(&apply, "apply", false, "Repair drifted accounts instead of only reporting them")
	flag.IntVar(&limit, "limit", 1000, "Maximum accounts of each kind per run")
	flag.BoolVar(&asJSON, "json", false, "Print the report as JSON")
	flag.DurationVar(&timeout, "timeout", 5*time.Minute, "Overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	users := repository.NewUserRepository(db)
	students := repository.NewStudentRepository(db)
	parents := repository.NewParentRepository(db)

	// Repairs clear the API's cached status reads inline; there is no worker queue here.
	var invalidator interface{ Enqueue(jobs.Job) error }
	if cfg.StatusCache.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, cached status will expire through its TTL", zap.Error(err))
		} else {
			cacheRepo := repository.NewCacheRepository(client, logr)
			defer cacheRepo.Close() //nolint:errcheck
			invalidator = service.NewCacheService(cacheRepo, nil, cfg.StatusCache.TTL, logr, true)
		}
	}

	sweeper := service.NewConsistencySweeper(db, students, users, parents, repository.NewAuditRepository(db),
		service.NewParentActivationCalculator(parents), invalidator, logr, cfg.Cascade)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := sweeper.Sweep(ctx, actorID, apply, limit)
	if err != nil {
		log.Fatalf("sweep failed: %v", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Fatalf("encode report: %v", err)
		}
	} else {
		printReport(report)
	}

	drift := len(report.Students) + len(report.Parents)
	if report.Failed > 0 || (!apply && drift > 0) {
		os.Exit(1)
	}
}

func printReport(report *dto.SweepReport) {
	fmt.Println("Account Consistency Report")
	fmt.Println("==========================")
	for _, group := range [][]dto.DriftedAccount{report.Students, report.Parents} {
		for _, acc := range group {
			status := "DRIFT"
			if acc.Error != "" {
				status = "ERROR"
			} else if acc.Repaired {
				status = "FIXED"
			}
			fmt.Printf("[%s] %s %s (%s)\n", status, acc.Kind, acc.ID, acc.FullName)
			fmt.Printf("  login enabled: %t | expected: %t\n", acc.LoginEnabled, acc.Expected)
			if acc.Error != "" {
				fmt.Printf("  Error: %s\n", acc.Error)
			}
		}
	}
	fmt.Printf("Students drifted: %d, Parents drifted: %d, Repaired: %d, Failed: %d\n",
		len(report.Students), len(report.Parents), report.Repaired, report.Failed)
}
