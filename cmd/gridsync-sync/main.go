package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/agentworkforce/gridsync/internal/configstore"
	"github.com/agentworkforce/gridsync/internal/crm"
	"github.com/agentworkforce/gridsync/internal/grid"
	"github.com/agentworkforce/gridsync/internal/reconcile"
)

func main() {
	flags := pflag.NewFlagSet("gridsync-sync", pflag.ExitOnError)
	baseURL := flags.String("base-url", strings.TrimSpace(os.Getenv("GRIDSYNC_CRM_BASE_URL")), "CRM API base URL")
	subdomain := flags.String("subdomain", strings.TrimSpace(os.Getenv("GRIDSYNC_CRM_SUBDOMAIN")), "CRM company subdomain, used when base-url is empty")
	token := flags.String("token", strings.TrimSpace(os.Getenv("GRIDSYNC_CRM_TOKEN")), "CRM API token")
	storeDSN := flags.String("store", envOrDefault("GRIDSYNC_STORE_DSN", "file://.gridsync/config.json"), "config store DSN")
	gridDir := flags.String("grid-dir", envOrDefault("GRIDSYNC_GRID_DIR", ".gridsync/sheets"), "directory of sheet files")
	sheetID := flags.String("sheet", strings.TrimSpace(os.Getenv("GRIDSYNC_SHEET")), "sheet ID")
	user := flags.String("user", strings.TrimSpace(os.Getenv("GRIDSYNC_USER")), "user whose column mapping applies")
	profilePath := flags.String("profile", strings.TrimSpace(os.Getenv("GRIDSYNC_PROFILE")), "YAML profile seeding sheet settings")
	interval := flags.Duration("interval", durationEnv("GRIDSYNC_SYNC_INTERVAL", time.Minute), "sync interval")
	intervalJitter := flags.Float64("interval-jitter", floatEnv("GRIDSYNC_SYNC_INTERVAL_JITTER", 0.2), "sync interval jitter ratio (0.0-1.0)")
	timeout := flags.Duration("timeout", durationEnv("GRIDSYNC_SYNC_TIMEOUT", 5*time.Minute), "per-sync timeout")
	watch := flags.Bool("watch", false, "flag edited rows as they are written to the sheet file")
	once := flags.Bool("once", false, "run one sync cycle and exit")
	_ = flags.Parse(os.Args[1:])

	prof, err := loadProfile(*profilePath)
	if err != nil {
		log.Fatalf("failed to load profile: %v", err)
	}
	if strings.TrimSpace(*sheetID) == "" {
		*sheetID = strings.TrimSpace(prof.Sheet)
	}
	if strings.TrimSpace(*user) == "" {
		*user = strings.TrimSpace(prof.User)
	}
	if *sheetID == "" {
		log.Fatalf("sheet is required (--sheet, GRIDSYNC_SHEET or profile)")
	}
	if strings.TrimSpace(*token) == "" {
		log.Fatalf("token is required (--token or GRIDSYNC_CRM_TOKEN)")
	}
	if *interval <= 0 {
		*interval = time.Minute
	}
	if *timeout <= 0 {
		*timeout = 5 * time.Minute
	}
	*intervalJitter = clampJitterRatio(*intervalJitter)

	store, err := configstore.BuildFromDSN(*storeDSN)
	if err != nil {
		log.Fatalf("failed to initialize config store: %v", err)
	}
	defer configstore.Close(store)
	if err := prof.apply(store, *sheetID); err != nil {
		log.Fatalf("failed to apply profile: %v", err)
	}

	if strings.TrimSpace(*baseURL) == "" && strings.TrimSpace(*subdomain) != "" {
		*baseURL = crm.BaseURLForSubdomain(*subdomain)
	}
	client := crm.NewHTTPClient(*baseURL, *token, &http.Client{Timeout: *timeout})
	client.SetRoutes(prof.Routes)
	client.SetPageSize(prof.PageSize)

	engine, err := reconcile.NewEngine(reconcile.EngineOptions{
		Store:  store,
		Client: client,
		Logger: log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize engine: %v", err)
	}
	dir := grid.NewDirectory(*gridDir)
	sheet, err := dir.Open(*sheetID)
	if err != nil {
		log.Fatalf("failed to open sheet %s: %v", *sheetID, err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &sheetRunner{engine: engine, sheet: sheet, user: *user, timeout: *timeout}
	run := func() { runner.sync(rootCtx) }

	run()
	if *once {
		return
	}

	if *watch {
		watcher, err := grid.NewWatcher(dir, log.Default())
		if err != nil {
			log.Fatalf("failed to start sheet watcher: %v", err)
		}
		go func() {
			err := watcher.Run(rootCtx, runner.handleEdit)
			if err != nil && rootCtx.Err() == nil {
				log.Printf("sheet watcher stopped: %v", err)
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	timer := time.NewTimer(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
	defer timer.Stop()
	for {
		select {
		case <-rootCtx.Done():
			log.Printf("grid sync stopping: %v", rootCtx.Err())
			return
		case <-timer.C:
			run()
			timer.Reset(jitteredIntervalWithSample(*interval, *intervalJitter, rng.Float64()))
		}
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func jitteredIntervalWithSample(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
