package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/SpecLeft/specleft-delta-demo/internal/archive"
	"github.com/SpecLeft/specleft-delta-demo/internal/config"
	"github.com/SpecLeft/specleft-delta-demo/internal/notify"
	"github.com/SpecLeft/specleft-delta-demo/internal/revisions"
	"github.com/SpecLeft/specleft-delta-demo/internal/search"
	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/sweeper"
	"github.com/SpecLeft/specleft-delta-demo/internal/util"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

type engineStore interface {
	workflow.Store
	sweeper.DueLister
	Ping(ctx context.Context) error
}

func main() {
	once := flag.Bool("once", false, "run a single escalation sweep and exit")
	query := flag.String("search", "", "run a full-text search and print the results as JSON")
	searchType := flag.String("search-type", "", "restrict -search to document or decision results")
	flag.Parse()

	cfg, err := config.Resolve()
	if err != nil {
		slog.Error("configuration failed", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var dataStore engineStore
	var pgfts *search.PgFTS
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
		if err != nil {
			fatal(logger, "database connection failed", err)
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger); err != nil {
			fatal(logger, "migrations failed", err)
		}
		dataStore = store.NewPostgresStore(db)
		pgfts = search.NewPgFTS(db)
	} else {
		logger.Warn("DATABASE_URL not set, using the in-memory store")
		dataStore = store.NewMemoryStore()
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, logger)

	if *query != "" {
		resp := searchService.Search(ctx, search.Query{Text: *query, FilterType: search.ResultType(*searchType)})
		if err := json.NewEncoder(os.Stdout).Encode(resp); err != nil {
			fatal(logger, "encode search results", err)
		}
		return
	}

	var workers sync.WaitGroup
	notifier, relay, closeNotifier := buildNotifier(cfg, logger)
	defer closeNotifier()
	if relay != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			_ = relay.Run(ctx)
		}()
	}

	observers := []workflow.Observer{searchService}
	var revisionService *revisions.Service
	if cfg.ReposDir != "" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			fatal(logger, "failed to create repos dir", err)
		}
		revisionService = revisions.New(cfg.ReposDir)
		observers = append(observers, revisions.NewRecorder(revisionService, logger))
	}
	if cfg.MinioEndpoint != "" {
		objects, err := archive.NewMinioStore(ctx, archive.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Warn("archive disabled", "error", err)
		} else {
			archiver := archive.New(objects, logger)
			if revisionService != nil {
				archiver = archiver.WithSnapshots(revisionService)
			}
			observers = append(observers, archiver)
		}
	}

	engine := workflow.New(dataStore, workflow.Options{
		Logger:             logger,
		Notifier:           notifier,
		Observers:          observers,
		EscalationTimeout:  cfg.EscalationTimeout,
		MaxEscalationDepth: cfg.EscalationMaxDepth,
		NewID:              util.NewID,
		AsyncEffects:       true,
	})

	if pgfts != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			searchService.ReindexAllFromPG(ctx)
		}()
	}

	sweep := sweeper.New(dataStore, engine, sweeper.Options{
		Interval: cfg.SweepInterval,
		Rate:     cfg.SweepRate,
		Logger:   logger,
	})

	if *once {
		if _, err := sweep.SweepOnce(ctx, time.Now()); err != nil {
			fatal(logger, "escalation sweep failed", err)
		}
	} else {
		if err := dataStore.Ping(ctx); err != nil {
			fatal(logger, "store unavailable", err)
		}
		logger.Info("approvals engine running")
		if err := sweep.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("sweeper stopped", "error", err)
		}
	}

	engine.Close()
	stop()
	workers.Wait()
	searchService.Wait()
	logger.Info("shutdown complete")
}

// buildNotifier always logs notifications. With Redis configured they are
// queued and a relay delivers them by email; otherwise email is sent inline.
func buildNotifier(cfg config.Config, logger *slog.Logger) (workflow.Notifier, *notify.Relay, func()) {
	notifiers := notify.Fanout{notify.NewLogNotifier(logger)}
	mailer := notify.NewMailer(notify.MailConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		Domain:   cfg.MailDomain,
	})

	if strings.TrimSpace(cfg.RedisURL) != "" {
		queue, err := notify.NewRedisQueue(cfg.RedisURL, cfg.NotifyQueue)
		if err != nil {
			fatal(logger, "redis connection failed", err)
		}
		logger.Info("queueing notifications in redis", "queue", cfg.NotifyQueue)
		notifiers = append(notifiers, queue)
		var relay *notify.Relay
		if mailer.IsConfigured() {
			relay = notify.NewRelay(queue, mailer, logger)
		}
		return notifiers, relay, func() { _ = queue.Close() }
	}

	if mailer.IsConfigured() {
		notifiers = append(notifiers, mailer)
	}
	return notifiers, nil, func() {}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
