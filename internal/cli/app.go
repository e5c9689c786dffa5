package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobmate/recommender-service/internal/auth"
	"jobmate/recommender-service/internal/config"
	"jobmate/recommender-service/internal/db"
	"jobmate/recommender-service/internal/model"
	"jobmate/recommender-service/internal/recommend"
	"jobmate/recommender-service/internal/registry"
	"jobmate/recommender-service/internal/scraper"
	"jobmate/recommender-service/internal/search"
	"jobmate/recommender-service/internal/service"
	"jobmate/recommender-service/internal/store"
	"jobmate/recommender-service/internal/store/postgres"
	"jobmate/recommender-service/internal/store/sqlite"
)

// app is the wired core plus everything that must be closed on exit.
type app struct {
	svc         *service.Service
	scans       *scraper.Orchestrator
	recommender *recommend.Recommender
	closers     []func() error
	log         *zap.Logger
}

// buildApp opens storage, the optional Redis client and search index, and
// wires the core on top of them.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{log: log}

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)

	reg := registry.New(st, cfg.Backoff, log)
	scanOpts := []scraper.Option{
		scraper.WithScanTimeout(cfg.ScanTimeout),
		scraper.WithConcurrency(cfg.ScanConcurrency),
		scraper.WithEstimator(scraper.TokenEstimator{Threshold: cfg.DuplicateThreshold}),
	}
	svcOpts := []service.Option{service.WithAuthenticator(auth.New(st, cfg.APITokens, log))}

	if cfg.RedisURL != "" {
		log.Info("connecting to redis")
		rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		scanOpts = append(scanOpts, redisOptions(rdb, cfg, log)...)
		log.Info("redis connected")
	}

	if cfg.SearchEnabled {
		idx, err := openIndex(ctx, cfg, st, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, idx.Close)
		scanOpts = append(scanOpts, scraper.WithIndexer(idx))
		if cfg.DuplicateEstimator == "search" {
			scanOpts = append(scanOpts, scraper.WithEstimator(idx))
		}
		svcOpts = append(svcOpts, service.WithSearch(idx))
	}

	a.scans = scraper.New(reg, st, scraper.NewSourceFetcher(cfg.FetchTimeout), log, scanOpts...)
	a.recommender = recommend.NewRecommender(st, recommend.NewScorer(cfg.Weights), recommend.Config{
		MinResumeLength: cfg.MinResumeLength,
		HistoryTopN:     cfg.HistoryTopN,
	}, log)
	a.svc = service.New(st, reg, a.scans, a.recommender, log, svcOpts...)
	return a, nil
}

// redisOptions shares the in-flight marker across replicas and publishes scan
// events. The lease outlives the longest possible scan.
func redisOptions(rdb *redis.Client, cfg *config.Config, log *zap.Logger) []scraper.Option {
	return []scraper.Option{
		scraper.WithInFlight(scraper.NewRedisInFlight(rdb, 2*cfg.ScanTimeout, log)),
		scraper.WithEvents(scraper.NewRedisEvents(rdb)),
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.UsesPostgres() {
		log.Info("connecting to postgres")
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn)
		if err != nil {
			return nil, err
		}
		st, err := postgres.New(ctx, pool, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("postgres connected")
		return st, nil
	}

	log.Info("opening sqlite store", zap.String("path", cfg.SQLitePath))
	return sqlite.Open(ctx, cfg.SQLitePath, log)
}

// openIndex opens the posting index and fills it from the store when it is
// empty, which is always the case for an in-memory index.
func openIndex(ctx context.Context, cfg *config.Config, st store.Store, log *zap.Logger) (*search.Index, error) {
	idx, err := search.Open(cfg.SearchIndexPath, log)
	if err != nil {
		return nil, err
	}
	n, err := idx.Count()
	if err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("count index: %w", err)
	}
	if n > 0 {
		return idx, nil
	}

	postings, err := st.ListPostings(ctx, model.PostingFilter{})
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	if err := idx.IndexPostings(ctx, postings); err != nil {
		_ = idx.Close()
		return nil, err
	}
	log.Info("search index rebuilt", zap.Int("postings", len(postings)))
	return idx, nil
}

// Close flushes pending history writes and closes resources in reverse order.
func (a *app) Close() error {
	if a.recommender != nil {
		a.recommender.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
