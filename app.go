package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"sdstudio/core"
	"sdstudio/db"
	"sdstudio/logging"
	"sdstudio/pipeline"
	"sdstudio/resultcache"
	"sdstudio/sdruntime"
	"sdstudio/session"
	"sdstudio/styles"
)

// studio holds the assembled components shared by the commands.
type studio struct {
	cfg *core.Config
	log *logging.Logger

	styles    *styles.Registry
	store     *sdruntime.ArtifactStore
	pipelines *pipeline.Registry
	session   *session.Session
	cache     resultcache.Cache

	// nil when SDSTUDIO_DB_PATH is empty
	db      *db.Database
	history *db.Repository
}

// openStudio wires the catalogue, artifact store, pipeline cache, history
// and result cache into a Session.
func openStudio(ctx context.Context, cfg *core.Config, log *logging.Logger) (*studio, error) {
	catalogue, err := styles.LoadOrDefault(cfg.StylesFile)
	if err != nil {
		return nil, err
	}

	s := &studio{
		cfg:    cfg,
		log:    log,
		styles: catalogue,
		store:  sdruntime.NewArtifactStore(cfg.ModelsDir, cfg.HuggingFaceToken),
	}
	s.pipelines = pipeline.NewRegistry(catalogue, pipeline.NewBuilder(s.store),
		pipeline.WithMaxEntries(cfg.PipelineCacheEntries),
		pipeline.WithLogger(log.Named("pipeline")),
	)

	opts := []session.Option{
		session.WithDefaults(cfg.Defaults),
		session.WithLogger(log.Named("session")),
		session.WithIdentity(func(c styles.ModelConfig, p pipeline.Profile) (string, error) {
			return pipeline.Identity(s.store, c, p)
		}),
	}
	if cfg.DBPath != "" {
		s.db, err = db.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		s.history = db.NewRepository(s.db, true, log.Named("history"))
		opts = append(opts, session.WithRecorder(s.history))
	}
	s.session = session.New(catalogue, s.pipelines, opts...)

	s.cache, err = openCache(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	log.Info("studio ready",
		zap.Int("styles", catalogue.Len()),
		zap.String("models_dir", cfg.ModelsDir),
		zap.String("history", cfg.DBPath),
		zap.Bool("redis", cfg.RedisURL != ""),
	)
	return s, nil
}

func openCache(ctx context.Context, cfg *core.Config) (resultcache.Cache, error) {
	switch {
	case cfg.RedisURL != "":
		c, err := resultcache.NewRedis(ctx, cfg.RedisURL, cfg.ResultCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("open result cache: %w", err)
		}
		return c, nil
	case cfg.ResultCacheSize > 0:
		return resultcache.NewMemory(cfg.ResultCacheSize, cfg.ResultCacheTTL), nil
	}
	return resultcache.Nop{}, nil
}

// Close flushes history writes and releases the database and cache.
func (s *studio) Close() {
	if s.pipelines != nil {
		s.log.Debug("closing studio",
			zap.Int("pipelines_loaded", s.pipelines.Len()),
			zap.Int64("pipeline_builds", s.pipelines.Builds()),
			zap.Int64("pipeline_evictions", s.pipelines.Evictions()),
		)
	}
	if s.history != nil {
		s.history.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("close history", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warn("close result cache", zap.Error(err))
		}
	}
}
