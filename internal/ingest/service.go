package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
)

// ErrTakeoutPath signals an unset or invalid takeout directory at
// trigger or config-update time.
var ErrTakeoutPath = errors.New("takeout path invalid")

// StartRequest carries the trigger parameters. Zero values fall back to
// runtime overrides, then to the environment configuration.
type StartRequest struct {
	// BatchID is optional; when empty a server-side ID is generated.
	BatchID string
	// TakeoutPath overrides the configured takeout directory for this run.
	TakeoutPath string
	// Limit bounds the run; nil means "use the runtime default, if any".
	Limit *int
	// Reprocess overwrites already-ingested photos; nil means "use the
	// runtime default".
	Reprocess *bool
}

// RuntimeConfig is the mutable trigger configuration exposed over the
// config endpoints. Source reports where the effective takeout path
// comes from: "override", "env" or "unset".
type RuntimeConfig struct {
	TakeoutPath string `json:"takeout_path,omitempty"`
	Source      string `json:"source"`
	Limit       *int   `json:"limit"`
	Reprocess   *bool  `json:"reprocess"`
}

// Service accepts ingestion triggers, launches the worker in the
// background, and answers status queries. It is the single writer of
// runtime config overrides.
type Service struct {
	batches    Repository
	worker     *Worker
	newSource  SourceFactory
	log        *slog.Logger
	envTakeout string

	mu                sync.RWMutex
	overrideTakeout   string
	overrideLimit     *int
	overrideReprocess *bool
}

func NewService(batches Repository, worker *Worker, newSource SourceFactory, envTakeout string, log *slog.Logger) *Service {
	return &Service{
		batches:    batches,
		worker:     worker,
		newSource:  newSource,
		envTakeout: envTakeout,
		log:        log,
	}
}

// Start validates the request, creates the batch record and launches
// the worker goroutine. It returns as soon as the record exists; the
// returned batch is pending. A second start while another batch runs is
// allowed; the status listing surfaces the most recent one as current.
func (s *Service) Start(ctx context.Context, req StartRequest) (Batch, error) {
	takeoutDir, err := s.resolveTakeoutPath(req.TakeoutPath)
	if err != nil {
		return Batch{}, err
	}

	s.mu.RLock()
	limit := 0
	if req.Limit != nil {
		limit = *req.Limit
	} else if s.overrideLimit != nil {
		limit = *s.overrideLimit
	}
	reprocess := false
	if req.Reprocess != nil {
		reprocess = *req.Reprocess
	} else if s.overrideReprocess != nil {
		reprocess = *s.overrideReprocess
	}
	s.mu.RUnlock()

	b := NewBatch(req.BatchID)
	if err := s.batches.Create(ctx, &b); err != nil {
		return Batch{}, err
	}

	s.log.Info("starting background ingestion",
		"batch_id", b.BatchID, "takeout", takeoutDir, "limit", limit, "reprocess", reprocess)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("ingestion goroutine panicked", "batch_id", b.BatchID, "panic", r)
				if err := s.batches.Fail(context.Background(), b.BatchID, fmt.Sprintf("internal panic: %v", r)); err != nil {
					s.log.Error("failed to record panic", "batch_id", b.BatchID, "error", err)
				}
			}
		}()
		// The run outlives the trigger request.
		_ = s.worker.Run(context.Background(), b.BatchID, s.newSource(takeoutDir), Options{
			Limit:     limit,
			Reprocess: reprocess,
		})
	}()

	return b, nil
}

// ListRecent returns up to limit batches, most recent first. Pure read;
// this is the whole status-query surface.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]Batch, error) {
	return s.batches.ListRecent(ctx, limit)
}

// Config returns the current runtime trigger configuration.
func (s *Service) Config() RuntimeConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// ConfigUpdate carries partial runtime-config changes; nil fields are
// left untouched.
type ConfigUpdate struct {
	TakeoutPath *string `json:"takeout_path"`
	Limit       *int    `json:"limit"`
	Reprocess   *bool   `json:"reprocess"`
}

// UpdateConfig applies a partial override update. A takeout path is
// validated before it is stored.
func (s *Service) UpdateConfig(update ConfigUpdate) (RuntimeConfig, error) {
	if update.TakeoutPath != nil {
		if err := validateDir(*update.TakeoutPath); err != nil {
			return RuntimeConfig{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if update.TakeoutPath != nil {
		s.overrideTakeout = *update.TakeoutPath
	}
	if update.Limit != nil {
		s.overrideLimit = update.Limit
	}
	if update.Reprocess != nil {
		s.overrideReprocess = update.Reprocess
	}
	return s.snapshotLocked(), nil
}

// ClearConfig drops all runtime overrides, falling back to the
// environment configuration.
func (s *Service) ClearConfig() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrideTakeout = ""
	s.overrideLimit = nil
	s.overrideReprocess = nil
}

func (s *Service) snapshotLocked() RuntimeConfig {
	cfg := RuntimeConfig{
		Limit:     s.overrideLimit,
		Reprocess: s.overrideReprocess,
	}
	switch {
	case s.overrideTakeout != "":
		cfg.TakeoutPath = s.overrideTakeout
		cfg.Source = "override"
	case s.envTakeout != "":
		cfg.TakeoutPath = s.envTakeout
		cfg.Source = "env"
	default:
		cfg.Source = "unset"
	}
	return cfg
}

func (s *Service) resolveTakeoutPath(requested string) (string, error) {
	s.mu.RLock()
	override := s.overrideTakeout
	s.mu.RUnlock()

	candidate := requested
	if candidate == "" {
		candidate = override
	}
	if candidate == "" {
		candidate = s.envTakeout
	}
	if candidate == "" {
		return "", fmt.Errorf("%w: TAKEOUT_PATH is not configured", ErrTakeoutPath)
	}
	if err := validateDir(candidate); err != nil {
		return "", err
	}
	return candidate, nil
}

func validateDir(path string) error {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrTakeoutPath, path)
	}
	return nil
}
