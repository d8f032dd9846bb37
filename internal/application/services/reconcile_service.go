package services

import (
	"context"
	"fmt"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// ReconcileOptions tunes a ReconcileService
type ReconcileOptions struct {
	// Force skips the local check and replaces the stored archive with the upstream one
	Force bool

	// Emit receives progress events
	Emit EmitFunc
}

// ReconcileService brings the local store in line with version requests.
// A request already satisfied by the store is never looked up upstream.
type ReconcileService struct {
	store    ports.ArchiveStore
	resolver ports.ArchiveResolver
	logger   ports.LoggingGateway
	opts     ReconcileOptions
}

// NewReconcileService creates a new reconcile service
func NewReconcileService(store ports.ArchiveStore, resolver ports.ArchiveResolver, logger ports.LoggingGateway, opts ReconcileOptions) *ReconcileService {
	return &ReconcileService{
		store:    store,
		resolver: resolver,
		logger:   logger,
		opts:     opts,
	}
}

// Reconcile satisfies one request from the store or fetches it upstream
func (s *ReconcileService) Reconcile(ctx context.Context, req plugin.VersionRequest) Outcome {
	o := s.reconcile(ctx, req, func(EventStage) {})
	o.Subject = req.String()
	return o
}

// ReconcileBatch reconciles reqs in order under policy
func (s *ReconcileService) ReconcileBatch(ctx context.Context, reqs []plugin.VersionRequest, policy BatchPolicy) BatchResult {
	subjects := make([]string, len(reqs))
	for i, req := range reqs {
		subjects[i] = req.String()
	}

	return runBatch(ctx, subjects, policy, s.opts.Emit, func(ctx context.Context, i int, progress func(EventStage)) Outcome {
		return s.reconcile(ctx, reqs[i], progress)
	})
}

func (s *ReconcileService) reconcile(ctx context.Context, req plugin.VersionRequest, progress func(EventStage)) Outcome {
	if err := req.Validate(); err != nil {
		return failed(err)
	}

	// An existing-only request can never be fetched, so force does not apply to it
	if !s.opts.Force || req.Kind == plugin.RequestLatestExisting {
		progress(StageChecking)
		entry, ok, err := s.store.Find(req)
		if err != nil {
			return failed(fmt.Errorf("failed to check local store: %w", err))
		}
		if ok {
			s.logger.Log(ports.LogLevelDebug, "Request satisfied by local store", map[string]interface{}{
				"request": req.String(),
				"archive": entry.ID.Filename(),
			})
			return Outcome{Kind: OutcomeSatisfied, Entry: &entry}
		}
		if req.Kind == plugin.RequestLatestExisting {
			return failed(fmt.Errorf("%w: no stored archive satisfies %s", plugin.ErrNotFound, req))
		}
	}

	progress(StageResolving)
	candidate, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return failed(err)
	}

	progress(StageFetching)
	entry, err := s.fetch(ctx, candidate)
	if err != nil {
		return failed(err)
	}

	s.logger.Log(ports.LogLevelInfo, "Fetched archive", map[string]interface{}{
		"archive": entry.ID.Filename(),
		"source":  candidate.Source,
	})
	return Outcome{Kind: OutcomeFetched, Entry: &entry, Source: candidate.Source}
}

func (s *ReconcileService) fetch(ctx context.Context, c ports.Candidate) (ports.StoreEntry, error) {
	rc, err := s.resolver.Fetch(ctx, c)
	if err != nil {
		return ports.StoreEntry{}, fmt.Errorf("failed to fetch %s: %w", c.ID.Filename(), err)
	}
	defer rc.Close()

	var entry ports.StoreEntry
	if s.opts.Force {
		entry, err = s.store.Replace(rc, c.ID)
	} else {
		entry, err = s.store.Add(rc, c.ID)
	}
	if err != nil {
		return ports.StoreEntry{}, fmt.Errorf("failed to store %s: %w", c.ID.Filename(), err)
	}
	return entry, nil
}
