package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// LegacyBuildService turns webapp builds kept as plain file trees into
// plugin archives in the local store
type LegacyBuildService struct {
	fetcher   ports.WebappFetcher
	builder   ports.ArchiveBuilder
	store     ports.ArchiveStore
	logger    ports.LoggingGateway
	createdBy string
	force     bool
	emit      EmitFunc
}

// NewLegacyBuildService creates a new legacy build service. Archives already
// in the store are left alone unless force is set.
func NewLegacyBuildService(fetcher ports.WebappFetcher, builder ports.ArchiveBuilder, store ports.ArchiveStore, logger ports.LoggingGateway, createdBy string, force bool, emit EmitFunc) *LegacyBuildService {
	return &LegacyBuildService{
		fetcher:   fetcher,
		builder:   builder,
		store:     store,
		logger:    logger,
		createdBy: createdBy,
		force:     force,
		emit:      emit,
	}
}

// BuildMany builds each webapp in order under policy
func (s *LegacyBuildService) BuildMany(ctx context.Context, ids []plugin.ArchiveID, policy BatchPolicy) BatchResult {
	subjects := make([]string, len(ids))
	for i, id := range ids {
		subjects[i] = id.String()
	}

	return runBatch(ctx, subjects, policy, s.emit, func(ctx context.Context, i int, progress func(EventStage)) Outcome {
		id := ids[i]
		progress(StageChecking)
		if !s.force {
			entry, err := s.store.Get(id)
			if err == nil {
				return Outcome{Kind: OutcomeSatisfied, Entry: &entry}
			}
			if !errors.Is(err, plugin.ErrNotFound) {
				return failed(err)
			}
		}

		progress(StageFetching)
		entry, err := s.build(ctx, id)
		if err != nil {
			return failed(err)
		}
		return Outcome{Kind: OutcomeBuilt, Entry: &entry}
	})
}

func (s *LegacyBuildService) build(ctx context.Context, id plugin.ArchiveID) (ports.StoreEntry, error) {
	dir, err := os.MkdirTemp("", "encapsia-webapp-*")
	if err != nil {
		return ports.StoreEntry{}, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := s.fetcher.FetchWebapp(ctx, id.Name, id.Version.String(), s.createdBy, dir); err != nil {
		return ports.StoreEntry{}, err
	}
	built, err := s.builder.Inspect(dir)
	if err != nil {
		return ports.StoreEntry{}, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.builder.Pack(dir, built, pw))
	}()
	defer pr.Close()

	var entry ports.StoreEntry
	if s.force {
		entry, err = s.store.Replace(pr, built)
	} else {
		entry, err = s.store.Add(pr, built)
	}
	if err != nil {
		return ports.StoreEntry{}, fmt.Errorf("failed to build %s: %w", built.Filename(), err)
	}

	s.logger.Log(ports.LogLevelInfo, "Built archive from legacy webapp", map[string]interface{}{
		"archive": built.Filename(),
	})
	return entry, nil
}

// ReadWebappVersions reads a versions manifest naming one exact version per
// webapp, such as inspector = "1.4.0"
func ReadWebappVersions(path string) ([]plugin.ArchiveID, error) {
	reqs, err := plugin.ReadManifestFile(path)
	if err != nil {
		return nil, err
	}
	ids := make([]plugin.ArchiveID, 0, len(reqs))
	for _, req := range reqs {
		id, ok := req.ArchiveID()
		if !ok || id.Variant != "" {
			return nil, fmt.Errorf("%w: %s: legacy webapps need an exact version without a variant", plugin.ErrInvalidRequest, req)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
