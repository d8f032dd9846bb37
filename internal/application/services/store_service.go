package services

import (
	"context"
	"fmt"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// StoreService answers questions about the local store and edits it directly
type StoreService struct {
	store  ports.ArchiveStore
	logger ports.LoggingGateway
}

// NewStoreService creates a new store service
func NewStoreService(store ports.ArchiveStore, logger ports.LoggingGateway) *StoreService {
	return &StoreService{store: store, logger: logger}
}

// List returns the stored archives in sorted order. With latestOnly, only the
// newest archive of each name and variant is kept.
func (s *StoreService) List(latestOnly, includePrereleases bool) ([]ports.StoreEntry, error) {
	entries, err := s.store.ListAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list local store: %w", err)
	}
	if !latestOnly {
		return entries, nil
	}

	ids := make([]plugin.ArchiveID, len(entries))
	byKey := make(map[plugin.Key]ports.StoreEntry, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		byKey[e.ID.Key()] = e
	}

	latest := plugin.FilterToLatest(ids, includePrereleases)
	out := make([]ports.StoreEntry, len(latest))
	for i, id := range latest {
		out[i] = byKey[id.Key()]
	}
	return out, nil
}

// RemoveMany removes exact archives from the store in order under policy
func (s *StoreService) RemoveMany(ctx context.Context, ids []plugin.ArchiveID, policy BatchPolicy, emit EmitFunc) BatchResult {
	subjects := make([]string, len(ids))
	for i, id := range ids {
		subjects[i] = id.String()
	}

	return runBatch(ctx, subjects, policy, emit, func(ctx context.Context, i int, progress func(EventStage)) Outcome {
		progress(StageRemoving)
		if err := s.store.Remove(ids[i]); err != nil {
			return failed(err)
		}
		s.logger.Log(ports.LogLevelInfo, "Removed archive", map[string]interface{}{
			"archive": ids[i].Filename(),
		})
		return Outcome{Kind: OutcomeRemoved}
	})
}

// Freeze returns exact requests pinning the newest stored archive of every
// plugin. A manifest holds one entry per name, so when a plugin is stored
// under several variants the variant-less one is kept and the others are
// returned as dropped.
func (s *StoreService) Freeze(includePrereleases bool) ([]plugin.VersionRequest, []plugin.ArchiveID, error) {
	entries, err := s.List(true, includePrereleases)
	if err != nil {
		return nil, nil, err
	}

	var reqs []plugin.VersionRequest
	var dropped []plugin.ArchiveID
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.ID.Name] {
			dropped = append(dropped, e.ID)
			s.logger.Log(ports.LogLevelWarn, "Only one variant per plugin can be frozen", map[string]interface{}{
				"dropped": e.ID.String(),
			})
			continue
		}
		seen[e.ID.Name] = true
		reqs = append(reqs, plugin.ExactRequest(e.ID))
	}
	return reqs, dropped, nil
}
