package services

import (
	"context"
	"fmt"
	"io"

	"encapsia.io/cli/internal/application/ports"
)

// BuildService builds plugin source directories into the local store
type BuildService struct {
	builder ports.ArchiveBuilder
	store   ports.ArchiveStore
	logger  ports.LoggingGateway
	force   bool
	emit    EmitFunc
}

// NewBuildService creates a new build service. With force, a stored archive
// with the same key is replaced instead of failing on differing content.
func NewBuildService(builder ports.ArchiveBuilder, store ports.ArchiveStore, logger ports.LoggingGateway, force bool, emit EmitFunc) *BuildService {
	return &BuildService{builder: builder, store: store, logger: logger, force: force, emit: emit}
}

// BuildMany builds each source directory in order under policy
func (s *BuildService) BuildMany(ctx context.Context, srcDirs []string, policy BatchPolicy) BatchResult {
	return runBatch(ctx, srcDirs, policy, s.emit, func(ctx context.Context, i int, progress func(EventStage)) Outcome {
		progress(StageBuilding)
		entry, err := s.build(srcDirs[i])
		if err != nil {
			return failed(err)
		}
		return Outcome{Kind: OutcomeBuilt, Entry: &entry}
	})
}

func (s *BuildService) build(srcDir string) (ports.StoreEntry, error) {
	id, err := s.builder.Inspect(srcDir)
	if err != nil {
		return ports.StoreEntry{}, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.builder.Pack(srcDir, id, pw))
	}()
	defer pr.Close()

	var entry ports.StoreEntry
	if s.force {
		entry, err = s.store.Replace(pr, id)
	} else {
		entry, err = s.store.Add(pr, id)
	}
	if err != nil {
		return ports.StoreEntry{}, fmt.Errorf("failed to build %s: %w", id.Filename(), err)
	}

	s.logger.Log(ports.LogLevelInfo, "Built archive", map[string]interface{}{
		"archive": id.Filename(),
		"source":  srcDir,
	})
	return entry, nil
}
