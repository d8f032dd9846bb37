package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"encapsia.io/cli/internal/application/ports"
	"encapsia.io/cli/internal/core/plugin"
)

// DevUpdateResult describes one dev-update run. Parts is empty when nothing
// had changed, in which case Task is nil.
type DevUpdateResult struct {
	ID    plugin.ArchiveID
	Parts []string
	Task  *ports.TaskResult
}

// DevUpdateService sends the changed parts of a plugin source directory to
// a development server
type DevUpdateService struct {
	builder ports.ArchiveBuilder
	tracker ports.PartTracker
	api     ports.ServerAPI
	logger  ports.LoggingGateway
	now     func() time.Time
}

// NewDevUpdateService creates a new dev-update service
func NewDevUpdateService(builder ports.ArchiveBuilder, tracker ports.PartTracker, api ports.ServerAPI, logger ports.LoggingGateway) *DevUpdateService {
	return &DevUpdateService{builder: builder, tracker: tracker, api: api, logger: logger, now: time.Now}
}

// Update uploads the parts of srcDir modified since their last upload. With
// force every part is sent. Parts are only marked as uploaded once the
// server task succeeds.
func (s *DevUpdateService) Update(ctx context.Context, srcDir string, force bool) (DevUpdateResult, error) {
	id, err := s.builder.Inspect(srcDir)
	if err != nil {
		return DevUpdateResult{}, err
	}

	at := s.now()
	parts, err := s.tracker.ModifiedParts(srcDir, force)
	if err != nil {
		return DevUpdateResult{}, err
	}
	result := DevUpdateResult{ID: id, Parts: parts}
	if len(parts) == 0 {
		return result, nil
	}

	tmp, err := os.CreateTemp("", "encapsia-dev-update-*.tar.gz")
	if err != nil {
		return result, fmt.Errorf("failed to create temporary archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	err = s.builder.PackParts(srcDir, id, parts, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return result, fmt.Errorf("failed to pack %s: %w", srcDir, err)
	}

	task, err := s.api.DevUpdatePlugin(ctx, tmp.Name())
	result.Task = task
	o := taskOutcome(OutcomeInstalled, task, err)
	if o.Failed() {
		return result, o.Err
	}

	if err := s.tracker.MarkUploaded(srcDir, parts, at); err != nil {
		return result, err
	}
	s.logger.Log(ports.LogLevelInfo, "Updated development plugin", map[string]interface{}{
		"plugin": id.String(),
		"parts":  parts,
	})
	return result, nil
}
