package services

import (
	"context"
	"fmt"

	"encapsia.io/cli/internal/application/ports"
)

// InstallService sequences plugin installs and uninstalls on the server.
// It never retries; transient failures are handled by the API gateway.
type InstallService struct {
	api    ports.ServerAPI
	logger ports.LoggingGateway
	emit   EmitFunc
}

// NewInstallService creates a new install service
func NewInstallService(api ports.ServerAPI, logger ports.LoggingGateway, emit EmitFunc) *InstallService {
	return &InstallService{api: api, logger: logger, emit: emit}
}

// InstallMany installs each stored archive in order under policy
func (s *InstallService) InstallMany(ctx context.Context, entries []ports.StoreEntry, policy BatchPolicy) BatchResult {
	subjects := make([]string, len(entries))
	for i, e := range entries {
		subjects[i] = e.ID.String()
	}

	return runBatch(ctx, subjects, policy, s.emit, func(ctx context.Context, i int, progress func(EventStage)) Outcome {
		entry := entries[i]
		progress(StageInstalling)

		result, err := s.api.InstallPlugin(ctx, entry.Path)
		o := taskOutcome(OutcomeInstalled, result, err)
		if !o.Failed() {
			o.Entry = &entry
			s.logger.Log(ports.LogLevelInfo, "Installed plugin", map[string]interface{}{
				"plugin": entry.ID.String(),
			})
		}
		return o
	})
}

// UninstallMany uninstalls whatever is installed under each name, in order under policy
func (s *InstallService) UninstallMany(ctx context.Context, names []string, policy BatchPolicy) BatchResult {
	return runBatch(ctx, names, policy, s.emit, func(ctx context.Context, i int, progress func(EventStage)) Outcome {
		progress(StageUninstalling)

		result, err := s.api.UninstallPlugin(ctx, names[i])
		o := taskOutcome(OutcomeUninstalled, result, err)
		if !o.Failed() {
			s.logger.Log(ports.LogLevelInfo, "Uninstalled plugin", map[string]interface{}{
				"plugin": names[i],
			})
		}
		return o
	})
}

// taskOutcome turns a server task result into an outcome of kind on success
func taskOutcome(kind OutcomeKind, result *ports.TaskResult, err error) Outcome {
	var output string
	if result != nil {
		output = result.Output
	}
	switch {
	case err != nil:
		return Outcome{Kind: OutcomeFailed, Output: output, Err: err}
	case result == nil:
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("server returned no task result")}
	case result.Status != ports.TaskStatusOK:
		return Outcome{Kind: OutcomeFailed, Output: output, Err: fmt.Errorf("task %s finished with status %s", result.TaskID, result.Status)}
	}
	return Outcome{Kind: kind, Output: output}
}
