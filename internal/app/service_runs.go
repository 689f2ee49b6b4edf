package app

import (
	"context"
	"net/http"
	"strings"

	"suitedesk/api/internal/filestore"
	"suitedesk/api/internal/store"
	"suitedesk/api/internal/util"
)

var terminalRunStatuses = map[string]struct{}{
	"passed": {},
	"failed": {},
	"error":  {},
}

// TriggerRun enqueues an external verification job and returns in
// queued status. Execution happens out of process; the runner reports
// completion through the internal callback.
func (s *Service) TriggerRun(ctx context.Context, changesetID, runType, command, actorID string) (map[string]any, error) {
	runType = strings.TrimSpace(runType)
	if _, ok := allowedRunTypes[runType]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "run_type must be one of sdf_validate, jest_unit_test, suiteql_assertions, deploy_sandbox", nil)
	}
	changeset, err := s.store.GetChangeSet(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	if changeset.Status == "rejected" {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION", "cannot trigger runs for a rejected changeset", nil)
	}

	item := store.WorkspaceRun{
		ID:          util.NewID("run"),
		WorkspaceID: changeset.WorkspaceID,
		ChangeSetID: changesetID,
		RunType:     runType,
		Status:      "queued",
		Command:     strings.TrimSpace(command),
	}
	if err := s.store.InsertRun(ctx, item); err != nil {
		return nil, err
	}
	s.audit(ctx, "run_triggered", actorID, changeset.WorkspaceID, changesetID, map[string]any{
		"runId":   item.ID,
		"runType": runType,
	})

	created, err := s.store.GetRun(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"run": runPayload(created)}, nil
}

func (s *Service) ListRuns(ctx context.Context, changesetID string) (map[string]any, error) {
	if _, err := s.store.GetChangeSet(ctx, changesetID); err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(runs))
	for _, item := range runs {
		payloads = append(payloads, runPayload(item))
	}
	return map[string]any{"runs": payloads}, nil
}

func (s *Service) RunDetail(ctx context.Context, runID string) (map[string]any, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifacts(ctx, runID)
	if err != nil {
		return nil, err
	}
	artifactPayloads := make([]map[string]any, 0, len(artifacts))
	for _, item := range artifacts {
		artifactPayloads = append(artifactPayloads, artifactPayload(item))
	}
	payload := runPayload(run)
	payload["artifacts"] = artifactPayloads
	return map[string]any{"run": payload}, nil
}

// RunStarted is the runner callback for pickup of a queued job.
func (s *Service) RunStarted(ctx context.Context, runID string) (map[string]any, error) {
	ok, err := s.store.MarkRunStarted(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION", "run is not queued", map[string]any{
			"status": run.Status,
		})
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"run": runPayload(run)}, nil
}

// RunCompleted records the runner's terminal report and any artifacts.
func (s *Service) RunCompleted(ctx context.Context, runID string, input RunCompletionInput) (map[string]any, error) {
	if _, ok := terminalRunStatuses[input.Status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of passed, failed, error", nil)
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	ok, err := s.store.CompleteRun(ctx, runID, input.Status, input.ExitCode, input.DurationMs)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION", "run already reported a terminal status", map[string]any{
			"status": run.Status,
		})
	}

	for _, artifact := range input.Artifacts {
		item := store.WorkspaceArtifact{
			ID:           util.NewID("art"),
			RunID:        runID,
			ArtifactType: artifact.Type,
			Content:      artifact.Content,
			SizeBytes:    int64(len(artifact.Content)),
			SHA256Hash:   filestore.HashContent(artifact.Content),
		}
		if err := s.store.InsertArtifact(ctx, item); err != nil {
			return nil, err
		}
	}

	s.audit(ctx, "run_completed", "runner", run.WorkspaceID, run.ChangeSetID, map[string]any{
		"runId":   runID,
		"runType": run.RunType,
		"status":  input.Status,
	})

	updated, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"run": runPayload(updated)}, nil
}

// gateReport summarizes each required gate for the review UI:
// satisfied, stale (passing run predates the last patch mutation), or
// missing.
func (s *Service) gateReport(ctx context.Context, changeset store.ChangeSet) ([]map[string]any, error) {
	passing, err := s.store.LatestPassingRuns(ctx, changeset.ID)
	if err != nil {
		return nil, err
	}
	lastPatch := changeset.CreatedAt
	if changeset.LastPatchAt != nil {
		lastPatch = *changeset.LastPatchAt
	}

	report := make([]map[string]any, 0, len(requiredGates))
	for _, gate := range requiredGates {
		state := "missing"
		if finishedAt, ok := passing[gate]; ok {
			if finishedAt.Before(lastPatch) {
				state = "stale"
			} else {
				state = "satisfied"
			}
		}
		report = append(report, map[string]any{
			"runType": gate,
			"state":   state,
		})
	}
	return report, nil
}
