package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"suitedesk/api/internal/config"
	"suitedesk/api/internal/filestore"
	"suitedesk/api/internal/gitmirror"
	"suitedesk/api/internal/lock"
	"suitedesk/api/internal/patch"
	"suitedesk/api/internal/search"
	"suitedesk/api/internal/store"
	"suitedesk/api/internal/util"
)

type ProposePatchInput struct {
	ChangeSetID string `json:"changesetId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	FilePath    string `json:"filePath"`
	NewContent  string `json:"newContent"`
	UnifiedDiff string `json:"unifiedDiff"`
	Delete      bool   `json:"delete"`
}

type TransitionInput struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

type RunArtifactInput struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type RunCompletionInput struct {
	Status     string             `json:"status"`
	ExitCode   *int               `json:"exitCode"`
	DurationMs *int64             `json:"durationMs"`
	Artifacts  []RunArtifactInput `json:"artifacts"`
}

var allowedRunTypes = map[string]struct{}{
	"sdf_validate":       {},
	"jest_unit_test":     {},
	"suiteql_assertions": {},
	"deploy_sandbox":     {},
}

// requiredGates must each have a passing run newer than the
// changeset's last patch mutation before apply proceeds.
// deploy_sandbox is informational and never blocks.
var requiredGates = []string{"sdf_validate", "jest_unit_test", "suiteql_assertions"}

var terminalStatuses = map[string]struct{}{
	"applied":  {},
	"rejected": {},
}

type dataStore interface {
	InsertWorkspace(context.Context, store.Workspace) error
	GetWorkspace(context.Context, string) (store.Workspace, error)
	ListWorkspaces(context.Context, string) ([]store.Workspace, error)
	ArchiveWorkspace(context.Context, string) (bool, error)
	CreateChangeSet(context.Context, store.ChangeSet) error
	GetChangeSet(context.Context, string) (store.ChangeSet, error)
	ListChangeSets(context.Context, string) ([]store.ChangeSet, error)
	SubmitChangeSet(context.Context, string) (bool, error)
	ApproveChangeSet(context.Context, string, string) (bool, error)
	RejectChangeSet(context.Context, string, string, string) (bool, error)
	MarkChangeSetApplied(context.Context, string, string) (bool, error)
	ClaimApply(context.Context, string, string, time.Time) (bool, error)
	ReleaseApplyClaim(context.Context, string) error
	UpsertPatch(context.Context, store.Patch) error
	ListPatches(context.Context, string) ([]store.Patch, error)
	MarkPatchApplied(context.Context, string) error
	ChangeSetPatchCount(context.Context, string) (int, error)
	InsertRun(context.Context, store.WorkspaceRun) error
	GetRun(context.Context, string) (store.WorkspaceRun, error)
	ListRuns(context.Context, string) ([]store.WorkspaceRun, error)
	MarkRunStarted(context.Context, string) (bool, error)
	CompleteRun(context.Context, string, string, *int, *int64) (bool, error)
	LatestPassingRuns(context.Context, string) (map[string]time.Time, error)
	InsertArtifact(context.Context, store.WorkspaceArtifact) error
	ListArtifacts(context.Context, string) ([]store.WorkspaceArtifact, error)
	InsertAuditEvent(context.Context, store.AuditEvent) error
	Ping(ctx context.Context) error
}

type lockManager interface {
	Acquire(ctx context.Context, workspaceID, path, actorID, sessionToken string) (lock.Grant, error)
	Heartbeat(ctx context.Context, workspaceID, path, sessionToken string) (time.Time, error)
	Release(ctx context.Context, workspaceID, path, sessionToken string) error
	ForceRelease(ctx context.Context, workspaceID, path string) error
	Inspect(ctx context.Context, workspaceID, path string) (*lock.Grant, error)
	Ping(ctx context.Context) error
}

type fileStore interface {
	Read(ctx context.Context, workspaceID, path string) (string, string, error)
	Write(ctx context.Context, workspaceID, path, content string) error
	Exists(ctx context.Context, workspaceID, path string) (bool, error)
	Remove(ctx context.Context, workspaceID, path string) error
}

type mirrorService interface {
	EnsureWorkspaceRepo(workspaceID, author string) error
	RecordApply(workspaceID, changesetID, title, author string, changes []gitmirror.FileChange) (store.CommitInfo, error)
	History(workspaceID string, limit int) ([]store.CommitInfo, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexChangeSet(record search.ChangeSetRecord)
	DeleteChangeSet(id string)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	locks  lockManager
	files  fileStore
	mirror mirrorService
	search searchIndex
}

func New(cfg config.Config, dataStore *store.PostgresStore, locks *lock.Manager, files *filestore.Store, mirror *gitmirror.Service, searchSvc *search.Service) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		locks:  locks,
		files:  files,
		mirror: mirror,
		search: searchSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingLocks(ctx context.Context) error {
	return s.locks.Ping(ctx)
}

func (s *Service) RunnerToken() string {
	return s.cfg.RunnerToken
}

// ── Workspaces ──

func (s *Service) CreateWorkspace(ctx context.Context, tenantID, name, actorID string) (map[string]any, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if strings.TrimSpace(tenantID) == "" {
		tenantID = "tenant-default"
	}
	item := store.Workspace{
		ID:        util.NewID("ws"),
		TenantID:  tenantID,
		Name:      name,
		Status:    "active",
		CreatedBy: actorID,
	}
	if err := s.store.InsertWorkspace(ctx, item); err != nil {
		return nil, err
	}
	if err := s.mirror.EnsureWorkspaceRepo(item.ID, actorID); err != nil {
		return nil, err
	}
	s.audit(ctx, "workspace_created", actorID, item.ID, "", nil)
	return map[string]any{"workspace": workspacePayload(item)}, nil
}

func (s *Service) GetWorkspace(ctx context.Context, workspaceID string) (map[string]any, error) {
	item, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"workspace": workspacePayload(item)}, nil
}

func (s *Service) ListWorkspaces(ctx context.Context, tenantID string) (map[string]any, error) {
	items, err := s.store.ListWorkspaces(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, workspacePayload(item))
	}
	return map[string]any{"workspaces": payloads}, nil
}

func (s *Service) ArchiveWorkspace(ctx context.Context, workspaceID, actorID string) (map[string]any, error) {
	ok, err := s.store.ArchiveWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	item, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if !ok && item.Status != "archived" {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION", "workspace cannot be archived", nil)
	}
	if ok {
		s.audit(ctx, "workspace_archived", actorID, workspaceID, "", nil)
	}
	return map[string]any{"workspace": workspacePayload(item)}, nil
}

func (s *Service) WorkspaceHistory(ctx context.Context, workspaceID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	commits, err := s.mirror.History(workspaceID, limit)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		payloads = append(payloads, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt.Format(time.RFC3339),
		})
	}
	return map[string]any{"commits": payloads}, nil
}

// ── File locks ──

func (s *Service) AcquireLock(ctx context.Context, workspaceID, path, actorID, sessionToken string) (map[string]any, error) {
	path, err := normalizeFilePath(path)
	if err != nil {
		return nil, err
	}
	if err := s.requireActiveWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	if sessionToken == "" {
		sessionToken = util.NewID("sess")
	}
	grant, err := s.locks.Acquire(ctx, workspaceID, path, actorID, sessionToken)
	if err != nil {
		return nil, err
	}
	return map[string]any{"lock": lockPayload(grant)}, nil
}

func (s *Service) ReleaseLock(ctx context.Context, workspaceID, path, sessionToken string) (map[string]any, error) {
	path, err := normalizeFilePath(path)
	if err != nil {
		return nil, err
	}
	if err := s.locks.Release(ctx, workspaceID, path, sessionToken); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) HeartbeatLock(ctx context.Context, workspaceID, path, sessionToken string) (map[string]any, error) {
	path, err := normalizeFilePath(path)
	if err != nil {
		return nil, err
	}
	expiresAt, err := s.locks.Heartbeat(ctx, workspaceID, path, sessionToken)
	if err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "expiresAt": expiresAt.Format(time.RFC3339)}, nil
}

func (s *Service) InspectLock(ctx context.Context, workspaceID, path string) (map[string]any, error) {
	path, err := normalizeFilePath(path)
	if err != nil {
		return nil, err
	}
	grant, err := s.locks.Inspect(ctx, workspaceID, path)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return map[string]any{"locked": false}, nil
	}
	return map[string]any{"locked": true, "lock": lockPayload(*grant)}, nil
}

// ── Changesets ──

// ProposePatch attaches a file edit to a draft changeset, creating the
// changeset when none is named. The baseline hash is taken from the
// File Store read performed here, not from the caller.
func (s *Service) ProposePatch(ctx context.Context, workspaceID string, input ProposePatchInput, actorID string) (map[string]any, error) {
	filePath, err := normalizeFilePath(input.FilePath)
	if err != nil {
		return nil, err
	}
	if err := s.requireActiveWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}

	var changeset store.ChangeSet
	if input.ChangeSetID != "" {
		changeset, err = s.store.GetChangeSet(ctx, input.ChangeSetID)
		if err != nil {
			return nil, err
		}
		if changeset.WorkspaceID != workspaceID {
			return nil, sql.ErrNoRows
		}
		if changeset.Status != "draft" {
			return nil, domainError(http.StatusConflict, "INVALID_TRANSITION", "patches may only be attached to a draft changeset", map[string]any{
				"status": changeset.Status,
			})
		}
	} else {
		title := strings.TrimSpace(input.Title)
		if title == "" {
			title = "Untitled change"
		}
		changeset = store.ChangeSet{
			ID:          util.NewID("cs"),
			WorkspaceID: workspaceID,
			Title:       title,
			Description: strings.TrimSpace(input.Description),
			Status:      "draft",
			ProposedBy:  actorID,
		}
		if err := s.store.CreateChangeSet(ctx, changeset); err != nil {
			return nil, err
		}
		s.audit(ctx, "changeset_created", actorID, workspaceID, changeset.ID, nil)
		s.indexChangeSet(changeset)
	}

	exists, err := s.files.Exists(ctx, workspaceID, filePath)
	if err != nil {
		return nil, err
	}
	baseline := ""
	baselineSHA := patch.BaselineCreateSentinel
	if exists {
		baseline, baselineSHA, err = s.files.Read(ctx, workspaceID, filePath)
		if err != nil {
			return nil, err
		}
	}

	operation := patch.Classify(exists, input.NewContent, input.Delete)
	if operation == patch.OpDelete && !exists {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "cannot delete a file that does not exist", nil)
	}

	newContent := input.NewContent
	if operation == patch.OpDelete {
		newContent = ""
	}

	unifiedDiff := input.UnifiedDiff
	if unifiedDiff == "" {
		unifiedDiff = patch.Unified(filePath, baseline, newContent)
	}
	diffStatus := patch.StatusClean
	if unifiedDiff != "" {
		diffStatus = patch.Verify(baseline, newContent, unifiedDiff)
	}

	item := store.Patch{
		ID:             util.NewID("pat"),
		ChangeSetID:    changeset.ID,
		FilePath:       filePath,
		Operation:      operation,
		UnifiedDiff:    unifiedDiff,
		NewContent:     newContent,
		BaselineSHA256: baselineSHA,
		DiffStatus:     diffStatus,
	}
	if err := s.store.UpsertPatch(ctx, item); err != nil {
		return nil, err
	}
	s.audit(ctx, "patch_proposed", actorID, workspaceID, changeset.ID, map[string]any{
		"filePath":   filePath,
		"operation":  operation,
		"diffStatus": diffStatus,
	})

	return map[string]any{
		"changesetId": changeset.ID,
		"patch":       patchPayload(item),
	}, nil
}

func (s *Service) ListChangeSets(ctx context.Context, workspaceID string) (map[string]any, error) {
	if _, err := s.store.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, err
	}
	items, err := s.store.ListChangeSets(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, changeSetPayload(item))
	}
	return map[string]any{"changesets": payloads}, nil
}

func (s *Service) ChangeSetDetail(ctx context.Context, changesetID string) (map[string]any, error) {
	changeset, err := s.store.GetChangeSet(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	patches, err := s.store.ListPatches(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	gates, err := s.gateReport(ctx, changeset)
	if err != nil {
		return nil, err
	}

	patchPayloads := make([]map[string]any, 0, len(patches))
	for _, item := range patches {
		patchPayloads = append(patchPayloads, patchPayload(item))
	}
	runPayloads := make([]map[string]any, 0, len(runs))
	for _, item := range runs {
		runPayloads = append(runPayloads, runPayload(item))
	}

	payload := changeSetPayload(changeset)
	payload["patches"] = patchPayloads
	payload["runs"] = runPayloads
	payload["gates"] = gates
	return map[string]any{"changeset": payload}, nil
}

// ChangeSetDiff returns original/modified content pairs per patch.
// Original is the File Store's current content, so a review of a stale
// patch shows the drift that will block apply.
func (s *Service) ChangeSetDiff(ctx context.Context, changesetID string) (map[string]any, error) {
	changeset, err := s.store.GetChangeSet(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	patches, err := s.store.ListPatches(ctx, changesetID)
	if err != nil {
		return nil, err
	}

	files := make([]map[string]any, 0, len(patches))
	for _, item := range patches {
		original := ""
		currentSHA := patch.BaselineCreateSentinel
		exists, err := s.files.Exists(ctx, changeset.WorkspaceID, item.FilePath)
		if err != nil {
			return nil, err
		}
		if exists {
			original, currentSHA, err = s.files.Read(ctx, changeset.WorkspaceID, item.FilePath)
			if err != nil {
				return nil, err
			}
		}
		files = append(files, map[string]any{
			"patchId":       item.ID,
			"filePath":      item.FilePath,
			"operation":     item.Operation,
			"original":      original,
			"modified":      item.NewContent,
			"unifiedDiff":   item.UnifiedDiff,
			"diffStatus":    item.DiffStatus,
			"staleBaseline": currentSHA != item.BaselineSHA256,
		})
	}
	return map[string]any{"changesetId": changesetID, "files": files}, nil
}

// Transition moves a changeset through the review state machine with a
// conditional update, so two concurrent transitions cannot both win.
func (s *Service) Transition(ctx context.Context, changesetID string, input TransitionInput, actorID string) (map[string]any, error) {
	changeset, err := s.store.GetChangeSet(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	if _, terminal := terminalStatuses[changeset.Status]; terminal {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION", "changeset is in a terminal state", map[string]any{
			"status": changeset.Status,
		})
	}

	switch input.Action {
	case "submit":
		count, err := s.store.ChangeSetPatchCount(ctx, changesetID)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "changeset has no patches to submit", nil)
		}
		ok, err := s.store.SubmitChangeSet(ctx, changesetID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invalidTransition(changeset.Status, "submit")
		}
		s.audit(ctx, "changeset_submitted", actorID, changeset.WorkspaceID, changesetID, nil)

	case "approve":
		ok, err := s.store.ApproveChangeSet(ctx, changesetID, actorID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invalidTransition(changeset.Status, "approve")
		}
		// Self-review is allowed but flagged for the audit trail.
		s.audit(ctx, "changeset_approved", actorID, changeset.WorkspaceID, changesetID, map[string]any{
			"selfReview": actorID == changeset.ProposedBy,
		})

	case "reject":
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "reason is required to reject", nil)
		}
		if changeset.Status != "pending_review" {
			return nil, invalidTransition(changeset.Status, "reject")
		}
		ok, err := s.store.RejectChangeSet(ctx, changesetID, actorID, reason)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invalidTransition(changeset.Status, "reject")
		}
		s.audit(ctx, "changeset_rejected", actorID, changeset.WorkspaceID, changesetID, map[string]any{"reason": reason})

	case "discard":
		if changeset.Status != "draft" {
			return nil, invalidTransition(changeset.Status, "discard")
		}
		reason := strings.TrimSpace(input.Reason)
		if reason == "" {
			reason = "discarded"
		}
		ok, err := s.store.RejectChangeSet(ctx, changesetID, actorID, reason)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, invalidTransition(changeset.Status, "discard")
		}
		s.audit(ctx, "changeset_discarded", actorID, changeset.WorkspaceID, changesetID, nil)
		s.releaseChangeSetLocks(ctx, changeset.WorkspaceID, changesetID)

	default:
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "action must be one of submit, approve, reject, discard", nil)
	}

	updated, err := s.store.GetChangeSet(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	s.indexChangeSet(updated)
	return map[string]any{"changeset": changeSetPayload(updated)}, nil
}

func (s *Service) Search(ctx context.Context, text, workspaceID, status string, limit, offset int) (map[string]any, error) {
	response := s.search.Search(ctx, search.Query{
		Text:              text,
		FilterWorkspaceID: workspaceID,
		FilterStatus:      status,
		Limit:             limit,
		Offset:            offset,
	})
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
	}, nil
}

// ── Internal helpers ──

func (s *Service) requireActiveWorkspace(ctx context.Context, workspaceID string) error {
	workspace, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if workspace.Status != "active" {
		return domainError(http.StatusConflict, "WORKSPACE_ARCHIVED", "workspace is archived", nil)
	}
	return nil
}

// releaseChangeSetLocks force-drops the locks on a changeset's file
// paths. Used after apply and discard; failures are non-fatal since
// TTL expiry reclaims the locks anyway.
func (s *Service) releaseChangeSetLocks(ctx context.Context, workspaceID, changesetID string) {
	patches, err := s.store.ListPatches(ctx, changesetID)
	if err != nil {
		return
	}
	for _, item := range patches {
		_ = s.locks.ForceRelease(ctx, workspaceID, item.FilePath)
	}
}

func (s *Service) audit(ctx context.Context, eventType, actorID, workspaceID, changesetID string, payload map[string]any) {
	event := store.AuditEvent{
		EventType:     eventType,
		ActorID:       actorID,
		WorkspaceID:   workspaceID,
		ChangeSetID:   changesetID,
		CorrelationID: requestIDFromContext(ctx),
		Payload:       payload,
	}
	_ = s.store.InsertAuditEvent(ctx, event)
}

func (s *Service) indexChangeSet(item store.ChangeSet) {
	s.search.IndexChangeSet(search.ChangeSetRecord{
		ID:          item.ID,
		WorkspaceID: item.WorkspaceID,
		Title:       item.Title,
		Description: item.Description,
		Status:      item.Status,
	})
}

func invalidTransition(from, action string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_TRANSITION", "transition not permitted from current status", map[string]any{
		"status": from,
		"action": action,
	})
}

func normalizeFilePath(path string) (string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file path is required", nil)
	}
	for _, segment := range strings.Split(path, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file path must not contain empty or relative segments", nil)
		}
	}
	return path, nil
}

// ── Payload builders ──

func workspacePayload(item store.Workspace) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"tenantId":  item.TenantID,
		"name":      item.Name,
		"status":    item.Status,
		"createdBy": item.CreatedBy,
		"createdAt": item.CreatedAt.Format(time.RFC3339),
		"updatedAt": item.UpdatedAt.Format(time.RFC3339),
	}
}

func lockPayload(grant lock.Grant) map[string]any {
	return map[string]any{
		"workspaceId":  grant.WorkspaceID,
		"path":         grant.Path,
		"holderActor":  grant.HolderActor,
		"sessionToken": grant.SessionToken,
		"acquiredAt":   grant.AcquiredAt.Format(time.RFC3339),
		"expiresAt":    grant.ExpiresAt.Format(time.RFC3339),
	}
}

func changeSetPayload(item store.ChangeSet) map[string]any {
	return map[string]any{
		"id":              item.ID,
		"workspaceId":     item.WorkspaceID,
		"title":           item.Title,
		"description":     item.Description,
		"status":          item.Status,
		"proposedBy":      item.ProposedBy,
		"reviewedBy":      item.ReviewedBy,
		"appliedBy":       item.AppliedBy,
		"rejectionReason": item.RejectionReason,
		"createdAt":       item.CreatedAt.Format(time.RFC3339),
		"submittedAt":     timePayload(item.SubmittedAt),
		"reviewedAt":      timePayload(item.ReviewedAt),
		"appliedAt":       timePayload(item.AppliedAt),
		"lastPatchAt":     timePayload(item.LastPatchAt),
	}
}

func patchPayload(item store.Patch) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"changesetId":    item.ChangeSetID,
		"filePath":       item.FilePath,
		"operation":      item.Operation,
		"unifiedDiff":    item.UnifiedDiff,
		"baselineSha256": item.BaselineSHA256,
		"diffStatus":     item.DiffStatus,
		"applyOrder":     item.ApplyOrder,
		"createdAt":      item.CreatedAt.Format(time.RFC3339),
		"appliedAt":      timePayload(item.AppliedAt),
	}
}

func runPayload(item store.WorkspaceRun) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"workspaceId": item.WorkspaceID,
		"changesetId": item.ChangeSetID,
		"runType":     item.RunType,
		"status":      item.Status,
		"command":     item.Command,
		"queuedAt":    item.QueuedAt.Format(time.RFC3339),
		"startedAt":   timePayload(item.StartedAt),
		"finishedAt":  timePayload(item.FinishedAt),
	}
	if item.ExitCode != nil {
		payload["exitCode"] = *item.ExitCode
	}
	if item.DurationMs != nil {
		payload["durationMs"] = *item.DurationMs
	}
	return payload
}

func artifactPayload(item store.WorkspaceArtifact) map[string]any {
	return map[string]any{
		"id":        item.ID,
		"runId":     item.RunID,
		"type":      item.ArtifactType,
		"content":   item.Content,
		"sizeBytes": item.SizeBytes,
		"sha256":    item.SHA256Hash,
		"createdAt": item.CreatedAt.Format(time.RFC3339),
	}
}

func timePayload(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
