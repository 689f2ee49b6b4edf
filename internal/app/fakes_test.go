package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"suitedesk/api/internal/config"
	"suitedesk/api/internal/filestore"
	"suitedesk/api/internal/gitmirror"
	"suitedesk/api/internal/lock"
	"suitedesk/api/internal/search"
	"suitedesk/api/internal/store"
)

type fakeStore struct {
	workspaces map[string]store.Workspace
	changesets map[string]store.ChangeSet
	patches    map[string][]store.Patch
	runs       map[string]store.WorkspaceRun
	artifacts  map[string][]store.WorkspaceArtifact
	passing    map[string]map[string]time.Time
	audits     []store.AuditEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workspaces: make(map[string]store.Workspace),
		changesets: make(map[string]store.ChangeSet),
		patches:    make(map[string][]store.Patch),
		runs:       make(map[string]store.WorkspaceRun),
		artifacts:  make(map[string][]store.WorkspaceArtifact),
		passing:    make(map[string]map[string]time.Time),
	}
}

func (f *fakeStore) InsertWorkspace(_ context.Context, item store.Workspace) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
		item.UpdatedAt = item.CreatedAt
	}
	f.workspaces[item.ID] = item
	return nil
}

func (f *fakeStore) GetWorkspace(_ context.Context, id string) (store.Workspace, error) {
	item, ok := f.workspaces[id]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListWorkspaces(_ context.Context, tenantID string) ([]store.Workspace, error) {
	items := make([]store.Workspace, 0, len(f.workspaces))
	for _, item := range f.workspaces {
		if tenantID == "" || item.TenantID == tenantID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) ArchiveWorkspace(_ context.Context, id string) (bool, error) {
	item, ok := f.workspaces[id]
	if !ok || item.Status != "active" {
		return false, nil
	}
	item.Status = "archived"
	f.workspaces[id] = item
	return true, nil
}

func (f *fakeStore) CreateChangeSet(_ context.Context, item store.ChangeSet) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	f.changesets[item.ID] = item
	return nil
}

func (f *fakeStore) GetChangeSet(_ context.Context, id string) (store.ChangeSet, error) {
	item, ok := f.changesets[id]
	if !ok {
		return store.ChangeSet{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListChangeSets(_ context.Context, workspaceID string) ([]store.ChangeSet, error) {
	items := make([]store.ChangeSet, 0)
	for _, item := range f.changesets {
		if item.WorkspaceID == workspaceID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) transition(id, from, to string, mutate func(*store.ChangeSet)) (bool, error) {
	item, ok := f.changesets[id]
	if !ok || item.Status != from {
		return false, nil
	}
	item.Status = to
	if mutate != nil {
		mutate(&item)
	}
	f.changesets[id] = item
	return true, nil
}

func (f *fakeStore) SubmitChangeSet(_ context.Context, id string) (bool, error) {
	now := time.Now()
	return f.transition(id, "draft", "pending_review", func(item *store.ChangeSet) {
		item.SubmittedAt = &now
	})
}

func (f *fakeStore) ApproveChangeSet(_ context.Context, id, reviewer string) (bool, error) {
	now := time.Now()
	return f.transition(id, "pending_review", "approved", func(item *store.ChangeSet) {
		item.ReviewedBy = reviewer
		item.ReviewedAt = &now
	})
}

func (f *fakeStore) RejectChangeSet(_ context.Context, id, reviewer, reason string) (bool, error) {
	item, ok := f.changesets[id]
	if !ok || (item.Status != "draft" && item.Status != "pending_review") {
		return false, nil
	}
	now := time.Now()
	item.Status = "rejected"
	item.ReviewedBy = reviewer
	item.ReviewedAt = &now
	item.RejectionReason = reason
	f.changesets[id] = item
	return true, nil
}

func (f *fakeStore) MarkChangeSetApplied(_ context.Context, id, actor string) (bool, error) {
	now := time.Now()
	return f.transition(id, "approved", "applied", func(item *store.ChangeSet) {
		item.AppliedBy = actor
		item.AppliedAt = &now
	})
}

func (f *fakeStore) ClaimApply(_ context.Context, id, actor string, staleBefore time.Time) (bool, error) {
	item, ok := f.changesets[id]
	if !ok {
		return false, sql.ErrNoRows
	}
	if item.ApplyClaimedBy != "" && item.ApplyClaimedAt != nil && item.ApplyClaimedAt.After(staleBefore) {
		return false, nil
	}
	now := time.Now()
	item.ApplyClaimedBy = actor
	item.ApplyClaimedAt = &now
	f.changesets[id] = item
	return true, nil
}

func (f *fakeStore) ReleaseApplyClaim(_ context.Context, id string) error {
	item, ok := f.changesets[id]
	if !ok {
		return nil
	}
	item.ApplyClaimedBy = ""
	item.ApplyClaimedAt = nil
	f.changesets[id] = item
	return nil
}

func (f *fakeStore) UpsertPatch(_ context.Context, item store.Patch) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	patches := f.patches[item.ChangeSetID]
	replaced := false
	for i, existing := range patches {
		if existing.FilePath == item.FilePath {
			item.ApplyOrder = existing.ApplyOrder
			patches[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		item.ApplyOrder = len(patches) + 1
		patches = append(patches, item)
	}
	f.patches[item.ChangeSetID] = patches

	changeset := f.changesets[item.ChangeSetID]
	now := time.Now()
	changeset.LastPatchAt = &now
	f.changesets[item.ChangeSetID] = changeset
	return nil
}

func (f *fakeStore) ListPatches(_ context.Context, changesetID string) ([]store.Patch, error) {
	return f.patches[changesetID], nil
}

func (f *fakeStore) MarkPatchApplied(_ context.Context, patchID string) error {
	now := time.Now()
	for changesetID, patches := range f.patches {
		for i, item := range patches {
			if item.ID == patchID {
				patches[i].AppliedAt = &now
				f.patches[changesetID] = patches
				return nil
			}
		}
	}
	return nil
}

func (f *fakeStore) ChangeSetPatchCount(_ context.Context, changesetID string) (int, error) {
	return len(f.patches[changesetID]), nil
}

func (f *fakeStore) InsertRun(_ context.Context, item store.WorkspaceRun) error {
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now()
	}
	f.runs[item.ID] = item
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, id string) (store.WorkspaceRun, error) {
	item, ok := f.runs[id]
	if !ok {
		return store.WorkspaceRun{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) ListRuns(_ context.Context, changesetID string) ([]store.WorkspaceRun, error) {
	items := make([]store.WorkspaceRun, 0)
	for _, item := range f.runs {
		if item.ChangeSetID == changesetID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) MarkRunStarted(_ context.Context, id string) (bool, error) {
	item, ok := f.runs[id]
	if !ok || item.Status != "queued" {
		return false, nil
	}
	now := time.Now()
	item.Status = "running"
	item.StartedAt = &now
	f.runs[id] = item
	return true, nil
}

func (f *fakeStore) CompleteRun(_ context.Context, id, status string, exitCode *int, durationMs *int64) (bool, error) {
	item, ok := f.runs[id]
	if !ok {
		return false, nil
	}
	if item.Status != "queued" && item.Status != "running" {
		return false, nil
	}
	now := time.Now()
	item.Status = status
	item.ExitCode = exitCode
	item.DurationMs = durationMs
	item.FinishedAt = &now
	f.runs[id] = item
	if status == "passed" {
		if f.passing[item.ChangeSetID] == nil {
			f.passing[item.ChangeSetID] = make(map[string]time.Time)
		}
		f.passing[item.ChangeSetID][item.RunType] = now
	}
	return true, nil
}

func (f *fakeStore) LatestPassingRuns(_ context.Context, changesetID string) (map[string]time.Time, error) {
	result := make(map[string]time.Time)
	for runType, finishedAt := range f.passing[changesetID] {
		result[runType] = finishedAt
	}
	return result, nil
}

func (f *fakeStore) InsertArtifact(_ context.Context, item store.WorkspaceArtifact) error {
	f.artifacts[item.RunID] = append(f.artifacts[item.RunID], item)
	return nil
}

func (f *fakeStore) ListArtifacts(_ context.Context, runID string) ([]store.WorkspaceArtifact, error) {
	return f.artifacts[runID], nil
}

func (f *fakeStore) InsertAuditEvent(_ context.Context, event store.AuditEvent) error {
	f.audits = append(f.audits, event)
	return nil
}

func (f *fakeStore) Ping(_ context.Context) error { return nil }

func (f *fakeStore) lastAudit(eventType string) (store.AuditEvent, bool) {
	for i := len(f.audits) - 1; i >= 0; i-- {
		if f.audits[i].EventType == eventType {
			return f.audits[i], true
		}
	}
	return store.AuditEvent{}, false
}

type fakeLocks struct {
	grants map[string]lock.Grant
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{grants: make(map[string]lock.Grant)}
}

func (f *fakeLocks) key(workspaceID, path string) string {
	return workspaceID + ":" + path
}

func (f *fakeLocks) Acquire(_ context.Context, workspaceID, path, actorID, sessionToken string) (lock.Grant, error) {
	key := f.key(workspaceID, path)
	if existing, ok := f.grants[key]; ok {
		if existing.SessionToken != sessionToken {
			return lock.Grant{}, &lock.Conflict{HeldBy: existing.HolderActor, ExpiresAt: existing.ExpiresAt}
		}
		existing.ExpiresAt = time.Now().Add(10 * time.Minute)
		f.grants[key] = existing
		return existing, nil
	}
	grant := lock.Grant{
		WorkspaceID:  workspaceID,
		Path:         path,
		HolderActor:  actorID,
		SessionToken: sessionToken,
		AcquiredAt:   time.Now(),
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
	f.grants[key] = grant
	return grant, nil
}

func (f *fakeLocks) Heartbeat(_ context.Context, workspaceID, path, sessionToken string) (time.Time, error) {
	grant, ok := f.grants[f.key(workspaceID, path)]
	if !ok || grant.SessionToken != sessionToken {
		return time.Time{}, lock.ErrExpired
	}
	grant.ExpiresAt = time.Now().Add(10 * time.Minute)
	f.grants[f.key(workspaceID, path)] = grant
	return grant.ExpiresAt, nil
}

func (f *fakeLocks) Release(_ context.Context, workspaceID, path, sessionToken string) error {
	key := f.key(workspaceID, path)
	grant, ok := f.grants[key]
	if !ok {
		return nil
	}
	if grant.SessionToken != sessionToken {
		return lock.ErrNotHolder
	}
	delete(f.grants, key)
	return nil
}

func (f *fakeLocks) ForceRelease(_ context.Context, workspaceID, path string) error {
	delete(f.grants, f.key(workspaceID, path))
	return nil
}

func (f *fakeLocks) Inspect(_ context.Context, workspaceID, path string) (*lock.Grant, error) {
	grant, ok := f.grants[f.key(workspaceID, path)]
	if !ok {
		return nil, nil
	}
	return &grant, nil
}

func (f *fakeLocks) Ping(_ context.Context) error { return nil }

type fakeFiles struct {
	contents map[string]string
	writeErr func(path string) error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{contents: make(map[string]string)}
}

func (f *fakeFiles) key(workspaceID, path string) string {
	return workspaceID + "/" + path
}

func (f *fakeFiles) Read(_ context.Context, workspaceID, path string) (string, string, error) {
	content, ok := f.contents[f.key(workspaceID, path)]
	if !ok {
		return "", "", filestore.ErrNotFound
	}
	return content, filestore.HashContent(content), nil
}

func (f *fakeFiles) Write(_ context.Context, workspaceID, path, content string) error {
	if f.writeErr != nil {
		if err := f.writeErr(path); err != nil {
			return err
		}
	}
	f.contents[f.key(workspaceID, path)] = content
	return nil
}

func (f *fakeFiles) Exists(_ context.Context, workspaceID, path string) (bool, error) {
	_, ok := f.contents[f.key(workspaceID, path)]
	return ok, nil
}

func (f *fakeFiles) Remove(_ context.Context, workspaceID, path string) error {
	delete(f.contents, f.key(workspaceID, path))
	return nil
}

type fakeMirror struct {
	repos   map[string]bool
	commits map[string][]store.CommitInfo
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{repos: make(map[string]bool), commits: make(map[string][]store.CommitInfo)}
}

func (f *fakeMirror) EnsureWorkspaceRepo(workspaceID, _ string) error {
	f.repos[workspaceID] = true
	return nil
}

func (f *fakeMirror) RecordApply(workspaceID, changesetID, title, author string, _ []gitmirror.FileChange) (store.CommitInfo, error) {
	commit := store.CommitInfo{
		Hash:      fmt.Sprintf("commit-%d", len(f.commits[workspaceID])+1),
		Message:   fmt.Sprintf("%s (%s)", title, changesetID),
		Author:    author,
		CreatedAt: time.Now(),
	}
	f.commits[workspaceID] = append([]store.CommitInfo{commit}, f.commits[workspaceID]...)
	return commit, nil
}

func (f *fakeMirror) History(workspaceID string, limit int) ([]store.CommitInfo, error) {
	commits := f.commits[workspaceID]
	if limit > 0 && len(commits) > limit {
		commits = commits[:limit]
	}
	return commits, nil
}

type fakeSearch struct {
	indexed map[string]search.ChangeSetRecord
	deleted []string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{indexed: make(map[string]search.ChangeSetRecord)}
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	results := make([]search.Result, 0)
	for _, record := range f.indexed {
		if q.FilterWorkspaceID != "" && record.WorkspaceID != q.FilterWorkspaceID {
			continue
		}
		if q.FilterStatus != "" && record.Status != q.FilterStatus {
			continue
		}
		results = append(results, search.Result{
			ID:          record.ID,
			WorkspaceID: record.WorkspaceID,
			Title:       record.Title,
			Status:      record.Status,
		})
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexChangeSet(record search.ChangeSetRecord) {
	f.indexed[record.ID] = record
}

func (f *fakeSearch) DeleteChangeSet(id string) {
	f.deleted = append(f.deleted, id)
	delete(f.indexed, id)
}

type testEnv struct {
	service *Service
	store   *fakeStore
	locks   *fakeLocks
	files   *fakeFiles
	mirror  *fakeMirror
	search  *fakeSearch
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:  newFakeStore(),
		locks:  newFakeLocks(),
		files:  newFakeFiles(),
		mirror: newFakeMirror(),
		search: newFakeSearch(),
	}
	env.service = &Service{
		cfg:    config.Config{RunnerToken: "runner-secret"},
		store:  env.store,
		locks:  env.locks,
		files:  env.files,
		mirror: env.mirror,
		search: env.search,
	}
	return env
}

func (env *testEnv) seedWorkspace(id string) {
	env.store.workspaces[id] = store.Workspace{
		ID:        id,
		TenantID:  "tenant-default",
		Name:      "Test workspace",
		Status:    "active",
		CreatedBy: "user-1",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func (env *testEnv) seedFile(workspaceID, path, content string) {
	env.files.contents[workspaceID+"/"+path] = content
}

// proposeFile attaches a patch through the real propose flow and
// returns the changeset id.
func (env *testEnv) proposeFile(ctx context.Context, workspaceID, changesetID, path, content string) string {
	payload, err := env.service.ProposePatch(ctx, workspaceID, ProposePatchInput{
		ChangeSetID: changesetID,
		Title:       "Test change",
		FilePath:    path,
		NewContent:  content,
	}, "user-1")
	if err != nil {
		panic(err)
	}
	return payload["changesetId"].(string)
}

// passGates records a passing run for every required gate, finished
// after the changeset's last patch mutation.
func (env *testEnv) passGates(changesetID string) {
	finishedAt := time.Now().Add(time.Minute)
	if env.store.passing[changesetID] == nil {
		env.store.passing[changesetID] = make(map[string]time.Time)
	}
	for _, gate := range requiredGates {
		env.store.passing[changesetID][gate] = finishedAt
	}
}

func changeSetFixture(id, workspaceID, status string) store.ChangeSet {
	return store.ChangeSet{
		ID:          id,
		WorkspaceID: workspaceID,
		Title:       "Test change",
		Status:      status,
		ProposedBy:  "user-1",
		CreatedAt:   time.Now(),
	}
}

func searchRecord(id, workspaceID, status string) search.ChangeSetRecord {
	return search.ChangeSetRecord{
		ID:          id,
		WorkspaceID: workspaceID,
		Title:       "Test change",
		Status:      status,
	}
}

// approve walks a draft changeset to approved through the state machine.
func (env *testEnv) approve(ctx context.Context, changesetID string) {
	if _, err := env.service.Transition(ctx, changesetID, TransitionInput{Action: "submit"}, "user-1"); err != nil {
		panic(err)
	}
	if _, err := env.service.Transition(ctx, changesetID, TransitionInput{Action: "approve"}, "user-2"); err != nil {
		panic(err)
	}
}
