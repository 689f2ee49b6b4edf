package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- workspaces ----

func (s *PostgresStore) InsertWorkspace(ctx context.Context, item Workspace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, tenant_id, name, status, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.TenantID, item.Name, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var item Workspace
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, status, created_by, created_at, updated_at
		FROM workspaces
		WHERE id=$1
	`, workspaceID).Scan(&item.ID, &item.TenantID, &item.Name, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Workspace{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context, tenantID string) ([]Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, status, created_by, created_at, updated_at
		FROM workspaces
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]Workspace, 0)
	for rows.Next() {
		var item Workspace
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Name, &item.Status, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ArchiveWorkspace(ctx context.Context, workspaceID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workspaces
		SET status='archived', updated_at=NOW()
		WHERE id=$1 AND status='active'
	`, workspaceID)
	if err != nil {
		return false, fmt.Errorf("archive workspace: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("archive workspace rows: %w", err)
	}
	return affected > 0, nil
}

// ---- changesets ----

const changesetColumns = `
	id, workspace_id, title, description, status,
	proposed_by, reviewed_by, applied_by, rejection_reason,
	created_at, submitted_at, reviewed_at, applied_at, last_patch_at,
	apply_claimed_by, apply_claimed_at
`

func scanChangeSet(row interface{ Scan(...any) error }) (ChangeSet, error) {
	var item ChangeSet
	err := row.Scan(
		&item.ID, &item.WorkspaceID, &item.Title, &item.Description, &item.Status,
		&item.ProposedBy, &item.ReviewedBy, &item.AppliedBy, &item.RejectionReason,
		&item.CreatedAt, &item.SubmittedAt, &item.ReviewedAt, &item.AppliedAt, &item.LastPatchAt,
		&item.ApplyClaimedBy, &item.ApplyClaimedAt,
	)
	return item, err
}

func (s *PostgresStore) CreateChangeSet(ctx context.Context, item ChangeSet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changesets (id, workspace_id, title, description, status, proposed_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.WorkspaceID, item.Title, item.Description, item.Status, item.ProposedBy)
	if err != nil {
		return fmt.Errorf("create changeset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChangeSet(ctx context.Context, changesetID string) (ChangeSet, error) {
	item, err := scanChangeSet(s.db.QueryRowContext(ctx,
		`SELECT `+changesetColumns+` FROM changesets WHERE id=$1`, changesetID))
	if err != nil {
		return ChangeSet{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListChangeSets(ctx context.Context, workspaceID string) ([]ChangeSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+changesetColumns+` FROM changesets WHERE workspace_id=$1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list changesets: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeSet, 0)
	for rows.Next() {
		item, err := scanChangeSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan changeset: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changesets: %w", err)
	}
	return items, nil
}

// SubmitChangeSet moves draft -> pending_review. The conditional WHERE is
// the compare-and-swap: concurrent submits resolve to one winner.
func (s *PostgresStore) SubmitChangeSet(ctx context.Context, changesetID string) (bool, error) {
	return s.conditionalUpdate(ctx, `
		UPDATE changesets
		SET status='pending_review', submitted_at=NOW()
		WHERE id=$1 AND status='draft'
	`, changesetID)
}

func (s *PostgresStore) ApproveChangeSet(ctx context.Context, changesetID, reviewedBy string) (bool, error) {
	return s.conditionalUpdate(ctx, `
		UPDATE changesets
		SET status='approved', reviewed_by=$2, reviewed_at=NOW()
		WHERE id=$1 AND status='pending_review'
	`, changesetID, reviewedBy)
}

func (s *PostgresStore) RejectChangeSet(ctx context.Context, changesetID, reviewedBy, reason string) (bool, error) {
	return s.conditionalUpdate(ctx, `
		UPDATE changesets
		SET status='rejected', reviewed_by=$2, rejection_reason=$3, reviewed_at=NOW()
		WHERE id=$1 AND status IN ('draft', 'pending_review')
	`, changesetID, reviewedBy, reason)
}

func (s *PostgresStore) MarkChangeSetApplied(ctx context.Context, changesetID, appliedBy string) (bool, error) {
	return s.conditionalUpdate(ctx, `
		UPDATE changesets
		SET status='applied', applied_by=$2, applied_at=NOW()
		WHERE id=$1 AND status='approved'
	`, changesetID, appliedBy)
}

// ClaimApply serializes concurrent apply attempts. A claim older than
// staleBefore is considered abandoned and may be retaken.
func (s *PostgresStore) ClaimApply(ctx context.Context, changesetID, actorID string, staleBefore time.Time) (bool, error) {
	return s.conditionalUpdate(ctx, `
		UPDATE changesets
		SET apply_claimed_by=$2, apply_claimed_at=NOW()
		WHERE id=$1 AND status='approved'
			AND (apply_claimed_at IS NULL OR apply_claimed_at < $3)
	`, changesetID, actorID, staleBefore)
}

func (s *PostgresStore) ReleaseApplyClaim(ctx context.Context, changesetID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE changesets
		SET apply_claimed_by='', apply_claimed_at=NULL
		WHERE id=$1
	`, changesetID)
	if err != nil {
		return fmt.Errorf("release apply claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) conditionalUpdate(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("conditional update: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("conditional update rows: %w", err)
	}
	return affected > 0, nil
}

// ---- patches ----

// UpsertPatch attaches a patch to its changeset, replacing any earlier
// patch for the same path. The replacement takes the new patch id (the
// original apply_order slot is kept) so the id handed back to the
// caller is the one later listings report. The changeset's
// last_patch_at is bumped in the same transaction so stale run results
// cannot satisfy the gate.
func (s *PostgresStore) UpsertPatch(ctx context.Context, item Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert patch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patches (id, changeset_id, file_path, operation, unified_diff, new_content, baseline_sha256, diff_status, apply_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			COALESCE((SELECT MAX(apply_order) FROM patches WHERE changeset_id=$2), 0) + 1)
		ON CONFLICT (changeset_id, file_path) DO UPDATE SET
			id=EXCLUDED.id,
			operation=EXCLUDED.operation,
			unified_diff=EXCLUDED.unified_diff,
			new_content=EXCLUDED.new_content,
			baseline_sha256=EXCLUDED.baseline_sha256,
			diff_status=EXCLUDED.diff_status,
			created_at=NOW(),
			applied_at=NULL
	`, item.ID, item.ChangeSetID, item.FilePath, item.Operation, item.UnifiedDiff, item.NewContent, item.BaselineSHA256, item.DiffStatus)
	if err != nil {
		return fmt.Errorf("upsert patch: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE changesets SET last_patch_at=NOW() WHERE id=$1`, item.ChangeSetID); err != nil {
		return fmt.Errorf("touch changeset: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert patch: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPatches(ctx context.Context, changesetID string) ([]Patch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, changeset_id, file_path, operation, unified_diff, new_content, baseline_sha256, diff_status, apply_order, created_at, applied_at
		FROM patches
		WHERE changeset_id=$1
		ORDER BY apply_order
	`, changesetID)
	if err != nil {
		return nil, fmt.Errorf("list patches: %w", err)
	}
	defer rows.Close()

	items := make([]Patch, 0)
	for rows.Next() {
		var item Patch
		if err := rows.Scan(&item.ID, &item.ChangeSetID, &item.FilePath, &item.Operation, &item.UnifiedDiff, &item.NewContent, &item.BaselineSHA256, &item.DiffStatus, &item.ApplyOrder, &item.CreatedAt, &item.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan patch: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patches: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkPatchApplied(ctx context.Context, patchID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE patches SET applied_at=NOW() WHERE id=$1`, patchID)
	if err != nil {
		return fmt.Errorf("mark patch applied: %w", err)
	}
	return nil
}

func (s *PostgresStore) ChangeSetPatchCount(ctx context.Context, changesetID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patches WHERE changeset_id=$1`, changesetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count patches: %w", err)
	}
	return count, nil
}

// ---- runs ----

func (s *PostgresStore) InsertRun(ctx context.Context, item WorkspaceRun) error {
	changesetID := sql.NullString{String: item.ChangeSetID, Valid: item.ChangeSetID != ""}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_runs (id, workspace_id, changeset_id, run_type, status, command)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.WorkspaceID, changesetID, item.RunType, item.Status, item.Command)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (WorkspaceRun, error) {
	var item WorkspaceRun
	var changesetID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, changeset_id, run_type, status, command, exit_code, queued_at, started_at, finished_at, duration_ms
		FROM workspace_runs
		WHERE id=$1
	`, runID).Scan(&item.ID, &item.WorkspaceID, &changesetID, &item.RunType, &item.Status, &item.Command, &item.ExitCode, &item.QueuedAt, &item.StartedAt, &item.FinishedAt, &item.DurationMs)
	if err != nil {
		return WorkspaceRun{}, err
	}
	item.ChangeSetID = changesetID.String
	return item, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, changesetID string) ([]WorkspaceRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, changeset_id, run_type, status, command, exit_code, queued_at, started_at, finished_at, duration_ms
		FROM workspace_runs
		WHERE changeset_id=$1
		ORDER BY queued_at DESC
	`, changesetID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceRun, 0)
	for rows.Next() {
		var item WorkspaceRun
		var runChangesetID sql.NullString
		if err := rows.Scan(&item.ID, &item.WorkspaceID, &runChangesetID, &item.RunType, &item.Status, &item.Command, &item.ExitCode, &item.QueuedAt, &item.StartedAt, &item.FinishedAt, &item.DurationMs); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		item.ChangeSetID = runChangesetID.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return items, nil
}

// MarkRunStarted moves queued -> running.
func (s *PostgresStore) MarkRunStarted(ctx context.Context, runID string) (bool, error) {
	return s.conditionalUpdate(ctx, `
		UPDATE workspace_runs
		SET status='running', started_at=NOW()
		WHERE id=$1 AND status='queued'
	`, runID)
}

// CompleteRun records the terminal status reported by the external
// runner. Only queued or running runs may complete.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID, status string, exitCode *int, durationMs *int64) (bool, error) {
	return s.conditionalUpdate(ctx, `
		UPDATE workspace_runs
		SET status=$2, exit_code=$3, duration_ms=$4, finished_at=NOW()
		WHERE id=$1 AND status IN ('queued', 'running')
	`, runID, status, exitCode, durationMs)
}

// LatestPassingRuns returns, per run type, the finish time of the most
// recent passed run for the changeset.
func (s *PostgresStore) LatestPassingRuns(ctx context.Context, changesetID string) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_type, MAX(finished_at)
		FROM workspace_runs
		WHERE changeset_id=$1 AND status='passed' AND finished_at IS NOT NULL
		GROUP BY run_type
	`, changesetID)
	if err != nil {
		return nil, fmt.Errorf("latest passing runs: %w", err)
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var runType string
		var finishedAt time.Time
		if err := rows.Scan(&runType, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan passing run: %w", err)
		}
		result[runType] = finishedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passing runs: %w", err)
	}
	return result, nil
}

// ---- artifacts ----

func (s *PostgresStore) InsertArtifact(ctx context.Context, item WorkspaceArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_artifacts (id, run_id, artifact_type, content, size_bytes, sha256_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.RunID, item.ArtifactType, item.Content, item.SizeBytes, item.SHA256Hash)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, runID string) ([]WorkspaceArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, artifact_type, content, size_bytes, sha256_hash, created_at
		FROM workspace_artifacts
		WHERE run_id=$1
		ORDER BY created_at
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceArtifact, 0)
	for rows.Next() {
		var item WorkspaceArtifact
		if err := rows.Scan(&item.ID, &item.RunID, &item.ArtifactType, &item.Content, &item.SizeBytes, &item.SHA256Hash, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return items, nil
}

// ---- audit ----

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, event AuditEvent) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_id, workspace_id, changeset_id, correlation_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.EventType, event.ActorID, event.WorkspaceID, event.ChangeSetID, event.CorrelationID, encoded)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ---- search fallback ----

// SearchChangeSets is the Postgres fallback used when Meilisearch is
// not available.
func (s *PostgresStore) SearchChangeSets(ctx context.Context, query string, limit int) ([]ChangeSet, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+changesetColumns+`
		FROM changesets
		WHERE title ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search changesets: %w", err)
	}
	defer rows.Close()

	items := make([]ChangeSet, 0)
	for rows.Next() {
		item, err := scanChangeSet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan changeset: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changesets: %w", err)
	}
	return items, nil
}
