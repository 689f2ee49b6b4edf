package store

import "time"

type Workspace struct {
	ID        string
	TenantID  string
	Name      string
	Status    string
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChangeSet is a named bundle of proposed file edits. Status moves
// draft -> pending_review -> approved -> applied, or to rejected from
// draft/pending_review. Terminal rows are immutable.
type ChangeSet struct {
	ID              string
	WorkspaceID     string
	Title           string
	Description     string
	Status          string
	ProposedBy      string
	ReviewedBy      string
	AppliedBy       string
	RejectionReason string
	CreatedAt       time.Time
	SubmittedAt     *time.Time
	ReviewedAt      *time.Time
	AppliedAt       *time.Time
	// LastPatchAt tracks the newest patch mutation; run results older
	// than this are stale for gating purposes.
	LastPatchAt    *time.Time
	ApplyClaimedBy string
	ApplyClaimedAt *time.Time
}

type Patch struct {
	ID             string
	ChangeSetID    string
	FilePath       string
	Operation      string
	UnifiedDiff    string
	NewContent     string
	BaselineSHA256 string
	DiffStatus     string
	ApplyOrder     int
	CreatedAt      time.Time
	AppliedAt      *time.Time
}

type WorkspaceRun struct {
	ID          string
	WorkspaceID string
	ChangeSetID string
	RunType     string
	Status      string
	Command     string
	ExitCode    *int
	QueuedAt    time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	DurationMs  *int64
}

// WorkspaceArtifact is an immutable output blob of a run (stdout,
// stderr, report, coverage).
type WorkspaceArtifact struct {
	ID           string
	RunID        string
	ArtifactType string
	Content      string
	SizeBytes    int64
	SHA256Hash   string
	CreatedAt    time.Time
}

// CommitInfo summarizes one commit in a workspace apply-history
// mirror.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

type AuditEvent struct {
	ID            int64
	EventType     string
	ActorID       string
	WorkspaceID   string
	ChangeSetID   string
	CorrelationID string
	Payload       map[string]any
	CreatedAt     time.Time
}
