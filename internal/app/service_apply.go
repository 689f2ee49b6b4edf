package app

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"suitedesk/api/internal/gitmirror"
	"suitedesk/api/internal/patch"
	"suitedesk/api/internal/store"
)

// applyClaimStaleAfter bounds how long a crashed apply can hold the
// per-changeset claim before another caller may retake it.
const applyClaimStaleAfter = 2 * time.Minute

// Apply writes all patches of an approved changeset to the File Store.
// Preconditions (approved status, run gates, baseline hashes re-read
// from the store) are checked before any write; a mid-write failure is
// reported with the exact applied/failing split instead of pretending
// the store rolled back.
func (s *Service) Apply(ctx context.Context, changesetID, actorID string) (map[string]any, error) {
	changeset, err := s.store.GetChangeSet(ctx, changesetID)
	if err != nil {
		return nil, err
	}

	// Idempotent re-apply: report the prior outcome without rewriting.
	if changeset.Status == "applied" {
		patches, err := s.store.ListPatches(ctx, changesetID)
		if err != nil {
			return nil, err
		}
		result := map[string]any{
			"applied":         true,
			"alreadyApplied":  true,
			"appliedPatchIds": patchIDs(patches),
		}
		if hash, ok := s.mirrorCommitFor(changeset.WorkspaceID, changesetID); ok {
			result["mirrorCommit"] = hash
		}
		return result, nil
	}
	if changeset.Status != "approved" {
		return nil, invalidTransition(changeset.Status, "apply")
	}

	claimed, err := s.store.ClaimApply(ctx, changesetID, actorID, time.Now().Add(-applyClaimStaleAfter))
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domainError(http.StatusConflict, "APPLY_IN_PROGRESS", "another apply is in progress for this changeset", nil)
	}
	defer func() {
		if err := s.store.ReleaseApplyClaim(ctx, changesetID); err != nil {
			log.Printf("apply: release claim for %s: %v", changesetID, err)
		}
	}()

	if err := s.checkRequiredGates(ctx, changeset); err != nil {
		return nil, err
	}

	patches, err := s.store.ListPatches(ctx, changesetID)
	if err != nil {
		return nil, err
	}
	if err := s.checkBaselines(ctx, changeset.WorkspaceID, patches); err != nil {
		return nil, err
	}

	// All preconditions hold: write in apply order.
	applied := make([]string, 0, len(patches))
	changes := make([]gitmirror.FileChange, 0, len(patches))
	for _, item := range patches {
		if item.Operation == patch.OpDelete {
			err = s.files.Remove(ctx, changeset.WorkspaceID, item.FilePath)
		} else {
			err = s.files.Write(ctx, changeset.WorkspaceID, item.FilePath, item.NewContent)
		}
		if err != nil {
			s.audit(ctx, "changeset_apply_partial_failure", actorID, changeset.WorkspaceID, changesetID, map[string]any{
				"appliedPatchIds": applied,
				"failingPatchId":  item.ID,
				"error":           err.Error(),
			})
			return nil, domainError(http.StatusInternalServerError, "APPLY_PARTIAL", "apply failed mid-write; applied patches listed for reconciliation", map[string]any{
				"partial":         true,
				"appliedPatchIds": applied,
				"failingPatchId":  item.ID,
			})
		}
		if err := s.store.MarkPatchApplied(ctx, item.ID); err != nil {
			log.Printf("apply: mark patch %s applied: %v", item.ID, err)
		}
		applied = append(applied, item.ID)
		changes = append(changes, gitmirror.FileChange{
			Path:    item.FilePath,
			Content: item.NewContent,
			Delete:  item.Operation == patch.OpDelete,
		})
	}

	ok, err := s.store.MarkChangeSetApplied(ctx, changesetID, actorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The claim makes this unreachable in practice; surface it
		// rather than report success on an unknown state.
		return nil, invalidTransition(changeset.Status, "apply")
	}

	s.releaseChangeSetLocks(ctx, changeset.WorkspaceID, changesetID)

	commitHash := ""
	if commit, err := s.mirror.RecordApply(changeset.WorkspaceID, changesetID, changeset.Title, actorID, changes); err != nil {
		log.Printf("apply: record mirror commit for %s: %v", changesetID, err)
	} else {
		commitHash = commit.Hash
	}

	s.audit(ctx, "changeset_applied", actorID, changeset.WorkspaceID, changesetID, map[string]any{
		"appliedPatchIds": applied,
	})
	if updated, err := s.store.GetChangeSet(ctx, changesetID); err == nil {
		s.indexChangeSet(updated)
	}

	result := map[string]any{
		"applied":         true,
		"appliedPatchIds": applied,
	}
	if commitHash != "" {
		result["mirrorCommit"] = commitHash
	}
	return result, nil
}

// checkRequiredGates verifies every required run type has a passing
// run newer than the changeset's last patch mutation.
func (s *Service) checkRequiredGates(ctx context.Context, changeset store.ChangeSet) error {
	passing, err := s.store.LatestPassingRuns(ctx, changeset.ID)
	if err != nil {
		return err
	}
	lastPatch := changeset.CreatedAt
	if changeset.LastPatchAt != nil {
		lastPatch = *changeset.LastPatchAt
	}

	var missing, stale []string
	for _, gate := range requiredGates {
		finishedAt, ok := passing[gate]
		switch {
		case !ok:
			missing = append(missing, gate)
		case finishedAt.Before(lastPatch):
			stale = append(stale, gate)
		}
	}
	if len(missing) > 0 || len(stale) > 0 {
		return domainError(http.StatusConflict, "GATE_NOT_SATISFIED", "required verification runs are missing or stale", map[string]any{
			"missing": missing,
			"stale":   stale,
		})
	}
	return nil
}

// checkBaselines re-reads every patched path and fails when any hash
// no longer matches the proposal-time baseline. Locks can expire
// between proposal and apply, so this re-read is the actual
// correctness backstop.
func (s *Service) checkBaselines(ctx context.Context, workspaceID string, patches []store.Patch) error {
	var notClean, staleIDs []string
	for _, item := range patches {
		if item.DiffStatus != patch.StatusClean {
			notClean = append(notClean, item.ID)
			continue
		}
		exists, err := s.files.Exists(ctx, workspaceID, item.FilePath)
		if err != nil {
			return err
		}
		if item.BaselineSHA256 == patch.BaselineCreateSentinel {
			if exists {
				staleIDs = append(staleIDs, item.ID)
			}
			continue
		}
		if !exists {
			staleIDs = append(staleIDs, item.ID)
			continue
		}
		_, currentSHA, err := s.files.Read(ctx, workspaceID, item.FilePath)
		if err != nil {
			return err
		}
		if currentSHA != item.BaselineSHA256 {
			staleIDs = append(staleIDs, item.ID)
		}
	}
	if len(notClean) > 0 {
		return domainError(http.StatusConflict, "PATCH_NOT_CLEAN", "changeset has patches with non-clean diff status", map[string]any{
			"failingPatchIds": notClean,
		})
	}
	if len(staleIDs) > 0 {
		return domainError(http.StatusConflict, "STALE_BASELINE", "file contents changed since the patches were proposed", map[string]any{
			"reason":          "stale_baseline",
			"failingPatchIds": staleIDs,
		})
	}
	return nil
}

// mirrorCommitFor looks up the mirror commit recorded for a changeset,
// so the re-apply payload matches the shape of the first apply. Mirror
// commit messages carry the changeset id.
func (s *Service) mirrorCommitFor(workspaceID, changesetID string) (string, bool) {
	commits, err := s.mirror.History(workspaceID, 0)
	if err != nil {
		return "", false
	}
	for _, commit := range commits {
		if strings.Contains(commit.Message, changesetID) {
			return commit.Hash, true
		}
	}
	return "", false
}

func patchIDs(patches []store.Patch) []string {
	ids := make([]string, 0, len(patches))
	for _, item := range patches {
		ids = append(ids, item.ID)
	}
	return ids
}
