// Package patch builds and applies line-based unified diffs for
// workspace file edits.
package patch

// File-level operation carried by a patch.
const (
	OpCreate = "create"
	OpModify = "modify"
	OpDelete = "delete"
)

// BaselineCreateSentinel marks a patch proposed against a path that
// did not exist; apply verifies non-existence instead of hash equality.
const BaselineCreateSentinel = "new"

// Diff status values. Anything other than clean blocks apply but keeps
// the patch visible for review.
const (
	StatusClean            = "clean"
	StatusParseErrorHeader = "parse_error_header"
	StatusParseErrorHunk   = "parse_error_hunk"
	StatusParseErrorBody   = "parse_error_body"
	StatusContextMismatch  = "parse_error_context"
)

// Classify determines the patch operation from whether the file exists
// and whether the proposal carries content.
func Classify(exists bool, newContent string, explicitDelete bool) string {
	if !exists {
		return OpCreate
	}
	if explicitDelete || newContent == "" {
		return OpDelete
	}
	return OpModify
}

// Verify re-applies the stored diff to the baseline and reports the
// diff status. A diff that does not reproduce newContent exactly is
// tagged rather than discarded so the review UI can still show it.
func Verify(baseline, newContent, unifiedDiff string) string {
	applied, err := Apply(baseline, unifiedDiff)
	if err != nil {
		if status, ok := statusForError(err); ok {
			return status
		}
		return StatusParseErrorBody
	}
	if applied != newContent {
		return StatusContextMismatch
	}
	return StatusClean
}
