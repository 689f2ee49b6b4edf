package app

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ParsedProposal is a propose_patch tool-call payload after
// validation. The chat orchestrator emits snake_case keys and
// occasionally truncates the JSON mid-string, so parsing recovers what
// it can instead of discarding the whole call.
type ParsedProposal struct {
	ChangeSetID    string `json:"changeset_id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	FilePath       string `json:"file_path"`
	Operation      string `json:"operation"`
	UnifiedDiff    string `json:"unified_diff"`
	NewContent     string `json:"new_content"`
	BaselineSHA256 string `json:"baseline_sha256"`
}

// ProposalParseError carries the top-level string fields that could be
// read before the payload broke, for the review surface.
type ProposalParseError struct {
	Message       string
	PartialFields map[string]string
}

func (e *ProposalParseError) Error() string {
	return "proposal parse error: " + e.Message
}

// ParseProposal decodes a tool-call payload. On malformed input it
// returns a *ProposalParseError with whatever complete fields preceded
// the break.
func ParseProposal(raw []byte) (ParsedProposal, *ProposalParseError) {
	var proposal ParsedProposal
	if err := json.Unmarshal(raw, &proposal); err != nil {
		return ParsedProposal{}, &ProposalParseError{
			Message:       err.Error(),
			PartialFields: recoverPartialFields(raw),
		}
	}
	if strings.TrimSpace(proposal.FilePath) == "" {
		return ParsedProposal{}, &ProposalParseError{
			Message:       "file_path is required",
			PartialFields: recoverPartialFields(raw),
		}
	}
	return proposal, nil
}

// recoverPartialFields walks the token stream of a possibly-truncated
// JSON object and collects every complete top-level string field.
func recoverPartialFields(raw []byte) map[string]string {
	fields := make(map[string]string)
	decoder := json.NewDecoder(bytes.NewReader(raw))

	token, err := decoder.Token()
	if err != nil {
		return fields
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fields
	}

	for {
		keyToken, err := decoder.Token()
		if err != nil {
			return fields
		}
		key, ok := keyToken.(string)
		if !ok {
			return fields
		}

		valueToken, err := decoder.Token()
		if err != nil {
			return fields
		}
		switch value := valueToken.(type) {
		case string:
			fields[key] = value
		case json.Delim:
			// Nested object/array: skip its tokens wholesale.
			depth := 1
			for depth > 0 {
				inner, err := decoder.Token()
				if err != nil {
					return fields
				}
				if delim, ok := inner.(json.Delim); ok {
					switch delim {
					case '{', '[':
						depth++
					case '}', ']':
						depth--
					}
				}
			}
		default:
			// Non-string scalar; not useful for recovery.
		}
	}
}
