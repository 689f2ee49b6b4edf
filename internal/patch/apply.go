package patch

import (
	"fmt"
	"strconv"
	"strings"
)

type diffError struct {
	status  string
	message string
}

func (e *diffError) Error() string {
	return e.message
}

func statusForError(err error) (string, bool) {
	if de, ok := err.(*diffError); ok {
		return de.status, true
	}
	return "", false
}

// Apply replays a unified diff onto baseline content and returns the
// resulting content. Context and removed lines must match the baseline
// exactly; any mismatch fails rather than fuzzy-applying.
func Apply(baseline, unifiedDiff string) (string, error) {
	if unifiedDiff == "" {
		return baseline, nil
	}

	oldLines := splitLines(baseline)
	diffLines := strings.Split(unifiedDiff, "\n")
	if len(diffLines) > 0 && diffLines[len(diffLines)-1] == "" {
		diffLines = diffLines[:len(diffLines)-1]
	}

	var out strings.Builder
	oldIdx := 0
	lastWasInsert := false

	appendBaselineLine := func() {
		out.WriteString(oldLines[oldIdx])
		oldIdx++
		lastWasInsert = false
	}

	i := 0
	for i < len(diffLines) {
		line := diffLines[i]
		switch {
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
			i++
		case strings.HasPrefix(line, "@@"):
			oldStart, oldCount, err := parseHunkHeader(line)
			if err != nil {
				return "", err
			}
			// Copy unchanged lines preceding the hunk.
			target := oldStart - 1
			if target < oldIdx || target > len(oldLines) {
				return "", &diffError{status: StatusContextMismatch, message: fmt.Sprintf("hunk starts at line %d beyond position %d", oldStart, oldIdx+1)}
			}
			for oldIdx < target {
				appendBaselineLine()
			}

			consumed := 0
			i++
			for i < len(diffLines) {
				body := diffLines[i]
				if strings.HasPrefix(body, "@@") || strings.HasPrefix(body, "--- ") {
					break
				}
				if body == "" && i == len(diffLines)-1 {
					i++
					break
				}
				if body == noNewlineMarker {
					if lastWasInsert {
						trimmed := strings.TrimSuffix(out.String(), "\n")
						out.Reset()
						out.WriteString(trimmed)
					}
					i++
					continue
				}
				if body == "" {
					// An empty context line; unified diff renders it as a
					// single space that some transports strip.
					body = " "
				}
				text := body[1:]
				switch body[0] {
				case ' ':
					if oldIdx >= len(oldLines) || strings.TrimSuffix(oldLines[oldIdx], "\n") != text {
						return "", &diffError{status: StatusContextMismatch, message: fmt.Sprintf("context mismatch at line %d", oldIdx+1)}
					}
					appendBaselineLine()
					consumed++
				case '-':
					if oldIdx >= len(oldLines) || strings.TrimSuffix(oldLines[oldIdx], "\n") != text {
						return "", &diffError{status: StatusContextMismatch, message: fmt.Sprintf("removed line mismatch at line %d", oldIdx+1)}
					}
					oldIdx++
					consumed++
					lastWasInsert = false
				case '+':
					out.WriteString(text)
					out.WriteString("\n")
					lastWasInsert = true
				default:
					return "", &diffError{status: StatusParseErrorBody, message: fmt.Sprintf("unexpected diff line %q", body)}
				}
				i++
			}
			if consumed != oldCount {
				return "", &diffError{status: StatusParseErrorHunk, message: fmt.Sprintf("hunk consumed %d of %d old lines", consumed, oldCount)}
			}
		default:
			return "", &diffError{status: StatusParseErrorHeader, message: fmt.Sprintf("unexpected line %q outside hunk", line)}
		}
	}

	for oldIdx < len(oldLines) {
		appendBaselineLine()
	}
	return out.String(), nil
}

// parseHunkHeader extracts the old-side range from "@@ -l,s +l,s @@".
func parseHunkHeader(line string) (start, count int, err error) {
	malformed := &diffError{status: StatusParseErrorHunk, message: fmt.Sprintf("malformed hunk header %q", line)}

	rest := strings.TrimPrefix(line, "@@")
	end := strings.Index(rest, "@@")
	if end < 0 {
		return 0, 0, malformed
	}
	fields := strings.Fields(rest[:end])
	if len(fields) != 2 || !strings.HasPrefix(fields[0], "-") {
		return 0, 0, malformed
	}

	oldRange := strings.TrimPrefix(fields[0], "-")
	startText, countText, hasCount := strings.Cut(oldRange, ",")
	start, err = strconv.Atoi(startText)
	if err != nil {
		return 0, 0, malformed
	}
	count = 1
	if hasCount {
		count, err = strconv.Atoi(countText)
		if err != nil {
			return 0, 0, malformed
		}
	}
	if count == 0 {
		// Zero-length ranges anchor on the preceding line.
		start++
	}
	return start, count, nil
}
