package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const contextLines = 3

const noNewlineMarker = `\ No newline at end of file`

type editKind byte

const (
	editContext editKind = ' '
	editRemove  editKind = '-'
	editInsert  editKind = '+'
)

// edit is a single line of the diff. text keeps the line terminator of
// the source content so round trips stay byte exact.
type edit struct {
	kind editKind
	text string
}

// Unified computes a standard unified diff (3 lines of context) that
// transforms before into after. Returns "" when the contents are equal.
func Unified(path, before, after string) string {
	if before == after {
		return ""
	}
	edits := lineEdits(before, after)

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n", path)
	fmt.Fprintf(&b, "+++ b/%s\n", path)

	oldLine, newLine := 1, 1
	i := 0
	for i < len(edits) {
		if edits[i].kind == editContext {
			oldLine++
			newLine++
			i++
			continue
		}

		// Open a hunk: back up over up to contextLines of context.
		start := i
		for start > 0 && i-start < contextLines && edits[start-1].kind == editContext {
			start--
		}
		hunkOld := oldLine - (i - start)
		hunkNew := newLine - (i - start)

		// Advance to the end of the hunk, swallowing context gaps of at
		// most 2*contextLines between change runs.
		lastChange := i
		j := i + 1
		for j < len(edits) {
			if edits[j].kind != editContext {
				lastChange = j
				j++
				continue
			}
			run := j
			for run < len(edits) && edits[run].kind == editContext {
				run++
			}
			if run == len(edits) || run-j > 2*contextLines {
				break
			}
			j = run
		}
		end := lastChange + contextLines
		if end > len(edits)-1 {
			end = len(edits) - 1
		}

		oldCount, newCount := 0, 0
		var body strings.Builder
		for k := start; k <= end; k++ {
			e := edits[k]
			switch e.kind {
			case editContext:
				oldCount++
				newCount++
			case editRemove:
				oldCount++
			case editInsert:
				newCount++
			}
			line, hadNewline := strings.CutSuffix(e.text, "\n")
			body.WriteByte(byte(e.kind))
			body.WriteString(line)
			body.WriteByte('\n')
			if !hadNewline {
				body.WriteString(noNewlineMarker)
				body.WriteByte('\n')
			}
		}

		fmt.Fprintf(&b, "@@ -%s +%s @@\n", rangeHeader(hunkOld, oldCount), rangeHeader(hunkNew, newCount))
		b.WriteString(body.String())

		for k := i; k <= end; k++ {
			switch edits[k].kind {
			case editContext:
				oldLine++
				newLine++
			case editRemove:
				oldLine++
			case editInsert:
				newLine++
			}
		}
		i = end + 1
	}

	return b.String()
}

// rangeHeader renders one side of a @@ header. A zero-length range is
// anchored on the line before it, per the unified format.
func rangeHeader(start, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", start-1)
	}
	if count == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, count)
}

// lineEdits produces the line-level edit script via go-diff's
// line-mode pipeline.
func lineEdits(before, after string) []edit {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var edits []edit
	for _, d := range diffs {
		kind := editContext
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = editRemove
		case diffmatchpatch.DiffInsert:
			kind = editInsert
		}
		for _, line := range splitLines(d.Text) {
			edits = append(edits, edit{kind: kind, text: line})
		}
	}
	return edits
}

// splitLines splits content into lines, each keeping its trailing
// newline. The final line may lack one.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
