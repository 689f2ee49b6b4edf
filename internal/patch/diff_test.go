package patch

import (
	"strings"
	"testing"
)

func roundTrip(t *testing.T, name, before, after string) {
	t.Helper()
	diff := Unified("a.js", before, after)
	applied, err := Apply(before, diff)
	if err != nil {
		t.Fatalf("%s: Apply failed: %v\ndiff:\n%s", name, err, diff)
	}
	if applied != after {
		t.Errorf("%s: round trip mismatch\nwant: %q\ngot:  %q\ndiff:\n%s", name, after, applied, diff)
	}
}

func TestUnifiedRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		before string
		after  string
	}{
		{"modify middle line", "a\nb\nc\nd\ne\n", "a\nb\nC\nd\ne\n"},
		{"insert at start", "a\nb\nc\n", "x\na\nb\nc\n"},
		{"insert at end", "a\nb\nc\n", "a\nb\nc\nx\n"},
		{"delete line", "a\nb\nc\nd\n", "a\nc\nd\n"},
		{"replace everything", "a\nb\n", "x\ny\nz\n"},
		{"no trailing newline before", "a\nb\nc", "a\nb\nc\nd\n"},
		{"no trailing newline after", "a\nb\nc\n", "a\nb\nc\nd"},
		{"no trailing newline both", "line one\nline two", "line one\nline two changed"},
		{"single line file", "only\n", "changed\n"},
		{"empty to content", "", "a\nb\n"},
		{"content to empty", "a\nb\n", ""},
		{
			"two distant edits produce two hunks",
			"1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n13\n14\n15\n16\n17\n18\n19\n20\n",
			"1\nX\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n13\n14\n15\n16\n17\n18\nY\n20\n",
		},
		{
			"nearby edits merge into one hunk",
			"1\n2\n3\n4\n5\n6\n7\n8\n",
			"1\nX\n3\n4\n5\nY\n7\n8\n",
		},
		{
			"suitescript content",
			"define(['N/record'], function (record) {\n  return {\n    onRequest: handle\n  };\n});\n",
			"define(['N/record', 'N/log'], function (record, log) {\n  return {\n    onRequest: handle,\n    onError: report\n  };\n});\n",
		},
	}
	for _, tc := range cases {
		roundTrip(t, tc.name, tc.before, tc.after)
	}
}

func TestUnifiedEqualContents(t *testing.T) {
	if diff := Unified("a.js", "same\n", "same\n"); diff != "" {
		t.Errorf("expected empty diff for equal contents, got %q", diff)
	}
}

func TestUnifiedHasHeadersAndContext(t *testing.T) {
	before := "a\nb\nc\nd\ne\nf\ng\n"
	after := "a\nb\nc\nD\ne\nf\ng\n"
	diff := Unified("folder/a.js", before, after)

	if !strings.HasPrefix(diff, "--- a/folder/a.js\n+++ b/folder/a.js\n") {
		t.Errorf("missing file headers:\n%s", diff)
	}
	if !strings.Contains(diff, "@@ -1,7 +1,7 @@") {
		t.Errorf("unexpected hunk header:\n%s", diff)
	}
	for _, context := range []string{" a\n", " c\n", " e\n", " g\n"} {
		if !strings.Contains(diff, context) {
			t.Errorf("missing context line %q:\n%s", context, diff)
		}
	}
	if !strings.Contains(diff, "-d\n") || !strings.Contains(diff, "+D\n") {
		t.Errorf("missing change lines:\n%s", diff)
	}
}

func TestTwoHunks(t *testing.T) {
	before := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n13\n14\n15\n16\n17\n18\n19\n20\n"
	after := "1\nX\n3\n4\n5\n6\n7\n8\n9\n10\n11\n12\n13\n14\n15\n16\n17\n18\nY\n20\n"
	diff := Unified("a.js", before, after)
	if got := strings.Count(diff, "@@ -"); got != 2 {
		t.Errorf("expected 2 hunks, got %d:\n%s", got, diff)
	}
}

func TestApplyContextMismatch(t *testing.T) {
	diff := Unified("a.js", "a\nb\nc\n", "a\nB\nc\n")
	_, err := Apply("a\nDRIFTED\nc\n", diff)
	if err == nil {
		t.Fatal("expected context mismatch error")
	}
	status, ok := statusForError(err)
	if !ok || status != StatusContextMismatch {
		t.Errorf("expected %s, got %v (%s)", StatusContextMismatch, err, status)
	}
}

func TestApplyMalformedHunkHeader(t *testing.T) {
	_, err := Apply("a\n", "--- a/a.js\n+++ b/a.js\n@@ bogus @@\n a\n")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if status, _ := statusForError(err); status != StatusParseErrorHunk {
		t.Errorf("expected %s, got %v", StatusParseErrorHunk, err)
	}
}

func TestApplyGarbageInput(t *testing.T) {
	_, err := Apply("a\n", "this is not a diff")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if status, _ := statusForError(err); status != StatusParseErrorHeader {
		t.Errorf("expected %s, got %v", StatusParseErrorHeader, err)
	}
}

func TestApplyEmptyDiff(t *testing.T) {
	out, err := Apply("unchanged\n", "")
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if out != "unchanged\n" {
		t.Errorf("expected baseline back, got %q", out)
	}
}

func TestVerify(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nB\nc\n"
	diff := Unified("a.js", before, after)

	if status := Verify(before, after, diff); status != StatusClean {
		t.Errorf("expected clean, got %s", status)
	}
	if status := Verify(before, "a\nsomething else\nc\n", diff); status != StatusContextMismatch {
		t.Errorf("expected context status for wrong result, got %s", status)
	}
	if status := Verify(before, after, "garbage"); status != StatusParseErrorHeader {
		t.Errorf("expected header parse status, got %s", status)
	}
}

func TestClassify(t *testing.T) {
	if op := Classify(false, "content", false); op != OpCreate {
		t.Errorf("expected create, got %s", op)
	}
	if op := Classify(true, "content", false); op != OpModify {
		t.Errorf("expected modify, got %s", op)
	}
	if op := Classify(true, "", false); op != OpDelete {
		t.Errorf("expected delete for empty content, got %s", op)
	}
	if op := Classify(true, "content", true); op != OpDelete {
		t.Errorf("expected delete for explicit delete, got %s", op)
	}
}
