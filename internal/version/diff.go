package version

import (
	"context"
	"strings"
)

// LineOp marks a diff line.
type LineOp string

const (
	OpEqual  LineOp = " "
	OpRemove LineOp = "-"
	OpAdd    LineOp = "+"

	// OpNoNewline follows a line that has no terminating newline. It is
	// not counted as a change.
	OpNoNewline LineOp = "\\"
)

// NoNewlineText is the Text of an OpNoNewline entry.
const NoNewlineText = "No newline at end of file"

// Line is one entry of a Diff.
type Line struct {
	Op LineOp
	// Number is the 1-based line index the entry was aligned on.
	Number int
	Text   string
}

// Diff compares two texts line by line.
type Diff struct {
	From      int
	To        int
	Lines     []Line
	Additions int
	Deletions int
}

// Changed reports whether the diff has any additions or deletions.
func (d *Diff) Changed() bool {
	return d.Additions > 0 || d.Deletions > 0
}

// String renders the diff with "-", "+" and " " prefixes.
func (d *Diff) String() string {
	var b strings.Builder
	for _, l := range d.Lines {
		b.WriteString(string(l.Op))
		if l.Op == OpNoNewline {
			b.WriteByte(' ')
		}
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Diff compares two versions of a record on one branch.
func (s *Store) Diff(ctx context.Context, recordID string, from, to int, branch string) (*Diff, error) {
	a, err := s.GetVersion(ctx, recordID, from, branch)
	if err != nil {
		return nil, err
	}
	b, err := s.GetVersion(ctx, recordID, to, branch)
	if err != nil {
		return nil, err
	}
	d := DiffText(a.Content, b.Content)
	d.From, d.To = from, to
	return d, nil
}

// DiffText aligns old and new by line index. A line that differs at the same
// index yields a removal followed by an addition; lines past the end of the
// shorter text are pure removals or additions. Swapping the arguments swaps
// the addition and deletion counts.
//
// A last line without a newline differs from the same line with one, and
// every shown line lacking its newline is followed by an OpNoNewline entry.
func DiffText(old, new string) *Diff {
	a := splitLines(old)
	b := splitLines(new)

	d := &Diff{Lines: []Line{}}
	emit := func(op LineOp, n int, l line) {
		d.Lines = append(d.Lines, Line{Op: op, Number: n, Text: l.text})
		if !l.eol {
			d.Lines = append(d.Lines, Line{Op: OpNoNewline, Number: n, Text: NoNewlineText})
		}
	}

	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		switch {
		case i >= len(a):
			emit(OpAdd, i+1, b[i])
			d.Additions++
		case i >= len(b):
			emit(OpRemove, i+1, a[i])
			d.Deletions++
		case a[i] == b[i]:
			emit(OpEqual, i+1, a[i])
		default:
			emit(OpRemove, i+1, a[i])
			emit(OpAdd, i+1, b[i])
			d.Deletions++
			d.Additions++
		}
	}
	return d
}

// line is a line of text and whether a newline terminated it.
type line struct {
	text string
	eol  bool
}

func splitLines(s string) []line {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	out := make([]line, len(parts))
	for i, p := range parts {
		text, eol := strings.CutSuffix(p, "\n")
		out[i] = line{text: text, eol: eol}
	}
	return out
}
