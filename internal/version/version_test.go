package version

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// fakeClock returns a clock that advances one minute per call.
func fakeClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

func setupStore(t *testing.T) *Store {
	t.Helper()

	c, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	if err != nil {
		t.Fatalf("catalog.Open() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return New(c, WithClock(fakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))))
}

func mustCreate(t *testing.T, s *Store, recordID, content, branch string) *Version {
	t.Helper()
	v, err := s.CreateVersion(context.Background(), recordID, content, nil, branch, "")
	if err != nil {
		t.Fatalf("CreateVersion(%s, %s) failed: %v", recordID, branch, err)
	}
	return v
}

func TestCreateVersion_Sequence(t *testing.T) {
	s := setupStore(t)

	v1 := mustCreate(t, s, "r1", "one", "")
	if v1.Version != 1 {
		t.Errorf("first version = %d, want 1", v1.Version)
	}
	if v1.Branch != MainBranch {
		t.Errorf("branch = %q, want %q", v1.Branch, MainBranch)
	}
	if v1.ParentVersion != nil {
		t.Errorf("first version parent = %d, want nil", *v1.ParentVersion)
	}

	v2 := mustCreate(t, s, "r1", "two", "")
	if v2.Version != 2 {
		t.Errorf("second version = %d, want 2", v2.Version)
	}
	if v2.ParentVersion == nil || *v2.ParentVersion != 1 {
		t.Errorf("second version parent = %v, want 1", v2.ParentVersion)
	}
}

func TestCreateVersion_GaplessAcrossBranches(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	mustCreate(t, s, "r1", "base", MainBranch)
	if _, err := s.CreateBranch(ctx, "r1", "experiment", MainBranch, 0); err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}

	// Interleave writes on both branches and on another record.
	order := []string{MainBranch, "experiment", "experiment", MainBranch, "experiment", MainBranch}
	for _, b := range order {
		mustCreate(t, s, "r1", "content on "+b, b)
		mustCreate(t, s, "r2", "noise", b)
	}

	for _, branch := range []string{MainBranch, "experiment"} {
		versions, err := s.ListVersions(ctx, "r1", ListOptions{Branch: branch})
		if err != nil {
			t.Fatalf("ListVersions(%s) failed: %v", branch, err)
		}
		for i, v := range versions {
			want := len(versions) - i
			if v.Version != want {
				t.Errorf("%s: versions[%d] = %d, want %d", branch, i, v.Version, want)
			}
		}
		if len(versions) != 4 {
			t.Errorf("%s: got %d versions, want 4", branch, len(versions))
		}
	}
}

func TestCreateVersion_RequiresRecordID(t *testing.T) {
	s := setupStore(t)

	_, err := s.CreateVersion(context.Background(), " ", "x", nil, "", "")
	if !errors.Is(err, vaulterr.ErrValidation) {
		t.Errorf("CreateVersion() error = %v, want validation error", err)
	}
}

func TestCreateVersion_Frontmatter(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	fm := map[string]any{"name": "greeting", "tags": []any{"a", "b"}}
	if _, err := s.CreateVersion(ctx, "r1", "hello", fm, "", "Initial version"); err != nil {
		t.Fatalf("CreateVersion() failed: %v", err)
	}

	got, err := s.GetVersion(ctx, "r1", 1, "")
	if err != nil {
		t.Fatalf("GetVersion() failed: %v", err)
	}
	if got.Frontmatter["name"] != "greeting" {
		t.Errorf("frontmatter name = %v, want greeting", got.Frontmatter["name"])
	}
	if got.ChangeReason != "Initial version" {
		t.Errorf("ChangeReason = %q, want %q", got.ChangeReason, "Initial version")
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestGetVersion_NotFound(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustCreate(t, s, "r1", "one", "")

	_, err := s.GetVersion(ctx, "r1", 7, "")
	if !errors.Is(err, vaulterr.ErrVersionNotFound) {
		t.Errorf("GetVersion() error = %v, want version-not-found", err)
	}

	_, err = s.GetHead(ctx, "missing", "")
	if !errors.Is(err, vaulterr.ErrVersionNotFound) {
		t.Errorf("GetHead() error = %v, want version-not-found", err)
	}
}

func TestGetHead(t *testing.T) {
	s := setupStore(t)
	mustCreate(t, s, "r1", "one", "")
	mustCreate(t, s, "r1", "two", "")
	mustCreate(t, s, "r1", "three", "")

	head, err := s.GetHead(context.Background(), "r1", "")
	if err != nil {
		t.Fatalf("GetHead() failed: %v", err)
	}
	if head.Version != 3 || head.Content != "three" {
		t.Errorf("GetHead() = v%d %q, want v3 %q", head.Version, head.Content, "three")
	}
}

func TestListVersions_Options(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustCreate(t, s, "r1", "x", "")
	}

	limited, err := s.ListVersions(ctx, "r1", ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Version != 5 || limited[1].Version != 4 {
		t.Errorf("ListVersions(limit 2) returned wrong versions")
	}

	v3, err := s.GetVersion(ctx, "r1", 3, "")
	if err != nil {
		t.Fatalf("GetVersion() failed: %v", err)
	}
	since, err := s.ListVersions(ctx, "r1", ListOptions{Since: v3.CreatedAt})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if len(since) != 3 {
		t.Errorf("ListVersions(since v3) returned %d versions, want 3", len(since))
	}

	empty, err := s.ListVersions(ctx, "nobody", ListOptions{})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListVersions(unknown) = %v, want empty slice", empty)
	}
}

func TestRollback_CreatesBackup(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustCreate(t, s, "r1", "first", "")
	mustCreate(t, s, "r1", "second", "")
	mustCreate(t, s, "r1", "third", "")

	v, err := s.Rollback(ctx, "r1", 1, RollbackOptions{CreateBackup: true})
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if v.Version != 4 {
		t.Errorf("rollback version = %d, want 4", v.Version)
	}
	if v.Content != "first" {
		t.Errorf("rollback content = %q, want %q", v.Content, "first")
	}
	if v.ParentVersion == nil || *v.ParentVersion != 1 {
		t.Errorf("rollback parent = %v, want 1", v.ParentVersion)
	}
	if v.ChangeReason != "Rollback to version 1" {
		t.Errorf("ChangeReason = %q", v.ChangeReason)
	}

	head, err := s.GetHead(ctx, "r1", "")
	if err != nil {
		t.Fatalf("GetHead() failed: %v", err)
	}
	if head.Version != 4 || head.Content != "first" {
		t.Errorf("head after rollback = v%d %q", head.Version, head.Content)
	}
}

func TestRollback_WithoutBackup(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustCreate(t, s, "r1", "first", "")
	mustCreate(t, s, "r1", "second", "")

	v, err := s.Rollback(ctx, "r1", 1, RollbackOptions{})
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if v.Version != 1 || v.Content != "first" {
		t.Errorf("Rollback() = v%d %q, want v1 first", v.Version, v.Content)
	}

	versions, _ := s.ListVersions(ctx, "r1", ListOptions{})
	if len(versions) != 2 {
		t.Errorf("log changed: %d versions, want 2", len(versions))
	}
}

func TestRollback_MissingTarget(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustCreate(t, s, "r1", "first", "")

	_, err := s.Rollback(ctx, "r1", 9, RollbackOptions{CreateBackup: true})
	if !errors.Is(err, vaulterr.ErrVersionNotFound) {
		t.Errorf("Rollback() error = %v, want version-not-found", err)
	}

	versions, _ := s.ListVersions(ctx, "r1", ListOptions{})
	if len(versions) != 1 {
		t.Errorf("failed rollback wrote a version: %d versions", len(versions))
	}
}

func TestCreateBranch(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	mustCreate(t, s, "r1", "one", "")
	mustCreate(t, s, "r1", "two", "")

	v, err := s.CreateBranch(ctx, "r1", "alt", MainBranch, 1)
	if err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}
	if v.Branch != "alt" || v.Version != 1 || v.Content != "one" {
		t.Errorf("CreateBranch() = %s v%d %q", v.Branch, v.Version, v.Content)
	}

	if _, err := s.CreateBranch(ctx, "r1", "alt", MainBranch, 0); !errors.Is(err, vaulterr.ErrValidation) {
		t.Errorf("duplicate CreateBranch() error = %v, want validation", err)
	}
	if _, err := s.CreateBranch(ctx, "r1", "other", MainBranch, 42); !errors.Is(err, vaulterr.ErrVersionNotFound) {
		t.Errorf("CreateBranch(from missing) error = %v, want version-not-found", err)
	}

	branches, err := s.ListBranches(ctx, "r1")
	if err != nil {
		t.Fatalf("ListBranches() failed: %v", err)
	}
	if len(branches) != 2 {
		t.Fatalf("ListBranches() returned %d, want 2", len(branches))
	}
	if branches[0].Name != MainBranch || branches[0].Head != 2 {
		t.Errorf("branches[0] = %s head %d, want main head 2", branches[0].Name, branches[0].Head)
	}
	if branches[1].Name != "alt" || branches[1].FromBranch != MainBranch || branches[1].FromVersion == nil || *branches[1].FromVersion != 1 {
		t.Errorf("branches[1] = %+v", branches[1])
	}
}

func TestRecordIDs(t *testing.T) {
	s := setupStore(t)
	mustCreate(t, s, "b", "x", "")
	mustCreate(t, s, "a", "x", "")
	mustCreate(t, s, "a", "y", "")

	ids, err := s.RecordIDs(context.Background())
	if err != nil {
		t.Fatalf("RecordIDs() failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("RecordIDs() = %v, want [a b]", ids)
	}
}

func TestDiffText(t *testing.T) {
	tests := []struct {
		name      string
		old, new  string
		additions int
		deletions int
	}{
		{"identical", "a\nb\n", "a\nb\n", 0, 0},
		{"changed line", "a\nb\nc", "a\nX\nc", 1, 1},
		{"appended", "a\n", "a\nb\nc", 2, 0},
		{"truncated", "a\nb\nc", "a\n", 0, 2},
		{"final newline added", "a", "a\n", 1, 1},
		{"final newline dropped", "a\nb\n", "a\nb", 1, 1},
		{"from empty", "", "a\nb", 2, 0},
		{"shifted", "a\nb", "x\na\nb", 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DiffText(tt.old, tt.new)
			if d.Additions != tt.additions || d.Deletions != tt.deletions {
				t.Errorf("DiffText() = +%d -%d, want +%d -%d", d.Additions, d.Deletions, tt.additions, tt.deletions)
			}

			// Reversing the inputs swaps the counts.
			r := DiffText(tt.new, tt.old)
			if r.Additions != tt.deletions || r.Deletions != tt.additions {
				t.Errorf("reverse DiffText() = +%d -%d, want +%d -%d", r.Additions, r.Deletions, tt.deletions, tt.additions)
			}
		})
	}
}

func TestDiffText_ChangedLinePair(t *testing.T) {
	d := DiffText("a\nb\n", "a\nc\n")
	want := " a\n-b\n+c\n"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !d.Changed() {
		t.Error("Changed() = false, want true")
	}
}

func TestDiffText_NoNewlineMarker(t *testing.T) {
	d := DiffText("a", "a\n")
	want := "-a\n\\ No newline at end of file\n+a\n"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !d.Changed() {
		t.Error("texts with different hashes diffed as identical")
	}

	same := DiffText("a\nb", "a\nb")
	if same.Changed() {
		t.Errorf("identical texts diffed as changed: %q", same.String())
	}
	if got := same.Lines[len(same.Lines)-1].Op; got != OpNoNewline {
		t.Errorf("last entry = %q, want no-newline marker", got)
	}
}

func TestDiff_Versions(t *testing.T) {
	s := setupStore(t)
	mustCreate(t, s, "r1", "line one\nline two", "")
	mustCreate(t, s, "r1", "line one\nline 2\nline three", "")

	d, err := s.Diff(context.Background(), "r1", 1, 2, "")
	if err != nil {
		t.Fatalf("Diff() failed: %v", err)
	}
	if d.From != 1 || d.To != 2 {
		t.Errorf("Diff() range = %d..%d", d.From, d.To)
	}
	if d.Additions != 2 || d.Deletions != 1 {
		t.Errorf("Diff() = +%d -%d, want +2 -1", d.Additions, d.Deletions)
	}

	if _, err := s.Diff(context.Background(), "r1", 1, 5, ""); !errors.Is(err, vaulterr.ErrVersionNotFound) {
		t.Errorf("Diff(missing) error = %v, want version-not-found", err)
	}
}
