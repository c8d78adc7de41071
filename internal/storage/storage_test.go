package storage

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mschirtzinger/promptvault/internal/catalog"
	"github.com/mschirtzinger/promptvault/internal/record"
	"github.com/mschirtzinger/promptvault/internal/search"
	pvsync "github.com/mschirtzinger/promptvault/internal/sync"
	"github.com/mschirtzinger/promptvault/internal/vaulterr"
	"github.com/mschirtzinger/promptvault/internal/version"
)

type testEnv struct {
	svc     *Service
	store   *record.Store
	catalog *catalog.Catalog
	clock   time.Time
}

func setupTest(t *testing.T) *testEnv {
	t.Helper()

	tmpDir := t.TempDir()
	c, err := catalog.Open(filepath.Join(tmpDir, "catalog.db"), nil)
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate catalog: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	store := record.NewStore(filepath.Join(tmpDir, "prompts"), filepath.Join(tmpDir, "archive"), quiet)
	index := search.New(c)

	env := &testEnv{
		store:   store,
		catalog: c,
		clock:   time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	now := func() time.Time { return env.clock }
	env.svc = New(store, c, pvsync.New(store, c, index, quiet), index,
		version.New(c, version.WithClock(now)), quiet, WithClock(now))
	return env
}

func (env *testEnv) create(t *testing.T, name, content string, tags ...string) *Record {
	t.Helper()
	rec, err := env.svc.Create(context.Background(), CreateInput{Name: name, Content: content, Tags: tags})
	if err != nil {
		t.Fatalf("Create(%q) failed: %v", name, err)
	}
	return rec
}

func TestCreate(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()

	rec := env.create(t, "code-review", "Review this diff.", "Go", "review")

	if rec.ID == "" {
		t.Fatal("Create() returned a record without id")
	}
	if rec.Version != 1 || rec.Content != "Review this diff." {
		t.Errorf("Create() = v%d %q", rec.Version, rec.Content)
	}
	if !reflect.DeepEqual(rec.Tags, []string{"go", "review"}) {
		t.Errorf("tags = %v, want normalized [go review]", rec.Tags)
	}
	if _, err := os.Stat(env.store.PathFor(rec.ID)); err != nil {
		t.Errorf("record file missing: %v", err)
	}

	head, err := env.svc.Versions().GetHead(ctx, rec.ID, version.MainBranch)
	if err != nil {
		t.Fatalf("GetHead() failed: %v", err)
	}
	if head.Version != 1 || head.ChangeReason != ReasonInitial || head.Content != rec.Content {
		t.Errorf("initial snapshot = %+v", head)
	}
}

func TestCreate_Validation(t *testing.T) {
	env := setupTest(t)

	_, err := env.svc.Create(context.Background(), CreateInput{Name: "  ", Content: "x"})
	if !errors.Is(err, vaulterr.ErrValidation) {
		t.Errorf("Create() with blank name = %v, want validation error", err)
	}
}

func TestCreate_DuplicateName(t *testing.T) {
	env := setupTest(t)
	env.create(t, "dup", "one")

	_, err := env.svc.Create(context.Background(), CreateInput{Name: "dup", Content: "two"})
	if !errors.Is(err, vaulterr.ErrDuplicateName) {
		t.Fatalf("Create() = %v, want duplicate name", err)
	}

	paths, err := env.store.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(paths) != 1 {
		t.Errorf("%d record files after rejected create, want 1", len(paths))
	}
}

func TestCreate_SnapshotFailureLeavesNothing(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	if _, err := env.catalog.RawDB().Exec(`DROP TABLE record_versions`); err != nil {
		t.Fatalf("failed to drop versions table: %v", err)
	}

	if _, err := env.svc.Create(ctx, CreateInput{Name: "orphan", Content: "body"}); err == nil {
		t.Fatal("Create() should fail without a versions table")
	}

	paths, err := env.store.List()
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("%d record files after failed create, want 0", len(paths))
	}
	if _, err := env.svc.GetByName(ctx, "orphan"); !errors.Is(err, vaulterr.ErrRecordNotFound) {
		t.Errorf("GetByName() = %v, want not found", err)
	}
	if hits, _ := env.svc.Search(ctx, "body", search.SearchOptions{}); len(hits) != 0 {
		t.Errorf("failed create left a search entry")
	}
}

func TestGet(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "greeting", "Hello")

	byID, err := env.svc.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	byName, err := env.svc.GetByName(ctx, "greeting")
	if err != nil {
		t.Fatalf("GetByName() failed: %v", err)
	}
	if byID.ID != byName.ID || byName.Content != "Hello" {
		t.Errorf("GetByID/GetByName disagree: %+v vs %+v", byID, byName)
	}

	resolved, err := env.svc.Resolve(ctx, "greeting")
	if err != nil || resolved.ID != rec.ID {
		t.Errorf("Resolve(name) = %v, %v", resolved, err)
	}

	if _, err := env.svc.GetByID(ctx, "missing"); !errors.Is(err, vaulterr.ErrRecordNotFound) {
		t.Errorf("GetByID(missing) = %v, want record not found", err)
	}
	if _, err := env.svc.GetByName(ctx, "missing"); !errors.Is(err, vaulterr.ErrRecordNotFound) {
		t.Errorf("GetByName(missing) = %v, want record not found", err)
	}
}

func TestUpdate(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "summarize", "Summarize:", "a")

	env.clock = env.clock.Add(time.Hour)
	content := "Summarize briefly:"
	tags := []string{"b"}
	updated, err := env.svc.Update(ctx, rec.ID, UpdateInput{Content: &content, Tags: &tags, Reason: "tighter"})
	if err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if updated.Version != 2 || updated.Content != content {
		t.Errorf("Update() = v%d %q", updated.Version, updated.Content)
	}
	if !updated.Updated.Equal(env.clock) {
		t.Errorf("Updated = %v, want %v", updated.Updated, env.clock)
	}
	if !reflect.DeepEqual(updated.Tags, []string{"b"}) {
		t.Errorf("tags = %v", updated.Tags)
	}

	versions, err := env.svc.Versions().ListVersions(ctx, rec.ID, version.ListOptions{})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if len(versions) != 2 || versions[0].ChangeReason != "tighter" {
		t.Errorf("versions = %d, head reason %q", len(versions), versions[0].ChangeReason)
	}

	hits, err := env.svc.FindByTags(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("FindByTags() failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("old tag still matches %d records", len(hits))
	}
}

func TestUpdate_Rename(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	a := env.create(t, "a", "x")
	env.create(t, "b", "y")

	taken := "b"
	if _, err := env.svc.Update(ctx, a.ID, UpdateInput{Name: &taken}); !errors.Is(err, vaulterr.ErrDuplicateName) {
		t.Errorf("rename onto existing name = %v, want duplicate name", err)
	}

	free := "c"
	if _, err := env.svc.Update(ctx, a.ID, UpdateInput{Name: &free}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if _, err := env.svc.GetByName(ctx, "c"); err != nil {
		t.Errorf("GetByName(c) failed: %v", err)
	}
	if _, err := env.svc.GetByName(ctx, "a"); !errors.Is(err, vaulterr.ErrRecordNotFound) {
		t.Errorf("old name still resolves: %v", err)
	}
}

func TestDelete_Archive(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "old", "findme please")

	if err := env.svc.Delete(ctx, rec.ID, false); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := os.Stat(env.store.ArchivePathFor(rec.ID)); err != nil {
		t.Errorf("archived file missing: %v", err)
	}

	got, err := env.svc.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() after archive failed: %v", err)
	}
	if !got.Archived {
		t.Error("record should be archived")
	}

	list, err := env.svc.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("List() returned %d records, want archived record hidden", len(list))
	}
	hits, err := env.svc.Search(ctx, "findme", search.SearchOptions{})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("archived record still searchable")
	}

	// Archiving twice is a no-op.
	if err := env.svc.Delete(ctx, rec.ID, false); err != nil {
		t.Errorf("second Delete() failed: %v", err)
	}

	restored, err := env.svc.Restore(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Restore() failed: %v", err)
	}
	if restored.Archived {
		t.Error("restored record still archived")
	}
	hits, err = env.svc.Search(ctx, "findme", search.SearchOptions{})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("restored record not searchable")
	}
}

func TestDelete_Hard(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "gone", "bye", "tmp")

	if err := env.svc.Delete(ctx, rec.ID, true); err != nil {
		t.Fatalf("Delete(hard) failed: %v", err)
	}
	if _, err := os.Stat(env.store.PathFor(rec.ID)); !os.IsNotExist(err) {
		t.Errorf("record file still present: %v", err)
	}
	if _, err := env.svc.GetByID(ctx, rec.ID); !errors.Is(err, vaulterr.ErrRecordNotFound) {
		t.Errorf("GetByID() after hard delete = %v, want not found", err)
	}

	// History outlives the record.
	head, err := env.svc.Versions().GetHead(ctx, rec.ID, version.MainBranch)
	if err != nil {
		t.Fatalf("GetHead() after hard delete failed: %v", err)
	}
	if head.Content != "bye" {
		t.Errorf("head content = %q", head.Content)
	}

	// The name is free again.
	env.create(t, "gone", "again")

	if err := env.svc.Delete(ctx, "missing", true); !errors.Is(err, vaulterr.ErrRecordNotFound) {
		t.Errorf("Delete(missing) = %v, want not found", err)
	}
}

func TestFindByTags(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.create(t, "both", "x", "go", "review")
	env.create(t, "go-only", "x", "go")
	env.create(t, "review-only", "x", "review")
	env.create(t, "none", "x")

	tests := []struct {
		tags []string
		want []string
	}{
		{[]string{"go"}, []string{"both", "go-only"}},
		{[]string{"GO", "review"}, []string{"both"}},
		{[]string{"go", "missing"}, nil},
	}

	for _, tt := range tests {
		recs, err := env.svc.FindByTags(ctx, tt.tags)
		if err != nil {
			t.Fatalf("FindByTags(%v) failed: %v", tt.tags, err)
		}
		var names []string
		for _, r := range recs {
			names = append(names, r.Name)
		}
		if !reflect.DeepEqual(names, tt.want) {
			t.Errorf("FindByTags(%v) = %v, want %v", tt.tags, names, tt.want)
		}
	}

	if _, err := env.svc.FindByTags(ctx, nil); !errors.Is(err, vaulterr.ErrValidation) {
		t.Errorf("FindByTags(nil) = %v, want validation error", err)
	}
}

func TestList_Order(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	env.create(t, "b", "x")
	env.create(t, "a", "x")
	c := env.create(t, "c", "x")

	pinned, order := true, 1
	if _, err := env.svc.Update(ctx, c.ID, UpdateInput{IsPinned: &pinned, PinOrder: &order}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	recs, err := env.svc.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	var names []string
	for _, r := range recs {
		names = append(names, r.Name)
	}
	if want := []string{"c", "a", "b"}; !reflect.DeepEqual(names, want) {
		t.Errorf("List() = %v, want %v", names, want)
	}

	limited, err := env.svc.List(ctx, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(limit 2) returned %d", len(limited))
	}
}

func TestSearch(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "translator", "Translate the text into French.")
	env.create(t, "other", "Nothing relevant here.")

	hits, err := env.svc.Search(ctx, "french", search.SearchOptions{})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != rec.ID {
		t.Fatalf("Search() = %v, want only %s", hits, rec.ID)
	}
	if hits[0].Content != rec.Content {
		t.Errorf("hit content = %q", hits[0].Content)
	}
}

func TestRollback_WritesFile(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "draft", "first")

	second := "second"
	if _, err := env.svc.Update(ctx, rec.ID, UpdateInput{Content: &second}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	v, err := env.svc.Rollback(ctx, rec.ID, 1, version.RollbackOptions{CreateBackup: true})
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if v.Version != 3 || v.Content != "first" {
		t.Errorf("Rollback() = v%d %q, want v3 first", v.Version, v.Content)
	}

	got, err := env.svc.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Content != "first" {
		t.Errorf("file content = %q, want rolled back content", got.Content)
	}

	hits, err := env.svc.Search(ctx, "second", search.SearchOptions{})
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if len(hits) != 0 {
		t.Error("search index still holds the replaced content")
	}

	if _, err := env.svc.Rollback(ctx, rec.ID, 9, version.RollbackOptions{}); !errors.Is(err, vaulterr.ErrVersionNotFound) {
		t.Errorf("Rollback(missing) = %v, want version not found", err)
	}
}

func TestRollback_RestoresHeader(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "draft", "first", "alpha")

	name, content, tags := "renamed", "second", []string{"beta"}
	if _, err := env.svc.Update(ctx, rec.ID, UpdateInput{Name: &name, Content: &content, Tags: &tags}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	v, err := env.svc.Rollback(ctx, rec.ID, 1, version.RollbackOptions{CreateBackup: true})
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	got, err := env.svc.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Name != "draft" {
		t.Errorf("Name = %q, want draft", got.Name)
	}
	if !reflect.DeepEqual(got.Tags, []string{"alpha"}) {
		t.Errorf("Tags = %v, want [alpha]", got.Tags)
	}
	if got.Version != 3 {
		t.Errorf("header Version = %d, want 3", got.Version)
	}
	if v.Frontmatter["name"] != got.Name {
		t.Errorf("HEAD name %v does not match file name %q", v.Frontmatter["name"], got.Name)
	}
	if _, err := env.svc.GetByName(ctx, "renamed"); !errors.Is(err, vaulterr.ErrRecordNotFound) {
		t.Errorf("old name still resolves: %v", err)
	}
}

func TestRollback_NameTaken(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "draft", "first")

	name := "renamed"
	if _, err := env.svc.Update(ctx, rec.ID, UpdateInput{Name: &name}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	env.create(t, "draft", "someone else")

	if _, err := env.svc.Rollback(ctx, rec.ID, 1, version.RollbackOptions{CreateBackup: true}); !errors.Is(err, vaulterr.ErrDuplicateName) {
		t.Fatalf("Rollback() = %v, want duplicate name", err)
	}

	versions, err := env.svc.Versions().ListVersions(ctx, rec.ID, version.ListOptions{})
	if err != nil {
		t.Fatalf("ListVersions() failed: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("%d versions after rejected rollback, want 2", len(versions))
	}
}

func TestRollback_OtherBranchLeavesFile(t *testing.T) {
	env := setupTest(t)
	ctx := context.Background()
	rec := env.create(t, "branchy", "main content")

	if _, err := env.svc.Versions().CreateBranch(ctx, rec.ID, "experiment", version.MainBranch, 0); err != nil {
		t.Fatalf("CreateBranch() failed: %v", err)
	}
	if _, err := env.svc.Versions().CreateVersion(ctx, rec.ID, "experimental", nil, "experiment", "try"); err != nil {
		t.Fatalf("CreateVersion() failed: %v", err)
	}

	if _, err := env.svc.Rollback(ctx, rec.ID, 1, version.RollbackOptions{Branch: "experiment", CreateBackup: true}); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	got, err := env.svc.GetByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	if got.Content != "main content" {
		t.Errorf("file content = %q, want untouched", got.Content)
	}
}
