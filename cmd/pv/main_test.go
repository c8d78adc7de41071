package main

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/promptvault/internal/vaulterr"
	"github.com/mschirtzinger/promptvault/internal/version"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Time{}},
		{"2025-06-01T00:00:00Z", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		{"30d", now.Add(-30 * 24 * time.Hour)},
		{"12h", now.Add(-12 * time.Hour)},
	}

	for _, tt := range tests {
		got, err := parseSince(tt.in, now)
		if err != nil {
			t.Fatalf("parseSince(%q) failed: %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseSince(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	got, err := parseSince("2025-06-01", now)
	if err != nil {
		t.Fatalf("parseSince(date) failed: %v", err)
	}
	if y, m, d := got.Date(); y != 2025 || m != time.June || d != 1 {
		t.Errorf("parseSince(date) = %v", got)
	}

	if _, err := parseSince("xyzzy", now); err == nil {
		t.Error("parseSince(garbage) should fail")
	}
}

func TestParseSince_Natural(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("3 days ago", now)
	if err != nil {
		t.Fatalf("parseSince() failed: %v", err)
	}
	if !got.Before(now) {
		t.Errorf("parseSince(3 days ago) = %v, want before %v", got, now)
	}
}

func TestParseVersion(t *testing.T) {
	if n, err := parseVersion("3"); err != nil || n != 3 {
		t.Errorf("parseVersion(3) = %d, %v", n, err)
	}
	for _, bad := range []string{"0", "-1", "v2", ""} {
		if _, err := parseVersion(bad); err == nil {
			t.Errorf("parseVersion(%q) should fail", bad)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("plain"), 1},
		{vaulterr.RecordNotFound("op", "k"), 3},
		{fmt.Errorf("wrapped: %w", vaulterr.VersionNotFound("op", "r", "main", 2)), 3},
		{vaulterr.DuplicateName("op", "n"), 2},
		{vaulterr.Validation("op", errors.New("bad")), 2},
		{vaulterr.SQL("op", "SELECT 1", errors.New("locked")), 1},
	}

	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRenderDiff(t *testing.T) {
	d := version.DiffText("a\nb\n", "a\nc\n")
	out := renderDiff(d)
	for _, want := range []string{"- b", "+ c", "+1", "-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderDiff() missing %q in:\n%s", want, out)
		}
	}
}
