// Package record provides the file-backed record store for promptvault.
//
// Each record ("prompt") is one text file named {id}.md: a metadata header
// between --- delimiters (YAML) followed by the free-text body. Files written
// by hand may use a +++ delimited TOML header instead; the store always
// writes YAML.
//
//	---
//	id: 0b6c5c1e-...
//	name: code-review
//	tags: [go, review]
//	created: 2026-01-02T15:04:05Z
//	updated: 2026-01-02T15:04:05Z
//	version: 3
//	isTemplate: false
//	---
//	Review the following diff...
//
// The files are the source of truth. The catalog mirrors them and can always
// be rebuilt from them.
package record

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	// MaxNameLength bounds record names.
	MaxNameLength = 200
	// MaxTagLength bounds individual tags.
	MaxTagLength = 50
	// Ext is the extension of record files.
	Ext = ".md"
)

// Metadata is the structured header of a record file.
type Metadata struct {
	ID            string    `yaml:"id" toml:"id"`
	Name          string    `yaml:"name" toml:"name"`
	Tags          []string  `yaml:"tags" toml:"tags"`
	Created       time.Time `yaml:"created" toml:"created"`
	Updated       time.Time `yaml:"updated" toml:"updated"`
	Version       int       `yaml:"version" toml:"version"`
	IsTemplate    bool      `yaml:"isTemplate" toml:"isTemplate"`
	IsFavorite    bool      `yaml:"isFavorite,omitempty" toml:"isFavorite"`
	FavoriteOrder *int      `yaml:"favoriteOrder,omitempty" toml:"favoriteOrder"`
	IsPinned      bool      `yaml:"isPinned,omitempty" toml:"isPinned"`
	PinOrder      *int      `yaml:"pinOrder,omitempty" toml:"pinOrder"`
}

// Record is a parsed record file.
type Record struct {
	Metadata
	Content string
	Path    string
}

// Validate checks that the header carries every required field with a
// usable value.
func (m *Metadata) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if strings.ContainsAny(m.ID, `/\`) || strings.HasPrefix(m.ID, ".") {
		return fmt.Errorf("id %q is not a valid file name", m.ID)
	}
	if err := ValidateName(m.Name); err != nil {
		return err
	}
	if m.Version < 1 {
		return fmt.Errorf("version must be at least 1 (got %d)", m.Version)
	}
	if m.Created.IsZero() {
		return fmt.Errorf("created is required")
	}
	if m.Updated.IsZero() {
		return fmt.Errorf("updated is required")
	}
	for _, tag := range m.Tags {
		if err := ValidateTag(tag); err != nil {
			return err
		}
	}
	return nil
}

// ValidateName checks a record name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name must be %d characters or less (got %d)", MaxNameLength, len(name))
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("name must not contain control characters")
		}
	}
	return nil
}

// ValidateTag checks a single tag.
func ValidateTag(tag string) error {
	t := strings.TrimSpace(tag)
	if t == "" {
		return fmt.Errorf("tags must not be empty")
	}
	if len(t) > MaxTagLength {
		return fmt.Errorf("tag %q must be %d characters or less", t, MaxTagLength)
	}
	if strings.ContainsAny(t, ",\n") {
		return fmt.Errorf("tag %q must not contain commas or newlines", t)
	}
	return nil
}

// NormalizeTags lowercases, trims, dedupes and sorts tags.
// Tag identity is case-insensitive.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Filename returns the canonical file name for id: {id}.md
func Filename(id string) string {
	return id + Ext
}

// IDFromPath returns the record id encoded in a record file path.
func IDFromPath(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, Ext)
}

// IsRecordFile reports whether name looks like a record file. Hidden files
// (including the store's own temp files) are excluded.
func IsRecordFile(name string) bool {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	return strings.HasSuffix(base, Ext) && !strings.HasPrefix(base, ".") && len(base) > len(Ext)
}
