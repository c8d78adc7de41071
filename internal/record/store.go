package record

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mschirtzinger/promptvault/internal/vaulterr"
)

// Store reads and writes record files under a canonical directory, with a
// parallel archive directory for archived records.
type Store struct {
	dir        string
	archiveDir string
	logger     *log.Logger
}

// NewStore creates a Store. Directories are created lazily, before the
// first write. If logger is nil, a default logger writing to stderr is used.
func NewStore(dir, archiveDir string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[record] ", log.LstdFlags)
	}
	return &Store{dir: dir, archiveDir: archiveDir, logger: logger}
}

// Dir returns the canonical record directory.
func (s *Store) Dir() string {
	return s.dir
}

// ArchiveDir returns the archive directory.
func (s *Store) ArchiveDir() string {
	return s.archiveDir
}

// PathFor returns the canonical file path of a record.
func (s *Store) PathFor(id string) string {
	return filepath.Join(s.dir, Filename(id))
}

// ArchivePathFor returns the archived file path of a record.
func (s *Store) ArchivePathFor(id string) string {
	return filepath.Join(s.archiveDir, Filename(id))
}

// Read parses the record file at path.
// Fails with a storage error if the file is missing, has no header, or the
// header fails validation.
func (s *Store) Read(path string) (*Metadata, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", vaulterr.Storage("record.read", path, err)
	}

	meta, content, err := Parse(data)
	if err != nil {
		return nil, "", vaulterr.Storage("record.read", path, err)
	}
	return meta, content, nil
}

// ReadRecord is Read returning a Record.
func (s *Store) ReadRecord(path string) (*Record, error) {
	meta, content, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	return &Record{Metadata: *meta, Content: content, Path: path}, nil
}

// Write serializes meta and content to path.
//
// The data goes to a hidden temp file in the same directory which is then
// renamed over path, so readers never observe a partially written file.
func (s *Store) Write(path string, meta *Metadata, content string) error {
	if err := meta.Validate(); err != nil {
		return vaulterr.Validation("record.write", err)
	}

	data, err := Format(meta, content)
	if err != nil {
		return vaulterr.Storage("record.write", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return vaulterr.Storage("record.write", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return vaulterr.Storage("record.write", path, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return vaulterr.Storage("record.write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return vaulterr.Storage("record.write", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return vaulterr.Storage("record.write", path, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		cleanup()
		return vaulterr.Storage("record.write", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return vaulterr.Storage("record.write", path, err)
	}
	return nil
}

// List returns the paths of all record files under the canonical directory,
// subdirectories included, sorted. Hidden directories and an archive
// directory nested inside are skipped. A missing directory yields an empty
// list.
func (s *Store) List() ([]string, error) {
	archive := filepath.Clean(s.archiveDir)
	var paths []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.dir && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			if path != s.dir && (strings.HasPrefix(d.Name(), ".") || filepath.Clean(path) == archive) {
				return fs.SkipDir
			}
			return nil
		}
		if IsRecordFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, vaulterr.Storage("record.list", s.dir, err)
	}
	if paths == nil {
		paths = []string{}
	}
	sort.Strings(paths)
	return paths, nil
}

// ReadAll reads every record file in the canonical directory.
// Files that fail to read or parse are logged (redacted) and skipped.
func (s *Store) ReadAll() ([]*Record, error) {
	paths, err := s.List()
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(paths))
	for _, path := range paths {
		rec, err := s.ReadRecord(path)
		if err != nil {
			s.logger.Printf("Warning: skipping unreadable record %s: %s", filepath.Base(path), Redact(err.Error()))
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Exists reports whether a file exists at path.
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Archive moves a record file from the canonical directory to the archive
// directory and returns the new path.
func (s *Store) Archive(id string) (string, error) {
	return s.move(s.PathFor(id), s.ArchivePathFor(id), "record.archive")
}

// Restore moves an archived record file back to the canonical directory and
// returns the new path.
func (s *Store) Restore(id string) (string, error) {
	return s.move(s.ArchivePathFor(id), s.PathFor(id), "record.restore")
}

func (s *Store) move(from, to, op string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return "", vaulterr.Storage(op, filepath.Dir(to), err)
	}
	if err := os.Rename(from, to); err != nil {
		return "", vaulterr.Storage(op, from, err)
	}
	return to, nil
}

// Remove deletes the file at path. A missing file is not an error.
func (s *Store) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return vaulterr.Storage("record.remove", path, err)
	}
	return nil
}

// Hash returns the hex SHA-256 digest of content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
