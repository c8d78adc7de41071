package catalog

// Migrations is the ordered schema history of the catalog. Append only:
// never edit a released migration, add a new one instead.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "records and tags",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS records (
				id             TEXT PRIMARY KEY,
				name           TEXT NOT NULL UNIQUE,
				content_hash   TEXT NOT NULL,
				file_path      TEXT NOT NULL UNIQUE,
				version        INTEGER NOT NULL DEFAULT 1,
				is_template    INTEGER NOT NULL DEFAULT 0,
				is_favorite    INTEGER NOT NULL DEFAULT 0,
				favorite_order INTEGER,
				is_pinned      INTEGER NOT NULL DEFAULT 0,
				pin_order      INTEGER,
				archived       INTEGER NOT NULL DEFAULT 0,
				content_length INTEGER NOT NULL DEFAULT 0,
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS tags (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				name       TEXT NOT NULL UNIQUE COLLATE NOCASE,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS record_tags (
				record_id TEXT NOT NULL,
				tag_id    INTEGER NOT NULL,
				PRIMARY KEY (record_id, tag_id),
				FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE,
				FOREIGN KEY (tag_id) REFERENCES tags(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_records_updated ON records(updated_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_records_archived ON records(archived)`,
			`CREATE INDEX IF NOT EXISTS idx_record_tags_tag ON record_tags(tag_id)`,
		},
	},
	{
		// The version log has no foreign key to records: history is keyed by
		// id and outlives a hard delete.
		Version: 2,
		Name:    "version history",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS record_versions (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				record_id      TEXT NOT NULL,
				branch         TEXT NOT NULL DEFAULT 'main',
				version        INTEGER NOT NULL,
				content        TEXT NOT NULL,
				frontmatter    TEXT NOT NULL DEFAULT '{}',
				change_reason  TEXT,
				parent_version INTEGER,
				created_at     TEXT NOT NULL,
				UNIQUE (record_id, branch, version)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_record_versions_lookup
				ON record_versions(record_id, branch, version DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_record_versions_created ON record_versions(created_at)`,
			`CREATE TABLE IF NOT EXISTS version_tags (
				record_id  TEXT NOT NULL,
				version    INTEGER NOT NULL,
				tag        TEXT NOT NULL,
				created_at TEXT NOT NULL,
				PRIMARY KEY (record_id, version)
			)`,
			`CREATE TABLE IF NOT EXISTS branches (
				record_id    TEXT NOT NULL,
				name         TEXT NOT NULL,
				from_branch  TEXT,
				from_version INTEGER,
				created_at   TEXT NOT NULL,
				PRIMARY KEY (record_id, name)
			)`,
		},
	},
	{
		Version: 3,
		Name:    "search index and config",
		Statements: []string{
			`CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
				record_id UNINDEXED,
				name,
				content,
				tags,
				tokenize = 'porter unicode61'
			)`,
			`CREATE TABLE IF NOT EXISTS config (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
		},
	},
}
