package sqlite

import "database/sql"

// migrate creates the schema if it doesn't exist. The strands table is
// append-only by convention; the only UPDATE the adapter ever issues is
// the context-vector fill in AttachVector.
func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS strands (
			id               TEXT PRIMARY KEY,
			content          TEXT NOT NULL DEFAULT '{}',
			tags             TEXT NOT NULL DEFAULT '',
			source_agent     TEXT NOT NULL DEFAULT '',
			target_agent     TEXT NOT NULL DEFAULT '',
			message_metadata TEXT NOT NULL DEFAULT '{}',
			context_vector   BLOB,
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_strands_created_at   ON strands(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_strands_target_agent ON strands(target_agent);
		CREATE INDEX IF NOT EXISTS idx_strands_source_agent ON strands(source_agent);
		CREATE INDEX IF NOT EXISTS idx_strands_tags         ON strands(tags);
	`
	_, err := db.Exec(schema)
	return err
}
