package audit

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema creates the events table: one flat table of TEXT/INTEGER
// columns, with a schema_version side table for forward migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	request_id TEXT,
	model TEXT,
	event_type TEXT NOT NULL,
	reason TEXT,
	finish_reason TEXT,
	duration_ms INTEGER,
	error TEXT,
	timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_model ON events(model);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);
`

// InsertSchemaVersion records the schema version, ignored if already present.
const InsertSchemaVersion = `
INSERT INTO schema_version (version)
SELECT ?
WHERE NOT EXISTS (SELECT 1 FROM schema_version);
`

// GetSchemaVersion reads back the recorded schema version.
const GetSchemaVersion = `SELECT version FROM schema_version LIMIT 1;`
