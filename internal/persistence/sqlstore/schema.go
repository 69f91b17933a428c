package sqlstore

// schema is shared by Postgres and SQLite. Timestamps are unix microseconds.
const schema = `
CREATE TABLE IF NOT EXISTS launch_reservations (
	post_id     TEXT PRIMARY KEY,
	agent_id    TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	symbol_key  TEXT NOT NULL,
	status      TEXT NOT NULL,
	asset_id    TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	created_at  BIGINT NOT NULL,
	updated_at  BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS launch_reservations_symbol_held
	ON launch_reservations (symbol_key) WHERE status <> 'released';
CREATE INDEX IF NOT EXISTS launch_reservations_agent
	ON launch_reservations (agent_id, status);

CREATE TABLE IF NOT EXISTS launch_records (
	asset_id            TEXT PRIMARY KEY,
	agent_id            TEXT NOT NULL,
	name                TEXT NOT NULL,
	symbol              TEXT NOT NULL,
	symbol_key          TEXT NOT NULL UNIQUE,
	description         TEXT NOT NULL,
	image_ref           TEXT NOT NULL,
	beneficiary_address TEXT NOT NULL,
	source_post_id      TEXT NOT NULL UNIQUE,
	metadata_uri        TEXT NOT NULL,
	proof_kind          TEXT NOT NULL,
	proof_id            TEXT NOT NULL,
	proof_endpoint      TEXT NOT NULL DEFAULT '',
	created_at          BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS launch_records_agent_created
	ON launch_records (agent_id, created_at);
`
