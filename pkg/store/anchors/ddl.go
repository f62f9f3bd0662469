package anchors

import "github.com/ared-network/iota-anchor/pkg/database"

// The schema is kept in dialect-specific statement lists so lite mode and
// postgres deployments migrate through the same path.

var ddlPostgres = []string{
	`CREATE TABLE IF NOT EXISTS anchors (
		id UUID PRIMARY KEY,
		digest VARCHAR(128) NOT NULL,
		method VARCHAR(32) NOT NULL DEFAULT 'merkle_sha256',
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		item_count INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		iota_block_id VARCHAR(128),
		iota_network VARCHAR(32),
		explorer_url TEXT,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		posted_at TIMESTAMPTZ,
		confirmed_at TIMESTAMPTZ,
		UNIQUE (digest, start_time, end_time)
	)`,
	`CREATE TABLE IF NOT EXISTS anchor_items (
		id UUID PRIMARY KEY,
		anchor_id UUID NOT NULL REFERENCES anchors(id) ON DELETE CASCADE,
		event_id UUID,
		event_hash VARCHAR(128) NOT NULL,
		position_in_merkle INTEGER NOT NULL,
		merkle_proof JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (anchor_id, position_in_merkle)
	)`,
	`CREATE TABLE IF NOT EXISTS anchor_retry_log (
		id UUID PRIMARY KEY,
		anchor_id UUID NOT NULL REFERENCES anchors(id) ON DELETE CASCADE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_anchors_status ON anchors(status)`,
	`CREATE INDEX IF NOT EXISTS idx_anchors_created_at ON anchors(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_anchor_items_anchor_id ON anchor_items(anchor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_anchor_items_event_hash ON anchor_items(event_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_anchor_retry_log_anchor_id ON anchor_retry_log(anchor_id)`,
}

var ddlSQLite = []string{
	`CREATE TABLE IF NOT EXISTS anchors (
		id TEXT PRIMARY KEY,
		digest TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT 'merkle_sha256',
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		item_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		iota_block_id TEXT,
		iota_network TEXT,
		explorer_url TEXT,
		error_message TEXT,
		created_at TEXT NOT NULL,
		posted_at TEXT,
		confirmed_at TEXT,
		UNIQUE (digest, start_time, end_time)
	)`,
	`CREATE TABLE IF NOT EXISTS anchor_items (
		id TEXT PRIMARY KEY,
		anchor_id TEXT NOT NULL REFERENCES anchors(id) ON DELETE CASCADE,
		event_id TEXT,
		event_hash TEXT NOT NULL,
		position_in_merkle INTEGER NOT NULL,
		merkle_proof TEXT,
		created_at TEXT,
		UNIQUE (anchor_id, position_in_merkle)
	)`,
	`CREATE TABLE IF NOT EXISTS anchor_retry_log (
		id TEXT PRIMARY KEY,
		anchor_id TEXT NOT NULL REFERENCES anchors(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		error_message TEXT
	)`,
	// Lite mode owns the whole database file, so the event table the
	// indexer would normally provide is created here too. The postgres
	// schema leaves it to the indexer.
	`CREATE TABLE IF NOT EXISTS indexed_events (
		id TEXT PRIMARY KEY,
		device_id TEXT,
		block_number INTEGER NOT NULL,
		block_hash TEXT NOT NULL,
		event_index INTEGER NOT NULL,
		pallet TEXT NOT NULL,
		event_name TEXT NOT NULL,
		event_data TEXT,
		event_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_indexed_events_created_at ON indexed_events(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_anchors_status ON anchors(status)`,
	`CREATE INDEX IF NOT EXISTS idx_anchors_created_at ON anchors(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_anchor_items_anchor_id ON anchor_items(anchor_id)`,
	`CREATE INDEX IF NOT EXISTS idx_anchor_items_event_hash ON anchor_items(event_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_anchor_retry_log_anchor_id ON anchor_retry_log(anchor_id)`,
}

func ddlFor(driver database.Driver) []string {
	if driver == database.DriverSQLite {
		return ddlSQLite
	}
	return ddlPostgres
}
