package storage

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create targets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS targets (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					domain TEXT NOT NULL,
					target_url TEXT NOT NULL,
					secret_key TEXT NOT NULL,
					board_table TEXT NOT NULL DEFAULT '',
					checkpoint_id TEXT NOT NULL DEFAULT '',
					checkpoint_date DATETIME,
					interval_minutes INTEGER NOT NULL DEFAULT 1,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					current_status TEXT NOT NULL DEFAULT 'unknown',
					bridge_version TEXT NOT NULL DEFAULT '',
					onboarding_level INTEGER NOT NULL DEFAULT 0,
					last_checked_at DATETIME,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_targets_active ON targets(active);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_targets_domain ON targets(domain);
			`,
		},
		{
			Version:     "002",
			Description: "Create monitoring_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS monitoring_events (
					id TEXT PRIMARY KEY,
					target_id TEXT NOT NULL,
					kind TEXT NOT NULL,
					message TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'detected',
					trace TEXT, -- JSON array
					meta TEXT,  -- JSON object
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					FOREIGN KEY (target_id) REFERENCES targets (id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_events_target ON monitoring_events(target_id);
				CREATE INDEX IF NOT EXISTS idx_events_kind ON monitoring_events(kind);
				CREATE INDEX IF NOT EXISTS idx_events_status ON monitoring_events(status);
				CREATE INDEX IF NOT EXISTS idx_events_created_at ON monitoring_events(created_at);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create targets table",
			SQL: `
				CREATE TABLE IF NOT EXISTS targets (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					domain TEXT NOT NULL,
					target_url TEXT NOT NULL,
					secret_key TEXT NOT NULL,
					board_table TEXT NOT NULL DEFAULT '',
					checkpoint_id TEXT NOT NULL DEFAULT '',
					checkpoint_date TIMESTAMPTZ,
					interval_minutes INTEGER NOT NULL DEFAULT 1,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					current_status TEXT NOT NULL DEFAULT 'unknown',
					bridge_version TEXT NOT NULL DEFAULT '',
					onboarding_level INTEGER NOT NULL DEFAULT 0,
					last_checked_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ DEFAULT NOW(),
					updated_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_targets_active ON targets(active);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_targets_domain ON targets(domain);
			`,
		},
		{
			Version:     "002",
			Description: "Create monitoring_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS monitoring_events (
					id TEXT PRIMARY KEY,
					target_id TEXT NOT NULL REFERENCES targets (id) ON DELETE CASCADE,
					kind TEXT NOT NULL,
					message TEXT NOT NULL,
					status TEXT NOT NULL DEFAULT 'detected',
					trace JSONB,
					meta JSONB,
					created_at TIMESTAMPTZ DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_events_target ON monitoring_events(target_id);
				CREATE INDEX IF NOT EXISTS idx_events_kind ON monitoring_events(kind);
				CREATE INDEX IF NOT EXISTS idx_events_status ON monitoring_events(status);
				CREATE INDEX IF NOT EXISTS idx_events_created_at ON monitoring_events(created_at);
			`,
		},
	}
}
