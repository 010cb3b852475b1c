package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Scans table - every barcode payload that reached observers
		`CREATE TABLE IF NOT EXISTS scans (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			source TEXT NOT NULL CHECK(source IN ('live', 'photo')),
			scanned_at DATETIME NOT NULL
		)`,

		// Hooks table - plugin actions run when a matching barcode is scanned
		`CREATE TABLE IF NOT EXISTS hooks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			plugin_name TEXT NOT NULL,
			action_name TEXT NOT NULL,
			pattern TEXT NOT NULL DEFAULT '',
			config TEXT NOT NULL DEFAULT '{}',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Hook runs table - outcome of each hook execution
		`CREATE TABLE IF NOT EXISTS hook_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hook_id TEXT NOT NULL REFERENCES hooks(id) ON DELETE CASCADE,
			scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			success INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			ran_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_scans_scanned_at ON scans(scanned_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scans_payload ON scans(payload)`,
		`CREATE INDEX IF NOT EXISTS idx_hook_runs_hook_id ON hook_runs(hook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_hook_runs_scan_id ON hook_runs(scan_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
