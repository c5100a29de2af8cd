package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS pipelines (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				owner TEXT NOT NULL DEFAULT '',
				steps JSONB NOT NULL DEFAULT '[]',
				schedule TEXT NOT NULL DEFAULT '',
				timezone TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE IF NOT EXISTS runs (
				id TEXT PRIMARY KEY,
				pipeline_id TEXT NOT NULL REFERENCES pipelines(id),
				pipeline_name TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'queued',
				cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
				error_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_runs_pipeline_id ON runs(pipeline_id);
			CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

			CREATE TABLE IF NOT EXISTS steps (
				id TEXT PRIMARY KEY,
				run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				ordinal INTEGER NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL,
				engine JSONB NOT NULL,
				query TEXT NOT NULL DEFAULT '',
				params JSONB NOT NULL DEFAULT '{}',
				status TEXT NOT NULL DEFAULT 'queued',
				attempt INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 1,
				timeout_ms INTEGER NOT NULL DEFAULT 30000,
				error_message TEXT NOT NULL DEFAULT '',
				row_count BIGINT NOT NULL DEFAULT 0,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				heartbeat_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				UNIQUE (run_id, ordinal)
			);

			CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id);

			CREATE TABLE IF NOT EXISTS run_logs (
				run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				seq BIGINT NOT NULL,
				step_id TEXT NOT NULL DEFAULT '',
				level TEXT NOT NULL DEFAULT 'info',
				message TEXT NOT NULL DEFAULT '',
				data JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (run_id, seq)
			);
		`,
	}
}
