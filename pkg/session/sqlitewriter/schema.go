package sqlitewriter

// currentSchemaVersion is the schema version this writer expects; a
// database opened at a higher version refuses to run rather than risk
// misreading columns it doesn't understand.
const currentSchemaVersion = 5

var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		request_id TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		provider TEXT NOT NULL,
		listener TEXT NOT NULL,
		model_requested TEXT NOT NULL,
		model_used TEXT,
		success BOOLEAN,
		error_message TEXT,
		finish_reason TEXT,
		total_duration_ms INTEGER,
		provider_latency_ms INTEGER,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		thinking_tokens INTEGER DEFAULT 0,
		reasoning_tokens INTEGER DEFAULT 0,
		cache_read_tokens INTEGER DEFAULT 0,
		cache_creation_tokens INTEGER DEFAULT 0,
		audio_input_tokens INTEGER DEFAULT 0,
		audio_output_tokens INTEGER DEFAULT 0,
		total_tokens INTEGER GENERATED ALWAYS AS (
			input_tokens + output_tokens +
			COALESCE(thinking_tokens, 0) +
			COALESCE(reasoning_tokens, 0) +
			COALESCE(cache_read_tokens, 0) +
			COALESCE(cache_creation_tokens, 0) +
			COALESCE(audio_input_tokens, 0) +
			COALESCE(audio_output_tokens, 0)
		) STORED,
		request_text TEXT,
		response_text TEXT,
		client_ip TEXT,
		user_agent TEXT,
		is_streaming BOOLEAN DEFAULT 0,
		time_to_first_token_ms INTEGER,
		chunk_count INTEGER,
		streaming_duration_ms INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_provider ON sessions(provider, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_model ON sessions(model_used, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_request_id ON sessions(request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_provider_model ON sessions(provider, model_used, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_streaming ON sessions(is_streaming, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user_agent ON sessions(user_agent)`,

	`CREATE TABLE IF NOT EXISTS session_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		request_id TEXT,
		model_name TEXT NOT NULL,
		pre_processing_ms REAL,
		post_processing_ms REAL,
		proxy_overhead_ms REAL,
		input_tokens INTEGER DEFAULT 0,
		output_tokens INTEGER DEFAULT 0,
		thinking_tokens INTEGER DEFAULT 0,
		reasoning_tokens INTEGER DEFAULT 0,
		cache_read_tokens INTEGER DEFAULT 0,
		cache_creation_tokens INTEGER DEFAULT 0,
		audio_input_tokens INTEGER DEFAULT 0,
		audio_output_tokens INTEGER DEFAULT 0,
		tokens_per_second REAL,
		thinking_percentage REAL,
		request_size_bytes INTEGER,
		response_size_bytes INTEGER,
		message_count INTEGER,
		content_blocks INTEGER,
		has_tools BOOLEAN DEFAULT 0,
		has_refusal BOOLEAN DEFAULT 0,
		user_agent TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_stats_session ON session_stats(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_session_stats_model ON session_stats(model_name, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_session_stats_user_agent ON session_stats(user_agent)`,
	`CREATE INDEX IF NOT EXISTS idx_session_stats_session_time ON session_stats(session_id, created_at DESC)`,

	`CREATE TABLE IF NOT EXISTS tool_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		request_id TEXT,
		model_name TEXT,
		tool_name TEXT NOT NULL,
		call_count INTEGER DEFAULT 1,
		avg_execution_time_ms INTEGER,
		error_count INTEGER DEFAULT 0,
		tool_arguments TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_stats_model ON tool_stats(model_name, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_stats_session ON tool_stats(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_stats_name ON tool_stats(tool_name, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tool_stats_unique ON tool_stats(session_id, request_id, tool_name)`,

	`CREATE TABLE IF NOT EXISTS tool_call_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		request_id TEXT NOT NULL,
		tool_call_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		tool_arguments TEXT,
		execution_time_ms INTEGER,
		input_size_bytes INTEGER,
		output_size_bytes INTEGER,
		success BOOLEAN,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tool_call_executions_unique ON tool_call_executions(session_id, request_id, tool_call_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_call_executions_session ON tool_call_executions(session_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_call_executions_tool_name ON tool_call_executions(tool_name, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tool_call_executions_request ON tool_call_executions(request_id)`,

	`CREATE TABLE IF NOT EXISTS stream_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		request_id TEXT,
		time_to_first_token_ms INTEGER,
		total_chunks INTEGER,
		streaming_duration_ms INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_metrics_session ON stream_metrics(session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_metrics_ttft ON stream_metrics(time_to_first_token_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_stream_metrics_chunks ON stream_metrics(total_chunks DESC)`,
}

// migrationStatements applies the 4-step history (v1 through v5) that
// brings a pre-existing v1 database up to the shape baseSchema creates
// fresh, grounded on the original store's column-by-column ALTER sequence:
// v1 had no token breakdown beyond input/output; step 1→2 adds the
// reasoning/cache/audio token columns, 2→3 rebuilds the table with the
// generated total_tokens column, 3→4 adds indexes, and 4→5 renames
// tool_calls to tool_stats and adds tool_call_executions.
var migrationStatements = map[int][]string{
	1: {
		`ALTER TABLE sessions ADD COLUMN reasoning_tokens INTEGER DEFAULT 0`,
		`ALTER TABLE sessions ADD COLUMN cache_read_tokens INTEGER DEFAULT 0`,
		`ALTER TABLE sessions ADD COLUMN cache_creation_tokens INTEGER DEFAULT 0`,
		`ALTER TABLE sessions ADD COLUMN audio_input_tokens INTEGER DEFAULT 0`,
		`ALTER TABLE sessions ADD COLUMN audio_output_tokens INTEGER DEFAULT 0`,
	},
	// 2->3 rewrites the sessions table so total_tokens becomes a STORED
	// generated column instead of a plain INTEGER the application kept in
	// sync by hand; SQLite cannot ALTER a column's generated-ness in
	// place, so this step creates sessions_new with the current shape,
	// copies rows across, and swaps the table name.
	2: {
		`CREATE TABLE IF NOT EXISTS sessions_new (
			session_id TEXT PRIMARY KEY,
			request_id TEXT,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			provider TEXT NOT NULL,
			listener TEXT NOT NULL,
			model_requested TEXT NOT NULL,
			model_used TEXT,
			success BOOLEAN,
			error_message TEXT,
			finish_reason TEXT,
			total_duration_ms INTEGER,
			provider_latency_ms INTEGER,
			input_tokens INTEGER DEFAULT 0,
			output_tokens INTEGER DEFAULT 0,
			thinking_tokens INTEGER DEFAULT 0,
			reasoning_tokens INTEGER DEFAULT 0,
			cache_read_tokens INTEGER DEFAULT 0,
			cache_creation_tokens INTEGER DEFAULT 0,
			audio_input_tokens INTEGER DEFAULT 0,
			audio_output_tokens INTEGER DEFAULT 0,
			total_tokens INTEGER GENERATED ALWAYS AS (
				input_tokens + output_tokens +
				COALESCE(thinking_tokens, 0) + COALESCE(reasoning_tokens, 0) +
				COALESCE(cache_read_tokens, 0) + COALESCE(cache_creation_tokens, 0) +
				COALESCE(audio_input_tokens, 0) + COALESCE(audio_output_tokens, 0)
			) STORED,
			request_text TEXT,
			response_text TEXT,
			client_ip TEXT,
			user_agent TEXT,
			is_streaming BOOLEAN DEFAULT 0,
			time_to_first_token_ms INTEGER,
			chunk_count INTEGER,
			streaming_duration_ms INTEGER,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`INSERT INTO sessions_new SELECT
			session_id, request_id, started_at, completed_at, provider, listener,
			model_requested, model_used, success, error_message, finish_reason,
			total_duration_ms, provider_latency_ms, input_tokens, output_tokens,
			thinking_tokens, reasoning_tokens, cache_read_tokens, cache_creation_tokens,
			audio_input_tokens, audio_output_tokens, request_text, response_text,
			client_ip, user_agent, is_streaming, time_to_first_token_ms, chunk_count,
			streaming_duration_ms, created_at
		 FROM sessions`,
		`DROP TABLE sessions`,
		`ALTER TABLE sessions_new RENAME TO sessions`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_provider ON sessions(provider, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_agent ON sessions(user_agent, created_at DESC)`,
	},
	// 3->4 is index-only: the per-field indexes baseSchema already lists
	// (provider_model, streaming, started_at) were introduced without a
	// data migration.
	3: {
		`CREATE INDEX IF NOT EXISTS idx_sessions_provider_model ON sessions(provider, model_used, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_streaming ON sessions(is_streaming, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC)`,
	},
	// 4->5 renames the original per-call tool_calls table into the
	// aggregate tool_stats shape and introduces tool_call_executions for
	// individual-call tracking with arguments, per the original's
	// tool_calls_exists guard in its schema setup.
	4: {
		`ALTER TABLE tool_calls RENAME TO tool_stats`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tool_stats_unique ON tool_stats(session_id, request_id, tool_name)`,
		`CREATE TABLE IF NOT EXISTS tool_call_executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			tool_call_id TEXT NOT NULL,
			tool_name TEXT NOT NULL,
			tool_arguments TEXT,
			execution_time_ms INTEGER,
			input_size_bytes INTEGER,
			output_size_bytes INTEGER,
			success BOOLEAN,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tool_call_executions_unique ON tool_call_executions(session_id, request_id, tool_call_id)`,
	},
}
