package repository

const schema = `
CREATE TABLE IF NOT EXISTS channels (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	protocol TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	auto_disabled_until_ms INTEGER NOT NULL DEFAULT 0,
	recharge_currency TEXT,
	real_multiplier REAL NOT NULL DEFAULT 1.0,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_endpoints (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	base_url TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	auto_disabled_until_ms INTEGER NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS channel_keys (
	id TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	auth_ref TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1,
	auto_disabled_until_ms INTEGER NOT NULL DEFAULT 0,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS endpoint_key_states (
	endpoint_id TEXT NOT NULL,
	key_id TEXT NOT NULL,
	auto_disabled_until_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (endpoint_id, key_id)
);

CREATE TABLE IF NOT EXISTS channel_failures (
	channel_id TEXT NOT NULL,
	at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_channel_failures_channel ON channel_failures(channel_id);

CREATE TABLE IF NOT EXISTS endpoint_failures (
	endpoint_id TEXT NOT NULL,
	at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_endpoint_failures_endpoint ON endpoint_failures(endpoint_id);

CREATE TABLE IF NOT EXISTS key_failures (
	key_id TEXT NOT NULL,
	at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_key_failures_key ON key_failures(key_id);

CREATE TABLE IF NOT EXISTS endpoint_key_failures (
	endpoint_id TEXT NOT NULL,
	key_id TEXT NOT NULL,
	at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_endpoint_key_failures_pair ON endpoint_key_failures(endpoint_id, key_id);

CREATE TABLE IF NOT EXISTS pricing_models (
	model_id TEXT PRIMARY KEY,
	prompt_price TEXT,
	completion_price TEXT,
	cache_read_price TEXT,
	cache_write_price TEXT,
	request_price TEXT
);

CREATE TABLE IF NOT EXISTS usage_events (
	id TEXT PRIMARY KEY,
	request_id TEXT,
	ts_ms INTEGER NOT NULL,
	protocol TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	model TEXT,
	success INTEGER NOT NULL,
	http_status INTEGER,
	error_kind TEXT,
	error_detail TEXT,
	latency_ms INTEGER NOT NULL,
	ttft_ms INTEGER,
	prompt_tokens INTEGER,
	completion_tokens INTEGER,
	total_tokens INTEGER,
	cache_read_tokens INTEGER,
	cache_write_tokens INTEGER,
	estimated_cost_usd TEXT
);
CREATE INDEX IF NOT EXISTS idx_usage_events_request ON usage_events(request_id, ts_ms);

CREATE TABLE IF NOT EXISTS app_settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS routes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS route_channels (
	route_id TEXT NOT NULL REFERENCES routes(id) ON DELETE CASCADE,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	priority INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (route_id, channel_id)
);
`

const (
	settingAutoDisableEnabled       = "auto_disable_enabled"
	settingAutoDisableWindowMinutes = "auto_disable_window_minutes"
	settingAutoDisableFailureTimes  = "auto_disable_failure_times"
	settingAutoDisableDisableMinutes = "auto_disable_disable_minutes"
)

const (
	defaultAutoDisableEnabled        = false
	defaultAutoDisableWindowMinutes  = int64(3)
	defaultAutoDisableFailureTimes   = int64(5)
	defaultAutoDisableDisableMinutes = int64(30)
)
