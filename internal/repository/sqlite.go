package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

// SQLiteRepository is the pure-Go (no cgo) sqlite-backed Repository.
type SQLiteRepository struct {
	db    *sql.DB
	fence *redis.Client
}

// Open creates (if needed) the database directory and file at path,
// applies WAL mode, and ensures the schema exists.
func Open(path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("repository: create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: ping db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: set busy_timeout: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) initSchema() error {
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("repository: init schema: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// DB exposes the underlying connection pool for callers (admin layer,
// tests) that need direct SQL access outside the Repository interface.
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

func (r *SQLiteRepository) ListAvailableUpstreamAttempts(ctx context.Context, p protocol.Protocol, nowMs int64, autoDisableEnabled bool) (int, []Attempt, error) {
	var enabledCount int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM channels WHERE protocol = ? AND enabled = 1`, string(p),
	).Scan(&enabledCount)
	if err != nil {
		return 0, nil, fmt.Errorf("repository: count enabled channels: %w", err)
	}

	query := `
SELECT c.id, e.id, k.id, e.base_url, k.auth_ref
FROM channels c
JOIN channel_endpoints e ON e.channel_id = c.id
JOIN channel_keys k ON k.channel_id = c.id
LEFT JOIN endpoint_key_states eks ON eks.endpoint_id = e.id AND eks.key_id = k.id
WHERE c.protocol = ? AND c.enabled = 1 AND e.enabled = 1 AND k.enabled = 1`
	args := []any{string(p)}

	if autoDisableEnabled {
		query += ` AND c.auto_disabled_until_ms <= ? AND e.auto_disabled_until_ms <= ? AND k.auto_disabled_until_ms <= ? AND COALESCE(eks.auto_disabled_until_ms, 0) <= ?`
		args = append(args, nowMs, nowMs, nowMs, nowMs)
	}

	query += ` ORDER BY c.priority DESC, c.name ASC, e.priority DESC, e.base_url ASC, k.priority DESC, k.id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("repository: list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ChannelID, &a.EndpointID, &a.KeyID, &a.BaseURL, &a.AuthRef); err != nil {
			return 0, nil, fmt.Errorf("repository: scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("repository: iterate attempts: %w", err)
	}

	return enabledCount, attempts, nil
}

// recordFailureAndMaybeDisable implements the sliding-window insert
// procedure shared by all four granularities: delete stale rows, insert
// now, count, and disable the entity if the count reaches failureTimes.
func (r *SQLiteRepository) recordFailureAndMaybeDisable(
	ctx context.Context,
	failureTable string,
	failureWhere string,
	failureArgs []any,
	entityTable string,
	entityWhere string,
	entityArgs []any,
	fenceKind, fenceID string,
	nowMs, windowMinutes, failureTimes, disableMinutes int64,
) (*int64, error) {
	if windowMinutes < 1 || failureTimes < 1 || disableMinutes < 1 {
		return nil, fmt.Errorf("repository: invalid auto-disable configuration (window=%d failures=%d disable=%d)", windowMinutes, failureTimes, disableMinutes)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("repository: begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := nowMs - windowMinutes*60_000

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s AND at_ms < ?", failureTable, failureWhere)
	if _, err := tx.ExecContext(ctx, deleteSQL, append(append([]any{}, failureArgs...), cutoff)...); err != nil {
		return nil, fmt.Errorf("repository: delete stale failures: %w", err)
	}

	insertCols, insertPlaceholders := insertColumnsFor(failureTable)
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s, at_ms) VALUES (%s, ?)", failureTable, insertCols, insertPlaceholders)
	if _, err := tx.ExecContext(ctx, insertSQL, append(append([]any{}, failureArgs...), nowMs)...); err != nil {
		return nil, fmt.Errorf("repository: insert failure: %w", err)
	}

	var count int64
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s AND at_ms >= ?", failureTable, failureWhere)
	if err := tx.QueryRowContext(ctx, countSQL, append(append([]any{}, failureArgs...), cutoff)...).Scan(&count); err != nil {
		return nil, fmt.Errorf("repository: count failures: %w", err)
	}

	if count < failureTimes {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("repository: commit tx: %w", err)
		}
		return nil, nil
	}

	disabledUntil := nowMs + disableMinutes*60_000

	if entityTable == "endpoint_key_states" {
		upsertSQL := `INSERT INTO endpoint_key_states (endpoint_id, key_id, auto_disabled_until_ms) VALUES (?, ?, ?)
ON CONFLICT(endpoint_id, key_id) DO UPDATE SET auto_disabled_until_ms = excluded.auto_disabled_until_ms`
		if _, err := tx.ExecContext(ctx, upsertSQL, append(append([]any{}, entityArgs...), disabledUntil)...); err != nil {
			return nil, fmt.Errorf("repository: upsert endpoint_key_state: %w", err)
		}
	} else {
		updateSQL := fmt.Sprintf("UPDATE %s SET auto_disabled_until_ms = ? WHERE %s", entityTable, entityWhere)
		if _, err := tx.ExecContext(ctx, updateSQL, append([]any{disabledUntil}, entityArgs...)...); err != nil {
			return nil, fmt.Errorf("repository: update disable fence: %w", err)
		}
	}

	clearSQL := fmt.Sprintf("DELETE FROM %s WHERE %s", failureTable, failureWhere)
	if _, err := tx.ExecContext(ctx, clearSQL, failureArgs...); err != nil {
		return nil, fmt.Errorf("repository: clear failures on disable: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("repository: commit tx: %w", err)
	}
	r.mirrorFence(ctx, fenceKind, fenceID, disabledUntil, nowMs)
	return &disabledUntil, nil
}

func insertColumnsFor(table string) (cols, placeholders string) {
	switch table {
	case "channel_failures":
		return "channel_id", "?"
	case "endpoint_failures":
		return "endpoint_id", "?"
	case "key_failures":
		return "key_id", "?"
	case "endpoint_key_failures":
		return "endpoint_id, key_id", "?, ?"
	default:
		return "", ""
	}
}

func (r *SQLiteRepository) RecordChannelFailureAndMaybeDisable(ctx context.Context, channelID string, nowMs int64, windowMinutes, failureTimes, disableMinutes int64) (*int64, error) {
	return r.recordFailureAndMaybeDisable(ctx,
		"channel_failures", "channel_id = ?", []any{channelID},
		"channels", "id = ?", []any{channelID},
		"channel", channelID,
		nowMs, windowMinutes, failureTimes, disableMinutes)
}

func (r *SQLiteRepository) RecordEndpointFailureAndMaybeDisable(ctx context.Context, endpointID string, nowMs int64, windowMinutes, failureTimes, disableMinutes int64) (*int64, error) {
	return r.recordFailureAndMaybeDisable(ctx,
		"endpoint_failures", "endpoint_id = ?", []any{endpointID},
		"channel_endpoints", "id = ?", []any{endpointID},
		"endpoint", endpointID,
		nowMs, windowMinutes, failureTimes, disableMinutes)
}

func (r *SQLiteRepository) RecordKeyFailureAndMaybeDisable(ctx context.Context, keyID string, nowMs int64, windowMinutes, failureTimes, disableMinutes int64) (*int64, error) {
	return r.recordFailureAndMaybeDisable(ctx,
		"key_failures", "key_id = ?", []any{keyID},
		"channel_keys", "id = ?", []any{keyID},
		"key", keyID,
		nowMs, windowMinutes, failureTimes, disableMinutes)
}

func (r *SQLiteRepository) RecordEndpointKeyFailureAndMaybeDisable(ctx context.Context, endpointID, keyID string, nowMs int64, windowMinutes, failureTimes, disableMinutes int64) (*int64, error) {
	return r.recordFailureAndMaybeDisable(ctx,
		"endpoint_key_failures", "endpoint_id = ? AND key_id = ?", []any{endpointID, keyID},
		"endpoint_key_states", "", []any{endpointID, keyID},
		"endpoint_key", endpointID+":"+keyID,
		nowMs, windowMinutes, failureTimes, disableMinutes)
}

func (r *SQLiteRepository) ClearChannelFailures(ctx context.Context, channelID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM channel_failures WHERE channel_id = ?`, channelID)
	r.clearFenceMirror(ctx, "channel", channelID)
	return err
}

func (r *SQLiteRepository) ClearEndpointFailures(ctx context.Context, endpointID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM endpoint_failures WHERE endpoint_id = ?`, endpointID)
	r.clearFenceMirror(ctx, "endpoint", endpointID)
	return err
}

func (r *SQLiteRepository) ClearKeyFailures(ctx context.Context, keyID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM key_failures WHERE key_id = ?`, keyID)
	r.clearFenceMirror(ctx, "key", keyID)
	return err
}

func (r *SQLiteRepository) ClearEndpointKeyFailures(ctx context.Context, endpointID, keyID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM endpoint_key_failures WHERE endpoint_id = ? AND key_id = ?`, endpointID, keyID)
	r.clearFenceMirror(ctx, "endpoint_key", endpointID+":"+keyID)
	return err
}

func (r *SQLiteRepository) InsertUsageEvent(ctx context.Context, e UsageEvent) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO usage_events (
	id, request_id, ts_ms, protocol, channel_id, model, success, http_status,
	error_kind, error_detail, latency_ms, ttft_ms, prompt_tokens,
	completion_tokens, total_tokens, cache_read_tokens, cache_write_tokens,
	estimated_cost_usd
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullableString(&e.RequestID), e.TSMs, string(e.Protocol), e.ChannelID, e.Model, boolToInt(e.Success), e.HTTPStatus,
		e.ErrorKind, e.ErrorDetail, e.LatencyMs, e.TTFTMs, e.PromptTokens,
		e.CompletionTokens, e.TotalTokens, e.CacheReadTokens, e.CacheWriteTokens,
		e.EstimatedCostUSD,
	)
	if err != nil {
		return fmt.Errorf("repository: insert usage event: %w", err)
	}
	return nil
}

func nullableString(s *string) any {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (r *SQLiteRepository) FindPricingForModel(ctx context.Context, modelID string) (*PricingRow, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT model_id, prompt_price, completion_price, cache_read_price, cache_write_price, request_price
		 FROM pricing_models WHERE model_id = ?`, modelID)

	p, err := scanPricingRow(row)
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("repository: find exact pricing: %w", err)
	}

	// Suffix match on "%/model_id", preferring the shortest matching id.
	row = r.db.QueryRowContext(ctx,
		`SELECT model_id, prompt_price, completion_price, cache_read_price, cache_write_price, request_price
		 FROM pricing_models WHERE model_id LIKE '%/' || ?
		 ORDER BY LENGTH(model_id) ASC LIMIT 1`, modelID)

	p, err = scanPricingRow(row)
	if err == nil {
		return p, nil
	}
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return nil, fmt.Errorf("repository: find suffix pricing: %w", err)
}

func scanPricingRow(row *sql.Row) (*PricingRow, error) {
	var p PricingRow
	var prompt, completion, cacheRead, cacheWrite, request sql.NullString
	if err := row.Scan(&p.ModelID, &prompt, &completion, &cacheRead, &cacheWrite, &request); err != nil {
		return nil, err
	}
	p.PromptPrice = prompt.String
	p.CompletionPrice = completion.String
	p.CacheReadPrice = cacheRead.String
	p.CacheWritePrice = cacheWrite.String
	p.RequestPrice = request.String
	return &p, nil
}

func (r *SQLiteRepository) GetAutoDisableSettings(ctx context.Context) (AutoDisableSettings, error) {
	s := AutoDisableSettings{
		Enabled:        defaultAutoDisableEnabled,
		WindowMinutes:  defaultAutoDisableWindowMinutes,
		FailureTimes:   defaultAutoDisableFailureTimes,
		DisableMinutes: defaultAutoDisableDisableMinutes,
	}

	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM app_settings WHERE key IN (?, ?, ?, ?)`,
		settingAutoDisableEnabled, settingAutoDisableWindowMinutes, settingAutoDisableFailureTimes, settingAutoDisableDisableMinutes)
	if err != nil {
		return s, fmt.Errorf("repository: get auto-disable settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return s, fmt.Errorf("repository: scan setting: %w", err)
		}
		switch key {
		case settingAutoDisableEnabled:
			s.Enabled = value == "true" || value == "1"
		case settingAutoDisableWindowMinutes:
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				s.WindowMinutes = v
			}
		case settingAutoDisableFailureTimes:
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				s.FailureTimes = v
			}
		case settingAutoDisableDisableMinutes:
			if v, err := strconv.ParseInt(value, 10, 64); err == nil {
				s.DisableMinutes = v
			}
		}
	}
	return s, rows.Err()
}

var _ Repository = (*SQLiteRepository)(nil)
