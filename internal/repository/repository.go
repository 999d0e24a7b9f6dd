// Package repository defines the read/write surface the proxy core needs
// from the persistent store, and a modernc.org/sqlite-backed implementation
// of it. The core never touches *sql.DB directly — it depends only on the
// Repository interface below.
package repository

import (
	"context"
	"time"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

// Attempt is one candidate (channel, endpoint, key) triple the selector
// offers the forwarder.
type Attempt struct {
	ChannelID  string
	EndpointID string
	KeyID      string
	BaseURL    string
	AuthRef    string
}

// AutoDisableSettings is the subset of app_settings the core consumes.
type AutoDisableSettings struct {
	Enabled        bool
	WindowMinutes  int64
	FailureTimes   int64
	DisableMinutes int64
}

// PricingRow is one row of pricing_models, prices stored as decimal
// strings in USD per token.
type PricingRow struct {
	ModelID          string
	PromptPrice      string
	CompletionPrice  string
	CacheReadPrice   string
	CacheWritePrice  string
	RequestPrice     string
}

// UsageEvent is the append-only record the core writes per upstream
// attempt.
type UsageEvent struct {
	ID                 string
	RequestID          string
	TSMs               int64
	Protocol           protocol.Protocol
	ChannelID          string
	Model              *string
	Success            bool
	HTTPStatus         *int64
	ErrorKind          *string
	ErrorDetail        *string
	LatencyMs          int64
	TTFTMs             *int64
	PromptTokens       *int64
	CompletionTokens   *int64
	TotalTokens        *int64
	CacheReadTokens    *int64
	CacheWriteTokens   *int64
	EstimatedCostUSD   *string
}

// Repository is the complete surface the proxy core depends on. All
// implementations must make sliding-window failure counting correct under
// concurrent writers (short, per-call transactions suffice).
type Repository interface {
	// ListAvailableUpstreamAttempts returns, for protocol p, the number of
	// enabled channels of that protocol and the ordered list of viable
	// attempts (honoring auto-disable fences when autoDisableEnabled is
	// true). Ordering: channel priority DESC, channel name ASC, endpoint
	// priority DESC, endpoint base_url ASC, key priority DESC, key id ASC.
	ListAvailableUpstreamAttempts(ctx context.Context, p protocol.Protocol, nowMs int64, autoDisableEnabled bool) (enabledChannelCount int, attempts []Attempt, err error)

	RecordChannelFailureAndMaybeDisable(ctx context.Context, channelID string, nowMs int64, windowMinutes, failureTimes, disableMinutes int64) (disabledUntilMs *int64, err error)
	RecordEndpointFailureAndMaybeDisable(ctx context.Context, endpointID string, nowMs int64, windowMinutes, failureTimes, disableMinutes int64) (disabledUntilMs *int64, err error)
	RecordKeyFailureAndMaybeDisable(ctx context.Context, keyID string, nowMs int64, windowMinutes, failureTimes, disableMinutes int64) (disabledUntilMs *int64, err error)
	RecordEndpointKeyFailureAndMaybeDisable(ctx context.Context, endpointID, keyID string, nowMs int64, windowMinutes, failureTimes, disableMinutes int64) (disabledUntilMs *int64, err error)

	ClearChannelFailures(ctx context.Context, channelID string) error
	ClearEndpointFailures(ctx context.Context, endpointID string) error
	ClearKeyFailures(ctx context.Context, keyID string) error
	ClearEndpointKeyFailures(ctx context.Context, endpointID, keyID string) error

	InsertUsageEvent(ctx context.Context, event UsageEvent) error
	FindPricingForModel(ctx context.Context, modelID string) (*PricingRow, error)

	GetAutoDisableSettings(ctx context.Context) (AutoDisableSettings, error)
}

// NowMs returns the current epoch time in milliseconds. Defined once here
// so callers outside this package never hand-roll the conversion.
func NowMs(t time.Time) int64 {
	return t.UnixMilli()
}
