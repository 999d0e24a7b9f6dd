// Package usage estimates a usage event's cost from pricing rows (C9). The
// forwarder assembles the repository's UsageEvent record itself.
package usage

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nolanhoward/llmproxy/internal/repository"
)

// TokenCounts is the accumulated per-event token accounting, pointers left
// nil when a protocol never reported that field.
type TokenCounts struct {
	PromptTokens     *int64
	CompletionTokens *int64
	TotalTokens      *int64
	CacheReadTokens  *int64
	CacheWriteTokens *int64
}

// EstimateCostUSD applies the cost formula against a pricing row. Missing
// token counts are treated as zero (matching the fleet's usage.rs
// unwrap_or(0) handling), so a successful request with no usage payload
// still picks up its flat request price. Returns nil when no pricing row
// is available or the resulting cost is <= 0.
func EstimateCostUSD(tokens TokenCounts, pricing *repository.PricingRow, success bool) *string {
	if pricing == nil {
		return nil
	}

	promptPrice, okPrompt := parsePrice(pricing.PromptPrice)
	completionPrice, okCompletion := parsePrice(pricing.CompletionPrice)
	cacheReadPrice, okCacheRead := parsePrice(pricing.CacheReadPrice)
	cacheWritePrice, okCacheWrite := parsePrice(pricing.CacheWritePrice)
	requestPrice, okRequest := parsePrice(pricing.RequestPrice)

	cacheRead := derefOr(tokens.CacheReadTokens, 0)
	cacheWrite := derefOr(tokens.CacheWriteTokens, 0)
	prompt := derefOr(tokens.PromptTokens, 0)
	completion := derefOr(tokens.CompletionTokens, 0)

	regularPrompt := prompt - cacheRead - cacheWrite
	if regularPrompt < 0 {
		regularPrompt = 0
	}

	var cost float64
	if okPrompt {
		cost += float64(regularPrompt) * promptPrice
	}
	if okCompletion {
		cost += float64(completion) * completionPrice
	}
	if okCacheRead {
		cost += float64(cacheRead) * cacheReadPrice
	}
	if okCacheWrite {
		cost += float64(cacheWrite) * cacheWritePrice
	}
	if okRequest && success {
		cost += requestPrice
	}

	if cost <= 0 {
		return nil
	}

	s := formatCost(cost)
	return &s
}

// parsePrice parses a decimal USD-per-token price string, ignoring
// non-finite or non-positive values per the cost formula's rules.
func parsePrice(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

func formatCost(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

func derefOr(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}

// ResolvePricing looks up a pricing row for a model id. An empty model id
// or a model with no pricing row yields (nil, nil); a repository lookup
// error is returned wrapped, alongside a nil row, so a caller that ignores
// the error still degrades to "no cost".
func ResolvePricing(ctx context.Context, repo repository.Repository, modelID string) (*repository.PricingRow, error) {
	if modelID == "" {
		return nil, nil
	}
	row, err := repo.FindPricingForModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("usage: find pricing for model %q: %w", modelID, err)
	}
	return row, nil
}
