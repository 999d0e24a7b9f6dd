package stream

import (
	"encoding/json"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

// Accumulator merges token-usage frames observed across an SSE stream. The
// merge strategy is protocol-specific: openai and gemini frames often
// repeat cumulative totals per chunk, so those take the max observed;
// anthropic emits incremental deltas across events of the same message, so
// those are summed.
type Accumulator struct {
	proto protocol.Protocol

	promptTokens     *int64
	completionTokens *int64
	totalTokens      *int64
	cacheReadTokens  *int64
	cacheWriteTokens *int64
}

func NewAccumulator(p protocol.Protocol) *Accumulator {
	return &Accumulator{proto: p}
}

func (a *Accumulator) PromptTokens() *int64     { return a.promptTokens }
func (a *Accumulator) CompletionTokens() *int64 { return a.completionTokens }
func (a *Accumulator) TotalTokens() *int64      { return a.totalTokens }
func (a *Accumulator) CacheReadTokens() *int64  { return a.cacheReadTokens }
func (a *Accumulator) CacheWriteTokens() *int64 { return a.cacheWriteTokens }

// MergeLine parses one SSE data payload (already stripped of the "data:"
// prefix) and folds any usage fields it finds into the accumulator.
// Non-JSON or usage-free payloads are silently ignored — usage extraction
// is best-effort.
func (a *Accumulator) MergeLine(data []byte) {
	var v map[string]any
	if err := json.Unmarshal(data, &v); err != nil {
		return
	}

	switch a.proto {
	case protocol.OpenAI:
		a.mergeOpenAI(v)
	case protocol.Anthropic:
		a.mergeAnthropic(v)
	case protocol.Gemini:
		a.mergeGemini(v)
	}
}

func (a *Accumulator) mergeOpenAI(v map[string]any) {
	u, ok := v["usage"].(map[string]any)
	if !ok {
		return
	}
	a.maxAssign(&a.promptTokens, firstNumber(u, "prompt_tokens", "input_tokens"))
	a.maxAssign(&a.completionTokens, firstNumber(u, "completion_tokens", "output_tokens"))
	a.maxAssign(&a.totalTokens, firstNumber(u, "total_tokens"))

	if details, ok := u["prompt_tokens_details"].(map[string]any); ok {
		a.maxAssign(&a.cacheReadTokens, firstNumber(details, "cached_tokens"))
	}
}

func (a *Accumulator) mergeAnthropic(v map[string]any) {
	msg, ok := v["message"].(map[string]any)
	var u map[string]any
	if ok {
		u, _ = msg["usage"].(map[string]any)
	} else {
		u, _ = v["usage"].(map[string]any)
	}
	if u == nil {
		return
	}
	a.sumAssign(&a.promptTokens, firstNumber(u, "input_tokens"))
	a.sumAssign(&a.completionTokens, firstNumber(u, "output_tokens"))
	a.sumAssign(&a.cacheReadTokens, firstNumber(u, "cache_read_input_tokens"))
	a.sumAssign(&a.cacheWriteTokens, firstNumber(u, "cache_creation_input_tokens"))
}

func (a *Accumulator) mergeGemini(v map[string]any) {
	u, ok := v["usageMetadata"].(map[string]any)
	if !ok {
		return
	}
	a.maxAssign(&a.promptTokens, firstNumber(u, "promptTokenCount"))
	a.maxAssign(&a.completionTokens, firstNumber(u, "candidatesTokenCount"))
	a.maxAssign(&a.totalTokens, firstNumber(u, "totalTokenCount"))
	a.maxAssign(&a.cacheReadTokens, firstNumber(u, "cachedContentTokenCount"))
}

// numberField is an optionally-present integer pulled out of a JSON object.
type numberField struct {
	v  int64
	ok bool
}

func firstNumber(m map[string]any, keys ...string) numberField {
	for _, k := range keys {
		if n, ok := m[k].(float64); ok {
			return numberField{v: int64(n), ok: true}
		}
	}
	return numberField{}
}

func (a *Accumulator) maxAssign(field **int64, nf numberField) {
	if !nf.ok {
		return
	}
	if *field == nil || nf.v > **field {
		n := nf.v
		*field = &n
	}
}

func (a *Accumulator) sumAssign(field **int64, nf numberField) {
	if !nf.ok {
		return
	}
	if *field == nil {
		n := nf.v
		*field = &n
		return
	}
	**field += nf.v
}
