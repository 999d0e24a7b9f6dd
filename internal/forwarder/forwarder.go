// Package forwarder drives the selector, issues the upstream call for each
// attempt, classifies the outcome, and streams a successful response back
// to the client (C6).
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/nolanhoward/llmproxy/internal/auth"
	"github.com/nolanhoward/llmproxy/internal/failure"
	"github.com/nolanhoward/llmproxy/internal/metrics"
	"github.com/nolanhoward/llmproxy/internal/pathmerge"
	"github.com/nolanhoward/llmproxy/internal/protocol"
	"github.com/nolanhoward/llmproxy/internal/repository"
	"github.com/nolanhoward/llmproxy/internal/selector"
	"github.com/nolanhoward/llmproxy/internal/stream"
	"github.com/nolanhoward/llmproxy/internal/usage"
)

// MaxInboundBodyBytes bounds how much of the client's request body is
// buffered; larger bodies are rejected with ErrReadBody.
const MaxInboundBodyBytes = 64 * 1024 * 1024

const maxErrorBodyPreview = 256 * 1024

var (
	ErrReadBody      = errors.New("forwarder: request body too large or unreadable")
	ErrInvalidBaseURL = errors.New("forwarder: channel base URL is invalid")
	ErrUpstream      = errors.New("forwarder: every attempt failed at the transport level")
)

// Forwarder is the request-path proxy engine (C6). It holds the shared,
// process-wide dependencies and is safe for concurrent use across
// requests.
type Forwarder struct {
	Repo     repository.Repository
	Client   *http.Client
	Recorder *failure.Recorder
	Sink     metrics.Sink
	Logger   *log.Logger
	Now      func() time.Time
}

// New builds a Forwarder, defaulting a nil client, sink or logger; repo is
// used as given.
func New(repo repository.Repository, client *http.Client, sink metrics.Sink, logger *log.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{}
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Forwarder{
		Repo:     repo,
		Client:   client,
		Recorder: &failure.Recorder{Repo: repo},
		Sink:     sink,
		Logger:   logger,
		Now:      time.Now,
	}
}

// Forward drives one inbound client request through the selector's plan
// for protocol p, writing the final response to w.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, p protocol.Protocol) {
	ctx := r.Context()
	now := f.Now()
	requestID := uuid.NewString()

	body, err := readBounded(r.Body, MaxInboundBodyBytes)
	if err != nil {
		f.Logger.Printf("forwarder: request %s read body: %v (limit %s)", requestID, err, humanize.IBytes(uint64(MaxInboundBodyBytes)))
		http.Error(w, "request body too large", http.StatusBadRequest)
		return
	}

	model := extractModel(body, r.Header.Get("Content-Type"))

	plan, err := selector.Select(ctx, f.Repo, p, repository.NowMs(now))
	if err != nil {
		f.Logger.Printf("forwarder: request %s selector: %v", requestID, err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	filtered := FilterHeaders(r.Header)

	var lastStatus int
	var lastBody []byte
	var lastHeader http.Header
	var anyStatus bool

	for _, attempt := range plan.Attempts {
		outcome, err := f.tryAttempt(ctx, r, p, attempt, filtered, body, requestID, model, now, plan.Settings)
		if err != nil {
			f.Logger.Printf("forwarder: request %s attempt %s/%s transport error: %v", requestID, attempt.ChannelID, attempt.EndpointID, err)
			continue
		}

		if outcome.success {
			f.streamResponse(ctx, w, outcome, attempt, p, requestID, model, now)
			return
		}

		anyStatus = true
		lastStatus = outcome.status
		lastBody = outcome.errBody
		lastHeader = outcome.header
	}

	if !anyStatus {
		http.Error(w, ErrUpstream.Error(), http.StatusBadGateway)
		return
	}

	for k, v := range FilterHeaders(lastHeader) {
		w.Header()[k] = v
	}
	w.WriteHeader(lastStatus)
	w.Write(lastBody)
}

type attemptOutcome struct {
	success bool
	status  int
	header  http.Header
	resp    *http.Response
	errBody []byte
}

func (f *Forwarder) tryAttempt(
	ctx context.Context,
	r *http.Request,
	p protocol.Protocol,
	attempt repository.Attempt,
	filteredHeaders http.Header,
	body []byte,
	requestID, model string,
	now time.Time,
	settings repository.AutoDisableSettings,
) (attemptOutcome, error) {
	upstreamURL, err := buildUpstreamURL(attempt.BaseURL, p, r.URL)
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}

	headers := cloneHeader(filteredHeaders)
	query := upstreamURL.Query()
	auth.Rewrite(p, attempt.AuthRef, headers, query)
	upstreamURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL.String(), bytes.NewReader(body))
	if err != nil {
		return attemptOutcome{}, err
	}
	req.Header = headers

	started := now
	resp, err := f.Client.Do(req)
	if err != nil {
		f.recordAndEmit(ctx, attempt, failure.ClassTransport, requestID, p, model, false, nil, started, settings, "transport_error", err.Error())
		return attemptOutcome{}, err
	}

	class := failure.ClassifyStatus(resp.StatusCode)
	isSuccess := class == failure.ClassSuccess

	if !isSuccess {
		errBody, _ := readBounded(resp.Body, maxErrorBodyPreview)
		resp.Body.Close()
		f.recordAndEmit(ctx, attempt, class, requestID, p, model, false, &resp.StatusCode, started, settings, fmt.Sprintf("upstream_http:%d", resp.StatusCode), string(errBody))
		return attemptOutcome{
			success: false,
			status:  resp.StatusCode,
			header:  resp.Header,
			resp:    resp,
			errBody: errBody,
		}, nil
	}

	if err := f.Recorder.Record(ctx, attempt, failure.ClassSuccess, repository.NowMs(now), settings); err != nil {
		f.Logger.Printf("forwarder: request %s clear-on-success: %v", requestID, err)
	}

	return attemptOutcome{
		success: true,
		status:  resp.StatusCode,
		header:  resp.Header,
		resp:    resp,
	}, nil
}

// streamResponse hands a successful upstream response's body to the
// instrumentor and copies it to the client as it arrives. The client sees
// the raw upstream bytes verbatim; usage accounting happens on the side
// and is enqueued to the repository when the stream ends or the client
// disconnects.
func (f *Forwarder) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	o attemptOutcome,
	attempt repository.Attempt,
	p protocol.Protocol,
	requestID, model string,
	started time.Time,
) {
	prefix, body := peekPrefix(o.resp.Body, sniffPrefixLen)
	streamCtx := StreamContextFor(p, o.resp, prefix, started)

	// The request context is canceled when the client disconnects; the
	// usage event must still be written in that case.
	eventCtx := context.WithoutCancel(ctx)
	inst := stream.New(body, streamCtx, func(result stream.Result) {
		f.finalizeStreamedEvent(eventCtx, attempt, p, requestID, model, result)
	})

	for k, v := range FilterHeaders(o.header) {
		w.Header()[k] = v
	}
	w.WriteHeader(o.status)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	io.Copy(w, inst)
	inst.Close()
}

// finalizeStreamedEvent builds and enqueues the usage event once C7
// finishes instrumenting a streamed response, per §4.7/§4.9.
func (f *Forwarder) finalizeStreamedEvent(ctx context.Context, attempt repository.Attempt, p protocol.Protocol, requestID, model string, result stream.Result) {
	var modelPtr *string
	if model != "" {
		modelPtr = &model
	}

	status := int64(http.StatusOK)

	event := repository.UsageEvent{
		ID:               uuid.NewString(),
		RequestID:        requestID,
		TSMs:             repository.NowMs(f.Now()),
		Protocol:         p,
		ChannelID:        attempt.ChannelID,
		Model:            modelPtr,
		Success:          result.Success,
		HTTPStatus:       &status,
		ErrorKind:        result.ErrorKind,
		ErrorDetail:      result.ErrorDetail,
		LatencyMs:        result.DurationMs,
		TTFTMs:           result.TTFTMs,
		PromptTokens:     result.Usage.PromptTokens(),
		CompletionTokens: result.Usage.CompletionTokens(),
		TotalTokens:      result.Usage.TotalTokens(),
		CacheReadTokens:  result.Usage.CacheReadTokens(),
		CacheWriteTokens: result.Usage.CacheWriteTokens(),
	}

	pricing, _ := usage.ResolvePricing(ctx, f.Repo, model)
	event.EstimatedCostUSD = usage.EstimateCostUSD(usage.TokenCounts{
		PromptTokens:     event.PromptTokens,
		CompletionTokens: event.CompletionTokens,
		CacheReadTokens:  event.CacheReadTokens,
		CacheWriteTokens: event.CacheWriteTokens,
	}, pricing, result.Success)

	if err := f.Repo.InsertUsageEvent(ctx, event); err != nil {
		f.Logger.Printf("forwarder: request %s insert streamed usage event: %v", requestID, err)
	}
	f.Sink.Observe(event)
}

// recordAndEmit records a failure outcome against C8 and writes a failed
// usage event directly (the non-streaming path: the outcome is already
// fully known, there is no stream to instrument).
func (f *Forwarder) recordAndEmit(
	ctx context.Context,
	attempt repository.Attempt,
	class failure.Class,
	requestID string,
	p protocol.Protocol,
	model string,
	success bool,
	httpStatus *int,
	started time.Time,
	settings repository.AutoDisableSettings,
	errorKind, errorDetail string,
) {
	if err := f.Recorder.Record(ctx, attempt, class, repository.NowMs(f.Now()), settings); err != nil {
		f.Logger.Printf("forwarder: request %s record failure: %v", requestID, err)
	}

	var status *int64
	if httpStatus != nil {
		s := int64(*httpStatus)
		status = &s
	}

	var modelPtr *string
	if model != "" {
		modelPtr = &model
	}

	kind := errorKind
	detail := truncate(errorDetail, 2000)

	event := repository.UsageEvent{
		ID:          uuid.NewString(),
		RequestID:   requestID,
		TSMs:        repository.NowMs(f.Now()),
		Protocol:    p,
		ChannelID:   attempt.ChannelID,
		Model:       modelPtr,
		Success:     success,
		HTTPStatus:  status,
		ErrorKind:   &kind,
		ErrorDetail: &detail,
		LatencyMs:   f.Now().Sub(started).Milliseconds(),
	}

	pricing, _ := usage.ResolvePricing(ctx, f.Repo, model)
	event.EstimatedCostUSD = usage.EstimateCostUSD(usage.TokenCounts{}, pricing, success)

	if err := f.Repo.InsertUsageEvent(ctx, event); err != nil {
		f.Logger.Printf("forwarder: request %s insert usage event: %v", requestID, err)
	}
	f.Sink.Observe(event)
}

func buildUpstreamURL(baseURL string, p protocol.Protocol, inbound *url.URL) (*url.URL, error) {
	merged := pathmerge.Merge(baseURL, p.Root(), inbound.Path)
	out, err := url.Parse(merged)
	if err != nil {
		return nil, fmt.Errorf("parse merged url %q: %w", merged, err)
	}
	out.RawQuery = inbound.RawQuery
	return out, nil
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func readBounded(r io.Reader, max int64) ([]byte, error) {
	limited := io.LimitReader(r, max+1)
	b, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadBody, err)
	}
	if int64(len(b)) > max {
		return nil, ErrReadBody
	}
	return b, nil
}

func extractModel(body []byte, contentType string) string {
	if !strings.HasPrefix(contentType, "application/json") {
		return ""
	}
	var v struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return ""
	}
	return v.Model
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// StreamContextFor derives a stream.Context for response instrumentation
// from an attempt's outcome. bodyPrefix is the first sniffPrefixLen bytes
// already peeked off resp.Body, used to recognize SSE framing on
// upstreams that mislabel or omit Content-Type.
func StreamContextFor(p protocol.Protocol, resp *http.Response, bodyPrefix []byte, started time.Time) stream.Context {
	contentType := resp.Header.Get("Content-Type")
	return stream.Context{
		Protocol:        p,
		StatusCode:      resp.StatusCode,
		StatusIsSuccess: resp.StatusCode >= 200 && resp.StatusCode <= 299,
		ParseSSE:        stream.ShouldParseSSE(contentType, bodyPrefix),
		Started:         started,
	}
}

// sniffPrefixLen is how many leading bytes of a successful response body
// streamResponse peeks before handing the body to the instrumentor, just
// enough to catch a "data:" SSE lead-in.
const sniffPrefixLen = 16

// peekPrefix reads up to n bytes from rc without losing them for later
// reads. An io.Reader has no "rewind" — once bytes come out of Read they're
// gone — so the trick is to stitch them back on the front with
// io.MultiReader: the returned reader replays buf first, then falls
// through to rc for everything after. It's the same shape as bufio's
// internal look-ahead, just done by hand for a one-time sniff.
func peekPrefix(rc io.ReadCloser, n int) ([]byte, io.ReadCloser) {
	buf := make([]byte, n)
	read, _ := io.ReadFull(rc, buf)
	buf = buf[:read]
	return buf, prefixedReadCloser{io.MultiReader(bytes.NewReader(buf), rc), rc}
}

type prefixedReadCloser struct {
	io.Reader
	io.Closer
}
