// Package stream wraps an upstream response body so it is transparent to
// the client while the proxy extracts token usage from in-flight SSE
// frames and accounts for time-to-first-byte, bounded entirely in memory
// regardless of how much the upstream ultimately sends (C7).
package stream

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

const (
	maxErrBodyBuf = 256 * 1024
	maxSSELogBuf  = 1024 * 1024
	maxSSEParse   = 256 * 1024
)

// Result is everything the instrumentor learned about one stream by the
// time it finalized.
type Result struct {
	TTFTMs        *int64
	DurationMs    int64
	Usage         *Accumulator
	Success       bool
	ErrorKind     *string
	ErrorDetail   *string
	SSELogTrunc   bool
}

// Context carries the per-attempt metadata the instrumentor needs but does
// not itself own (protocol, status, SSE parsing flag, start time).
type Context struct {
	Protocol        protocol.Protocol
	StatusCode      int
	StatusIsSuccess bool
	ParseSSE        bool
	Started         time.Time
}

// Instrumented wraps an io.ReadCloser response body. Read and Close are
// safe to call from one goroutine (the standard http.ResponseWriter copy
// loop); finalize fires exactly once, whether the stream ends normally, the
// upstream read errors, or the client disconnects and Close is called
// before EOF. There's no destructor to hook in Go, so sync.Once plays the
// role a Drop impl or a try/finally block would play elsewhere: whichever
// code path notices the stream is done calls finalize(), and only the
// first call does anything.
type Instrumented struct {
	inner io.ReadCloser
	ctx   Context

	onFinalize func(Result)
	once       sync.Once

	ttftMs *int64
	usage  *Accumulator

	sseParseBuf []byte
	sseLogBuf   bytes.Buffer
	sseLogTrunc bool
	errBodyBuf  bytes.Buffer

	streamErr error
}

// New wraps body. onFinalize is invoked at most once with the accumulated
// result, from whichever goroutine triggers finalization (Read reaching
// EOF/error, or Close being called first).
func New(body io.ReadCloser, ctx Context, onFinalize func(Result)) *Instrumented {
	return &Instrumented{
		inner:      body,
		ctx:        ctx,
		onFinalize: onFinalize,
		usage:      NewAccumulator(ctx.Protocol),
	}
}

func (s *Instrumented) Read(p []byte) (int, error) {
	n, err := s.inner.Read(p)
	if n > 0 {
		s.onChunk(p[:n])
	}
	if err != nil {
		if err != io.EOF {
			s.streamErr = err
		}
		s.finalize()
	}
	return n, err
}

// Close releases the upstream body and finalizes if Read never reached a
// terminal state (client disconnected mid-stream).
func (s *Instrumented) Close() error {
	defer s.finalize()
	return s.inner.Close()
}

func (s *Instrumented) onChunk(b []byte) {
	if s.ttftMs == nil {
		d := time.Since(s.ctx.Started).Milliseconds()
		s.ttftMs = &d
	}

	if !s.ctx.StatusIsSuccess && s.errBodyBuf.Len() < maxErrBodyBuf {
		remain := maxErrBodyBuf - s.errBodyBuf.Len()
		if remain > len(b) {
			remain = len(b)
		}
		s.errBodyBuf.Write(b[:remain])
	}

	if s.ctx.ParseSSE {
		s.appendSSELog(b)
		s.consumeSSE(b)
	}
}

func (s *Instrumented) appendSSELog(b []byte) {
	if s.sseLogTrunc {
		return
	}
	if s.sseLogBuf.Len() >= maxSSELogBuf {
		s.sseLogTrunc = true
		return
	}
	remain := maxSSELogBuf - s.sseLogBuf.Len()
	if len(b) > remain {
		s.sseLogBuf.Write(b[:remain])
		s.sseLogTrunc = true
		return
	}
	s.sseLogBuf.Write(b)
}

func (s *Instrumented) consumeSSE(b []byte) {
	if len(s.sseParseBuf) < maxSSEParse {
		remain := maxSSEParse - len(s.sseParseBuf)
		if remain > len(b) {
			remain = len(b)
		}
		s.sseParseBuf = append(s.sseParseBuf, b[:remain]...)
	}

	for {
		i := bytes.IndexByte(s.sseParseBuf, '\n')
		if i < 0 {
			break
		}
		line := s.sseParseBuf[:i]
		s.sseParseBuf = s.sseParseBuf[i+1:]

		text := strings.TrimSpace(string(line))
		if !strings.HasPrefix(text, "data:") {
			continue
		}
		data := strings.TrimSpace(text[len("data:"):])
		if data == "" || data == "[DONE]" {
			continue
		}
		s.usage.MergeLine([]byte(data))
	}
}

func (s *Instrumented) finalize() {
	s.once.Do(func() {
		duration := time.Since(s.ctx.Started).Milliseconds()
		success := s.ctx.StatusIsSuccess && s.streamErr == nil

		var errorKind, errorDetail *string
		switch {
		case success:
		case !s.ctx.StatusIsSuccess:
			k := fmt.Sprintf("upstream_http:%d", s.ctx.StatusCode)
			errorKind = &k
			d := truncate(s.errBodyBuf.String(), 2000)
			errorDetail = &d
		case s.streamErr != nil:
			k := "stream_error:" + truncate(s.streamErr.Error(), 240)
			errorKind = &k
			d := truncate(s.streamErr.Error(), 2000)
			errorDetail = &d
		}

		if s.onFinalize != nil {
			s.onFinalize(Result{
				TTFTMs:      s.ttftMs,
				DurationMs:  duration,
				Usage:       s.usage,
				Success:     success,
				ErrorKind:   errorKind,
				ErrorDetail: errorDetail,
				SSELogTrunc: s.sseLogTrunc,
			})
		}
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ShouldParseSSE reports whether a response should be treated as an SSE
// stream: an explicit event-stream content type, or a body that begins
// with "data:" once the caller has peeked its leading bytes. Upstreams
// occasionally mislabel the content type (or omit it) while still
// framing the body as SSE, so the byte check runs even when the header
// check already failed.
func ShouldParseSSE(contentType string, bodyPrefix []byte) bool {
	if strings.HasPrefix(strings.TrimSpace(contentType), "text/event-stream") {
		return true
	}
	return bytes.HasPrefix(bytes.TrimSpace(bodyPrefix), []byte("data:"))
}
