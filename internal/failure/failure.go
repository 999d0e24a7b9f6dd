// Package failure classifies upstream outcomes and drives the per-entity
// sliding-window auto-disable state machine (C8).
package failure

import (
	"context"
	"fmt"

	"github.com/nolanhoward/llmproxy/internal/repository"
)

// Class is the outcome classification of one upstream attempt.
type Class int

const (
	ClassSuccess Class = iota
	ClassTransport
	Class5xx
	ClassAuthRejected // 401/403
	ClassRateLimited  // 429
	ClassOther4xx
)

// ClassifyStatus classifies an HTTP response status. Use ClassTransport
// directly when the attempt failed before any status was received.
func ClassifyStatus(status int) Class {
	switch {
	case status >= 200 && status <= 299:
		return ClassSuccess
	case status >= 500 && status <= 599:
		return Class5xx
	case status == 401 || status == 403:
		return ClassAuthRejected
	case status == 429:
		return ClassRateLimited
	case status >= 400 && status <= 499:
		return ClassOther4xx
	default:
		return ClassOther4xx
	}
}

// Recorder drives C8 against a repository for one attempt's outcome.
type Recorder struct {
	Repo repository.Repository
}

// Record applies the granularity rules of the auto-disable FSM for a
// finished attempt. When settings.Enabled is false, it is a no-op:
// auto-disable is bypassed entirely.
func (r *Recorder) Record(ctx context.Context, a repository.Attempt, class Class, nowMs int64, settings repository.AutoDisableSettings) error {
	if !settings.Enabled {
		return nil
	}

	if class == ClassSuccess {
		return r.clearAll(ctx, a)
	}

	recordChannel, recordEndpoint, recordKey, recordPair := granularitiesFor(class)

	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if recordChannel {
		_, err := r.Repo.RecordChannelFailureAndMaybeDisable(ctx, a.ChannelID, nowMs, settings.WindowMinutes, settings.FailureTimes, settings.DisableMinutes)
		note(err)
	}
	if recordEndpoint {
		_, err := r.Repo.RecordEndpointFailureAndMaybeDisable(ctx, a.EndpointID, nowMs, settings.WindowMinutes, settings.FailureTimes, settings.DisableMinutes)
		note(err)
	}
	if recordKey {
		_, err := r.Repo.RecordKeyFailureAndMaybeDisable(ctx, a.KeyID, nowMs, settings.WindowMinutes, settings.FailureTimes, settings.DisableMinutes)
		note(err)
	}
	if recordPair {
		_, err := r.Repo.RecordEndpointKeyFailureAndMaybeDisable(ctx, a.EndpointID, a.KeyID, nowMs, settings.WindowMinutes, settings.FailureTimes, settings.DisableMinutes)
		note(err)
	}

	if firstErr != nil {
		return fmt.Errorf("failure: record outcome: %w", firstErr)
	}
	return nil
}

// granularitiesFor reports which of the four granularities a failure class
// is recorded against, per the classification table.
func granularitiesFor(class Class) (channel, endpoint, key, pair bool) {
	switch class {
	case ClassTransport, Class5xx:
		return true, true, true, true
	case ClassAuthRejected:
		return false, false, true, true
	case ClassRateLimited, ClassOther4xx:
		return false, false, false, true
	default:
		return false, false, false, false
	}
}

// clearAll best-effort clears failure logs at all four granularities for
// the winning attempt on success. Errors are collected but do not abort
// the hot path — clearing is not transactional with the client response.
func (r *Recorder) clearAll(ctx context.Context, a repository.Attempt) error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	note(r.Repo.ClearChannelFailures(ctx, a.ChannelID))
	note(r.Repo.ClearEndpointFailures(ctx, a.EndpointID))
	note(r.Repo.ClearKeyFailures(ctx, a.KeyID))
	note(r.Repo.ClearEndpointKeyFailures(ctx, a.EndpointID, a.KeyID))
	if firstErr != nil {
		return fmt.Errorf("failure: clear on success: %w", firstErr)
	}
	return nil
}
