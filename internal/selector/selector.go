// Package selector produces the ordered plan of upstream attempts a forward
// request walks through (C3).
package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/nolanhoward/llmproxy/internal/protocol"
	"github.com/nolanhoward/llmproxy/internal/repository"
)

// ErrNoEnabledChannel is returned when no channel of the requested protocol
// is enabled at all.
type ErrNoEnabledChannel struct{ Protocol protocol.Protocol }

func (e *ErrNoEnabledChannel) Error() string {
	return fmt.Sprintf("selector: no enabled channel for protocol %q", e.Protocol)
}

// ErrNoAvailableChannel is returned when enabled channels exist but every
// attempt is currently quarantined.
type ErrNoAvailableChannel struct{ Protocol protocol.Protocol }

func (e *ErrNoAvailableChannel) Error() string {
	return fmt.Sprintf("selector: no available channel for protocol %q (all quarantined)", e.Protocol)
}

// Plan is a stable snapshot of attempts for one inbound request. It is
// never refreshed mid-request: re-querying between attempts risks
// oscillation and starvation.
type Plan struct {
	Attempts []repository.Attempt
	Settings repository.AutoDisableSettings
}

// Select builds a plan for protocol p at time nowMs.
func Select(ctx context.Context, repo repository.Repository, p protocol.Protocol, nowMs int64) (*Plan, error) {
	settings, err := repo.GetAutoDisableSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("selector: get auto-disable settings: %w", err)
	}

	enabledCount, attempts, err := repo.ListAvailableUpstreamAttempts(ctx, p, nowMs, settings.Enabled)
	if err != nil {
		return nil, fmt.Errorf("selector: list attempts: %w", err)
	}

	if len(attempts) == 0 {
		if enabledCount == 0 {
			return nil, &ErrNoEnabledChannel{Protocol: p}
		}
		return nil, &ErrNoAvailableChannel{Protocol: p}
	}

	return &Plan{Attempts: attempts, Settings: settings}, nil
}

// IsNoChannel reports whether err is either selector "no channel available"
// variant, useful for mapping to the proxy's 503-equivalent response.
func IsNoChannel(err error) bool {
	var noEnabled *ErrNoEnabledChannel
	var noAvailable *ErrNoAvailableChannel
	return errors.As(err, &noEnabled) || errors.As(err, &noAvailable)
}
