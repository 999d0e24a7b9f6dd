package forwarder

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"

	"github.com/nolanhoward/llmproxy/internal/protocol"
)

// TestForwardReplaysRecordedUpstreamCassette drives one attempt against a
// recorded upstream interaction instead of a live httptest.Server, the way
// a replayed real-provider fixture would look.
func TestForwardReplaysRecordedUpstreamCassette(t *testing.T) {
	rec, err := recorder.New("testdata/openai_success", recorder.WithMode(recorder.ModeReplayOnly))
	require.NoError(t, err)
	defer rec.Stop()

	client := &http.Client{Transport: rec}

	repo := newTestRepo(t)
	seedChannel(t, repo, "cassette", protocol.OpenAI, 10, "https://api.openai.com")

	fwd := New(repo, client, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()

	fwd.Forward(w, req, protocol.OpenAI)

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"ok":true}`, w.Body.String())
}
