package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/config"
	"github.com/hileamlakB/stress-api-sub000/internal/logging"
	"github.com/hileamlakB/stress-api-sub000/internal/mockapi"
	"github.com/hileamlakB/stress-api-sub000/internal/session"
	"github.com/hileamlakB/stress-api-sub000/internal/subscription"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stressmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := mockapi.NewServer(config.MockConfig{
		TestTTL:   time.Minute,
		Tick:      5 * time.Millisecond,
		LevelTime: 30 * time.Millisecond,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return srv
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	path := writeConfig(t, `
api:
  base_url: http://file.local:8000
  token: from-file
poll:
  interval: 250ms
`)
	flags := &globalFlags{}
	root := &cobra.Command{Use: "stressmon"}
	flags.bind(root)
	sub := newWatchCmd(flags)
	root.AddCommand(sub)

	require.NoError(t, sub.ParseFlags([]string{"--config", path, "--base-url", "https://flag.local", "--log-format", "json"}))
	cfg, err := flags.loadConfig(sub)
	require.NoError(t, err)

	assert.Equal(t, "https://flag.local", cfg.API.BaseURL)
	assert.Equal(t, "from-file", cfg.API.Token, "unset flags keep file values")
	assert.Equal(t, 250*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "wss://flag.local", cfg.WSBase())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	flags := &globalFlags{}
	root := &cobra.Command{Use: "stressmon"}
	flags.bind(root)
	sub := newWatchCmd(flags)
	root.AddCommand(sub)

	require.NoError(t, sub.ParseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "--base-url", "ftp://x", "--log-format", "xml"}))
	_, err := flags.loadConfig(sub)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.base_url")
	assert.Contains(t, err.Error(), "log.format")
}

func TestRunPlainAgainstMockServer(t *testing.T) {
	srv := newMockServer(t)
	path := writeConfig(t, `
api:
  base_url: `+srv.URL+`
poll:
  interval: 20ms
  max_empty_polls: 50
stream:
  reconnect_delay: 20ms
test:
  target_url: http://target.local
  endpoints:
    - method: GET
      path: /api/users
  concurrency_levels: [1, 10]
  requests_per_level: 20
`)

	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"run", "--plain", "--config", path})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, root.ExecuteContext(ctx), errOut.String())

	assert.Contains(t, out.String(), "Load test")
	assert.Contains(t, out.String(), "completed")
	assert.Contains(t, errOut.String(), "final results received")
}

func TestWatchUnknownTest(t *testing.T) {
	srv := newMockServer(t)
	path := writeConfig(t, "poll:\n  interval: 20ms\nstream:\n  reconnect_delay: 20ms\n")

	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"watch", "missing", "--plain", "--config", path, "--base-url", srv.URL})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	assert.ErrorIs(t, err, client.ErrNotFound)
	assert.Contains(t, out.String(), "no longer knows this test")
}

func TestRunRequiresTestSection(t *testing.T) {
	path := writeConfig(t, "api:\n  base_url: http://127.0.0.1:1\n")
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--plain", "--config", path})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no test section")
}

func TestObserverFinishes(t *testing.T) {
	tests := []struct {
		name    string
		payload subscription.Payload
		done    bool
	}{
		{"summary", subscription.SummaryPayload{State: session.New("t1", time.Now())}, false},
		{"metrics", subscription.MetricsPayload{}, false},
		{"waiting", subscription.WaitingPayload{Attempts: 3}, false},
		{"exhausted", subscription.WaitingPayload{Attempts: 10, Exhausted: true}, true},
		{"not found", subscription.NotFoundPayload{Err: client.ErrNotFound}, true},
		{"results", subscription.ResultsPayload{Results: &client.FinalResults{}}, true},
		{"results failed", subscription.ResultsPayload{Err: errors.New("503")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := newObserver(logging.Discard())
			obs.Notify(subscription.Event{TestID: "t1", Payload: tt.payload})
			obs.Notify(subscription.Event{TestID: "t1", Payload: tt.payload})

			select {
			case <-obs.Done():
				assert.True(t, tt.done, "unexpected finish")
			default:
				assert.False(t, tt.done, "expected finish")
			}
		})
	}
}

func TestSettled(t *testing.T) {
	st := session.New("t1", time.Now())
	assert.False(t, settled(st, 10))
	st.RetryCount = 10
	assert.True(t, settled(st, 10))
	st.RetryCount = 0
	st.FinalResults = &client.FinalResults{}
	assert.True(t, settled(st, 10))
}
