package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hariommodi123/drag-and-drop-offline-sub000/internal/remotesrv"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/record"
	"github.com/hariommodi123/drag-and-drop-offline-sub000/remote"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "bizsync", cmd.Use)

	for _, name := range []string{"serve", "run", "sync", "status", "create"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
	assert.Equal(t, "c", cmd.PersistentFlags().Lookup("config").Shorthand)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", errors.New("x"))))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInvalidFormat(t *testing.T) {
	t.Setenv("BIZSYNC_DATABASE_PATH", filepath.Join(t.TempDir(), "c.db"))
	_, err := execute(t, "status", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCreateSyncAndStatus(t *testing.T) {
	srv, err := remotesrv.New(remotesrv.Deps{
		Backend: remotesrv.NewMemoryBackend(),
		Auth:    remote.NewJWTAuth("cli-secret"),
	}, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	t.Setenv("BIZSYNC_SERVER_URL", ts.URL)
	t.Setenv("BIZSYNC_JWT_SECRET", "cli-secret")
	t.Setenv("BIZSYNC_SELLER_ID", "seller-cli")
	t.Setenv("BIZSYNC_DATABASE_PATH", filepath.Join(t.TempDir(), "client.db"))
	t.Setenv("BIZSYNC_LOG_LEVEL", "error")

	out, err := execute(t, "create", "customers", "--data", `{"name":"Ann"}`, "--format", "json")
	require.NoError(t, err)
	var created struct {
		Status string `json:"status"`
		Data   struct {
			Outcome string         `json:"outcome"`
			Record  *record.Record `json:"record"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "ok", created.Status)
	assert.Equal(t, "created", created.Data.Outcome)
	require.NotNil(t, created.Data.Record)
	assert.False(t, created.Data.Record.IsSynced)

	out, err = execute(t, "status", "--format", "json")
	require.NoError(t, err)
	var status struct {
		Data struct {
			DeviceID string                    `json:"deviceId"`
			Pending  map[record.EntityType]int `json:"pending"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.NotEmpty(t, status.Data.DeviceID)
	assert.Equal(t, 1, status.Data.Pending[record.Customers])

	out, err = execute(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "success:")
	assert.Contains(t, out, "true")

	out, err = execute(t, "status", "--format", "json")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Zero(t, status.Data.Pending[record.Customers])
}

func TestSyncOfflineFails(t *testing.T) {
	t.Setenv("BIZSYNC_SERVER_URL", "http://127.0.0.1:1")
	t.Setenv("BIZSYNC_SELLER_ID", "seller-cli")
	t.Setenv("BIZSYNC_DATABASE_PATH", filepath.Join(t.TempDir(), "client.db"))
	t.Setenv("BIZSYNC_HTTP_TIMEOUT", "1s")
	t.Setenv("BIZSYNC_LOG_LEVEL", "error")

	out, err := execute(t, "sync", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `"reason": "offline"`)
}
