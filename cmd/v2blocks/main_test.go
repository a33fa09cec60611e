package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/resident-x/go-v2blocks/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const timerYAML = `
tasks:
  - slot: 0
    enabled: true
    start_hour: 22
    start_minute: 30
    end_hour: 6
    days: [1, 2, 3, 4, 5]
    mode: 1
    power_watts: 1500
    soc_limit: 90
`

func TestParseBlockID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"100", 100, false},
		{"0x4b64", 19300, false},
		{"65536", 0, true},
		{"home", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBlockID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	out, err := execute(t, "decode", "1", "07d5", "0002")
	require.NoError(t, err)

	var rec struct {
		BlockID uint16                 `json:"block_id"`
		Fields  map[string]interface{} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, uint16(1), rec.BlockID)
	assert.Equal(t, float64(2005), rec.Fields["protocol_version"])
	assert.Equal(t, float64(2), rec.Fields["device_type"])
}

func TestDecodeCommandErrors(t *testing.T) {
	_, err := execute(t, "decode", "6000", "0001")
	assert.ErrorContains(t, err, "out_of_bounds")

	_, err = execute(t, "decode", "77", "00")
	assert.ErrorContains(t, err, "unknown_block")

	_, err = execute(t, "decode", "home", "00")
	assert.ErrorContains(t, err, "invalid block id")

	_, err = execute(t, "decode", "1")
	assert.Error(t, err)
}

func TestSchemaCommand(t *testing.T) {
	out, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "BLOCK")
	assert.Contains(t, out, "timer_schedule")
	assert.Contains(t, out, "[2005 2000]")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 7)

	out, err = execute(t, "schema", "12002")
	require.NoError(t, err)
	assert.Contains(t, out, `"display_name"`)
	assert.Contains(t, out, `"writable": true`)

	_, err = execute(t, "schema", "77")
	assert.ErrorContains(t, err, "not registered")
}

func TestReplayCommand(t *testing.T) {
	path := writeFile(t, "captures.yaml", `
captures:
  - name: protocol
    block: 1
    payload: "07d5 0002"
  - name: short summary
    block: 6000
    payload: "0001"
`)

	out, err := execute(t, "replay", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 captures, 1 decoded, 1 failed")
	assert.Contains(t, out, "out_of_bounds: 1")

	_, err = execute(t, "replay", "--strict", path)
	assert.ErrorContains(t, err, "1 of 2 captures failed")

	out, err = execute(t, "replay", "--json", path)
	require.NoError(t, err)
	var report struct {
		Total   int            `json:"total"`
		ByKind  map[string]int `json:"failures_by_kind"`
		Results []struct {
			Version int `json:"version"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, map[string]int{"out_of_bounds": 1}, report.ByKind)
	assert.Equal(t, 2005, report.Results[1].Version)

	out, err = execute(t, "--version-override", "2000", "replay", "--json", path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2000, report.Results[1].Version)

	_, err = execute(t, "replay", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTimerEncodeCommand(t *testing.T) {
	path := writeFile(t, "timers.yaml", timerYAML)

	out, err := execute(t, "timer", "encode", path)
	require.NoError(t, err)

	var res timerOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2000, res.Version)
	assert.Equal(t, 4, res.Slots)
	assert.Len(t, res.Payload, 2*162)
	assert.Equal(t, "01", res.Payload[:2])
	assert.True(t, strings.HasPrefix(res.Frame, "01104b64005100a2"), res.Frame)

	out, err = execute(t, "--version-override", "2005", "timer", "encode", path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 8, res.Slots)
	assert.Len(t, res.Payload, 2*322)
}

func TestTimerEncodeUsesConfiguredAddress(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", "device:\n  unit_address: 17\n")
	path := writeFile(t, "timers.yaml", timerYAML)

	out, err := execute(t, "--config", cfgPath, "timer", "encode", path)
	require.NoError(t, err)

	var res timerOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, strings.HasPrefix(res.Frame, "1110"), res.Frame)
}

func TestTimerEncodeRejectsBadTasks(t *testing.T) {
	path := writeFile(t, "timers.yaml", "tasks:\n  - slot: 0\n    enabled: true\n    start_hour: 25\n")
	_, err := execute(t, "timer", "encode", path)
	assert.ErrorContains(t, err, "start_hour")

	path = writeFile(t, "timers.yaml", "tasks: [")
	_, err = execute(t, "timer", "encode", path)
	assert.ErrorContains(t, err, "parse timer file")
}

func TestTimerRoundTrip(t *testing.T) {
	path := writeFile(t, "timers.yaml", timerYAML)

	out, err := execute(t, "timer", "encode", path)
	require.NoError(t, err)
	var res timerOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))

	out, err = execute(t, "timer", "decode", res.Payload)
	require.NoError(t, err)
	assert.Contains(t, out, "start_hour: 22")
	assert.Contains(t, out, "start_minute: 30")
	assert.Contains(t, out, "power_watts: 1500")
	assert.NotContains(t, out, "reserved")
}

func TestRootOptions(t *testing.T) {
	_, err := execute(t, "--version-override=-1", "schema")
	assert.ErrorContains(t, err, "must not be negative")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "schema")
	assert.ErrorContains(t, err, "error reading config")

	o := &rootOptions{cfg: config.DefaultConfig()}
	assert.Equal(t, 2000, o.protocolVersion())
	o.versionOverride = 2005
	assert.Equal(t, 2005, o.protocolVersion())
}

func TestServeRequiresAPI(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.API.Enabled = false
	o := &rootOptions{cfg: cfg}

	assert.ErrorContains(t, o.serve(context.Background()), "api is disabled")
}

func TestServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogLevel = "error"
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	o := &rootOptions{cfg: cfg}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, o.serve(ctx))
}
