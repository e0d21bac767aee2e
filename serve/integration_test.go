package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/furin-lab/nanika"
	"github.com/furin-lab/nanika/fmo"
	"github.com/furin-lab/nanika/protocol"
	"github.com/furin-lab/nanika/sstp"
)

const testToken = "s3cret"

func testConfig(t *testing.T) *nanika.Config {
	t.Helper()
	t.Setenv("NANIKA_CONFIG_DIR", t.TempDir())
	t.Setenv("NANIKA_AI_API_KEY", "")
	t.Setenv("NANIKA_FMO_PATH", "")

	cfg := nanika.DefaultConfig()
	cfg.Ghost.Name = "Emily"
	cfg.Shiori.Backend = "builtin"
	cfg.State.Backend = "memory"
	cfg.AI.Backend = "none"
	cfg.SSTP.Address = "127.0.0.1"
	cfg.SSTP.Port = 0
	cfg.SSTP.TLSPort = 0
	cfg.SSTP.TrustToken = testToken
	cfg.FMO.Path = filepath.Join(t.TempDir(), "fmo")
	cfg.FMO.Interval = nanika.Duration{Duration: 50 * time.Millisecond}
	cfg.Ghost.CloseGrace = nanika.Duration{Duration: time.Second}
	return cfg
}

// startDaemon runs a daemon until the test ends and waits for it to boot.
func startDaemon(t *testing.T, cfg *nanika.Config) *Daemon {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	d, err := NewDaemon(ctx, DaemonOptions{
		Config:     cfg,
		SocketPath: testSocketPath(t),
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	require.Eventually(t, func() bool {
		return d.Status().State == "running"
	}, 5*time.Second, 10*time.Millisecond)
	return d
}

func sstpAddr(t *testing.T, d *Daemon) string {
	t.Helper()
	addrs := d.sstp.Addrs()
	require.NotEmpty(t, addrs)
	return addrs[0].String()
}

func sstpRequest(method protocol.Method, headers ...string) *protocol.Request {
	req := protocol.NewRequest(method, sstp.DefaultVersion, "")
	req.Headers.Set(protocol.HeaderSender, "test")
	req.Headers.Set(protocol.HeaderCharset, "UTF-8")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Headers.Set(headers[i], headers[i+1])
	}
	return req
}

func sendSSTP(t *testing.T, addr string, req *protocol.Request) *protocol.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := sstp.Send(ctx, addr, req)
	require.NoError(t, err)
	return resp
}

func TestDaemonSSTPSendReachesPresenter(t *testing.T) {
	d := startDaemon(t, testConfig(t))
	addr := sstpAddr(t, d)

	resp := sendSSTP(t, addr, sstpRequest(protocol.MethodSend, protocol.HeaderScript, `\h\s[5]Hello from SSTP\e`))
	assert.Equal(t, protocol.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool {
		return d.Status().Surface == 5
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDaemonSSTPRules(t *testing.T) {
	d := startDaemon(t, testConfig(t))
	addr := sstpAddr(t, d)

	tests := []struct {
		name string
		req  *protocol.Request
		code int
	}{
		{"send without script", sstpRequest(protocol.MethodSend), protocol.StatusBadRequest},
		{"notify", sstpRequest(protocol.MethodNotify, protocol.HeaderEvent, "OnMusicPlay"), protocol.StatusNoContent},
		{"execute from outside", sstpRequest(protocol.MethodExecute), protocol.StatusRefuse},
		{"execute with token", sstpRequest(protocol.MethodExecute,
			protocol.HeaderSecurityLevel, "local",
			protocol.HeaderSecurityToken, testToken), protocol.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := sendSSTP(t, addr, tt.req)
			assert.Equal(t, tt.code, resp.StatusCode)
		})
	}
}

func TestDaemonControlSocket(t *testing.T) {
	d := startDaemon(t, testConfig(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := request(ctx, d.control.sockPath, &nanika.ControlRequest{Action: "status"})
	require.NoError(t, err)
	require.True(t, resp.OK)
	assert.Equal(t, "Emily", resp.Status.Name)
	assert.Equal(t, "builtin", resp.Status.Backend)
	assert.NotEmpty(t, resp.Status.FMOID)
	assert.Len(t, resp.Status.SSTP, 1)

	resp, err = request(ctx, d.control.sockPath, &nanika.ControlRequest{Action: "script", Text: `\h\s[7]Hi\e`})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Eventually(t, func() bool {
		return d.Status().Surface == 7
	}, 5*time.Second, 10*time.Millisecond)

	resp, err = request(ctx, d.control.sockPath, &nanika.ControlRequest{Action: "reload"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
}

func TestDaemonPublishesFMO(t *testing.T) {
	cfg := testConfig(t)
	d := startDaemon(t, cfg)

	var name string
	require.Eventually(t, func() bool {
		records, err := fmo.ReadRecords(cfg.FMO.Path)
		if err != nil {
			return false
		}
		v, ok := fmo.Lookup(records, d.fmo.ID()+".name")
		name = v
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "Emily", name)
}

func TestDaemonRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Shiori.Backend = "telepathy"
	_, err := NewDaemon(context.Background(), DaemonOptions{Config: cfg})
	assert.ErrorContains(t, err, "telepathy")
}

func TestDaemonProcessBackendNeedsPath(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("NANIKA_SHIORI", "")
	cfg.Shiori.Backend = "process"
	cfg.Shiori.Path = ""
	_, err := NewDaemon(context.Background(), DaemonOptions{Config: cfg})
	assert.ErrorContains(t, err, "no personality configured")
}
