package service

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-inbox/pkg/config"
	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/metrics"
	"whatsapp-inbox/pkg/storage"
)

func setupService(t *testing.T) *Service {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests

	cfg := config.Defaults()
	cfg.Port = "0"
	cfg.StoreBackend = constants.BackendSQLite
	cfg.DataDir = t.TempDir()
	cfg.ShutdownTimeoutMS = 2000

	stores, err := storage.Open(cfg, logger)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	return NewService(stores, cfg, logger, metrics.NewMetrics(reg), reg)
}

func TestService_StartServeStop(t *testing.T) {
	svc := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	_, port, err := net.SplitHostPort(svc.Addr())
	require.NoError(t, err)
	base := "http://127.0.0.1:" + port

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/api/customers/15550001/outgoing", "application/json", strings.NewReader(`{"body":"price list attached"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(base + "/api/customers")
	require.NoError(t, err)
	var list struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	assert.Equal(t, 1, list.Count)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))

	_, err = http.Get(base + "/health")
	assert.Error(t, err)
}

func TestService_StartFailsWhenPortTaken(t *testing.T) {
	first := setupService(t)
	require.NoError(t, first.Start(context.Background()))
	defer first.Stop(context.Background())

	second := setupService(t)
	_, port, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	second.config.Port = port
	assert.Error(t, second.Start(context.Background()))
	second.stores.Close()
}

func TestInboxOptions(t *testing.T) {
	cfg := config.Defaults()
	cfg.SummaryWindow = 10
	cfg.MessageLimit = 20
	cfg.MaxWindow = 30

	opts := InboxOptions(cfg)
	assert.Equal(t, 10, opts.SummaryWindow)
	assert.Equal(t, 20, opts.MessageLimit)
	assert.Equal(t, 30, opts.MaxWindow)
}
