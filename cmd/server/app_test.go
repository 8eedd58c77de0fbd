package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consentservice "consent-manager/internal/consent/service"
	"consent-manager/internal/platform/config"
	"consent-manager/internal/platform/logger"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), config.NewTestConfig(), logger.Discard())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestAppWithoutInfrastructure(t *testing.T) {
	a := newTestApp(t)

	assert.Nil(t, a.redis)
	assert.Nil(t, a.db)
	assert.Nil(t, a.producer)
	require.NotNil(t, a.loopback, "notifications fall back to in-process delivery")
	assert.ElementsMatch(t,
		[]string{"consent.hiu.notify", "consent.hip.notify", "consent.hip.dataflow"},
		a.topics.Topics())
}

func TestAppRoutes(t *testing.T) {
	srv := httptest.NewServer(newTestApp(t).handler)
	t.Cleanup(srv.Close)

	t.Run("healthz reports the loopback", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, map[string]string{"loopback": "ok"}, body.Checks)
	})

	t.Run("metrics exposes module collectors", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("consent API requires a bearer token", func(t *testing.T) {
		resp, err := http.Post(srv.URL+"/consent-requests", "application/json", strings.NewReader(`{}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("gateway callback path is mounted", func(t *testing.T) {
		body := `{"requestId":"r-1","timestamp":"` + time.Now().UTC().Format(time.RFC3339) + `","resp":{"requestId":"q-1"}}`
		resp, err := http.Post(srv.URL+"/v0.5/links/link/on-init", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	})
}

func TestAutoApprovalPolicy(t *testing.T) {
	assert.IsType(t, consentservice.DenyAllPolicy{}, autoApprovalPolicy(config.ConsentConfig{}))
	assert.IsType(t, consentservice.DenyAllPolicy{}, autoApprovalPolicy(config.ConsentConfig{AutoApprovalHIUs: []string{" ", ""}}))

	p := autoApprovalPolicy(config.ConsentConfig{
		AutoApprovalHIUs:     []string{" hiu-1 ", "hiu-1", "hiu-2"},
		AutoApprovalPurposes: []string{"CAREMGT"},
	})
	require.IsType(t, consentservice.AllowlistPolicy{}, p)
	allow := p.(consentservice.AllowlistPolicy)
	assert.Equal(t, []string{"hiu-1", "hiu-2"}, allow.HIUs)
	assert.Equal(t, []string{"CAREMGT"}, allow.Purposes)
}
