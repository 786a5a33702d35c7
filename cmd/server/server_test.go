package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/config"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/monitoring"
	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

const seedYAML = `
entities:
  - id: deal-1
    kind: deal
    owner_id: owner-1
    name: Acme Renewal
    company_name: Acme
    stage: SQL
    value: "48000"
    stage_entered: {days_ago: 25}
    created_days_ago: 60
  - id: deal-2
    kind: deal
    owner_id: owner-1
    name: Globex Pilot
    created_days_ago: 5
  - id: contact-1
    kind: contact
    owner_id: owner-1
    name: Dana Scully
communications:
  - {entity_id: deal-1, days_ago: 8, channel: email, direction: inbound, sentiment: 0.4}
  - {entity_id: deal-1, days_ago: 5, channel: email, direction: outbound, sentiment: 0.3}
  - {entity_id: deal-1, days_ago: 1, channel: email, direction: inbound, sentiment: -0.2}
  - {entity_id: contact-1, days_ago: 3, channel: email, direction: outbound, opened: true}
activities:
  - {entity_id: deal-1, days_ago: 10, type: note}
links:
  - {kind: contact, id: contact-1, deal_id: deal-1}
rules:
  - id: rule-stall
    name: Stalled in stage
    owner_id: owner-1
    entity_kind: deal
    rule_type: stage_stall
    threshold: 14
    operator: ">"
    unit: days
    severity: high
    title: "{{deal_name}} stuck in {{stage}} for {{days_in_stage}} days"
    suggested_actions: ["Book a next-step call"]
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:              "0",
		GinMode:           gin.TestMode,
		DataDir:           t.TempDir(),
		AllowedOrigins:    []string{"http://localhost:3000"},
		NotifyRatePerHour: 30,
		StaleMaxAge:       24 * time.Hour,
		DismissCooldown:   168 * time.Hour,
		EventBuffer:       64,
	}
}

// newTestApp builds the full service over a temp-dir database. The event
// bus is not started, so alert notifications stay queued unless a test
// starts it.
func newTestApp(t *testing.T, seed bool) (*app, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	a, err := newApp(context.Background(), newTestConfig(t), monitoring.NewLogger(slog.LevelError))
	require.NoError(t, err)
	t.Cleanup(a.close)

	if seed {
		_, err := a.importer.ImportYAML(context.Background(), strings.NewReader(seedYAML))
		require.NoError(t, err)
	}
	return a, a.router()
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthEndpoint(t *testing.T) {
	_, r := newTestApp(t, false)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET /health returns OK status", http.MethodGet, http.StatusOK},
		{"POST /health not routed", http.MethodPost, http.StatusNotFound},
		{"DELETE /health not routed", http.MethodDelete, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, tt.method, "/health", nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}

			body := decode[map[string]any](t, w)
			assert.Equal(t, "ok", body["status"])
			assert.Equal(t, version, body["version"])
			db := body["database"].(map[string]any)
			assert.Equal(t, "ok", db["status"])
			assert.Equal(t, 3.0, db["schema_version"])
			assert.Equal(t, map[string]any{"enabled": false}, body["redis"])
			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestCalculateEndpoint(t *testing.T) {
	_, r := newTestApp(t, true)

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		calculated     bool
	}{
		{"stalled deal", types.CalculateRequest{Kind: "deal", ID: "deal-1"}, http.StatusOK, true},
		{"contact", types.CalculateRequest{Kind: "contact", ID: "contact-1"}, http.StatusOK, true},
		{"deal without stage is skipped", types.CalculateRequest{Kind: "deal", ID: "deal-2"}, http.StatusOK, false},
		{"missing entity is skipped", types.CalculateRequest{Kind: "company", ID: "nope"}, http.StatusOK, false},
		{"unknown kind", types.CalculateRequest{Kind: "lead", ID: "deal-1"}, http.StatusBadRequest, false},
		{"invalid id", types.CalculateRequest{Kind: "deal", ID: "deal 1; drop"}, http.StatusBadRequest, false},
		{"missing id", map[string]string{"kind": "deal"}, http.StatusBadRequest, false},
		{"malformed json", `{"kind":`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/health/calculate", tt.body)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedStatus != http.StatusOK {
				body := decode[map[string]any](t, w)
				assert.NotEmpty(t, body["error"])
				return
			}

			resp := decode[calculateResponse](t, w)
			assert.Equal(t, tt.calculated, resp.Calculated)
			if tt.calculated {
				require.NotNil(t, resp.Score)
				assert.NotEmpty(t, resp.Score.ID)
				assert.NotEmpty(t, resp.Score.Status)
				assert.GreaterOrEqual(t, resp.Score.OverallScore, 0)
				assert.LessOrEqual(t, resp.Score.OverallScore, 100)
			} else {
				assert.Nil(t, resp.Score)
			}
		})
	}
}

func TestScoreEndpoints(t *testing.T) {
	_, r := newTestApp(t, true)

	w := doJSON(t, r, http.MethodGet, "/api/v1/scores/deal/deal-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	for i := 0; i < 2; i++ {
		w = doJSON(t, r, http.MethodPost, "/api/v1/health/calculate", types.CalculateRequest{Kind: "deal", ID: "deal-1"})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/scores/deal/deal-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	score := decode[types.HealthScore](t, w)
	assert.Equal(t, "Acme Renewal", score.EntityName)
	require.NotNil(t, score.DealMetrics)
	require.NotNil(t, score.DealMetrics.DaysInStage)
	assert.Equal(t, 25, *score.DealMetrics.DaysInStage)

	w = doJSON(t, r, http.MethodGet, "/api/v1/scores/deal/deal-1/history?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.HistorySnapshot](t, w), 1)

	w = doJSON(t, r, http.MethodGet, "/api/v1/scores/deal/deal-1/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]types.HistorySnapshot](t, w), 2)

	w = doJSON(t, r, http.MethodGet, "/api/v1/scores/deal/deal-1/history?limit=-3", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/scores/widget/deal-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchAndTriageEndpoints(t *testing.T) {
	_, r := newTestApp(t, true)

	w := doJSON(t, r, http.MethodPost, "/api/v1/health/calculate-all", map[string]string{"owner_id": "owner-1"})
	require.Equal(t, http.StatusOK, w.Code)
	batch := decode[batchResponse](t, w)
	assert.Equal(t, 2, batch.Count)

	w = doJSON(t, r, http.MethodGet, "/api/v1/health/triage?owner_id=owner-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ranking := decode[map[string]any](t, w)
	assert.Equal(t, 2.0, ranking["total"])
	entries := ranking["entries"].([]any)
	require.Len(t, entries, 2)
	assert.Equal(t, 1.0, entries[0].(map[string]any)["rank"])

	w = doJSON(t, r, http.MethodGet, "/api/v1/health/triage?owner_id=owner-1&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string]any](t, w)["entries"], 1)

	w = doJSON(t, r, http.MethodGet, "/api/v1/health/triage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/api/v1/health/refresh", types.RefreshRequest{OwnerID: "owner-1"})
	require.Equal(t, http.StatusOK, w.Code)
	refresh := decode[types.RefreshResult](t, w)
	assert.Empty(t, refresh.Updated)
	// deal-2 has no stage, is never scored and so is neither fresh nor updated
	assert.Equal(t, 2, refresh.Skipped)

	w = doJSON(t, r, http.MethodPost, "/api/v1/health/refresh", types.RefreshRequest{OwnerID: "owner-1", Force: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[types.RefreshResult](t, w).Updated, 2)

	w = doJSON(t, r, http.MethodPost, "/api/v1/health/refresh", types.RefreshRequest{OwnerID: "owner-1", MaxAgeHours: -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlertLifecycleEndpoints(t *testing.T) {
	_, r := newTestApp(t, true)

	w := doJSON(t, r, http.MethodPost, "/api/v1/health/calculate", types.CalculateRequest{Kind: "deal", ID: "deal-1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/api/v1/alerts?owner_id=owner-1&status=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[alertsResponse](t, w)
	require.Equal(t, 1, listed.Count)
	alert := listed.Alerts[0]
	assert.Equal(t, "Acme Renewal stuck in SQL for 25 days", alert.Title)
	assert.Equal(t, types.AlertStageStall, alert.AlertType)
	assert.Equal(t, []string{"Book a next-step call"}, alert.SuggestedActions)

	// a recalculation does not open a second alert of the same type
	w = doJSON(t, r, http.MethodPost, "/api/v1/scores/deal/deal-1/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[alertsResponse](t, w).Count)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		status         types.AlertStatus
	}{
		{"acknowledge active", "/api/v1/alerts/" + alert.ID + "/acknowledge", http.StatusOK, types.AlertAcknowledged},
		{"dismiss acknowledged", "/api/v1/alerts/" + alert.ID + "/dismiss", http.StatusConflict, ""},
		{"resolve acknowledged", "/api/v1/alerts/" + alert.ID + "/resolve", http.StatusOK, types.AlertResolved},
		{"acknowledge resolved", "/api/v1/alerts/" + alert.ID + "/acknowledge", http.StatusConflict, ""},
		{"unknown alert", "/api/v1/alerts/missing-alert/resolve", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, tt.path, nil)
			require.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.status != "" {
				resp := decode[transitionResponse](t, w)
				assert.True(t, resp.Changed)
				assert.Equal(t, tt.status, resp.Status)
			}
		})
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/alerts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationDispatch(t *testing.T) {
	a, r := newTestApp(t, true)
	a.start(context.Background())

	w := doJSON(t, r, http.MethodPost, "/api/v1/health/calculate", types.CalculateRequest{Kind: "deal", ID: "deal-1"})
	require.Equal(t, http.StatusOK, w.Code)

	// Stop drains the queue through the dispatcher
	a.bus.Stop()

	alerts, err := a.repo.ListAlerts(context.Background(), types.AlertFilter{EntityID: "deal-1"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.NotNil(t, alerts[0].NotifiedAt)
	assert.Equal(t, []string{"log"}, alerts[0].NotificationChannels)
	assert.Empty(t, alerts[0].NotificationError)
}

func TestRulesEndpoints(t *testing.T) {
	_, r := newTestApp(t, false)

	valid := map[string]any{
		"owner_id":           "owner-9",
		"name":               "Ghosting",
		"rule_type":          "no_activity",
		"threshold_value":    10,
		"threshold_operator": ">=",
		"threshold_unit":     "days",
		"alert_severity":     "medium",
		"title_template":     "{{entity_name}} quiet for {{days_since_activity}} days",
		"is_active":          true,
	}

	tests := []struct {
		name           string
		body           any
		expectedStatus int
	}{
		{"valid rule", valid, http.StatusCreated},
		{"missing owner", map[string]any{"rule_type": "no_activity", "threshold_operator": ">", "threshold_unit": "days"}, http.StatusBadRequest},
		{"bad operator", map[string]any{"owner_id": "o", "rule_type": "no_activity", "threshold_operator": "!=", "threshold_unit": "days"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/rules", tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/rules?owner_id=owner-9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rules := decode[[]types.AlertRule](t, w)
	require.Len(t, rules, 1)
	assert.NotEmpty(t, rules[0].ID)
	assert.Equal(t, "Ghosting", rules[0].Name)

	w = doJSON(t, r, http.MethodGet, "/api/v1/rules?owner_id=nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestImportEndpoint(t *testing.T) {
	_, r := newTestApp(t, false)

	post := func(contentType, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/import", strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post("application/x-yaml", seedYAML)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"entities":3,"meetings":0,"communications":4,"activities":1,"links":1,"rules":1}`, w.Body.String())

	w = post("application/x-yaml", "entities:\n  - {id: x, kind: lead, owner_id: o, name: X}\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post("text/plain", seedYAML)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestServer_ErrorHandling(t *testing.T) {
	_, r := newTestApp(t, false)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{"unknown route", http.MethodGet, "/api/v1/nothing", http.StatusNotFound},
		{"bad owner id", http.MethodGet, "/api/v1/alerts?owner_id=%27%20or%201%3D1", http.StatusBadRequest},
		{"missing owner on rules", http.MethodGet, "/api/v1/rules", http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/v1/alerts?limit=ten", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, tt.method, tt.path, nil)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	_, r := newTestApp(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/alerts", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, r := newTestApp(t, true)

	w := doJSON(t, r, http.MethodPost, "/api/v1/health/calculate", types.CalculateRequest{Kind: "deal", ID: "deal-1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "deal_health_scores_calculated_total")
	assert.Contains(t, body, `deal_health_alerts_created_total{alert_type="stage_stall",severity="high"} 1`)
	assert.Contains(t, body, `deal_health_http_requests_total{method="POST",route="/api/v1/health/calculate",status="200"} 1`)
	assert.Contains(t, body, "deal_health_events_dropped 0")
}
