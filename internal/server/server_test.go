package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/creatorops/internal/audit/domain"
	"github.com/smallbiznis/creatorops/internal/config"
	"github.com/smallbiznis/creatorops/internal/engine"
	entitydomain "github.com/smallbiznis/creatorops/internal/entity/domain"
	lifecycledomain "github.com/smallbiznis/creatorops/internal/lifecycle/domain"
	"github.com/smallbiznis/creatorops/internal/observability"
	registrydomain "github.com/smallbiznis/creatorops/internal/registry/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	evaluated   []string
	sweptIDs    []string
	resolvedBy  string
	resolveErr  error
	setStageErr error
}

func (f *fakeEngine) Evaluate(_ context.Context, entityID string) (engine.EvaluationResult, error) {
	f.evaluated = append(f.evaluated, entityID)
	if entityID == "missing" {
		return engine.EvaluationResult{}, fmt.Errorf("load entity: %w", entitydomain.ErrNotFound)
	}
	return engine.EvaluationResult{
		EntityID: entityID,
		Triggered: []engine.Trigger{{
			Source:  auditdomain.SourceRule,
			RuleID:  "low-approval-rate",
			AuditID: "101",
		}},
	}, nil
}

func (f *fakeEngine) Score(_ context.Context, entityID string) (engine.ScoreResult, error) {
	return engine.ScoreResult{EntityID: entityID}, nil
}

func (f *fakeEngine) Sweep(_ context.Context, entityIDs []string) (engine.SweepResult, error) {
	f.sweptIDs = entityIDs
	return engine.SweepResult{Scanned: len(entityIDs), Errors: []engine.EntityError{}}, nil
}

func (f *fakeEngine) Resolve(_ context.Context, _ string, resolvedBy, _ string) (bool, error) {
	f.resolvedBy = resolvedBy
	if f.resolveErr != nil {
		return false, f.resolveErr
	}
	return true, nil
}

func (f *fakeEngine) GetStage(_ context.Context, entityID string) (engine.StageView, error) {
	return engine.StageView{Record: lifecycledomain.Record{EntityID: entityID, Stage: lifecycledomain.StageEngaged}}, nil
}

func (f *fakeEngine) SetStage(_ context.Context, entityID string, stage lifecycledomain.Stage, _, _ string) (lifecycledomain.Transition, error) {
	if f.setStageErr != nil {
		return lifecycledomain.Transition{}, f.setStageErr
	}
	return lifecycledomain.Transition{To: stage, Changed: true}, nil
}

func (f *fakeEngine) HandleEvent(_ context.Context, entityID string, event engine.Event) (engine.EvaluationResult, error) {
	if event.Name == "" {
		return engine.EvaluationResult{}, engine.ErrEventRequired
	}
	return engine.EvaluationResult{EntityID: entityID}, nil
}

type fakeRegistry struct {
	registrydomain.Service
	published bool
	created   []registrydomain.RuleInput
}

func (f *fakeRegistry) CreateRule(_ context.Context, in registrydomain.RuleInput) (registrydomain.Rule, error) {
	if in.Name == "" {
		return registrydomain.Rule{}, fmt.Errorf("%w: name is required", registrydomain.ErrInvalidInput)
	}
	f.created = append(f.created, in)
	return registrydomain.Rule{ID: "low-approval-rate", Name: in.Name, Trigger: registrydomain.TriggerCondition, Active: true}, nil
}

func (f *fakeRegistry) GetRule(_ context.Context, id string) (registrydomain.Rule, error) {
	return registrydomain.Rule{}, registrydomain.ErrNotFound
}

func (f *fakeRegistry) Reload(context.Context) (*registrydomain.Config, error) {
	return &registrydomain.Config{
		Rules:    []registrydomain.Rule{{ID: "a"}, {ID: "b"}},
		Levels:   []registrydomain.EscalationLevel{{ID: "elevated"}},
		LoadedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeRegistry) PublishReload(context.Context) error {
	f.published = true
	return nil
}

type fakeLifecycle struct {
	lifecycledomain.Service
}

func (f *fakeLifecycle) Reactivate(_ context.Context, _, _, _ string) (lifecycledomain.Transition, error) {
	return lifecycledomain.Transition{}, lifecycledomain.ErrNotChurned
}

type fakeAudit struct {
	auditdomain.Service
	lastList auditdomain.ListRequest
}

func (f *fakeAudit) ListByEntity(_ context.Context, req auditdomain.ListRequest) (auditdomain.ListResponse, error) {
	f.lastList = req
	return auditdomain.ListResponse{Records: []auditdomain.AuditRecord{}}, nil
}

type testServer struct {
	router   *gin.Engine
	engine   *fakeEngine
	registry *fakeRegistry
	audit    *fakeAudit
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ts := &testServer{
		router:   NewEngine(observability.Config{Environment: "test"}, nil),
		engine:   &fakeEngine{},
		registry: &fakeRegistry{},
		audit:    &fakeAudit{},
	}
	NewServer(ServerParams{
		Gin:          ts.router,
		Cfg:          config.Config{Environment: "test"},
		Log:          zap.NewNop(),
		Engine:       ts.engine,
		RegistrySvc:  ts.registry,
		LifecycleSvc: &fakeLifecycle{},
		AuditSvc:     ts.audit,
	})
	return ts
}

func (ts *testServer) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestEvaluateEntityReturnsTriggeredRules(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/v1/entities/ent_1/evaluate", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			EntityID  string           `json:"entity_id"`
			Triggered []engine.Trigger `json:"triggered_rules"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ent_1", resp.Data.EntityID)
	require.Len(t, resp.Data.Triggered, 1)
	assert.Equal(t, "low-approval-rate", resp.Data.Triggered[0].RuleID)
}

func TestEvaluateUnknownEntityIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/v1/entities/missing/evaluate", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}

func TestResolveAuditRecord(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/v1/audit/101/resolve", map[string]string{"notes": "called the creator"}, HeaderActor, "ops@example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops@example.com", ts.engine.resolvedBy)

	ts.engine.resolveErr = auditdomain.ErrAlreadyResolved
	rec = ts.do(http.MethodPost, "/admin/v1/audit/101/resolve", map[string]string{"resolved_by": "lead"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "lead", ts.engine.resolvedBy)
	assert.Equal(t, "already resolved", decodeError(t, rec).Message)

	ts.engine.resolveErr = auditdomain.ErrNotFound
	rec = ts.do(http.MethodPost, "/admin/v1/audit/999/resolve", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, defaultActor, ts.engine.resolvedBy)
}

func TestSetStageValidation(t *testing.T) {
	ts := newTestServer(t)

	ts.engine.setStageErr = lifecycledomain.ErrInvalidStage
	rec := ts.do(http.MethodPut, "/admin/v1/entities/ent_1/stage", map[string]string{"stage": "dormant", "reason": "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "stage", payload.Errors[0].Field)
	assert.Equal(t, lifecycledomain.ErrInvalidStage.Error(), payload.Errors[0].Code)

	ts.engine.setStageErr = nil
	rec = ts.do(http.MethodPut, "/admin/v1/entities/ent_1/stage", map[string]string{"stage": "at_risk", "reason": "support escalation"})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReactivateRequiresChurnedEntity(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/v1/entities/ent_1/reactivate", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "entity is not churned", decodeError(t, rec).Message)
}

func TestHandleEventRequiresName(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/v1/entities/ent_1/events", map[string]string{"subject_id": "prop_1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "name", payload.Errors[0].Field)
}

func TestCreateRule(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/v1/rules", map[string]any{"description": "no name"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "name is required", payload.Errors[0].Message)

	rec = ts.do(http.MethodPost, "/admin/v1/rules", map[string]any{
		"name":      "Low approval rate",
		"trigger":   "condition",
		"condition": map[string]any{"field": "approval_rate", "op": "lt", "value": 50},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, ts.registry.created, 1)
	assert.JSONEq(t, `{"field":"approval_rate","op":"lt","value":50}`, string(ts.registry.created[0].Condition))

	rec = ts.do(http.MethodGet, "/admin/v1/rules/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListEntityAuditFilters(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/admin/v1/entities/ent_1/audit?resolved=maybe", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/admin/v1/entities/ent_1/audit?source=webhook", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/admin/v1/entities/ent_1/audit?source=escalation&resolved=false&page_size=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ent_1", ts.audit.lastList.EntityID)
	assert.Equal(t, auditdomain.SourceEscalation, ts.audit.lastList.Source)
	assert.Equal(t, 10, ts.audit.lastList.PageSize)
	require.NotNil(t, ts.audit.lastList.Resolved)
	assert.False(t, *ts.audit.lastList.Resolved)
}

func TestRunSweepWithExplicitEntities(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/v1/sweeps", map[string]any{"entity_ids": []string{"ent_1", " ", "ent_2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"ent_1", "ent_2"}, ts.engine.sweptIDs)

	rec = ts.do(http.MethodPost, "/admin/v1/sweeps", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, ts.engine.sweptIDs)
}

func TestReloadRegistryPublishes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPost, "/admin/v1/registry/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ts.registry.published)

	var resp struct {
		Data struct {
			Rules     int  `json:"rules"`
			Levels    int  `json:"escalation_levels"`
			Published bool `json:"published"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Rules)
	assert.Equal(t, 1, resp.Data.Levels)
	assert.True(t, resp.Data.Published)
}

func TestHealthAndFallback(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/admin/v1/nothing-here", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec).Type)
}
