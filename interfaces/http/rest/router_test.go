package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signals-backend/application/commands/bus"
	cmdhandlers "signals-backend/application/commands/handlers"
	querybus "signals-backend/application/queries/bus"
	queryhandlers "signals-backend/application/queries/handlers"
	"signals-backend/application/services"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/pkg/auth"
	"signals-backend/pkg/errors"
	"signals-backend/pkg/observability"
)

const secret = "router-test-secret"

type mockCoordinator struct {
	mock.Mock
}

func (m *mockCoordinator) RunAnalysis(ctx context.Context, signalID, callerRealmID, accountID string) (*services.AnalysisOutcome, error) {
	args := m.Called(signalID, callerRealmID, accountID)
	out, _ := args.Get(0).(*services.AnalysisOutcome)
	return out, args.Error(1)
}

func (m *mockCoordinator) RunReflection(ctx context.Context, req services.ReflectionRequest) (*entities.Reflection, error) {
	args := m.Called(req)
	out, _ := args.Get(0).(*entities.Reflection)
	return out, args.Error(1)
}

func (m *mockCoordinator) RunSynthesis(ctx context.Context, req services.SynthesisRequest) (*entities.Synthesis, error) {
	args := m.Called(req)
	out, _ := args.Get(0).(*entities.Synthesis)
	return out, args.Error(1)
}

func (m *mockCoordinator) UpdateLLMSettings(ctx context.Context, realmID, callerRealmID string, settings valueobjects.LLMSettings) (*entities.Realm, error) {
	args := m.Called(realmID, callerRealmID, settings)
	out, _ := args.Get(0).(*entities.Realm)
	return out, args.Error(1)
}

func (m *mockCoordinator) AttachCluster(ctx context.Context, parentID, childID, callerRealmID string) (*entities.Cluster, error) {
	args := m.Called(parentID, childID, callerRealmID)
	out, _ := args.Get(0).(*entities.Cluster)
	return out, args.Error(1)
}

func (m *mockCoordinator) DetachCluster(ctx context.Context, childID, callerRealmID string) (*entities.Cluster, error) {
	args := m.Called(childID, callerRealmID)
	out, _ := args.Get(0).(*entities.Cluster)
	return out, args.Error(1)
}

func (m *mockCoordinator) AnnotateReflection(ctx context.Context, reflectionID, author, note, callerRealmID string) (entities.Annotation, error) {
	args := m.Called(reflectionID, author, note, callerRealmID)
	out, _ := args.Get(0).(entities.Annotation)
	return out, args.Error(1)
}

func (m *mockCoordinator) ListReflections(ctx context.Context, subjectID, subjectKind, callerRealmID string) ([]*entities.Reflection, error) {
	args := m.Called(subjectID, subjectKind, callerRealmID)
	out, _ := args.Get(0).([]*entities.Reflection)
	return out, args.Error(1)
}

func (m *mockCoordinator) ListSyntheses(ctx context.Context, subjectID, subjectKind, callerRealmID string) ([]*entities.Synthesis, error) {
	args := m.Called(subjectID, subjectKind, callerRealmID)
	out, _ := args.Get(0).([]*entities.Synthesis)
	return out, args.Error(1)
}

func (m *mockCoordinator) GetLLMSettings(ctx context.Context, realmID, callerRealmID string) (valueobjects.LLMSettings, error) {
	args := m.Called(realmID, callerRealmID)
	out, _ := args.Get(0).(valueobjects.LLMSettings)
	return out, args.Error(1)
}

type harness struct {
	coord     *mockCoordinator
	collector *observability.Collector
	handler   http.Handler
}

func newHarness(t *testing.T, limiter *auth.KeyedLimiter) *harness {
	t.Helper()
	coord := &mockCoordinator{}

	commandBus := bus.NewCommandBus()
	require.NoError(t, cmdhandlers.NewOrchestrationHandlers(coord).Register(commandBus))
	queryBus := querybus.NewQueryBus()
	require.NoError(t, queryhandlers.Register(queryBus, coord))

	validator, err := auth.NewJWTValidator(auth.JWTConfig{SigningMethod: "HS256", SecretKey: secret})
	require.NoError(t, err)

	collector := observability.NewCollector("test")
	logger := zap.NewNop()
	router := NewRouter(commandBus, queryBus, validator, limiter, collector, []string{"*"},
		logger, errors.NewErrorHandler(logger, false))
	return &harness{coord: coord, collector: collector, handler: router.Setup()}
}

func token(t *testing.T, realmID string) string {
	t.Helper()
	claims := auth.Claims{
		UserID:  "user-1",
		RealmID: realmID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (h *harness) do(t *testing.T, method, path, body, realmID string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if realmID != "" {
		req.Header.Set("Authorization", token(t, realmID))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRouter_RequiresToken(t *testing.T) {
	h := newHarness(t, nil)
	signalID := valueobjects.NewID()

	rec := h.do(t, http.MethodPost, "/api/v1/signals/"+signalID+"/analysis", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeBody(t, rec)["type"])
	h.coord.AssertNotCalled(t, "RunAnalysis", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_RunAnalysisUsesTokenRealm(t *testing.T) {
	h := newHarness(t, nil)
	signalID := valueobjects.NewID()
	h.coord.On("RunAnalysis", signalID, "realm-a", "acct-1").Return(&services.AnalysisOutcome{
		SignalID: signalID,
		Status:   valueobjects.SignalStatusAnalyzed,
		Attempts: 1,
	}, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/signals/"+signalID+"/analysis", `{"account_id":"acct-1"}`, "realm-a")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, signalID, decodeBody(t, rec)["signal_id"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	h.coord.AssertExpectations(t)
}

func TestRouter_RunAnalysisEmptyBody(t *testing.T) {
	h := newHarness(t, nil)
	signalID := valueobjects.NewID()
	h.coord.On("RunAnalysis", signalID, "realm-a", "").Return(&services.AnalysisOutcome{SignalID: signalID}, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/signals/"+signalID+"/analysis", "", "realm-a")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRouter_ErrorRendering(t *testing.T) {
	h := newHarness(t, nil)
	signalID := valueobjects.NewID()
	h.coord.On("RunAnalysis", signalID, "realm-a", "").
		Return(nil, errors.NewForbiddenError("subject belongs to another realm"))

	rec := h.do(t, http.MethodPost, "/api/v1/signals/"+signalID+"/analysis", "", "realm-a")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "FORBIDDEN", body["type"])
	assert.NotEmpty(t, body["request_id"])
}

func TestRouter_RejectsMalformedInputBeforeCoordinator(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"signal id not a uuid", http.MethodPost, "/api/v1/signals/nope/analysis", ""},
		{"unknown subject kind", http.MethodPost, "/api/v1/subjects/planet/" + valueobjects.NewID() + "/reflections", `{"reflection_type":"MIRROR"}`},
		{"unknown reflection type", http.MethodPost, "/api/v1/subjects/signal/" + valueobjects.NewID() + "/reflections", `{"reflection_type":"PROPHECY"}`},
		{"subtype of another type", http.MethodPost, "/api/v1/subjects/cluster/" + valueobjects.NewID() + "/syntheses", `{"type":"METADATA","subtype":"MYTH"}`},
		{"unknown body field", http.MethodPut, "/api/v1/realm/llm-settings", `{"accounts":[],"api_key":"sk-live"}`},
		{"empty annotation", http.MethodPost, "/api/v1/reflections/" + valueobjects.NewID() + "/annotations", `{"note":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.body, "realm-a")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Empty(t, h.coord.Calls)
}

func TestRouter_SettingsRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	settings := valueobjects.LLMSettings{
		Accounts: []valueobjects.LLMAccount{
			{AccountID: "main", Provider: "openai", Model: "gpt-4o-mini", CredentialRef: "openai-main"},
		},
		DefaultAccountID: "main",
		RealmHolderName:  "Ada",
	}
	realm, err := entities.NewRealm("home")
	require.NoError(t, err)
	require.NoError(t, realm.ReplaceSettings(settings))
	h.coord.On("UpdateLLMSettings", "realm-a", "realm-a", settings).Return(realm, nil)
	h.coord.On("GetLLMSettings", "realm-a", "realm-a").Return(settings, nil)

	body, err := json.Marshal(settings)
	require.NoError(t, err)
	rec := h.do(t, http.MethodPut, "/api/v1/realm/llm-settings", string(body), "realm-a")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/v1/realm/llm-settings", "", "realm-a")
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		RealmID  string                   `json:"realm_id"`
		Settings valueobjects.LLMSettings `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "realm-a", view.RealmID)
	assert.Equal(t, settings, view.Settings)
}

func TestRouter_ListAndCreate(t *testing.T) {
	h := newHarness(t, nil)
	clusterID := valueobjects.NewID()
	subject := valueobjects.ClusterSubject(clusterID)

	ref, err := entities.NewReflection("realm-a", subject, valueobjects.ReflectionTypeMirror)
	require.NoError(t, err)
	syn, err := entities.NewSynthesis("realm-a", subject, valueobjects.SynthesisTypeMetadata,
		valueobjects.SynthesisSubtypeSurface, 0, "surface", entities.Rollup{SignalCount: 2}, entities.GenerationRecord{})
	require.NoError(t, err)

	h.coord.On("ListReflections", clusterID, "cluster", "realm-a").Return([]*entities.Reflection{ref}, nil)
	h.coord.On("RunSynthesis", services.SynthesisRequest{
		SubjectID: clusterID, SubjectKind: "cluster", Type: "METADATA", Subtype: "SURFACE", CallerRealmID: "realm-a",
	}).Return(syn, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/subjects/cluster/"+clusterID+"/reflections", "", "realm-a")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decodeBody(t, rec)["reflections"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "Cluster", list[0].(map[string]interface{})["subject_kind"])

	rec = h.do(t, http.MethodPost, "/api/v1/subjects/cluster/"+clusterID+"/syntheses", `{"type":"METADATA","subtype":"SURFACE"}`, "realm-a")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, syn.ID(), decodeBody(t, rec)["id"])
}

func TestRouter_AnnotationAuthorComesFromToken(t *testing.T) {
	h := newHarness(t, nil)
	reflectionID := valueobjects.NewID()
	h.coord.On("AnnotateReflection", reflectionID, "user-1", "rings true", "realm-a").
		Return(entities.Annotation{ID: "n1", Author: "user-1", Note: "rings true"}, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/reflections/"+reflectionID+"/annotations", `{"note":"rings true"}`, "realm-a")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "user-1", decodeBody(t, rec)["author"])
}

func TestRouter_RealmRateLimit(t *testing.T) {
	h := newHarness(t, auth.NewKeyedLimiter(1, 2))
	signalID := valueobjects.NewID()
	h.coord.On("RunAnalysis", signalID, mock.Anything, "").Return(&services.AnalysisOutcome{SignalID: signalID}, nil)

	path := "/api/v1/signals/" + signalID + "/analysis"
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path, "", "realm-a").Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path, "", "realm-a").Code)
	rec := h.do(t, http.MethodPost, path, "", "realm-a")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// buckets are per realm
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, path, "", "realm-b").Code)
}

func TestRouter_RecordsRoutePattern(t *testing.T) {
	h := newHarness(t, nil)
	clusterID := valueobjects.NewID()
	h.coord.On("ListSyntheses", clusterID, "cluster", "realm-a").Return([]*entities.Synthesis{}, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/subjects/cluster/"+clusterID+"/syntheses", "", "realm-a")
	require.Equal(t, http.StatusOK, rec.Code)

	count := testutil.ToFloat64(h.collector.HTTPRequests.WithLabelValues(
		http.MethodGet, "/api/v1/subjects/{kind}/{id}/syntheses", "200"))
	assert.Equal(t, 1.0, count)
}
