package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"signals-backend/application/commands"
	"signals-backend/application/commands/bus"
	"signals-backend/application/queries"
	querybus "signals-backend/application/queries/bus"
	"signals-backend/application/services"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	"signals-backend/pkg/auth"
	"signals-backend/pkg/errors"
)

// maxBodyBytes caps request bodies; settings documents are the largest.
const maxBodyBytes = 1 << 20

// OrchestrationHandler serves the orchestration routes over the command and query buses.
type OrchestrationHandler struct {
	commands     *bus.CommandBus
	queries      *querybus.QueryBus
	logger       *zap.Logger
	errorHandler *errors.ErrorHandler
}

// NewOrchestrationHandler creates a new orchestration handler
func NewOrchestrationHandler(
	commandBus *bus.CommandBus,
	queryBus *querybus.QueryBus,
	logger *zap.Logger,
	errorHandler *errors.ErrorHandler,
) *OrchestrationHandler {
	return &OrchestrationHandler{
		commands:     commandBus,
		queries:      queryBus,
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// RunAnalysisRequest is the optional body of POST /signals/{signalID}/analysis.
type RunAnalysisRequest struct {
	AccountID string `json:"account_id,omitempty"`
}

// RunReflectionRequest is the body of POST /subjects/{kind}/{id}/reflections.
type RunReflectionRequest struct {
	ReflectionType string `json:"reflection_type"`
	AccountID      string `json:"account_id,omitempty"`
}

// RunSynthesisRequest is the body of POST /subjects/{kind}/{id}/syntheses.
type RunSynthesisRequest struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	AccountID string `json:"account_id,omitempty"`
}

// AttachClusterRequest is the body of POST /clusters/{clusterID}/members.
type AttachClusterRequest struct {
	ChildID string `json:"child_id"`
}

// AnnotateReflectionRequest is the body of POST /reflections/{reflectionID}/annotations.
type AnnotateReflectionRequest struct {
	Note string `json:"note"`
}

// RunAnalysis handles POST /signals/{signalID}/analysis
func (h *OrchestrationHandler) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req RunAnalysisRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	outcome, err := bus.Dispatch[*services.AnalysisOutcome](r.Context(), h.commands, commands.RunAnalysisCommand{
		SignalID:      chi.URLParam(r, "signalID"),
		CallerRealmID: principal.RealmID,
		AccountID:     req.AccountID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, outcome)
}

// RunReflection handles POST /subjects/{kind}/{id}/reflections
func (h *OrchestrationHandler) RunReflection(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req RunReflectionRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	reflection, err := bus.Dispatch[*entities.Reflection](r.Context(), h.commands, commands.RunReflectionCommand{
		SubjectID:      chi.URLParam(r, "id"),
		SubjectKind:    chi.URLParam(r, "kind"),
		ReflectionType: req.ReflectionType,
		CallerRealmID:  principal.RealmID,
		AccountID:      req.AccountID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, reflectionView(reflection))
}

// ListReflections handles GET /subjects/{kind}/{id}/reflections
func (h *OrchestrationHandler) ListReflections(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	list, err := querybus.AskAs[[]*entities.Reflection](r.Context(), h.queries, queries.ListReflectionsQuery{
		SubjectID:     chi.URLParam(r, "id"),
		SubjectKind:   chi.URLParam(r, "kind"),
		CallerRealmID: principal.RealmID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	views := make([]ReflectionView, 0, len(list))
	for _, ref := range list {
		views = append(views, reflectionView(ref))
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"reflections": views})
}

// RunSynthesis handles POST /subjects/{kind}/{id}/syntheses
func (h *OrchestrationHandler) RunSynthesis(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req RunSynthesisRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	synthesis, err := bus.Dispatch[*entities.Synthesis](r.Context(), h.commands, commands.RunSynthesisCommand{
		SubjectID:     chi.URLParam(r, "id"),
		SubjectKind:   chi.URLParam(r, "kind"),
		Type:          req.Type,
		Subtype:       req.Subtype,
		CallerRealmID: principal.RealmID,
		AccountID:     req.AccountID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, synthesisView(synthesis))
}

// ListSyntheses handles GET /subjects/{kind}/{id}/syntheses
func (h *OrchestrationHandler) ListSyntheses(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	list, err := querybus.AskAs[[]*entities.Synthesis](r.Context(), h.queries, queries.ListSynthesesQuery{
		SubjectID:     chi.URLParam(r, "id"),
		SubjectKind:   chi.URLParam(r, "kind"),
		CallerRealmID: principal.RealmID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	views := make([]SynthesisView, 0, len(list))
	for _, syn := range list {
		views = append(views, synthesisView(syn))
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"syntheses": views})
}

// AttachCluster handles POST /clusters/{clusterID}/members
func (h *OrchestrationHandler) AttachCluster(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req AttachClusterRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	child, err := bus.Dispatch[*entities.Cluster](r.Context(), h.commands, commands.AttachClusterCommand{
		ParentID:      chi.URLParam(r, "clusterID"),
		ChildID:       req.ChildID,
		CallerRealmID: principal.RealmID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, clusterView(child))
}

// DetachCluster handles DELETE /clusters/{clusterID}/parent
func (h *OrchestrationHandler) DetachCluster(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	cluster, err := bus.Dispatch[*entities.Cluster](r.Context(), h.commands, commands.DetachClusterCommand{
		ClusterID:     chi.URLParam(r, "clusterID"),
		CallerRealmID: principal.RealmID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, clusterView(cluster))
}

// AnnotateReflection handles POST /reflections/{reflectionID}/annotations
func (h *OrchestrationHandler) AnnotateReflection(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req AnnotateReflectionRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	annotation, err := bus.Dispatch[entities.Annotation](r.Context(), h.commands, commands.AnnotateReflectionCommand{
		ReflectionID:  chi.URLParam(r, "reflectionID"),
		Author:        principal.UserID,
		Note:          req.Note,
		CallerRealmID: principal.RealmID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, annotation)
}

// GetLLMSettings handles GET /realm/llm-settings
func (h *OrchestrationHandler) GetLLMSettings(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	settings, err := querybus.AskAs[valueobjects.LLMSettings](r.Context(), h.queries, queries.GetLLMSettingsQuery{
		RealmID:       principal.RealmID,
		CallerRealmID: principal.RealmID,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, SettingsView{RealmID: principal.RealmID, Settings: settings})
}

// UpdateLLMSettings handles PUT /realm/llm-settings. The body replaces the settings whole.
func (h *OrchestrationHandler) UpdateLLMSettings(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}
	var settings valueobjects.LLMSettings
	if !h.decode(w, r, &settings, false) {
		return
	}

	realm, err := bus.Dispatch[*entities.Realm](r.Context(), h.commands, commands.UpdateLLMSettingsCommand{
		RealmID:       principal.RealmID,
		CallerRealmID: principal.RealmID,
		Settings:      settings,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	h.logger.Info("LLM settings replaced",
		zap.String("realmID", realm.ID()),
		zap.String("userID", principal.UserID),
	)
	h.respondJSON(w, http.StatusOK, SettingsView{RealmID: realm.ID(), Settings: realm.Settings()})
}

func (h *OrchestrationHandler) principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		h.errorHandler.Handle(w, r, errors.NewUnauthorizedError("Unauthorized"))
		return nil, false
	}
	return p, true
}

// decode reads a JSON body, rejecting unknown fields. optional allows an empty body.
func (h *OrchestrationHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && err == io.EOF {
			return true
		}
		h.errorHandler.Handle(w, r, errors.NewValidationError("Invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (h *OrchestrationHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
