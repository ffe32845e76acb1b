package handlers

import (
	"context"
	"fmt"

	"signals-backend/application/commands"
	"signals-backend/application/commands/bus"
	"signals-backend/application/services"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
)

// Orchestrator is the write side of the coordinator.
type Orchestrator interface {
	RunAnalysis(ctx context.Context, signalID, callerRealmID, accountID string) (*services.AnalysisOutcome, error)
	RunReflection(ctx context.Context, req services.ReflectionRequest) (*entities.Reflection, error)
	RunSynthesis(ctx context.Context, req services.SynthesisRequest) (*entities.Synthesis, error)
	UpdateLLMSettings(ctx context.Context, realmID, callerRealmID string, settings valueobjects.LLMSettings) (*entities.Realm, error)
	AttachCluster(ctx context.Context, parentID, childID, callerRealmID string) (*entities.Cluster, error)
	DetachCluster(ctx context.Context, childID, callerRealmID string) (*entities.Cluster, error)
	AnnotateReflection(ctx context.Context, reflectionID, author, note, callerRealmID string) (entities.Annotation, error)
}

// OrchestrationHandlers adapts orchestration commands to the coordinator.
type OrchestrationHandlers struct {
	orchestrator Orchestrator
}

// NewOrchestrationHandlers creates a new handler set
func NewOrchestrationHandlers(orchestrator Orchestrator) *OrchestrationHandlers {
	return &OrchestrationHandlers{orchestrator: orchestrator}
}

// Register wires every orchestration command into b.
func (h *OrchestrationHandlers) Register(b *bus.CommandBus) error {
	registrations := []struct {
		cmd     bus.Command
		handler bus.CommandHandlerFunc
	}{
		{commands.RunAnalysisCommand{}, h.runAnalysis},
		{commands.RunReflectionCommand{}, h.runReflection},
		{commands.RunSynthesisCommand{}, h.runSynthesis},
		{commands.UpdateLLMSettingsCommand{}, h.updateLLMSettings},
		{commands.AttachClusterCommand{}, h.attachCluster},
		{commands.DetachClusterCommand{}, h.detachCluster},
		{commands.AnnotateReflectionCommand{}, h.annotateReflection},
	}
	for _, r := range registrations {
		if err := b.Register(r.cmd, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (h *OrchestrationHandlers) runAnalysis(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, err := as[commands.RunAnalysisCommand](c)
	if err != nil {
		return nil, err
	}
	return h.orchestrator.RunAnalysis(ctx, cmd.SignalID, cmd.CallerRealmID, cmd.AccountID)
}

func (h *OrchestrationHandlers) runReflection(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, err := as[commands.RunReflectionCommand](c)
	if err != nil {
		return nil, err
	}
	return h.orchestrator.RunReflection(ctx, services.ReflectionRequest{
		SubjectID:      cmd.SubjectID,
		SubjectKind:    cmd.SubjectKind,
		ReflectionType: cmd.ReflectionType,
		CallerRealmID:  cmd.CallerRealmID,
		AccountID:      cmd.AccountID,
	})
}

func (h *OrchestrationHandlers) runSynthesis(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, err := as[commands.RunSynthesisCommand](c)
	if err != nil {
		return nil, err
	}
	return h.orchestrator.RunSynthesis(ctx, services.SynthesisRequest{
		SubjectID:     cmd.SubjectID,
		SubjectKind:   cmd.SubjectKind,
		Type:          cmd.Type,
		Subtype:       cmd.Subtype,
		CallerRealmID: cmd.CallerRealmID,
		AccountID:     cmd.AccountID,
	})
}

func (h *OrchestrationHandlers) updateLLMSettings(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, err := as[commands.UpdateLLMSettingsCommand](c)
	if err != nil {
		return nil, err
	}
	return h.orchestrator.UpdateLLMSettings(ctx, cmd.RealmID, cmd.CallerRealmID, cmd.Settings)
}

func (h *OrchestrationHandlers) attachCluster(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, err := as[commands.AttachClusterCommand](c)
	if err != nil {
		return nil, err
	}
	return h.orchestrator.AttachCluster(ctx, cmd.ParentID, cmd.ChildID, cmd.CallerRealmID)
}

func (h *OrchestrationHandlers) detachCluster(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, err := as[commands.DetachClusterCommand](c)
	if err != nil {
		return nil, err
	}
	return h.orchestrator.DetachCluster(ctx, cmd.ClusterID, cmd.CallerRealmID)
}

func (h *OrchestrationHandlers) annotateReflection(ctx context.Context, c bus.Command) (interface{}, error) {
	cmd, err := as[commands.AnnotateReflectionCommand](c)
	if err != nil {
		return nil, err
	}
	return h.orchestrator.AnnotateReflection(ctx, cmd.ReflectionID, cmd.Author, cmd.Note, cmd.CallerRealmID)
}

func as[T bus.Command](c bus.Command) (T, error) {
	cmd, ok := c.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected command type %T", c)
	}
	return cmd, nil
}
