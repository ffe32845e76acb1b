package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signals-backend/application/commands"
	"signals-backend/application/commands/bus"
	"signals-backend/application/services"
	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

type mockOrchestrator struct {
	mock.Mock
}

func (m *mockOrchestrator) RunAnalysis(ctx context.Context, signalID, callerRealmID, accountID string) (*services.AnalysisOutcome, error) {
	args := m.Called(ctx, signalID, callerRealmID, accountID)
	out, _ := args.Get(0).(*services.AnalysisOutcome)
	return out, args.Error(1)
}

func (m *mockOrchestrator) RunReflection(ctx context.Context, req services.ReflectionRequest) (*entities.Reflection, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*entities.Reflection)
	return out, args.Error(1)
}

func (m *mockOrchestrator) RunSynthesis(ctx context.Context, req services.SynthesisRequest) (*entities.Synthesis, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*entities.Synthesis)
	return out, args.Error(1)
}

func (m *mockOrchestrator) UpdateLLMSettings(ctx context.Context, realmID, callerRealmID string, settings valueobjects.LLMSettings) (*entities.Realm, error) {
	args := m.Called(ctx, realmID, callerRealmID, settings)
	out, _ := args.Get(0).(*entities.Realm)
	return out, args.Error(1)
}

func (m *mockOrchestrator) AttachCluster(ctx context.Context, parentID, childID, callerRealmID string) (*entities.Cluster, error) {
	args := m.Called(ctx, parentID, childID, callerRealmID)
	out, _ := args.Get(0).(*entities.Cluster)
	return out, args.Error(1)
}

func (m *mockOrchestrator) DetachCluster(ctx context.Context, childID, callerRealmID string) (*entities.Cluster, error) {
	args := m.Called(ctx, childID, callerRealmID)
	out, _ := args.Get(0).(*entities.Cluster)
	return out, args.Error(1)
}

func (m *mockOrchestrator) AnnotateReflection(ctx context.Context, reflectionID, author, note, callerRealmID string) (entities.Annotation, error) {
	args := m.Called(ctx, reflectionID, author, note, callerRealmID)
	out, _ := args.Get(0).(entities.Annotation)
	return out, args.Error(1)
}

func newBus(t *testing.T, orch Orchestrator) *bus.CommandBus {
	t.Helper()
	b := bus.NewCommandBus(bus.LoggingMiddleware(zap.NewNop()))
	require.NoError(t, NewOrchestrationHandlers(orch).Register(b))
	return b
}

func TestRunAnalysisCommand(t *testing.T) {
	orch := &mockOrchestrator{}
	b := newBus(t, orch)
	signalID := valueobjects.NewID()
	want := &services.AnalysisOutcome{SignalID: signalID, Status: valueobjects.SignalStatusAnalyzed}
	orch.On("RunAnalysis", mock.Anything, signalID, "realm-1", "a2").Return(want, nil)

	got, err := bus.Dispatch[*services.AnalysisOutcome](context.Background(), b, commands.RunAnalysisCommand{
		SignalID: signalID, CallerRealmID: "realm-1", AccountID: "a2",
	})
	require.NoError(t, err)
	assert.Same(t, want, got)
	orch.AssertExpectations(t)
}

func TestRunSynthesisCommand_InvalidKindNeverReachesCoordinator(t *testing.T) {
	orch := &mockOrchestrator{}
	b := newBus(t, orch)

	_, err := b.Send(context.Background(), commands.RunSynthesisCommand{
		SubjectID: "c1", SubjectKind: "Cluster", Type: "METADATA", Subtype: "MIRROR", CallerRealmID: "realm-1",
	})
	assert.True(t, pkgerrors.IsValidation(err))
	orch.AssertNotCalled(t, "RunSynthesis", mock.Anything, mock.Anything)
}

func TestCommands_RequireRealmScope(t *testing.T) {
	orch := &mockOrchestrator{}
	b := newBus(t, orch)

	tests := []bus.Command{
		commands.RunAnalysisCommand{SignalID: valueobjects.NewID()},
		commands.RunReflectionCommand{SubjectID: "s", SubjectKind: "Signal", ReflectionType: "MIRROR"},
		commands.DetachClusterCommand{ClusterID: valueobjects.NewID()},
	}
	for _, cmd := range tests {
		_, err := b.Send(context.Background(), cmd)
		assert.True(t, pkgerrors.IsForbidden(err), "%T", cmd)
	}
}

func TestCommandErrorsPassThrough(t *testing.T) {
	orch := &mockOrchestrator{}
	b := newBus(t, orch)
	busy := pkgerrors.NewConflictError("busy").WithCode("SUBJECT_BUSY")
	orch.On("RunReflection", mock.Anything, mock.MatchedBy(func(r services.ReflectionRequest) bool {
		return r.ReflectionType == "LINEAGE" && r.SubjectKind == "Cluster"
	})).Return(nil, busy)

	_, err := b.Send(context.Background(), commands.RunReflectionCommand{
		SubjectID: "c1", SubjectKind: "Cluster", ReflectionType: "LINEAGE", CallerRealmID: "realm-1",
	})
	assert.ErrorIs(t, err, busy)
}

func TestCommandBus_DuplicateRegistration(t *testing.T) {
	b := newBus(t, &mockOrchestrator{})
	err := b.Register(commands.RunAnalysisCommand{}, bus.CommandHandlerFunc(func(ctx context.Context, cmd bus.Command) (interface{}, error) {
		return nil, nil
	}))
	assert.Error(t, err)
}
