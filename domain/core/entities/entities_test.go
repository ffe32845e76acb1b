package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

func TestRealm_ReplaceSettings(t *testing.T) {
	realm, err := NewRealm("Atlas")
	require.NoError(t, err)

	good := valueobjects.LLMSettings{
		Accounts:         []valueobjects.LLMAccount{{AccountID: "a1", Provider: "openai", Model: "gpt-4o-mini", CredentialRef: "k"}},
		DefaultAccountID: "a1",
		AutoAnalyze:      true,
	}
	require.NoError(t, realm.ReplaceSettings(good))
	assert.Equal(t, "a1", realm.Settings().DefaultAccountID)

	bad := good
	bad.DefaultAccountID = "missing"
	err = realm.ReplaceSettings(bad)
	assert.True(t, pkgerrors.IsValidation(err))
	assert.Equal(t, "a1", realm.Settings().DefaultAccountID, "rejected settings must not be applied")
}

func TestReconstructRealm_RejectsCorruptSettings(t *testing.T) {
	_, err := ReconstructRealm(RealmSnapshot{
		ID:       "r1",
		Settings: valueobjects.LLMSettings{DefaultAccountID: "ghost"},
	})
	assert.Error(t, err)
}

func TestSignal_ApplyAnalysis(t *testing.T) {
	s, err := NewSignal("r1", "t", "felt a shift today", "capture")
	require.NoError(t, err)
	assert.Equal(t, valueobjects.SignalStatusPending, s.Status())
	assert.Nil(t, s.Temperature())

	fields := valueobjects.NewAnalysisFields(0.42, 0.10, "shift", []string{"change"})
	changed := s.ApplyAnalysis(fields, time.Now())

	assert.ElementsMatch(t, []string{FieldTemperature, FieldDensity, FieldSummary, FieldKeywords, FieldStatus, FieldAnalyzedAt}, changed)
	assert.Equal(t, valueobjects.SignalStatusAnalyzed, s.Status())
	assert.Equal(t, 0.42, *s.Temperature())
	assert.Equal(t, 0.10, *s.Density())

	again := s.ApplyAnalysis(fields, time.Now())
	assert.Equal(t, []string{FieldAnalyzedAt}, again)
}

func TestSignal_MarkAnalysisFailed(t *testing.T) {
	s, err := NewSignal("r1", "t", "c", "")
	require.NoError(t, err)

	assert.True(t, s.MarkAnalysisFailed(time.Now()))
	assert.Equal(t, valueobjects.SignalStatusAnalysisFailed, s.Status())
	assert.False(t, s.MarkAnalysisFailed(time.Now()))

	s.ApplyAnalysis(valueobjects.NewAnalysisFields(0.1, 0.2, "", nil), time.Now())
	before := s.Snapshot()
	assert.False(t, s.MarkAnalysisFailed(time.Now()))
	assert.Equal(t, before, s.Snapshot())
}

func TestReconstructSignal_RejectsOutOfRange(t *testing.T) {
	hot := 1.5
	_, err := ReconstructSignal(SignalSnapshot{ID: "s", RealmID: "r", Status: valueobjects.SignalStatusAnalyzed, Temperature: &hot})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = ReconstructSignal(SignalSnapshot{ID: "s", RealmID: "r", Status: "RUNNING"})
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestSignal_SnapshotIsDeepCopy(t *testing.T) {
	s, err := NewSignal("r1", "t", "c", "")
	require.NoError(t, err)
	s.ApplyAnalysis(valueobjects.NewAnalysisFields(0.3, 0.3, "", []string{"k"}), time.Now())

	snap := s.Snapshot()
	*snap.Temperature = -1
	snap.Keywords[0] = "mutated"
	assert.Equal(t, 0.3, *s.Temperature())
	assert.Equal(t, []string{"k"}, s.Keywords())
}

func TestReflection_RecordGeneration(t *testing.T) {
	r, err := NewReflection("r1", valueobjects.SignalSubject("s1"), valueobjects.ReflectionTypeMirror)
	require.NoError(t, err)

	r.RecordGeneration(GenerationRecord{AccountID: "a1", Prompt: "p", Response: "first", Tokens: 10})
	assert.Equal(t, "first", r.Content())
	assert.Equal(t, 1, r.HistoryLen())

	r.RecordGeneration(GenerationRecord{AccountID: "a1", Prompt: "p", Error: "timeout", Response: "partial"})
	assert.Equal(t, "first", r.Content(), "failed generation keeps last good content")
	assert.Equal(t, 2, r.HistoryLen())

	last, ok := r.LastGeneration()
	require.True(t, ok)
	assert.False(t, last.Succeeded())
	assert.Empty(t, last.Response)

	r.RecordGeneration(GenerationRecord{AccountID: "a2", Prompt: "p", Response: "second"})
	assert.Equal(t, "second", r.Content())
	assert.Equal(t, 3, r.HistoryLen())
}

func TestReflection_Annotations(t *testing.T) {
	r, err := NewReflection("r1", valueobjects.ClusterSubject("c1"), valueobjects.ReflectionTypeLineage)
	require.NoError(t, err)

	_, err = r.AddAnnotation("u1", "   ", 100)
	assert.True(t, pkgerrors.IsValidation(err))

	a, err := r.AddAnnotation("u1", "resonates", 100)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Len(t, r.Annotations(), 1)
	assert.Equal(t, 0, r.HistoryLen())
	assert.Empty(t, r.Content())
}

func TestNewReflection_Validation(t *testing.T) {
	_, err := NewReflection("r1", valueobjects.SubjectRef{}, valueobjects.ReflectionTypeMirror)
	assert.Error(t, err)
	_, err = NewReflection("r1", valueobjects.SignalSubject("s"), "MYTH")
	assert.Error(t, err)
}

func TestNewSynthesis_Validation(t *testing.T) {
	subject := valueobjects.ClusterSubject("c1")

	_, err := NewSynthesis("r1", subject, valueobjects.SynthesisTypeMetadata, valueobjects.SynthesisSubtypeMirror, 0, "", Rollup{}, GenerationRecord{})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = NewSynthesis("r1", subject, valueobjects.SynthesisTypeReflection, valueobjects.SynthesisSubtypeStructure, 0, "", Rollup{}, GenerationRecord{})
	assert.True(t, pkgerrors.IsValidation(err))

	_, err = NewSynthesis("r1", subject, valueobjects.SynthesisTypeMetadata, valueobjects.SynthesisSubtypeSurface, 11, "", Rollup{}, GenerationRecord{})
	assert.True(t, pkgerrors.IsValidation(err))

	syn, err := NewSynthesis("r1", subject, valueobjects.SynthesisTypeReflection, valueobjects.SynthesisSubtypeMyth, 2, "text",
		Rollup{TopKeywords: []string{"k"}}, GenerationRecord{AccountID: "a1"})
	require.NoError(t, err)
	rollup := syn.Rollup()
	rollup.TopKeywords[0] = "changed"
	assert.Equal(t, []string{"k"}, syn.Rollup().TopKeywords)
}

func TestCluster_Reparent(t *testing.T) {
	c, err := NewCluster("r1", "Trip", valueobjects.ClusterTypeJourney)
	require.NoError(t, err)
	assert.Equal(t, valueobjects.ClusterStateDraft, c.State())

	assert.Error(t, c.Reparent("p", valueobjects.MaxClusterDepth+1))
	assert.Error(t, c.Reparent(c.ID(), 1))
	require.NoError(t, c.Reparent("p", 3))
	assert.Equal(t, 3, c.Depth())

	c.AddChild("x")
	c.AddChild("x")
	assert.Equal(t, []string{"x"}, c.ChildIDs())
	c.RemoveChild("x")
	assert.Empty(t, c.ChildIDs())
}

func TestNewCluster_InvalidType(t *testing.T) {
	_, err := NewCluster("r1", "x", "GALAXY")
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestReflection_UncommittedHistory(t *testing.T) {
	r, err := NewReflection("r1", valueobjects.SignalSubject("s1"), valueobjects.ReflectionTypeMirror)
	require.NoError(t, err)

	r.RecordGeneration(GenerationRecord{Response: "one"})
	first, pending := r.UncommittedHistory()
	assert.Equal(t, 0, first)
	assert.Len(t, pending, 1)

	r.CommitVersion()
	_, pending = r.UncommittedHistory()
	assert.Empty(t, pending)

	loaded, err := ReconstructReflection(r.Snapshot())
	require.NoError(t, err)
	loaded.RecordGeneration(GenerationRecord{Error: "timeout"})
	first, pending = loaded.UncommittedHistory()
	assert.Equal(t, 1, first)
	require.Len(t, pending, 1)
	assert.Equal(t, "timeout", pending[0].Error)
}
