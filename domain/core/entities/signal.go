package entities

import (
	"slices"
	"strings"
	"time"

	"signals-backend/domain/core/valueobjects"
	pkgerrors "signals-backend/pkg/errors"
)

// Field names reported back to callers of runAnalysis.
const (
	FieldStatus      = "status"
	FieldTemperature = "signal_temperature"
	FieldDensity     = "signal_density"
	FieldSummary     = "summary"
	FieldKeywords    = "keywords"
	FieldAnalyzedAt  = "analyzed_at"
)

// Signal is a single captured observation. Its analysis fields are filled only by analysis.
type Signal struct {
	id          string
	realmID     string
	title       string
	content     string
	source      string
	status      valueobjects.SignalStatus
	temperature *float64
	density     *float64
	summary     string
	keywords    []string
	createdAt   time.Time
	updatedAt   time.Time
	importedAt  *time.Time
	analyzedAt  *time.Time
	version     int
}

// SignalSnapshot is the persisted form of a Signal.
type SignalSnapshot struct {
	ID          string
	RealmID     string
	Title       string
	Content     string
	Source      string
	Status      valueobjects.SignalStatus
	Temperature *float64
	Density     *float64
	Summary     string
	Keywords    []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ImportedAt  *time.Time
	AnalyzedAt  *time.Time
	Version     int
}

// NewSignal captures a new pending signal.
func NewSignal(realmID, title, content, source string) (*Signal, error) {
	if realmID == "" {
		return nil, pkgerrors.NewValidationError("realm id cannot be empty")
	}
	if strings.TrimSpace(content) == "" && strings.TrimSpace(title) == "" {
		return nil, pkgerrors.NewValidationError("signal needs a title or content")
	}
	now := time.Now().UTC()
	return &Signal{
		id:        valueobjects.NewID(),
		realmID:   realmID,
		title:     title,
		content:   content,
		source:    source,
		status:    valueobjects.SignalStatusPending,
		keywords:  []string{},
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructSignal rebuilds a signal from storage, rejecting out-of-range values.
func ReconstructSignal(s SignalSnapshot) (*Signal, error) {
	if s.ID == "" || s.RealmID == "" {
		return nil, pkgerrors.NewValidationError("signal id and realm id are required")
	}
	if !s.Status.IsValid() {
		return nil, pkgerrors.NewValidationError("invalid signal status " + string(s.Status))
	}
	if s.Temperature != nil && (*s.Temperature < valueobjects.MinTemperature || *s.Temperature > valueobjects.MaxTemperature) {
		return nil, pkgerrors.NewValidationError("signal_temperature out of range")
	}
	if s.Density != nil && (*s.Density < valueobjects.MinDensity || *s.Density > valueobjects.MaxDensity) {
		return nil, pkgerrors.NewValidationError("signal_density out of range")
	}
	return &Signal{
		id:          s.ID,
		realmID:     s.RealmID,
		title:       s.Title,
		content:     s.Content,
		source:      s.Source,
		status:      s.Status,
		temperature: copyFloat(s.Temperature),
		density:     copyFloat(s.Density),
		summary:     s.Summary,
		keywords:    slices.Clone(s.Keywords),
		createdAt:   s.CreatedAt,
		updatedAt:   s.UpdatedAt,
		importedAt:  copyTime(s.ImportedAt),
		analyzedAt:  copyTime(s.AnalyzedAt),
		version:     s.Version,
	}, nil
}

func (s *Signal) ID() string { return s.id }
func (s *Signal) RealmID() string { return s.realmID }
func (s *Signal) Title() string { return s.title }
func (s *Signal) Content() string { return s.content }
func (s *Signal) Source() string { return s.source }
func (s *Signal) Status() valueobjects.SignalStatus { return s.status }
func (s *Signal) Temperature() *float64 { return copyFloat(s.temperature) }
func (s *Signal) Density() *float64 { return copyFloat(s.density) }
func (s *Signal) Summary() string { return s.summary }
func (s *Signal) Keywords() []string { return slices.Clone(s.keywords) }
func (s *Signal) CreatedAt() time.Time { return s.createdAt }
func (s *Signal) UpdatedAt() time.Time { return s.updatedAt }
func (s *Signal) ImportedAt() *time.Time { return copyTime(s.importedAt) }
func (s *Signal) AnalyzedAt() *time.Time { return copyTime(s.analyzedAt) }
func (s *Signal) Version() int { return s.version }
func (s *Signal) IsAnalyzed() bool { return s.status == valueobjects.SignalStatusAnalyzed }

// ApplyAnalysis writes the full extracted field set and moves the signal to ANALYZED.
// It returns the names of the fields whose values changed.
func (s *Signal) ApplyAnalysis(fields valueobjects.AnalysisFields, at time.Time) []string {
	var changed []string

	temp, dens := fields.Temperature(), fields.Density()
	if s.temperature == nil || *s.temperature != temp {
		changed = append(changed, FieldTemperature)
	}
	if s.density == nil || *s.density != dens {
		changed = append(changed, FieldDensity)
	}
	if s.summary != fields.Summary() {
		changed = append(changed, FieldSummary)
	}
	if !slices.Equal(s.keywords, fields.Keywords()) {
		changed = append(changed, FieldKeywords)
	}
	if s.status != valueobjects.SignalStatusAnalyzed {
		changed = append(changed, FieldStatus)
	}
	changed = append(changed, FieldAnalyzedAt)

	ts := at.UTC()
	s.temperature = &temp
	s.density = &dens
	s.summary = fields.Summary()
	s.keywords = fields.Keywords()
	s.status = valueobjects.SignalStatusAnalyzed
	s.analyzedAt = &ts
	s.updatedAt = ts
	return changed
}

// MarkAnalysisFailed records an exhausted analysis. Only a PENDING signal transitions;
// an ANALYZED signal keeps its last good fields and status, and ANALYSIS_FAILED stays as is.
// It reports whether anything changed.
func (s *Signal) MarkAnalysisFailed(at time.Time) bool {
	if s.status != valueobjects.SignalStatusPending {
		return false
	}
	s.status = valueobjects.SignalStatusAnalysisFailed
	s.updatedAt = at.UTC()
	return true
}

// CommitVersion advances the version after a successful write.
func (s *Signal) CommitVersion() { s.version++ }

func (s *Signal) Snapshot() SignalSnapshot {
	return SignalSnapshot{
		ID:          s.id,
		RealmID:     s.realmID,
		Title:       s.title,
		Content:     s.content,
		Source:      s.source,
		Status:      s.status,
		Temperature: copyFloat(s.temperature),
		Density:     copyFloat(s.density),
		Summary:     s.summary,
		Keywords:    slices.Clone(s.keywords),
		CreatedAt:   s.createdAt,
		UpdatedAt:   s.updatedAt,
		ImportedAt:  copyTime(s.importedAt),
		AnalyzedAt:  copyTime(s.analyzedAt),
		Version:     s.version,
	}
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
