package events

import "time"

// DomainEvent is the base interface for all domain events
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetRealmID() string
	GetTimestamp() time.Time
	GetVersion() int
}

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	RealmID     string    `json:"realm_id"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string { return e.AggregateID }
func (e BaseEvent) GetEventType() string { return e.EventType }
func (e BaseEvent) GetRealmID() string { return e.RealmID }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int { return e.Version }

func newBase(aggregateID, eventType, realmID string, at time.Time) BaseEvent {
	return BaseEvent{
		AggregateID: aggregateID,
		EventType:   eventType,
		RealmID:     realmID,
		Timestamp:   at,
		Version:     1,
	}
}

const (
	TypeSignalAnalyzed       = "signal.analyzed"
	TypeSignalAnalysisFailed = "signal.analysis_failed"
	TypeReflectionGenerated  = "reflection.generated"
	TypeReflectionFailed     = "reflection.failed"
	TypeSynthesisCreated     = "synthesis.created"
	TypeRealmSettingsUpdated = "realm.llm_settings_updated"
	TypeClusterAttached      = "cluster.attached"
	TypeClusterDetached      = "cluster.detached"
)

// SignalAnalyzed is raised when analysis fields were committed for a signal.
type SignalAnalyzed struct {
	BaseEvent
	AccountID     string   `json:"account_id"`
	ChangedFields []string `json:"changed_fields"`
}

func NewSignalAnalyzed(signalID, realmID, accountID string, changed []string, at time.Time) SignalAnalyzed {
	return SignalAnalyzed{
		BaseEvent:     newBase(signalID, TypeSignalAnalyzed, realmID, at),
		AccountID:     accountID,
		ChangedFields: changed,
	}
}

// SignalAnalysisFailed is raised when analysis exhausted its attempts.
type SignalAnalysisFailed struct {
	BaseEvent
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

func NewSignalAnalysisFailed(signalID, realmID, accountID, reason string, at time.Time) SignalAnalysisFailed {
	return SignalAnalysisFailed{
		BaseEvent: newBase(signalID, TypeSignalAnalysisFailed, realmID, at),
		AccountID: accountID,
		Reason:    reason,
	}
}

// ReflectionGenerated is raised when a reflection's content was replaced.
type ReflectionGenerated struct {
	BaseEvent
	SubjectKey     string `json:"subject"`
	ReflectionType string `json:"reflection_type"`
	HistoryLength  int    `json:"history_length"`
}

func NewReflectionGenerated(reflectionID, realmID, subjectKey, reflectionType string, historyLen int, at time.Time) ReflectionGenerated {
	return ReflectionGenerated{
		BaseEvent:      newBase(reflectionID, TypeReflectionGenerated, realmID, at),
		SubjectKey:     subjectKey,
		ReflectionType: reflectionType,
		HistoryLength:  historyLen,
	}
}

// ReflectionFailed is raised when a generation attempt was recorded as failed.
type ReflectionFailed struct {
	BaseEvent
	SubjectKey     string `json:"subject"`
	ReflectionType string `json:"reflection_type"`
	Reason         string `json:"reason"`
}

func NewReflectionFailed(reflectionID, realmID, subjectKey, reflectionType, reason string, at time.Time) ReflectionFailed {
	return ReflectionFailed{
		BaseEvent:      newBase(reflectionID, TypeReflectionFailed, realmID, at),
		SubjectKey:     subjectKey,
		ReflectionType: reflectionType,
		Reason:         reason,
	}
}

// SynthesisCreated is raised for every new synthesis record.
type SynthesisCreated struct {
	BaseEvent
	SubjectKey string `json:"subject"`
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	Depth      int    `json:"depth"`
}

func NewSynthesisCreated(synthesisID, realmID, subjectKey, typ, subtype string, depth int, at time.Time) SynthesisCreated {
	return SynthesisCreated{
		BaseEvent:  newBase(synthesisID, TypeSynthesisCreated, realmID, at),
		SubjectKey: subjectKey,
		Type:       typ,
		Subtype:    subtype,
		Depth:      depth,
	}
}

// RealmSettingsUpdated is raised after a whole-blob settings replacement.
type RealmSettingsUpdated struct {
	BaseEvent
	AccountCount     int    `json:"account_count"`
	DefaultAccountID string `json:"default_account_id,omitempty"`
	AutoAnalyze      bool   `json:"auto_analyze"`
}

func NewRealmSettingsUpdated(realmID string, accountCount int, defaultID string, autoAnalyze bool, at time.Time) RealmSettingsUpdated {
	return RealmSettingsUpdated{
		BaseEvent:        newBase(realmID, TypeRealmSettingsUpdated, realmID, at),
		AccountCount:     accountCount,
		DefaultAccountID: defaultID,
		AutoAnalyze:      autoAnalyze,
	}
}

// ClusterAttached is raised when a cluster became a member of another cluster.
type ClusterAttached struct {
	BaseEvent
	ParentID string `json:"parent_id"`
	Depth    int    `json:"depth"`
}

func NewClusterAttached(clusterID, realmID, parentID string, depth int, at time.Time) ClusterAttached {
	return ClusterAttached{
		BaseEvent: newBase(clusterID, TypeClusterAttached, realmID, at),
		ParentID:  parentID,
		Depth:     depth,
	}
}

// ClusterDetached is raised when a cluster was removed from its parent.
type ClusterDetached struct {
	BaseEvent
	ParentID string `json:"parent_id"`
}

func NewClusterDetached(clusterID, realmID, parentID string, at time.Time) ClusterDetached {
	return ClusterDetached{
		BaseEvent: newBase(clusterID, TypeClusterDetached, realmID, at),
		ParentID:  parentID,
	}
}
