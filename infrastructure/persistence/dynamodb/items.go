package dynamodb

import (
	"fmt"
	"time"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
)

const (
	entityRealm      = "REALM"
	entitySignal     = "SIGNAL"
	entityCluster    = "CLUSTER"
	entityReflection = "REFLECTION"
	entityHistory    = "REFLECTION_HISTORY"
	entitySynthesis  = "SYNTHESIS"
	entityPointer    = "POINTER"
)

func realmKey(id string) (string, string)   { return "REALM#" + id, "SETTINGS" }
func signalKey(id string) (string, string)  { return "SIGNAL#" + id, "SIGNAL" }
func clusterKey(id string) (string, string) { return "CLUSTER#" + id, "CLUSTER" }
func subjectPK(subject valueobjects.SubjectRef) string {
	return "SUBJECT#" + subject.Key()
}
func reflectionKey(subject valueobjects.SubjectRef, t valueobjects.ReflectionType) (string, string) {
	return subjectPK(subject), "REFLECTION#" + string(t)
}

// historyKey sorts a reflection's entries after its head item and in append order.
func historyKey(subject valueobjects.SubjectRef, t valueobjects.ReflectionType, seq int) (string, string) {
	return subjectPK(subject), fmt.Sprintf("%s#H#%010d", historyPrefix(t), seq)
}
func historyPrefix(t valueobjects.ReflectionType) string { return "REFLECTION#" + string(t) }
func synthesisKey(subject valueobjects.SubjectRef, createdAt time.Time, id string) (string, string) {
	return subjectPK(subject), fmt.Sprintf("SYNTHESIS#%020d#%s", createdAt.UnixNano(), id)
}
func pointerKey(entity, id string) (string, string) { return entity + "#" + id, entityPointer }

type realmItem struct {
	PK         string                   `dynamodbav:"PK"`
	SK         string                   `dynamodbav:"SK"`
	EntityType string                   `dynamodbav:"EntityType"`
	RealmID    string                   `dynamodbav:"RealmID"`
	Name       string                   `dynamodbav:"Name"`
	Settings   valueobjects.LLMSettings `dynamodbav:"Settings"`
	CreatedAt  time.Time                `dynamodbav:"CreatedAt"`
	UpdatedAt  time.Time                `dynamodbav:"UpdatedAt"`
	Version    int                      `dynamodbav:"Version"`
}

func newRealmItem(s entities.RealmSnapshot) realmItem {
	pk, sk := realmKey(s.ID)
	return realmItem{
		PK: pk, SK: sk, EntityType: entityRealm,
		RealmID:   s.ID,
		Name:      s.Name,
		Settings:  s.Settings,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		Version:   s.Version,
	}
}

func (i realmItem) snapshot() entities.RealmSnapshot {
	return entities.RealmSnapshot{
		ID:        i.RealmID,
		Name:      i.Name,
		Settings:  i.Settings,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
		Version:   i.Version,
	}
}

type signalItem struct {
	PK          string     `dynamodbav:"PK"`
	SK          string     `dynamodbav:"SK"`
	EntityType  string     `dynamodbav:"EntityType"`
	SignalID    string     `dynamodbav:"SignalID"`
	RealmID     string     `dynamodbav:"RealmID"`
	Title       string     `dynamodbav:"Title"`
	Content     string     `dynamodbav:"Content"`
	Source      string     `dynamodbav:"Source,omitempty"`
	Status      string     `dynamodbav:"Status"`
	Temperature *float64   `dynamodbav:"SignalTemperature"`
	Density     *float64   `dynamodbav:"SignalDensity"`
	Summary     string     `dynamodbav:"Summary,omitempty"`
	Keywords    []string   `dynamodbav:"Keywords"`
	CreatedAt   time.Time  `dynamodbav:"CreatedAt"`
	UpdatedAt   time.Time  `dynamodbav:"UpdatedAt"`
	ImportedAt  *time.Time `dynamodbav:"ImportedAt"`
	AnalyzedAt  *time.Time `dynamodbav:"AnalyzedAt"`
	Version     int        `dynamodbav:"Version"`
}

func newSignalItem(s entities.SignalSnapshot) signalItem {
	pk, sk := signalKey(s.ID)
	return signalItem{
		PK: pk, SK: sk, EntityType: entitySignal,
		SignalID:    s.ID,
		RealmID:     s.RealmID,
		Title:       s.Title,
		Content:     s.Content,
		Source:      s.Source,
		Status:      string(s.Status),
		Temperature: s.Temperature,
		Density:     s.Density,
		Summary:     s.Summary,
		Keywords:    s.Keywords,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		ImportedAt:  s.ImportedAt,
		AnalyzedAt:  s.AnalyzedAt,
		Version:     s.Version,
	}
}

func (i signalItem) snapshot() entities.SignalSnapshot {
	return entities.SignalSnapshot{
		ID:          i.SignalID,
		RealmID:     i.RealmID,
		Title:       i.Title,
		Content:     i.Content,
		Source:      i.Source,
		Status:      valueobjects.SignalStatus(i.Status),
		Temperature: i.Temperature,
		Density:     i.Density,
		Summary:     i.Summary,
		Keywords:    i.Keywords,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
		ImportedAt:  i.ImportedAt,
		AnalyzedAt:  i.AnalyzedAt,
		Version:     i.Version,
	}
}

type clusterItem struct {
	PK          string    `dynamodbav:"PK"`
	SK          string    `dynamodbav:"SK"`
	EntityType  string    `dynamodbav:"EntityType"`
	ClusterID   string    `dynamodbav:"ClusterID"`
	RealmID     string    `dynamodbav:"RealmID"`
	Title       string    `dynamodbav:"Title"`
	Description string    `dynamodbav:"Description,omitempty"`
	Type        string    `dynamodbav:"ClusterType"`
	State       string    `dynamodbav:"State"`
	Depth       int       `dynamodbav:"Depth"`
	ParentID    string    `dynamodbav:"ParentID,omitempty"`
	SignalIDs   []string  `dynamodbav:"SignalIDs"`
	ChildIDs    []string  `dynamodbav:"ChildIDs"`
	CreatedAt   time.Time `dynamodbav:"CreatedAt"`
	UpdatedAt   time.Time `dynamodbav:"UpdatedAt"`
	Version     int       `dynamodbav:"Version"`
}

func newClusterItem(s entities.ClusterSnapshot) clusterItem {
	pk, sk := clusterKey(s.ID)
	return clusterItem{
		PK: pk, SK: sk, EntityType: entityCluster,
		ClusterID:   s.ID,
		RealmID:     s.RealmID,
		Title:       s.Title,
		Description: s.Description,
		Type:        string(s.Type),
		State:       string(s.State),
		Depth:       s.Depth,
		ParentID:    s.ParentID,
		SignalIDs:   s.SignalIDs,
		ChildIDs:    s.ChildIDs,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		Version:     s.Version,
	}
}

func (i clusterItem) snapshot() entities.ClusterSnapshot {
	return entities.ClusterSnapshot{
		ID:          i.ClusterID,
		RealmID:     i.RealmID,
		Title:       i.Title,
		Description: i.Description,
		Type:        valueobjects.ClusterType(i.Type),
		State:       valueobjects.ClusterState(i.State),
		Depth:       i.Depth,
		ParentID:    i.ParentID,
		SignalIDs:   i.SignalIDs,
		ChildIDs:    i.ChildIDs,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
		Version:     i.Version,
	}
}

type reflectionItem struct {
	PK           string                      `dynamodbav:"PK"`
	SK           string                      `dynamodbav:"SK"`
	EntityType   string                      `dynamodbav:"EntityType"`
	ReflectionID string                      `dynamodbav:"ReflectionID"`
	RealmID      string                      `dynamodbav:"RealmID"`
	SubjectKind  string                      `dynamodbav:"SubjectKind"`
	SubjectID    string                      `dynamodbav:"SubjectID"`
	Type         string                      `dynamodbav:"ReflectionType"`
	Content      string                      `dynamodbav:"Content"`
	HistoryLen   int                         `dynamodbav:"HistoryLen"`
	Annotations  []entities.Annotation       `dynamodbav:"Annotations"`
	CreatedAt    time.Time                   `dynamodbav:"CreatedAt"`
	UpdatedAt    time.Time                   `dynamodbav:"UpdatedAt"`
	Version      int                         `dynamodbav:"Version"`
}

// historyItem is one generation record, kept apart from the head item so the
// head stays well under the item size limit however long the history grows.
type historyItem struct {
	PK           string                    `dynamodbav:"PK"`
	SK           string                    `dynamodbav:"SK"`
	EntityType   string                    `dynamodbav:"EntityType"`
	ReflectionID string                    `dynamodbav:"ReflectionID"`
	Type         string                    `dynamodbav:"ReflectionType"`
	Seq          int                       `dynamodbav:"Seq"`
	Record       entities.GenerationRecord `dynamodbav:"Record"`
}

func newHistoryItem(s entities.ReflectionSnapshot, seq int, rec entities.GenerationRecord) historyItem {
	pk, sk := historyKey(s.Subject, s.Type, seq)
	return historyItem{
		PK: pk, SK: sk, EntityType: entityHistory,
		ReflectionID: s.ID,
		Type:         string(s.Type),
		Seq:          seq,
		Record:       rec,
	}
}

func newReflectionItem(s entities.ReflectionSnapshot) reflectionItem {
	pk, sk := reflectionKey(s.Subject, s.Type)
	return reflectionItem{
		PK: pk, SK: sk, EntityType: entityReflection,
		ReflectionID: s.ID,
		RealmID:      s.RealmID,
		SubjectKind:  string(s.Subject.Kind()),
		SubjectID:    s.Subject.ID(),
		Type:         string(s.Type),
		Content:      s.Content,
		HistoryLen:   len(s.History),
		Annotations:  s.Annotations,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		Version:      s.Version,
	}
}

func (i reflectionItem) snapshot(history []historyItem) (entities.ReflectionSnapshot, error) {
	subject, err := valueobjects.NewSubjectRef(i.SubjectID, i.SubjectKind)
	if err != nil {
		return entities.ReflectionSnapshot{}, err
	}
	if len(history) != i.HistoryLen {
		return entities.ReflectionSnapshot{}, fmt.Errorf("reflection %s has %d history entries, head records %d",
			i.ReflectionID, len(history), i.HistoryLen)
	}
	records := make([]entities.GenerationRecord, len(history))
	for n, h := range history {
		if h.Seq != n {
			return entities.ReflectionSnapshot{}, fmt.Errorf("reflection %s history entry %d out of sequence", i.ReflectionID, h.Seq)
		}
		records[n] = h.Record
	}
	return entities.ReflectionSnapshot{
		ID:          i.ReflectionID,
		RealmID:     i.RealmID,
		Subject:     subject,
		Type:        valueobjects.ReflectionType(i.Type),
		Content:     i.Content,
		History:     records,
		Annotations: i.Annotations,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
		Version:     i.Version,
	}, nil
}

type synthesisItem struct {
	PK          string                    `dynamodbav:"PK"`
	SK          string                    `dynamodbav:"SK"`
	EntityType  string                    `dynamodbav:"EntityType"`
	SynthesisID string                    `dynamodbav:"SynthesisID"`
	RealmID     string                    `dynamodbav:"RealmID"`
	SubjectKind string                    `dynamodbav:"SubjectKind"`
	SubjectID   string                    `dynamodbav:"SubjectID"`
	Type        string                    `dynamodbav:"SynthesisType"`
	Subtype     string                    `dynamodbav:"SynthesisSubtype"`
	Depth       int                       `dynamodbav:"Depth"`
	Content     string                    `dynamodbav:"Content"`
	Rollup      entities.Rollup           `dynamodbav:"Rollup"`
	Generation  entities.GenerationRecord `dynamodbav:"Generation"`
	CreatedAt   time.Time                 `dynamodbav:"CreatedAt"`
}

func newSynthesisItem(s entities.SynthesisSnapshot) synthesisItem {
	pk, sk := synthesisKey(s.Subject, s.CreatedAt, s.ID)
	return synthesisItem{
		PK: pk, SK: sk, EntityType: entitySynthesis,
		SynthesisID: s.ID,
		RealmID:     s.RealmID,
		SubjectKind: string(s.Subject.Kind()),
		SubjectID:   s.Subject.ID(),
		Type:        string(s.Type),
		Subtype:     string(s.Subtype),
		Depth:       s.Depth,
		Content:     s.Content,
		Rollup:      s.Rollup,
		Generation:  s.Generation,
		CreatedAt:   s.CreatedAt,
	}
}

func (i synthesisItem) snapshot() (entities.SynthesisSnapshot, error) {
	subject, err := valueobjects.NewSubjectRef(i.SubjectID, i.SubjectKind)
	if err != nil {
		return entities.SynthesisSnapshot{}, err
	}
	return entities.SynthesisSnapshot{
		ID:         i.SynthesisID,
		RealmID:    i.RealmID,
		Subject:    subject,
		Type:       valueobjects.SynthesisType(i.Type),
		Subtype:    valueobjects.SynthesisSubtype(i.Subtype),
		Depth:      i.Depth,
		Content:    i.Content,
		Rollup:     i.Rollup,
		Generation: i.Generation,
		CreatedAt:  i.CreatedAt,
	}, nil
}

// pointerItem maps an entity id to the item that holds it.
type pointerItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	TargetPK   string `dynamodbav:"TargetPK"`
	TargetSK   string `dynamodbav:"TargetSK"`
}
