package services

import (
	"context"
	"fmt"
	"strings"

	"signals-backend/application/ports"
	"signals-backend/domain/config"
	"signals-backend/domain/core/entities"
)

const memberExcerpt = 300

// materialLoader renders a subject's own content for prompts.
type materialLoader struct {
	signals  ports.SignalRepository
	clusters ports.ClusterRepository
	cfg      *config.DomainConfig
}

func (m *materialLoader) subjectMaterial(ctx context.Context, subject *Subject) (string, error) {
	if subject.Signal != nil {
		return signalMaterial(subject.Signal, m.cfg.MaxSignalExcerpt), nil
	}

	c := subject.Cluster
	var b strings.Builder
	fmt.Fprintf(&b, "Cluster %q (%s, %s, depth %d)\n", c.Title(), c.Type(), c.State(), c.Depth())
	if c.Description() != "" {
		fmt.Fprintf(&b, "%s\n", c.Description())
	}

	ids := c.SignalIDs()
	if len(ids) > m.cfg.MaxSynthesisSignals {
		ids = ids[:m.cfg.MaxSynthesisSignals]
	}
	members, err := m.signals.GetByIDs(ctx, ids)
	if err != nil {
		return "", err
	}
	for _, s := range members {
		if s.RealmID() != c.RealmID() {
			continue
		}
		fmt.Fprintf(&b, "\n- %s", signalMaterial(s, memberExcerpt))
	}

	for _, childID := range c.ChildIDs() {
		child, err := m.clusters.GetByID(ctx, childID)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n- nested cluster %q (%s)", child.Title(), child.Type())
	}
	return b.String(), nil
}

func signalMaterial(s *entities.Signal, max int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", s.Title(), excerpt(s.Content(), max))
	if s.IsAnalyzed() && s.Summary() != "" {
		fmt.Fprintf(&b, " (summary: %s)", s.Summary())
	}
	return b.String()
}
