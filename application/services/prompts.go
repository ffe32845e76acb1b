package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"signals-backend/domain/core/entities"
	"signals-backend/domain/core/valueobjects"
)

const analysisSystemPrompt = `You analyze short personal observations ("signals"). ` +
	`Respond with a single JSON object and nothing else.`

var reflectionVoices = map[valueobjects.ReflectionType]string{
	valueobjects.ReflectionTypeMirror:    "Reflect the subject back plainly, naming what it shows without interpretation.",
	valueobjects.ReflectionTypeSymbolic:  "Read the subject symbolically: images, archetypes and what they may stand for.",
	valueobjects.ReflectionTypeNarrative: "Tell the subject as a short story with a beginning, a turn and an open ending.",
	valueobjects.ReflectionTypeLineage:   "Trace where the subject comes from and what earlier threads it continues.",
}

var synthesisVoices = map[valueobjects.SynthesisSubtype]string{
	valueobjects.SynthesisSubtypeSurface:   "Summarize what is on the surface: counts, dominant tone and recurring words.",
	valueobjects.SynthesisSubtypeStructure: "Describe how the material is organized: nesting, balance and gaps.",
	valueobjects.SynthesisSubtypePatterns:  "Identify patterns that repeat across members and where they break.",
	valueobjects.SynthesisSubtypeMirror:    "Mirror the collection back as a whole, plainly and without judgement.",
	valueobjects.SynthesisSubtypeMyth:      "Retell the collection as a myth whose figures are its recurring themes.",
	valueobjects.SynthesisSubtypeNarrative: "Tell the collection as one continuous narrative arc.",
}

// analysisResponse is the JSON shape requested from the provider for analysis.
type analysisResponse struct {
	Temperature *float64 `json:"signal_temperature"`
	Density     *float64 `json:"signal_density"`
	Summary     string   `json:"summary"`
	Keywords    []string `json:"keywords"`
}

func excerpt(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	for !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}

func writeRealmContext(b *strings.Builder, settings valueobjects.LLMSettings) {
	if settings.RealmHolderName != "" {
		fmt.Fprintf(b, "The realm belongs to %s.\n", settings.RealmHolderName)
	}
	if settings.RealmContext != "" {
		fmt.Fprintf(b, "Realm context:\n%s\n", strings.TrimSpace(settings.RealmContext))
	}
}

func buildAnalysisPrompt(signal *entities.Signal, settings valueobjects.LLMSettings, maxExcerpt int) string {
	var b strings.Builder
	writeRealmContext(&b, settings)
	fmt.Fprintf(&b, "\nSignal title: %s\n", signal.Title())
	if imported := signal.ImportedAt(); imported != nil {
		fmt.Fprintf(&b, "Imported on %s from an earlier record; it may describe older events.\n", imported.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Signal content:\n%s\n\n", excerpt(signal.Content(), maxExcerpt))
	b.WriteString(`Return JSON with exactly these keys:
{"signal_temperature": number between -1.0 (cold, withdrawn) and 1.0 (hot, charged),
 "signal_density": number between 0.0 (sparse) and 1.0 (dense with meaning),
 "summary": one sentence,
 "keywords": up to 8 lowercase keywords}`)
	return b.String()
}

// parseAnalysis decodes and validates the provider's analysis JSON. Both numeric fields are
// required; range is enforced later by clamping.
func parseAnalysis(text string) (valueobjects.AnalysisFields, error) {
	var resp analysisResponse
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &resp); err != nil {
		return valueobjects.AnalysisFields{}, fmt.Errorf("analysis response is not JSON: %w", err)
	}
	if resp.Temperature == nil || resp.Density == nil {
		return valueobjects.AnalysisFields{}, fmt.Errorf("analysis response is missing signal_temperature or signal_density")
	}
	return valueobjects.NewAnalysisFields(*resp.Temperature, *resp.Density, strings.TrimSpace(resp.Summary), resp.Keywords), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func buildReflectionPrompt(
	subject *Subject,
	material string,
	t valueobjects.ReflectionType,
	settings valueobjects.LLMSettings,
	previous []entities.GenerationRecord,
	maxHistory int,
) string {
	var b strings.Builder
	writeRealmContext(&b, settings)
	fmt.Fprintf(&b, "\n%s reflection on %s %q.\n", t, strings.ToLower(string(subject.Ref.Kind())), subject.Title())
	b.WriteString(reflectionVoices[t])
	b.WriteString("\n\nMaterial:\n")
	b.WriteString(material)

	var prior []string
	for i := len(previous) - 1; i >= 0 && len(prior) < maxHistory; i-- {
		if previous[i].Succeeded() {
			prior = append(prior, previous[i].Response)
		}
	}
	if len(prior) > 0 {
		b.WriteString("\n\nEarlier reflections, most recent first. Do not repeat them:\n")
		for _, p := range prior {
			fmt.Fprintf(&b, "- %s\n", excerpt(p, 600))
		}
	}
	return b.String()
}

func buildSynthesisPrompt(
	subject *Subject,
	t valueobjects.SynthesisType,
	subtype valueobjects.SynthesisSubtype,
	rollup entities.Rollup,
	material string,
	settings valueobjects.LLMSettings,
) string {
	var b strings.Builder
	writeRealmContext(&b, settings)
	fmt.Fprintf(&b, "\n%s/%s synthesis of %s %q.\n", t, subtype, strings.ToLower(string(subject.Ref.Kind())), subject.Title())
	b.WriteString(synthesisVoices[subtype])

	fmt.Fprintf(&b, "\n\nRollup: %d signals (%d analyzed), %d clusters, subtree depth %d.",
		rollup.SignalCount, rollup.AnalyzedCount, rollup.ClusterCount, rollup.MaxSubtreeDepth)
	if rollup.MeanTemperature != nil {
		fmt.Fprintf(&b, " Mean temperature %.2f.", *rollup.MeanTemperature)
	}
	if rollup.MeanDensity != nil {
		fmt.Fprintf(&b, " Mean density %.2f.", *rollup.MeanDensity)
	}
	if len(rollup.TopKeywords) > 0 {
		fmt.Fprintf(&b, " Top keywords: %s.", strings.Join(rollup.TopKeywords, ", "))
	}
	if material != "" {
		b.WriteString("\n\nMaterial:\n")
		b.WriteString(material)
	}
	return b.String()
}
