package valueobjects

import "math"

const (
	MinTemperature = -1.0
	MaxTemperature = 1.0
	MinDensity     = 0.0
	MaxDensity     = 1.0
)

// AnalysisFields is the structured field set extracted for a signal.
// Values are always within range; construct through NewAnalysisFields.
type AnalysisFields struct {
	temperature float64
	density     float64
	summary     string
	keywords    []string
}

// NewAnalysisFields clamps temperature and density into their declared ranges.
// Non-finite values clamp to zero. Empty and duplicate keywords are dropped.
func NewAnalysisFields(temperature, density float64, summary string, keywords []string) AnalysisFields {
	kw := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		kw = append(kw, k)
	}
	return AnalysisFields{
		temperature: ClampTemperature(temperature),
		density:     ClampDensity(density),
		summary:     summary,
		keywords:    kw,
	}
}

func (f AnalysisFields) Temperature() float64 { return f.temperature }
func (f AnalysisFields) Density() float64     { return f.density }
func (f AnalysisFields) Summary() string      { return f.summary }

func (f AnalysisFields) Keywords() []string {
	out := make([]string, len(f.keywords))
	copy(out, f.keywords)
	return out
}

// ClampTemperature bounds v to [-1, 1].
func ClampTemperature(v float64) float64 {
	return clamp(v, MinTemperature, MaxTemperature)
}

// ClampDensity bounds v to [0, 1].
func ClampDensity(v float64) float64 {
	return clamp(v, MinDensity, MaxDensity)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
