package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync/atomic"
	"unicode"

	"signals-backend/application/ports"
)

const ProviderMock = "mock"

// MockProvider returns deterministic completions for local development. JSON requests get
// an analysis payload; text requests get a short echo of the prompt.
type MockProvider struct {
	available atomic.Bool
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	m := &MockProvider{}
	m.available.Store(true)
	return m
}

// SetAvailable controls whether calls succeed. An unavailable mock fails with a retryable error.
func (m *MockProvider) SetAvailable(available bool) {
	m.available.Store(available)
}

func (m *MockProvider) Name() string { return ProviderMock }

func (m *MockProvider) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	if err := ctx.Err(); err != nil {
		return ports.Completion{}, err
	}
	if !m.available.Load() {
		return ports.Completion{}, providerError(ProviderMock, 503, fmt.Errorf("mock provider is not available"))
	}

	if req.JSON {
		text, err := m.mockAnalysis(req.Prompt)
		if err != nil {
			return ports.Completion{}, providerError(ProviderMock, 0, err)
		}
		return ports.Completion{Text: text, Tokens: len(strings.Fields(req.Prompt))}, nil
	}

	words := strings.Fields(req.Prompt)
	if len(words) > 40 {
		words = words[len(words)-40:]
	}
	text := "Reflecting on: " + strings.Join(words, " ")
	return ports.Completion{Text: text, Tokens: len(words)}, nil
}

func (m *MockProvider) mockAnalysis(prompt string) (string, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(prompt))
	sum := h.Sum64()

	payload := map[string]interface{}{
		"signal_temperature": float64(int64(sum%201)-100) / 100.0,
		"signal_density":     float64((sum>>8)%101) / 100.0,
		"summary":            summarize(prompt, 120),
		"keywords":           topWords(prompt, 5),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func summarize(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func topWords(s string, n int) []string {
	counts := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if len(w) > 4 {
			counts[w]++
		}
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}
