package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"signals-backend/application/ports"
	"signals-backend/infrastructure/config"
)

const ProviderGemini = "gemini"

// GeminiProvider serves accounts whose provider is "gemini".
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a Gemini API client for one credential.
func NewGeminiProvider(ctx context.Context, cred config.Credential) (*GeminiProvider, error) {
	if cred.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cred.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cred.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cred.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return ProviderGemini }

func (p *GeminiProvider) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	temperature := req.Temperature
	gc := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, gc)
	if err != nil {
		return ports.Completion{}, providerError(ProviderGemini, geminiStatus(err), err)
	}
	text := resp.Text()
	if text == "" {
		return ports.Completion{}, providerError(ProviderGemini, 0, fmt.Errorf("gemini returned no content"))
	}
	var tokens int
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return ports.Completion{Text: text, Tokens: tokens}, nil
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return apiErrPtr.Code
	}
	return 0
}
