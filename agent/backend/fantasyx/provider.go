package fantasyx

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/azure"
	"charm.land/fantasy/providers/bedrock"
	"charm.land/fantasy/providers/google"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openaicompat"
	"charm.land/fantasy/providers/openrouter"
	openaisdk "github.com/openai/openai-go/v2/option"
)

const googleVertexType = "google-vertex"

// BuildProvider creates the fantasy provider described by cfg.
func BuildProvider(cfg ProviderConfig) (fantasy.Provider, error) {
	headers := maps.Clone(cfg.ExtraHeaders)
	if headers == nil {
		headers = make(map[string]string)
	}
	apiKey := resolve(cfg.APIKey)
	baseURL := resolve(cfg.BaseURL)

	switch cfg.Type {
	case openai.Name:
		return buildOpenaiProvider(baseURL, apiKey, headers)
	case anthropic.Name:
		return buildAnthropicProvider(baseURL, apiKey, headers)
	case openrouter.Name:
		return buildOpenrouterProvider(apiKey, headers)
	case openaicompat.Name:
		return buildOpenaiCompatProvider(baseURL, apiKey, headers, cfg.ExtraBody)
	case google.Name:
		return buildGoogleProvider(baseURL, apiKey, headers)
	case googleVertexType:
		return buildGoogleVertexProvider(headers, cfg.ExtraParams)
	case azure.Name:
		return buildAzureProvider(baseURL, apiKey, headers, cfg.ExtraParams)
	case bedrock.Name:
		return buildBedrockProvider(headers)
	default:
		return nil, fmt.Errorf("provider type not supported: %q", cfg.Type)
	}
}

func buildAnthropicProvider(baseURL, apiKey string, headers map[string]string) (fantasy.Provider, error) {
	var opts []anthropic.Option
	if strings.HasPrefix(apiKey, "Bearer ") {
		headers["Authorization"] = apiKey
	} else if apiKey != "" {
		opts = append(opts, anthropic.WithAPIKey(apiKey))
	}
	if len(headers) > 0 {
		opts = append(opts, anthropic.WithHeaders(headers))
	}
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return anthropic.New(opts...)
}

func buildOpenaiProvider(baseURL, apiKey string, headers map[string]string) (fantasy.Provider, error) {
	opts := []openai.Option{
		openai.WithAPIKey(apiKey),
		openai.WithUseResponsesAPI(),
	}
	if len(headers) > 0 {
		opts = append(opts, openai.WithHeaders(headers))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return openai.New(opts...)
}

func buildOpenrouterProvider(apiKey string, headers map[string]string) (fantasy.Provider, error) {
	opts := []openrouter.Option{
		openrouter.WithAPIKey(apiKey),
	}
	if len(headers) > 0 {
		opts = append(opts, openrouter.WithHeaders(headers))
	}
	return openrouter.New(opts...)
}

func buildOpenaiCompatProvider(baseURL, apiKey string, headers map[string]string, extraBody map[string]any) (fantasy.Provider, error) {
	opts := []openaicompat.Option{
		openaicompat.WithBaseURL(baseURL),
		openaicompat.WithAPIKey(apiKey),
	}
	if len(headers) > 0 {
		opts = append(opts, openaicompat.WithHeaders(headers))
	}
	for extraKey, extraValue := range extraBody {
		opts = append(opts, openaicompat.WithSDKOptions(openaisdk.WithJSONSet(extraKey, extraValue)))
	}
	return openaicompat.New(opts...)
}

func buildGoogleProvider(baseURL, apiKey string, headers map[string]string) (fantasy.Provider, error) {
	opts := []google.Option{
		google.WithBaseURL(baseURL),
		google.WithGeminiAPIKey(apiKey),
	}
	if len(headers) > 0 {
		opts = append(opts, google.WithHeaders(headers))
	}
	return google.New(opts...)
}

func buildGoogleVertexProvider(headers map[string]string, params map[string]string) (fantasy.Provider, error) {
	var opts []google.Option
	if len(headers) > 0 {
		opts = append(opts, google.WithHeaders(headers))
	}
	opts = append(opts, google.WithVertex(params["project"], params["location"]))
	return google.New(opts...)
}

func buildAzureProvider(baseURL, apiKey string, headers map[string]string, params map[string]string) (fantasy.Provider, error) {
	opts := []azure.Option{
		azure.WithBaseURL(baseURL),
		azure.WithAPIKey(apiKey),
		azure.WithUseResponsesAPI(),
	}
	if apiVersion, ok := params["apiVersion"]; ok {
		opts = append(opts, azure.WithAPIVersion(apiVersion))
	}
	if len(headers) > 0 {
		opts = append(opts, azure.WithHeaders(headers))
	}
	return azure.New(opts...)
}

func buildBedrockProvider(headers map[string]string) (fantasy.Provider, error) {
	var opts []bedrock.Option
	if len(headers) > 0 {
		opts = append(opts, bedrock.WithHeaders(headers))
	}
	if bearerToken := os.Getenv("AWS_BEARER_TOKEN_BEDROCK"); bearerToken != "" {
		opts = append(opts, bedrock.WithAPIKey(bearerToken))
	}
	return bedrock.New(opts...)
}
