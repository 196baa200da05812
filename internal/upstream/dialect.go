package upstream

import (
	"net/http"
	"strings"

	"github.com/af-corp/ccproxy/internal/config"
)

// Kind names an upstream API dialect. Dialects share one request contract;
// they differ only in small facts such as the native credential header.
type Kind string

const (
	KindAnthropic Kind = "anthropic"
	KindOpenAI    Kind = "openai"
)

// Dialect captures what the proxy needs to know about one upstream dialect.
// It never converts between schemas.
type Dialect interface {
	Kind() Kind
	// NativeCredential returns the header and value a provider of this
	// dialect expects when no token placement override is active.
	NativeCredential(key string) (header, value string)
	// Decorate sets headers required on requests the proxy originates itself
	// (tests, model discovery).
	Decorate(h http.Header)
	// TestBody builds a minimal non-streaming completion request.
	TestBody(model, prompt string, maxTokens int) ([]byte, error)
	// Content extracts generated text from a non-streaming response body.
	Content(body []byte) string
}

var dialects = map[Kind]Dialect{
	KindAnthropic: anthropicDialect{},
	KindOpenAI:    openAIDialect{},
}

// KindOf returns the provider's explicit kind, or infers it from the URL.
func KindOf(p *config.Provider) Kind {
	switch Kind(strings.ToLower(p.Kind)) {
	case KindAnthropic:
		return KindAnthropic
	case KindOpenAI:
		return KindOpenAI
	}
	if strings.Contains(p.APIBaseURL, "/chat/completions") {
		return KindOpenAI
	}
	return KindAnthropic
}

// For returns the dialect of p.
func For(p *config.Provider) Dialect {
	return dialects[KindOf(p)]
}

// endpointSuffixes are stripped, in order, to turn a full endpoint URL into
// the provider's base URL.
var endpointSuffixes = []string{
	"/anthropic/v1/messages",
	"/v1/chat/completions",
	"/v1/messages",
}

// BaseURL strips a known endpoint path from apiBaseURL.
func BaseURL(apiBaseURL string) string {
	u := strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	for _, suffix := range endpointSuffixes {
		if strings.HasSuffix(u, suffix) {
			return strings.TrimSuffix(u, suffix)
		}
	}
	return u
}

// ModelsURL is the model listing endpoint for a provider.
func ModelsURL(p *config.Provider) string {
	return BaseURL(p.APIBaseURL) + "/v1/models"
}
