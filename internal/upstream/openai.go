package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/af-corp/ccproxy/internal/types"
	"github.com/tidwall/gjson"
)

// openAIDialect covers Chat Completions compatible endpoints.
type openAIDialect struct{}

func (openAIDialect) Kind() Kind { return KindOpenAI }

func (openAIDialect) NativeCredential(key string) (string, string) {
	return "Authorization", "Bearer " + key
}

func (openAIDialect) Decorate(h http.Header) {
	h.Set("Content-Type", "application/json")
}

func (openAIDialect) TestBody(model, prompt string, maxTokens int) ([]byte, error) {
	data, err := json.Marshal(types.MessagesRequest{
		Model:     model,
		Messages:  []types.Message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal openai test request: %w", err)
	}
	return data, nil
}

func (openAIDialect) Content(body []byte) string {
	msg := gjson.GetBytes(body, "choices.0.message")
	if c := msg.Get("content").String(); c != "" {
		return c
	}
	if c := msg.Get("reasoning_content").String(); c != "" {
		return c
	}
	return gjson.GetBytes(body, "choices.0.text").String()
}
