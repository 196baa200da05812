package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/af-corp/ccproxy/internal/types"
	"github.com/tidwall/gjson"
)

const anthropicVersion = "2023-06-01"

// anthropicDialect covers the Messages API and compatible relays.
type anthropicDialect struct{}

func (anthropicDialect) Kind() Kind { return KindAnthropic }

func (anthropicDialect) NativeCredential(key string) (string, string) {
	return "x-api-key", key
}

func (anthropicDialect) Decorate(h http.Header) {
	h.Set("Content-Type", "application/json")
	if h.Get("anthropic-version") == "" {
		h.Set("anthropic-version", anthropicVersion)
	}
}

func (anthropicDialect) TestBody(model, prompt string, maxTokens int) ([]byte, error) {
	data, err := json.Marshal(types.MessagesRequest{
		Model:     model,
		Messages:  []types.Message{{Role: "user", Content: prompt}},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic test request: %w", err)
	}
	return data, nil
}

// Content joins the text blocks of a Messages response.
func (anthropicDialect) Content(body []byte) string {
	var sb strings.Builder
	gjson.GetBytes(body, "content").ForEach(func(_, block gjson.Result) bool {
		if t := block.Get("type").String(); t == "" || t == "text" {
			sb.WriteString(block.Get("text").String())
		}
		return true
	})
	return sb.String()
}
