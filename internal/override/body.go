package override

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// mergeBody shallow-merges the top-level keys of preset into body. Existing
// keys keep their position; new keys are appended. Bodies that are not JSON
// objects pass through unchanged.
func mergeBody(body []byte, preset json.RawMessage) ([]byte, error) {
	if len(bytes.TrimSpace(preset)) == 0 {
		return body, nil
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return body, nil
	}

	out := append([]byte(nil), body...)
	var err error
	gjson.ParseBytes(preset).ForEach(func(key, value gjson.Result) bool {
		out, err = sjson.SetRawBytes(out, escapePath(key.String()), []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// escapePath makes a JSON object key safe to use as an sjson path so dotted
// or wildcard-looking keys address a single top-level field.
func escapePath(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?', '|', '#', '@', ':', '!', '=', '<', '>', '%':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
