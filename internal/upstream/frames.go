package upstream

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// IsErrorFrame reports whether one SSE event carries an upstream error. Some
// degraded upstreams keep the HTTP status at 200 and report failures in-band,
// either as an "error" event or as a data payload with an error object.
func IsErrorFrame(event string, data []byte) bool {
	if event == "error" {
		return true
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' || !gjson.ValidBytes(data) {
		return false
	}
	res := gjson.ParseBytes(data)
	if res.Get("type").String() == "error" {
		return true
	}
	return res.Get("error").IsObject()
}
