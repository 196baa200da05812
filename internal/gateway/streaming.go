package gateway

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/af-corp/ccproxy/internal/httputil"
	"github.com/af-corp/ccproxy/internal/telemetry"
	"github.com/af-corp/ccproxy/internal/upstream"
)

const maxFrameBytes = 4 << 20

var errFrameTooLarge = errors.New("sse frame exceeds limit")

// relayStream forwards an SSE response frame by frame, flushing after each
// one. Frames are written exactly as received. Consecutive in-band error
// frames are counted; when the count reaches the threshold the client
// connection is aborted before that frame is written.
func (f *forward) relayStream(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w, f.reqID, "Streaming not supported")
		return
	}

	copyHeaders(w.Header(), resp)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)
	flusher.Flush()

	reader := bufio.NewReaderSize(resp.Body, 64*1024)
	var written int64
	consecutive := 0

	for {
		frame, err := readFrame(reader)
		if len(frame) > 0 {
			event, data, meaningful := parseFrame(frame)
			if meaningful {
				if upstream.IsErrorFrame(event, data) {
					consecutive++
					f.h.metrics.RecordErrorFrame(f.provider)
					f.h.logger.Warn("upstream error frame",
						"request_id", f.reqID,
						"provider", f.provider,
						"consecutive", consecutive,
						"threshold", f.threshold,
					)
					if f.threshold > 0 && consecutive >= f.threshold {
						f.h.logger.Warn("error threshold reached, dropping client connection",
							"request_id", f.reqID,
							"provider", f.provider,
							"bytes", written,
						)
						f.abort(telemetry.AbortErrorFrames)
					}
				} else {
					consecutive = 0
				}
			}

			n, werr := w.Write(frame)
			written += int64(n)
			if werr != nil {
				f.h.logger.Info("client disconnected mid-stream", "request_id", f.reqID, "provider", f.provider, "bytes", written)
				f.record("client_closed", 0)
				return
			}
			flusher.Flush()
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			if r.Context().Err() != nil {
				f.h.logger.Info("client disconnected mid-stream", "request_id", f.reqID, "provider", f.provider, "bytes", written)
				f.record("client_closed", 0)
				return
			}
			f.h.logger.Error("upstream stream broken", "request_id", f.reqID, "provider", f.provider, "error", err, "bytes", written)
			f.abort(telemetry.AbortUpstreamFail)
		}
	}

	f.complete(resp.StatusCode, written)
}

// readFrame returns the raw bytes of the next SSE event, up to and including
// the blank line that terminates it. At end of input the trailing partial
// event (if any) is returned together with io.EOF.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var frame []byte
	for {
		line, err := r.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			frame = append(frame, line...)
			if len(frame) > maxFrameBytes {
				return nil, errFrameTooLarge
			}
			continue
		}
		frame = append(frame, line...)
		if err != nil {
			return frame, err
		}
		if len(frame) > maxFrameBytes {
			return nil, errFrameTooLarge
		}
		if isBlankLine(line) {
			return frame, nil
		}
	}
}

func isBlankLine(line []byte) bool {
	return len(bytes.TrimRight(line, "\r\n")) == 0 && (len(line) == 0 || line[len(line)-1] == '\n')
}

// parseFrame extracts the event name and joined data lines. meaningful is
// false for frames that carry only comments or blank lines, which neither
// count as errors nor reset the counter.
func parseFrame(frame []byte) (event string, data []byte, meaningful bool) {
	var dataLines [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			event = string(value)
			meaningful = true
		case "data":
			dataLines = append(dataLines, value)
			meaningful = true
		}
	}
	return event, bytes.Join(dataLines, []byte("\n")), meaningful
}
