package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogBuffer keeps the most recent log lines in memory. It is installed as a
// second log writer so /api/logs can serve them.
type LogBuffer struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
	dropped uint64
}

func NewLogBuffer(maxLines int) *LogBuffer {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &LogBuffer{max: maxLines}
}

// Write implements io.Writer. A trailing fragment without a newline is held
// until a later Write completes it.
func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial = append(b.partial, p...)
	for {
		nl := bytes.IndexByte(b.partial, '\n')
		if nl < 0 {
			break
		}
		b.keepLocked(string(bytes.TrimRight(b.partial[:nl], "\r")))
		b.partial = b.partial[nl+1:]
	}
	if len(b.partial) == 0 {
		b.partial = nil
	}
	return len(p), nil
}

func (b *LogBuffer) keepLocked(line string) {
	if line == "" {
		return
	}
	if len(b.lines) == b.max {
		copy(b.lines, b.lines[1:])
		b.lines[len(b.lines)-1] = line
		b.dropped++
		return
	}
	b.lines = append(b.lines, line)
}

type LogsResponse struct {
	NowUTC  string   `json:"now_utc"`
	Dropped uint64   `json:"dropped"`
	Lines   []string `json:"lines"`
}

// Snapshot returns up to tail of the newest lines containing match (all lines
// when match is empty), oldest first.
func (b *LogBuffer) Snapshot(tail int, match string) (lines []string, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tail <= 0 {
		tail = defaultLogTail
	}
	for i := len(b.lines) - 1; i >= 0 && len(lines) < tail; i-- {
		if match == "" || strings.Contains(b.lines[i], match) {
			lines = append(lines, b.lines[i])
		}
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, b.dropped
}

const (
	defaultLogTail = 200
	maxLogTail     = 5000
)

func parseTail(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultLogTail, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxLogTail {
		return 0, false
	}
	return n, true
}

// Handler serves GET /api/logs. Query parameters: tail (1..5000), match
// (substring filter) and format=text for a plain listing.
func (b *LogBuffer) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := r.URL.Query()
		tail, ok := parseTail(q.Get("tail"))
		if !ok {
			http.Error(w, fmt.Sprintf("tail must be an integer in [1,%d]", maxLogTail), http.StatusBadRequest)
			return
		}
		lines, dropped := b.Snapshot(tail, q.Get("match"))
		w.Header().Set("Cache-Control", "no-store")

		if !strings.EqualFold(q.Get("format"), "text") {
			writeJSON(w, http.StatusOK, LogsResponse{
				NowUTC:  time.Now().UTC().Format(time.RFC3339Nano),
				Dropped: dropped,
				Lines:   lines,
			})
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		var out strings.Builder
		if dropped > 0 {
			fmt.Fprintf(&out, "[dropped=%d]\n", dropped)
		}
		for _, line := range lines {
			out.WriteString(line)
			out.WriteByte('\n')
		}
		_, _ = io.WriteString(w, out.String())
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
