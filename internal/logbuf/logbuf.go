// Package logbuf keeps the tail of the process log in memory so the relay can
// serve it over HTTP.
package logbuf

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/petervdpas/parley/internal/util"
)

type Entry struct {
	TS  time.Time `json:"ts"`
	Msg string    `json:"msg"`
}

// Buffer is an io.Writer for log.SetOutput that splits the stream into lines
// and keeps the newest ones.
type Buffer struct {
	mu      sync.Mutex
	entries *util.RingBuffer[Entry]
	partial bytes.Buffer
	now     func() time.Time
}

func New(max int) *Buffer {
	if max <= 0 {
		max = 500
	}
	return &Buffer{entries: util.NewRingBuffer[Entry](max), now: time.Now}
}

// Write implements io.Writer. Partial lines are held until their newline
// arrives; blank lines are skipped.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i == -1 {
			break
		}
		line := strings.TrimRight(string(data[:i]), "\r")
		b.partial.Next(i + 1)
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.entries.Push(Entry{TS: b.now(), Msg: line})
	}
	return len(p), nil
}

func (b *Buffer) Snapshot() []Entry {
	return b.entries.Snapshot()
}

// Tail returns the newest n entries.
func (b *Buffer) Tail(n int) []Entry {
	return b.entries.Tail(n)
}

// ServeJSON answers GET with the buffered lines; ?n= limits to the newest n.
func (b *Buffer) ServeJSON(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := -1
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "bad n", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(b.Tail(n))
}
