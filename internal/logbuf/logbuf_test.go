package logbuf

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSplitsLines(t *testing.T) {
	b := New(10)
	_, _ = b.Write([]byte("RELAY: one\nRELAY: tw"))
	_, _ = b.Write([]byte("o\r\n\n   \nRELAY: three\n"))

	var msgs []string
	for _, e := range b.Snapshot() {
		msgs = append(msgs, e.Msg)
	}
	assert.Equal(t, []string{"RELAY: one", "RELAY: two", "RELAY: three"}, msgs)
}

func TestKeepsNewest(t *testing.T) {
	b := New(2)
	l := log.New(b, "", 0)
	for i := 0; i < 5; i++ {
		l.Printf("line %d", i)
	}
	s := b.Snapshot()
	require.Len(t, s, 2)
	assert.Equal(t, "line 3", s[0].Msg)
	assert.Equal(t, "line 4", s[1].Msg)
}

func TestServeJSON(t *testing.T) {
	b := New(10)
	for i := 0; i < 4; i++ {
		fmt.Fprintf(b, "SIGNAL: %d\n", i)
	}

	rec := httptest.NewRecorder()
	b.ServeJSON(rec, httptest.NewRequest(http.MethodGet, "/logs.json?n=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "SIGNAL: 3", got[1].Msg)

	rec = httptest.NewRecorder()
	b.ServeJSON(rec, httptest.NewRequest(http.MethodGet, "/logs.json?n=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	b.ServeJSON(rec, httptest.NewRequest(http.MethodPost, "/logs.json", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
