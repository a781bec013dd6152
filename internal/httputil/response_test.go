package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONOK(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	WriteJSONOK(rec, map[string]int{"frames": 3})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"frames":3}`, rec.Body.String())
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "bad limit") }, http.StatusBadRequest, "bad limit"},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "no frame") }, http.StatusNotFound, "no frame"},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "boom") }, http.StatusInternalServerError, "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			tt.write(rec)
			require.Equal(t, tt.status, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.msg, body["error"])
		})
	}
}
