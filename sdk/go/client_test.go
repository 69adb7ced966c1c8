package castlinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveProjectSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/v0/projects/p1/archive", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("export"))
		json.NewEncoder(w).Encode(map[string]any{
			"projectId":  "p1",
			"incomplete": true,
			"classes":    []map[string]any{{"entityClass": "submissions", "succeeded": 500, "failed": 700}},
		})
	}))
	defer srv.Close()

	res, err := New(srv.URL, "tok").ArchiveProject(context.Background(), "p1", true)
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	require.Len(t, res.Classes, 1)
	assert.Equal(t, 700, res.Classes[0].Failed)
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"has_active_bookings","message":"role r1 has 2 active booking(s)","details":{"count":2}}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").ArchiveRole(context.Background(), "r1", "cut")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "has_active_bookings", apiErr.Code)
	assert.EqualValues(t, 2, apiErr.Details["count"])
}
