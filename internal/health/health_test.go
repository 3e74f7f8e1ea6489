package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	Handler("ci-run-2026-08-30", "master")(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "liftci", resp.ServiceName)
	assert.Equal(t, "ci-run-2026-08-30", resp.RunName)
	assert.Equal(t, "master", resp.Branch)
	assert.NotEmpty(t, resp.GoVersion)
	assert.False(t, resp.Timestamp.IsZero())
}
