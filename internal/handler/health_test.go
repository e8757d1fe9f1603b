package handler

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/segyhp/loan-servicing-engine/internal/repository"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandler(t *testing.T) {
	db, err := repository.Open(repository.DriverSQLite, ":memory:", repository.PoolConfig{})
	require.NoError(t, err)

	router := mux.NewRouter()
	NewHealthHandler(db, nil, time.Second).RegisterRoutes(router)

	t.Run("health", func(t *testing.T) {
		rec := do(router, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("ready without redis", func(t *testing.T) {
		rec := do(router, http.MethodGet, "/health/ready", "", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &status))
		assert.Equal(t, "ok", status.Checks["database"])
		assert.Equal(t, "disabled", status.Checks["redis"])
	})

	t.Run("not ready once the database is gone", func(t *testing.T) {
		require.NoError(t, db.Close())

		rec := do(router, http.MethodGet, "/health/ready", "", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var status HealthStatus
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &status))
		assert.Equal(t, "error", status.Status)
	})
}
