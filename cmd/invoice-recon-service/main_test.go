package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessBeforeConnect(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/readyz", readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "connecting", body["database"])
	assert.Equal(t, "connecting", body["redis"])
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		splitAndTrim(" https://a.example , ,https://b.example "))
}
