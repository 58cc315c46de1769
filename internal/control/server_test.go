package control

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s := NewServer(":0", func() any {
		return map[string]any{"running": true, "instance_id": "mattecast-test"}
	})

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("GET", "/health", nil)

	s.handleHealth(c)

	assert.Equal(t, 200, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["running"])
	assert.Equal(t, "mattecast-test", body["instance_id"])
}

func TestBroadcastWithoutSubscribers(t *testing.T) {
	s := NewServer(":0", func() any { return nil })
	assert.Equal(t, 0, s.Subscribers())
	s.BroadcastProgress(0.5) // must not block or panic
}
