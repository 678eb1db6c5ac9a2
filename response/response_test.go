package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/xerrors"
)

func record(t *testing.T, fn func(c *gin.Context)) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	fn(c)
	return w
}

func TestRaw(t *testing.T) {
	w := record(t, func(c *gin.Context) { Raw(c, json.RawMessage(`[{"id":"1"}]`)) })
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"1"}]`, w.Body.String())

	w = record(t, func(c *gin.Context) { Raw(c, nil) })
	assert.Equal(t, "null", w.Body.String())
}

func TestErrorStatusMapping(t *testing.T) {
	remote := xerrors.NotFound("post not found")
	remote.Remote = true

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"remote", remote, http.StatusBadRequest},
		{"timeout", xerrors.Timeout("no reply"), http.StatusGatewayTimeout},
		{"unavailable", xerrors.Unavailable("publish failed", nil), http.StatusServiceUnavailable},
		{"canceled", xerrors.Canceled(nil), xerrors.StatusClientClosedRequest},
		{"validation", xerrors.Validation("bad json"), http.StatusBadRequest},
		{"untyped", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := record(t, func(c *gin.Context) { Error(c, tc.err) })
			assert.Equal(t, tc.want, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["kind"])
			assert.NotContains(t, body, "Cause")
		})
	}
}
