package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sshcollectorpro/fsmaudit/internal/audit"
	"github.com/sshcollectorpro/fsmaudit/internal/config"
	"github.com/sshcollectorpro/fsmaudit/internal/database"
	"github.com/sshcollectorpro/fsmaudit/internal/simulate"
	"github.com/sshcollectorpro/fsmaudit/internal/templates"
)

const hostnameTemplate = "Value HOSTNAME (\\S+)\n\nStart\n  ^hostname ${HOSTNAME} -> Record\n"

type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, withDB bool) *gin.Engine {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	opts := audit.OptionsFromConfig(cfg, audit.Credentials{})
	opts.SSH.ConnectTimeout = 3 * time.Second
	opts.SSH.CommandTimeout = 3 * time.Second

	deps := Dependencies{
		Registry:         templates.NewRegistry(""),
		AuditOptions:     opts,
		MaxReevaluations: 1000,
		Mode:             gin.TestMode,
	}
	if withDB {
		gdb, err := database.Open(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "api.db"), MaxOpenConns: 1})
		require.NoError(t, err)
		t.Cleanup(func() {
			if sqlDB, err := gdb.DB(); err == nil {
				sqlDB.Close()
			}
		})
		deps.DB = gdb
	}
	return SetupRouter(deps)
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(bs)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestHealthAndTemplates(t *testing.T) {
	r := newTestRouter(t, true)

	w, env := do(t, r, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"templates":2,"database":"ok"}`, string(env.Data))

	w, env = do(t, r, http.MethodGet, "/api/v1/templates", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["cisco_ios_show_interfaces","cisco_ios_show_version"]`, string(env.Data))
}

func TestRequestIDPropagated(t *testing.T) {
	r := newTestRouter(t, false)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestParseInlineTemplate(t *testing.T) {
	r := newTestRouter(t, false)
	w, env := do(t, r, http.MethodPost, "/api/v1/parse", map[string]interface{}{
		"template": hostnameTemplate,
		"text":     "hostname r1\nfoo\nhostname r2\n",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"header":["HOSTNAME"],"records":[{"HOSTNAME":"r1"},{"HOSTNAME":"r2"}]}`, string(env.Data))
}

func TestParseNamedTemplate(t *testing.T) {
	r := newTestRouter(t, false)
	w, env := do(t, r, http.MethodPost, "/api/v1/parse", map[string]interface{}{
		"template_name": "cisco_ios_show_version",
		"text":          "cisco WS-C2960-24TT-L (PowerPC405) processor (revision B0) with 65536K bytes of memory.\nsw9 uptime is 2 weeks\n",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var data struct {
		Header  []string                 `json:"header"`
		Records []map[string]interface{} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Records, 1)
	assert.Equal(t, "sw9", data.Records[0]["HOSTNAME"])
	assert.Equal(t, []interface{}{"WS-C2960-24TT-L"}, data.Records[0]["HARDWARE"])
	assert.Equal(t, []interface{}{}, data.Records[0]["SERIAL"])
}

func TestParseErrors(t *testing.T) {
	r := newTestRouter(t, false)

	w, env := do(t, r, http.MethodPost, "/api/v1/parse", map[string]interface{}{
		"template": "Value X (a)\n\nStart\n  no caret\n",
		"text":     "a",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "TEMPLATE_SYNTAX", env.Code)
	assert.Contains(t, string(env.Data), `"line":4`)

	w, env = do(t, r, http.MethodPost, "/api/v1/parse", map[string]interface{}{"template_name": "missing", "text": "a"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "TEMPLATE_NOT_FOUND", env.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/parse", map[string]interface{}{"text": "a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMS", env.Code)

	loop := "Value X (\\S+)\n\nStart\n  ^stop -> Error \"device refused\"\n  ^${X} -> Record\n"
	w, env = do(t, r, http.MethodPost, "/api/v1/parse", map[string]interface{}{"template": loop, "text": "one\nstop\ntwo\n"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "PARSE_FAILED", env.Code)
	assert.Contains(t, env.Message, "device refused")
	assert.JSONEq(t, `{"header":["X"],"records":[{"X":"one"}]}`, string(env.Data))
}

func TestAuditEndpoint(t *testing.T) {
	dev := simulate.NewDevice("edge1", "admin", "pw")
	dev.EnableSecret = "en"
	srv, err := simulate.Start(dev)
	require.NoError(t, err)
	defer srv.Close()

	r := newTestRouter(t, true)
	w, env := do(t, r, http.MethodPost, "/api/v1/audit/mgmt", map[string]interface{}{
		"devices":  []string{srv.Addr()},
		"username": "admin",
		"password": "pw",
		"secret":   "en",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res audit.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "mgmt", res.Job)
	assert.Equal(t, [][]string{{srv.Addr(), "edge1", "127.0.0.1/24", "Vlan1"}}, res.Rows())

	w, env = do(t, r, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), res.RunID)

	w, env = do(t, r, http.MethodGet, "/api/v1/runs/"+res.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view struct {
		Header []string   `json:"header"`
		Rows   [][]string `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, res.Header, view.Header)
	assert.Equal(t, res.Rows(), view.Rows)

	w, _ = do(t, r, http.MethodGet, "/api/v1/runs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuditEndpointErrors(t *testing.T) {
	r := newTestRouter(t, false)

	w, env := do(t, r, http.MethodPost, "/api/v1/audit/backup", map[string]interface{}{"devices": []string{"10.0.0.1"}, "username": "u"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UNKNOWN_JOB", env.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/audit/inventory", map[string]interface{}{"devices": []string{}, "username": "u"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_PARAMS", env.Code)

	w, env = do(t, r, http.MethodPost, "/api/v1/audit/inventory", map[string]interface{}{"devices": []string{"a b"}, "username": "u"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_DEVICES", env.Code)

	w, env = do(t, r, http.MethodGet, "/api/v1/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "STORE_DISABLED", env.Code)

	w, env = do(t, r, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)
}
