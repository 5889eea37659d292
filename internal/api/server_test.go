package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sboxrun/sandboxd/internal/blockingpool"
	"github.com/sboxrun/sandboxd/internal/config"
	"github.com/sboxrun/sandboxd/internal/session"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	registry := session.NewRegistry(10000, "preview.test")
	pool := blockingpool.New(4)
	return NewServer(registry, pool, t.TempDir(), config.Default().Defaults)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewBuffer(data)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, s *Server, env map[string]string) CreateSessionResponse {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/sessions", CreateSessionRequest{Env: env})
	require.Equalf(t, http.StatusCreated, rec.Code, "body = %s", rec.Body.String())
	var resp CreateSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateRunDeleteLifecycle(t *testing.T) {
	s := newTestServer(t)

	created := createSession(t, s, map[string]string{"X": "1"})
	require.NotEmpty(t, created.SessionID)
	require.Equal(t, created.SessionID+".preview.test", created.PreviewURL)

	runRec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/sessions/%s/run", created.SessionID), RunRequest{
		Command: []string{"/bin/echo", "hi"},
	})
	require.Equalf(t, http.StatusOK, runRec.Code, "body = %s", runRec.Body.String())
	var runResp RunResponse
	require.NoError(t, json.Unmarshal(runRec.Body.Bytes(), &runResp))
	stdout, _ := base64.StdEncoding.DecodeString(runResp.Stdout)
	require.Equal(t, "hi\n", string(stdout))
	require.NotNil(t, runResp.ExitCode)
	require.Equal(t, 0, *runResp.ExitCode)

	delRec := doJSON(t, s, http.MethodDelete, fmt.Sprintf("/sessions/%s", created.SessionID), nil)
	require.Equal(t, http.StatusNoContent, delRec.Code)

	getRec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/sessions/%s", created.SessionID), nil)
	require.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestFileRoundTrip(t *testing.T) {
	s := newTestServer(t)
	created := createSession(t, s, nil)

	content := base64.StdEncoding.EncodeToString([]byte("hello"))
	writeRec := doJSON(t, s, http.MethodPost, fmt.Sprintf("/sessions/%s/files/write", created.SessionID), WriteFileRequest{
		Path:    "/a/b.txt",
		Content: content,
	})
	if writeRec.Code != http.StatusOK {
		t.Fatalf("write status = %d, body = %s", writeRec.Code, writeRec.Body.String())
	}

	readRec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/sessions/%s/files/read?path=/a/b.txt", created.SessionID), nil)
	if readRec.Code != http.StatusOK {
		t.Fatalf("read status = %d", readRec.Code)
	}
	var readResp ReadFileResponse
	if err := json.Unmarshal(readRec.Body.Bytes(), &readResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if readResp.Content != content {
		t.Errorf("content = %q, want %q", readResp.Content, content)
	}

	listRec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/sessions/%s/files/list?path=/a", created.SessionID), nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status = %d", listRec.Code)
	}
	var listResp ListFilesResponse
	if err := json.Unmarshal(listRec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(listResp.Files) != 1 || listResp.Files[0].Name != "b.txt" || listResp.Files[0].Size != 5 {
		t.Errorf("files = %+v", listResp.Files)
	}
}

func TestPathEscapeIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	created := createSession(t, s, nil)

	rec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/sessions/%s/files/read?path=../../etc/passwd", created.SessionID), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
}

func TestMissingFileIsNotFound(t *testing.T) {
	s := newTestServer(t)
	created := createSession(t, s, nil)

	readRec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/sessions/%s/files/read?path=/nope.txt", created.SessionID), nil)
	require.Equalf(t, http.StatusNotFound, readRec.Code, "body = %s", readRec.Body.String())

	listRec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/sessions/%s/files/list?path=/nope-dir", created.SessionID), nil)
	require.Equalf(t, http.StatusNotFound, listRec.Code, "body = %s", listRec.Body.String())
}

func TestBackgroundAutoPortIncrements(t *testing.T) {
	s := newTestServer(t)
	created := createSession(t, s, nil)

	first := doJSON(t, s, http.MethodPost, fmt.Sprintf("/sessions/%s/background", created.SessionID), BackgroundRequest{
		Command: []string{"/bin/sleep", "5"},
	})
	if first.Code != http.StatusOK {
		t.Fatalf("background status = %d, body = %s", first.Code, first.Body.String())
	}
	var firstResp BackgroundResponse
	_ = json.Unmarshal(first.Body.Bytes(), &firstResp)

	second := doJSON(t, s, http.MethodPost, fmt.Sprintf("/sessions/%s/background", created.SessionID), BackgroundRequest{
		Command: []string{"/bin/sleep", "5"},
	})
	var secondResp BackgroundResponse
	_ = json.Unmarshal(second.Body.Bytes(), &secondResp)

	if secondResp.Port <= firstResp.Port {
		t.Errorf("second port %d should be greater than first port %d", secondResp.Port, firstResp.Port)
	}

	killRec := doJSON(t, s, http.MethodDelete, fmt.Sprintf("/sessions/%s/background", created.SessionID), nil)
	var killResp KillBackgroundResponse
	_ = json.Unmarshal(killRec.Body.Bytes(), &killResp)
	if killResp.Total != 2 {
		t.Errorf("total = %d, want 2", killResp.Total)
	}

	getRec := doJSON(t, s, http.MethodGet, fmt.Sprintf("/sessions/%s", created.SessionID), nil)
	var info SessionInfo
	_ = json.Unmarshal(getRec.Body.Bytes(), &info)
	if len(info.Ports) != 0 {
		t.Errorf("ports after kill = %v, want empty", info.Ports)
	}
}

func TestOneshot(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/run", RunRequest{Command: []string{"/bin/echo", "oneshot"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp RunResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	stdout, _ := base64.StdEncoding.DecodeString(resp.Stdout)
	if string(stdout) != "oneshot\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("status=%d body=%q", rec.Code, rec.Body.String())
	}
}
