// Package api implements the HTTP handlers mediating between the wire
// contract and the session registry / sandbox primitives. Every handler
// follows the three-phase shape: a registry critical section to resolve
// the session and extract what phase 2 needs, blocking sandbox work
// dispatched through a bounded pool, and an optional registry writeback.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sboxrun/sandboxd/internal/apierr"
	"github.com/sboxrun/sandboxd/internal/blockingpool"
	"github.com/sboxrun/sandboxd/internal/config"
	"github.com/sboxrun/sandboxd/internal/log"
	"github.com/sboxrun/sandboxd/internal/sandbox"
	"github.com/sboxrun/sandboxd/internal/session"
)

// Server wires the registry and sandbox primitives to an http.ServeMux.
type Server struct {
	registry *session.Registry
	pool     *blockingpool.Pool
	baseDir  string
	defaults config.Defaults

	mux *http.ServeMux
}

// NewServer builds a Server and registers every handler on its mux.
func NewServer(registry *session.Registry, pool *blockingpool.Pool, baseDir string, defaults config.Defaults) *Server {
	s := &Server{
		registry: registry,
		pool:     pool,
		baseDir:  baseDir,
		defaults: defaults,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /sessions/{id}/run", s.handleRunInSession)
	s.mux.HandleFunc("POST /sessions/{id}/background", s.handleRunBackground)
	s.mux.HandleFunc("DELETE /sessions/{id}/background", s.handleKillBackground)
	s.mux.HandleFunc("GET /sessions/{id}/background/status", s.handleBackgroundStatus)
	s.mux.HandleFunc("POST /sessions/{id}/env", s.handleSetEnv)
	s.mux.HandleFunc("POST /sessions/{id}/cwd", s.handleSetCwd)
	s.mux.HandleFunc("POST /sessions/{id}/files/write", s.handleWriteFile)
	s.mux.HandleFunc("POST /sessions/{id}/files/write-bulk", s.handleWriteFilesBulk)
	s.mux.HandleFunc("GET /sessions/{id}/files/read", s.handleReadFile)
	s.mux.HandleFunc("GET /sessions/{id}/files/list", s.handleListFiles)
	s.mux.HandleFunc("POST /run", s.handleOneshot)

	return s
}

// Handler returns the ServeMux so it can be wrapped by the preview proxy
// (which falls back to it for any Host that isn't a preview hostname).
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apierr.Write(w, apierr.BadRequest("decoding request body: %v", err))
			return
		}
	}

	id := session.NewSessionID()

	var root string
	err := blockingpool.Do(r.Context(), s.pool, func() error {
		var err error
		root, err = sandbox.CreateSessionSandbox(s.baseDir, id)
		return err
	})
	if err != nil {
		apierr.Write(w, apierr.Internal(err))
		return
	}

	now := time.Now()
	sess := &session.Session{
		ID:          id,
		SandboxRoot: root,
		Env:         req.Env,
		Cwd:         "/",
		CreatedAt:   now,
		LastUsed:    now,
		Status:      session.StatusRunning,
		Isolated:    sandbox.IsolationActive(),
	}
	if sess.Env == nil {
		sess.Env = make(map[string]string)
	}
	if domain := s.registry.PreviewDomain(); domain != "" {
		sess.PreviewURL = id + "." + domain
	}
	if !sess.Isolated {
		log.Warn("session created without filesystem isolation", "session_id", id)
	}
	s.registry.Insert(sess)

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID:  id,
		PreviewURL: sess.PreviewURL,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	values := s.registry.Values()
	infos := make([]SessionInfo, len(values))
	for i, sess := range values {
		infos[i] = toSessionInfo(sess)
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.touch(r.PathValue("id"))
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", r.PathValue("id")))
		return
	}
	writeJSON(w, http.StatusOK, toSessionInfo(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.registry.Get(id)
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}
	s.registry.Remove(id)

	err := blockingpool.Do(r.Context(), s.pool, func() error {
		for _, pid := range sess.BackgroundPIDs {
			if err := killPID(pid); err != nil {
				log.Warn("delete session: killing background pid failed", "session_id", id, "pid", pid, "err", err)
			}
		}
		return sandbox.DestroySessionSandbox(sess.SandboxRoot)
	})
	if err != nil {
		apierr.Write(w, apierr.Internal(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunInSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("decoding request body: %v", err))
		return
	}

	sess, ok := s.touch(id)
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}

	cfg := s.buildRunConfig(req, sess)

	var result sandbox.RunResult
	err := blockingpool.Do(r.Context(), s.pool, func() error {
		var err error
		result, err = sandbox.RunInSession(r.Context(), sess.SandboxRoot, cfg)
		return err
	})
	if err != nil {
		apierr.Write(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(result))
}

func (s *Server) handleOneshot(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("decoding request body: %v", err))
		return
	}
	cfg := s.buildRunConfig(req, session.Session{Cwd: "/"})

	var result sandbox.RunResult
	err := blockingpool.Do(r.Context(), s.pool, func() error {
		var err error
		result, err = sandbox.RunOneshot(r.Context(), s.baseDir, cfg)
		return err
	})
	if err != nil {
		apierr.Write(w, apierr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(result))
}

func (s *Server) handleRunBackground(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req BackgroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("decoding request body: %v", err))
		return
	}

	sess, ok := s.touch(id)
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}

	port := req.Port
	if port == 0 {
		port = s.registry.AllocatePort()
	}

	env := mergeEnv(sess.Env, req.Env)
	portStr := portString(port)
	env["PORT"] = portStr
	env["VITE_PORT"] = portStr

	cwd := req.Cwd
	if cwd == "" || cwd == "/" {
		cwd = sess.Cwd
	}

	cfg := sandbox.RunConfig{
		Command: req.Command,
		Env:     envSlice(env),
		Cwd:     cwd,
	}

	var pid int
	err := blockingpool.Do(r.Context(), s.pool, func() error {
		var err error
		pid, err = sandbox.RunBackgroundInSession(sess.SandboxRoot, cfg)
		return err
	})
	if err != nil {
		apierr.Write(w, apierr.Internal(err))
		return
	}

	s.registry.Update(id, func(sess *session.Session) {
		sess.BackgroundPIDs = append(sess.BackgroundPIDs, pid)
		sess.Ports = append(sess.Ports, port)
	})

	writeJSON(w, http.StatusOK, BackgroundResponse{
		PID:        pid,
		Port:       port,
		PreviewURL: sess.PreviewURL,
	})
}

func (s *Server) handleKillBackground(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.touch(id)
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}

	var killed []int
	err := blockingpool.Do(r.Context(), s.pool, func() error {
		for _, pid := range sess.BackgroundPIDs {
			if err := killPID(pid); err == nil {
				killed = append(killed, pid)
			}
		}
		return nil
	})
	if err != nil {
		apierr.Write(w, apierr.Internal(err))
		return
	}

	total := len(sess.BackgroundPIDs)
	s.registry.Update(id, func(sess *session.Session) {
		sess.BackgroundPIDs = nil
		sess.Ports = nil
	})

	if killed == nil {
		killed = []int{}
	}
	writeJSON(w, http.StatusOK, KillBackgroundResponse{Killed: killed, Total: total})
}

func (s *Server) handleBackgroundStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.touch(r.PathValue("id"))
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", r.PathValue("id")))
		return
	}

	var statuses []PIDStatus
	var logBytes []byte
	err := blockingpool.Do(r.Context(), s.pool, func() error {
		for _, pid := range sess.BackgroundPIDs {
			statuses = append(statuses, PIDStatus{PID: pid, Alive: sandbox.IsProcessAlive(pid)})
		}
		var err error
		logBytes, err = sandbox.ReadBackgroundLog(sess.SandboxRoot, 64*1024)
		return err
	})
	if err != nil {
		apierr.Write(w, apierr.Internal(err))
		return
	}
	if statuses == nil {
		statuses = []PIDStatus{}
	}
	writeJSON(w, http.StatusOK, BackgroundStatusResponse{
		PIDs: statuses,
		Log:  base64.StdEncoding.EncodeToString(logBytes),
	})
}

func (s *Server) handleSetEnv(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req SetEnvRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("decoding request body: %v", err))
		return
	}
	ok := s.registry.Update(id, func(sess *session.Session) {
		sess.LastUsed = time.Now()
		if sess.Env == nil {
			sess.Env = make(map[string]string)
		}
		for k, v := range req.Env {
			sess.Env[k] = v
		}
	})
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSetCwd(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req SetCwdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("decoding request body: %v", err))
		return
	}
	ok := s.registry.Update(id, func(sess *session.Session) {
		sess.LastUsed = time.Now()
		sess.Cwd = req.Cwd
	})
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req WriteFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("decoding request body: %v", err))
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		apierr.Write(w, apierr.BadRequest("invalid base64 content: %v", err))
		return
	}

	sess, ok := s.touch(id)
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}

	err = blockingpool.Do(r.Context(), s.pool, func() error {
		return sandbox.WriteFileInSandbox(sess.SandboxRoot, req.Path, data)
	})
	if err != nil {
		apierr.Write(w, classifyFileError(err))
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleWriteFilesBulk(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req WriteFilesBulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, apierr.BadRequest("decoding request body: %v", err))
		return
	}

	sess, ok := s.touch(id)
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}

	var errs []BulkFileError
	_ = blockingpool.Do(r.Context(), s.pool, func() error {
		for _, f := range req.Files {
			data, err := base64.StdEncoding.DecodeString(f.Content)
			if err != nil {
				errs = append(errs, BulkFileError{Path: f.Path, Error: err.Error()})
				continue
			}
			if err := sandbox.WriteFileInSandbox(sess.SandboxRoot, f.Path, data); err != nil {
				errs = append(errs, BulkFileError{Path: f.Path, Error: err.Error()})
			}
		}
		return nil
	})

	writeJSON(w, http.StatusOK, WriteFilesBulkResponse{Success: len(errs) == 0, Errors: errs})
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path := r.URL.Query().Get("path")

	sess, ok := s.touch(id)
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}

	var data []byte
	err := blockingpool.Do(r.Context(), s.pool, func() error {
		var err error
		data, err = sandbox.ReadFileInSandbox(sess.SandboxRoot, path)
		return err
	})
	if err != nil {
		apierr.Write(w, classifyFileError(err))
		return
	}
	writeJSON(w, http.StatusOK, ReadFileResponse{Content: base64.StdEncoding.EncodeToString(data)})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path := r.URL.Query().Get("path")

	sess, ok := s.touch(id)
	if !ok {
		apierr.Write(w, apierr.NotFound("session %s not found", id))
		return
	}

	var entries []sandbox.FileEntry
	err := blockingpool.Do(r.Context(), s.pool, func() error {
		var err error
		entries, err = sandbox.ListFilesInSandbox(sess.SandboxRoot, path)
		return err
	})
	if err != nil {
		apierr.Write(w, classifyFileError(err))
		return
	}

	files := make([]FileEntryDTO, len(entries))
	for i, e := range entries {
		files[i] = FileEntryDTO{Name: e.Name, Path: e.Path, IsDirectory: e.IsDirectory, Size: e.Size}
	}
	writeJSON(w, http.StatusOK, ListFilesResponse{Files: files})
}

// touch refreshes last_used and returns a snapshot of the session, or
// ok=false if it doesn't exist (or was removed concurrently between the
// touch and the snapshot read).
func (s *Server) touch(id string) (session.Session, bool) {
	if !s.registry.Touch(id) {
		return session.Session{}, false
	}
	return s.registry.Get(id)
}

func (s *Server) buildRunConfig(req RunRequest, sess session.Session) sandbox.RunConfig {
	cwd := req.Cwd
	if cwd == "" || cwd == "/" {
		cwd = sess.Cwd
	}
	return sandbox.RunConfig{
		Command: req.Command,
		Env:     envSlice(mergeEnv(sess.Env, req.Env)),
		Cwd:     cwd,
		TimeMS:  orDefault(req.TimeMS, s.defaults.TimeMS),
		MemKB:   orDefault(req.MemKB, s.defaults.MemKB),
		FsizeKB: orDefault(req.FsizeKB, s.defaults.FsizeKB),
		NoFile:  orDefault(req.NoFile, s.defaults.NoFile),
	}
}

func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

func mergeEnv(base, overrides map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func portString(p uint16) string {
	return strconv.Itoa(int(p))
}

func toSessionInfo(sess session.Session) SessionInfo {
	now := time.Now()
	return SessionInfo{
		ID:         sess.ID,
		Env:        sess.Env,
		Cwd:        sess.Cwd,
		AgeSecs:    now.Sub(sess.CreatedAt).Seconds(),
		IdleSecs:   now.Sub(sess.LastUsed).Seconds(),
		PreviewURL: sess.PreviewURL,
		Ports:      sess.Ports,
		Status:     strings.ToLower(string(sess.Status)),
		Isolated:   sess.Isolated,
	}
}

func toRunResponse(r sandbox.RunResult) RunResponse {
	return RunResponse{
		ExitCode: r.ExitCode,
		Signal:   r.Signal,
		Stdout:   base64.StdEncoding.EncodeToString(r.Stdout),
		Stderr:   base64.StdEncoding.EncodeToString(r.Stderr),
	}
}

// classifyFileError maps a sandbox file-I/O error to the wire-visible
// taxonomy: path escapes are BadRequest, a missing file or directory is
// NotFound, anything else is Internal.
func classifyFileError(err error) error {
	var escErr *sandbox.ErrPathEscape
	if errors.As(err, &escErr) {
		return apierr.BadRequest("%v", err)
	}
	if errors.Is(err, os.ErrNotExist) {
		return apierr.NotFound("%v", err)
	}
	return apierr.Internal(err)
}

func killPID(pid int) error {
	return sandbox.KillProcess(pid)
}

// writeJSON marshals v as JSON and writes it with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
