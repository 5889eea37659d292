package api

// All byte-sequence fields in request/response bodies (file contents,
// stdout/stderr, background logs) are base64-encoded, matching the
// external interface's blanket encoding rule.

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Env map[string]string `json:"env,omitempty"`
}

// CreateSessionResponse is the response to POST /sessions.
type CreateSessionResponse struct {
	SessionID  string `json:"session_id"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// SessionInfo is the wire shape of a session in list/get responses.
type SessionInfo struct {
	ID         string            `json:"id"`
	Env        map[string]string `json:"env"`
	Cwd        string            `json:"cwd"`
	AgeSecs    float64           `json:"age_secs"`
	IdleSecs   float64           `json:"idle_secs"`
	PreviewURL string            `json:"preview_url,omitempty"`
	Ports      []uint16          `json:"ports"`
	Status     string            `json:"status"`
	// Isolated is false when the host had no bubblewrap/seatbelt backend
	// at session-creation time, meaning commands in this session ran with
	// no real filesystem confinement.
	Isolated bool `json:"isolated"`
}

// RunRequest is the body of POST /sessions/:id/run and POST /run.
type RunRequest struct {
	Command []string          `json:"command"`
	TimeMS  int64             `json:"time_ms,omitempty"`
	MemKB   int64             `json:"mem_kb,omitempty"`
	FsizeKB int64             `json:"fsize_kb,omitempty"`
	NoFile  int64             `json:"nofile,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

// RunResponse is the response to a run request.
type RunResponse struct {
	ExitCode *int   `json:"exit_code"`
	Signal   *int   `json:"signal"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// BackgroundRequest is the body of POST /sessions/:id/background.
type BackgroundRequest struct {
	Command []string          `json:"command"`
	Port    uint16            `json:"port,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
}

// BackgroundResponse is the response to POST /sessions/:id/background.
type BackgroundResponse struct {
	PID        int    `json:"pid"`
	Port       uint16 `json:"port"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// KillBackgroundResponse is the response to DELETE /sessions/:id/background.
type KillBackgroundResponse struct {
	Killed []int `json:"killed"`
	Total  int   `json:"total"`
}

// PIDStatus reports one background PID's liveness.
type PIDStatus struct {
	PID   int  `json:"pid"`
	Alive bool `json:"alive"`
}

// BackgroundStatusResponse is the response to GET /sessions/:id/background/status.
type BackgroundStatusResponse struct {
	PIDs []PIDStatus `json:"pids"`
	Log  string      `json:"log"`
}

// SetEnvRequest is the body of POST /sessions/:id/env.
type SetEnvRequest struct {
	Env map[string]string `json:"env"`
}

// SetCwdRequest is the body of POST /sessions/:id/cwd.
type SetCwdRequest struct {
	Cwd string `json:"cwd"`
}

// WriteFileRequest is the body of POST /sessions/:id/files/write.
type WriteFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SuccessResponse is a generic {success: bool} response.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// BulkFile is one entry of a bulk write request.
type BulkFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteFilesBulkRequest is the body of POST /sessions/:id/files/write-bulk.
type WriteFilesBulkRequest struct {
	Files []BulkFile `json:"files"`
}

// BulkFileError names one file that failed in a bulk write.
type BulkFileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// WriteFilesBulkResponse is the response to a bulk write.
type WriteFilesBulkResponse struct {
	Success bool            `json:"success"`
	Errors  []BulkFileError `json:"errors,omitempty"`
}

// ReadFileResponse is the response to GET /sessions/:id/files/read.
type ReadFileResponse struct {
	Content string `json:"content"`
}

// FileEntryDTO is the wire shape of one file listing entry.
type FileEntryDTO struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	Size        int64  `json:"size"`
}

// ListFilesResponse is the response to GET /sessions/:id/files/list.
type ListFilesResponse struct {
	Files []FileEntryDTO `json:"files"`
}
