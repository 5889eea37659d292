package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sboxrun/sandboxd/internal/log"
)

// maxBodyBytes caps the request body the proxy will buffer before
// re-issuing it to the backend. Oversize bodies are rejected outright
// rather than streamed, since the relay needs the full body to set
// Content-Length on the reissued request.
const maxBodyBytes = 10 << 20 // 10 MiB

// allowedMethods is the set the relay forwards unchanged; anything else
// collapses to GET, a documented quirk inherited from the upstream
// runtime's request translation.
var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// relayHTTP buffers r's body (capped at maxBodyBytes), reissues it
// against 127.0.0.1:port with the same path/query/headers except Host,
// and streams the backend's response back to w.
func relayHTTP(w http.ResponseWriter, r *http.Request, port int) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadGateway, "reading request body failed", err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusBadRequest, "request body too large", strconv.Itoa(len(body)))
		return
	}

	method := r.Method
	if !allowedMethods[method] {
		method = http.MethodGet
	}

	target := fmt.Sprintf("http://127.0.0.1:%d%s", port, requestURI(r))
	outReq, err := http.NewRequest(method, target, newBodyReader(body))
	if err != nil {
		writeError(w, http.StatusBadGateway, "building backend request failed", err.Error())
		return
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Del("Host")

	resp, err := http.DefaultClient.Do(outReq)
	if err != nil {
		writeError(w, http.StatusBadGateway, "backend unavailable", fmt.Sprintf("port %d: %v", port, err))
		return
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status < 100 || status > 599 {
		status = http.StatusBadGateway
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(status)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Debug("proxy: streaming backend response failed", "port", port, "err", err)
	}
}

func requestURI(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func newBodyReader(b []byte) io.Reader {
	if len(b) == 0 {
		return nil
	}
	return bytes.NewReader(b)
}
