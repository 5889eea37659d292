// Package proxy routes requests whose Host header names a session's
// preview hostname to the session's first registered port, relaying
// both plain HTTP and WebSocket traffic.
//
// Host matching is a single-suffix-strip adapted from the teacher's
// proxy/hosts.go pattern matcher: that package matches an arbitrary set
// of exact/wildcard grant host patterns, where this proxy only ever has
// one pattern in play (the configured preview domain), so the match
// degenerates to stripping a fixed suffix and looking the remainder up
// as a session ID.
package proxy

import (
	"net/http"
	"strings"

	"github.com/sboxrun/sandboxd/internal/log"
	"github.com/sboxrun/sandboxd/internal/session"
)

const fallbackPort = 5173

// SessionLookup resolves a preview-hostname label to the backing session,
// refreshing last_used as a side effect of the lookup (matching the
// registry's Touch+Get contract used elsewhere in the API).
type SessionLookup interface {
	Touch(id string) bool
	Get(id string) (session.Session, bool)
}

// Proxy is an http.Handler that resolves the Host header against a
// configured preview domain and relays to the matching session's
// backend port, falling through to next for any other Host.
type Proxy struct {
	lookup        SessionLookup
	previewDomain string
	next          http.Handler
}

// New builds a Proxy. previewDomain empty disables preview routing
// entirely; every request falls through to next.
func New(lookup SessionLookup, previewDomain string, next http.Handler) *Proxy {
	return &Proxy{lookup: lookup, previewDomain: previewDomain, next: next}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := p.matchPreviewHost(r.Host)
	if !ok {
		p.next.ServeHTTP(w, r)
		return
	}

	if !p.lookup.Touch(id) {
		writeError(w, http.StatusNotFound, "unknown session", id)
		return
	}
	sess, ok := p.lookup.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session", id)
		return
	}

	port := fallbackPort
	if len(sess.Ports) > 0 {
		port = int(sess.Ports[0])
	}

	if isWebSocketUpgrade(r) {
		relayWebSocket(w, r, port)
		return
	}
	relayHTTP(w, r, port)
}

// matchPreviewHost strips the configured preview domain suffix from
// host and returns the remaining label as a session ID. It reports
// ok=false if no preview domain is configured or host doesn't end in
// the expected suffix.
func (p *Proxy) matchPreviewHost(host string) (string, bool) {
	if p.previewDomain == "" {
		return "", false
	}
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	suffix := "." + p.previewDomain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(host, suffix)
	if id == "" {
		return "", false
	}
	return id, true
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// writeError mirrors routing/proxy.go's writeError shape from the
// teacher: a flat JSON {error, detail} body.
func writeError(w http.ResponseWriter, code int, errType, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err := w.Write([]byte(`{"error":"` + errType + `","detail":"` + jsonEscape(detail) + `"}`))
	if err != nil {
		log.Debug("proxy: writing error response failed", "err", err)
	}
}

func jsonEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
