package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/benaskins/hotmacro/internal/daemon"
	"github.com/benaskins/hotmacro/internal/macro"
)

// Server serves the hotmacro REST API over a Unix socket.
type Server struct {
	daemon   *daemon.Daemon
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// Macro keys travel in the "key" query parameter. Keys such as "/" and "."
// cannot be path segments because the mux cleans request paths.
func keyParam(r *http.Request) string {
	return r.URL.Query().Get("key")
}

// MacroRequest is the body of PUT /v1/macros?key=.
type MacroRequest struct {
	Actions []string `json:"actions"`
}

// MacroResponse describes one stored macro.
type MacroResponse struct {
	Key     string   `json:"key"`
	Actions []string `json:"actions"`
}

// ModeResponse is returned by the mode endpoints.
type ModeResponse struct {
	Mode string `json:"mode"`
}

// NewServer creates an API server backed by the given daemon.
func NewServer(d *daemon.Daemon) *Server {
	s := &Server{
		daemon: d,
		logger: slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/status", s.status)
	mux.HandleFunc("GET /v1/mode", s.mode)
	mux.HandleFunc("POST /v1/mode/toggle", s.toggle)
	mux.HandleFunc("GET /v1/macros", s.listMacros)
	mux.HandleFunc("PUT /v1/macros", s.putMacro)
	mux.HandleFunc("DELETE /v1/macros", s.deleteMacro)
	mux.HandleFunc("POST /v1/macros/fire", s.fireMacro)
	mux.HandleFunc("POST /v1/keys", s.pressKey)
	mux.HandleFunc("GET /v1/runs", s.listRuns)
	mux.HandleFunc("POST /v1/runs/cancel", s.cancelRuns)
	mux.HandleFunc("POST /v1/login/release", s.releaseLogin)
	mux.HandleFunc("GET /v1/launches", s.launches)
	mux.HandleFunc("POST /v1/launches/{pid}/terminate", s.terminateLaunch)
	mux.HandleFunc("GET /v1/notices", s.notices)

	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// ListenUnix starts the server on a Unix socket. A stale socket file is
// replaced and the new one is only accessible to the owner.
func (s *Server) ListenUnix(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *Server) mode(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ModeResponse{Mode: s.daemon.Mode().String()})
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	m := s.daemon.ToggleMode()
	writeJSON(w, http.StatusOK, ModeResponse{Mode: m.String()})
}

func (s *Server) listMacros(w http.ResponseWriter, r *http.Request) {
	m := s.daemon.Macros()
	out := make([]MacroResponse, 0, len(m))
	for _, k := range m.Keys() {
		out = append(out, MacroResponse{Key: k, Actions: m[k]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) putMacro(w http.ResponseWriter, r *http.Request) {
	var req MacroRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key, err := s.daemon.AddMacro(keyParam(r), req.Actions)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if len(req.Actions) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "key": key})
		return
	}
	writeJSON(w, http.StatusOK, MacroResponse{Key: key, Actions: req.Actions})
}

func (s *Server) deleteMacro(w http.ResponseWriter, r *http.Request) {
	key := keyParam(r)
	ok, err := s.daemon.DeleteMacro(key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no macro bound to key " + key})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// fireMacro queues a run. With ?wait=true it blocks until the run finishes
// and returns the report.
func (s *Server) fireMacro(w http.ResponseWriter, r *http.Request) {
	done, err := s.daemon.Fire(keyParam(r), "api")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	select {
	case report := <-done:
		writeJSON(w, http.StatusOK, report)
	case <-r.Context().Done():
	}
}

func (s *Server) pressKey(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Press(keyParam(r)); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pressed"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Runs())
}

func (s *Server) cancelRuns(w http.ResponseWriter, r *http.Request) {
	n := s.daemon.CancelRuns()
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
}

func (s *Server) releaseLogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"released": s.daemon.ReleaseLogin()})
}

func (s *Server) launches(w http.ResponseWriter, r *http.Request) {
	lines := 20
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "lines must be a non-negative integer"})
			return
		}
		lines = n
	}
	writeJSON(w, http.StatusOK, s.daemon.Launches(lines))
}

func (s *Server) terminateLaunch(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil || pid <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pid must be a positive integer"})
		return
	}
	info, err := s.daemon.TerminateLaunch(r.Context(), pid)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) notices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Notices())
}

func statusFor(err error) int {
	var ve *macro.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, daemon.ErrUnknownMacro), errors.Is(err, daemon.ErrUnknownLaunch):
		return http.StatusNotFound
	case errors.Is(err, daemon.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, daemon.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
