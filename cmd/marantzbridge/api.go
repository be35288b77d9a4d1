package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marantzbridge/internal/command"
)

// ============================================================================
// HTTP API
// ============================================================================
//
//   POST /api/command/{name}          action, query or composite
//   POST /api/command/{name}/{value}  setter
//   GET  /api/commands                command catalog
//   GET  /api/status                  last-known receiver state
//   GET  /api/inputs                  input display names
//   PUT  /api/inputs/{code}           rename one input ({"name": "..."})
//   DELETE /api/inputs                reset input names
//   PUT  /api/receiver                change the receiver IP ({"ip": "..."})
//   GET  /metrics                     Prometheus
//
// Command responses are {"success": bool, "message": string}.
// ============================================================================

// ConnectionStatus reports whether the receiver session is up.
type ConnectionStatus interface {
	Connected() bool
}

type API struct {
	logger *slog.Logger
	cmds   Submitter
	reg    *command.Registry
	conn   ConnectionStatus
	state  StateSource
	inputs *InputNames
	rcv    ReceiverHostSetter
}

type apiResponse struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Sent    []string `json:"sent,omitempty"`
}

type apiCommandInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Template    string   `json:"template,omitempty"`
	Commands    []string `json:"commands,omitempty"`
	Description string   `json:"description,omitempty"`
}

type apiRenameRequest struct {
	Name string `json:"name"`
}

type apiReceiverRequest struct {
	IP string `json:"ip"`
}

func NewAPI(logger *slog.Logger, cmds Submitter, reg *command.Registry, conn ConnectionStatus, state StateSource, inputs *InputNames) *API {
	if reg == nil {
		reg = command.Default()
	}
	return &API{logger: logger, cmds: cmds, reg: reg, conn: conn, state: state, inputs: inputs}
}

// WithReceiver enables PUT /api/receiver.
func (a *API) WithReceiver(r ReceiverHostSetter) *API {
	a.rcv = r
	return a
}

// Register registers the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/command/{name}", a.handleCommand)
	mux.HandleFunc("POST /api/command/{name}/{value}", a.handleCommand)
	mux.HandleFunc("GET /api/commands", a.handleCommands)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/inputs", a.handleInputs)
	mux.HandleFunc("PUT /api/inputs/{code...}", a.handleRenameInput)
	mux.HandleFunc("DELETE /api/inputs", a.handleResetInputs)
	if a.rcv != nil {
		mux.HandleFunc("PUT /api/receiver", a.handleSetReceiver)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
}

func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	value := r.PathValue("value")

	// Commands are refused outright while disconnected rather than queued
	// behind a reconnect the caller cannot see.
	if a.conn != nil && !a.conn.Connected() {
		a.logger.Warn("blocked command, receiver not connected", "command", name)
		writeJSON(w, http.StatusServiceUnavailable, apiResponse{Message: "Not connected to receiver"})
		return
	}

	sub, err := a.cmds.Submit(name, value)
	if err != nil {
		status, msg := commandErrorStatus(err)
		writeJSON(w, status, apiResponse{Message: msg})
		// Clients may have applied the change optimistically.
		if a.state != nil {
			a.state.Resync("command rejected")
		}
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: fmt.Sprintf("Command '%s' queued.", sub.Name),
		Sent:    sub.Lines,
	})
}

// commandErrorStatus maps dispatcher errors onto HTTP status codes.
func commandErrorStatus(err error) (int, string) {
	var unknown *command.UnknownCommandError
	switch {
	case errors.As(err, &unknown):
		return http.StatusNotFound, fmt.Sprintf("Unknown command: %s", unknown.Name)
	case errors.Is(err, command.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, command.ErrNotAccepted):
		return http.StatusServiceUnavailable, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func (a *API) handleCommands(w http.ResponseWriter, r *http.Request) {
	names := a.reg.Names()
	out := make([]apiCommandInfo, 0, len(names))
	for _, name := range names {
		s, _ := a.reg.Lookup(name)
		out = append(out, apiCommandInfo{
			Name:        s.Name,
			Kind:        s.Kind.String(),
			Template:    s.Template,
			Commands:    s.Commands,
			Description: s.Description,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if a.state == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiResponse{Message: "state not available"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	snap, err := a.state.Snapshot(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, apiResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handleInputs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.inputs.All())
}

func (a *API) handleRenameInput(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.PathValue("code"))
	var req apiRenameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: fmt.Sprintf("invalid body: %v", err)})
		return
	}
	if err := a.inputs.Set(code, req.Name); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errEmptyInputCode) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, apiResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.inputs.All())
}

func (a *API) handleResetInputs(w http.ResponseWriter, r *http.Request) {
	if err := a.inputs.Reset(); err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.inputs.All())
}

func (a *API) handleSetReceiver(w http.ResponseWriter, r *http.Request) {
	var req apiReceiverRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: fmt.Sprintf("invalid body: %v", err)})
		return
	}
	up, err := a.rcv.SetHost(req.IP)
	switch {
	case errors.Is(err, errInvalidReceiverHost):
		writeJSON(w, http.StatusBadRequest, apiResponse{Message: err.Error()})
	case errors.Is(err, errSerialTransport):
		writeJSON(w, http.StatusConflict, apiResponse{Message: err.Error()})
	case err != nil:
		a.logger.Error("set receiver ip failed", "ip", req.IP, "error", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Message: err.Error()})
	default:
		writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: up.Message})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
