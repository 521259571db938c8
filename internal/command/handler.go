// Package command implements the daemon control plane: JSON-RPC 2.0 over a
// Unix domain socket.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"time"

	"firestige.xyz/synguard/internal/blacklist"
	"firestige.xyz/synguard/internal/classifier"
	"firestige.xyz/synguard/internal/log"
	"firestige.xyz/synguard/internal/metrics"
)

// Version is reported by daemon_status.
var Version = "0.1.0"

// Method names.
const (
	MethodDaemonStats     = "daemon_stats"
	MethodDaemonStatus    = "daemon_status"
	MethodDaemonShutdown  = "daemon_shutdown"
	MethodBlacklistList   = "blacklist_list"
	MethodBlacklistAdd    = "blacklist_add"
	MethodBlacklistRemove = "blacklist_remove"
	MethodConfigReload    = "config_reload"
)

// Engine is the part of the admission engine the control plane drives.
type Engine interface {
	Snapshot() metrics.Snapshot
	Policy() classifier.Policy
	RatePolicy() (time.Duration, uint32)
	Bans(now time.Time) []blacklist.Entry
	Ban(addr netip.Addr, d time.Duration, now time.Time) time.Time
	Unban(addr netip.Addr) bool
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	engine         Engine
	configReloader ConfigReloader
	shutdownFunc   func() // called by daemon_shutdown
	startTime      time.Time
	now            func() time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(engine Engine, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		engine:         engine,
		configReloader: reloader,
		startTime:      time.Now(),
		now:            time.Now,
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

func errorResponse(id string, code int, format string, args ...interface{}) Response {
	return Response{
		ID:    id,
		Error: &ErrorInfo{Code: code, Message: fmt.Sprintf(format, args...)},
	}
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	log.GetLogger().WithField("method", cmd.Method).WithField("id", cmd.ID).Debug("handling command")

	switch cmd.Method {
	case MethodDaemonStats:
		return h.handleDaemonStats(ctx, cmd)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodBlacklistList:
		return h.handleBlacklistList(ctx, cmd)
	case MethodBlacklistAdd:
		return h.handleBlacklistAdd(ctx, cmd)
	case MethodBlacklistRemove:
		return h.handleBlacklistRemove(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, "method %q not found", cmd.Method)
	}
}

// StatusResult is returned by daemon_status.
type StatusResult struct {
	Version       string   `json:"version"`
	PID           int      `json:"pid"`
	UptimeSec     int64    `json:"uptime_sec"`
	Mode          string   `json:"mode"`
	Window        string   `json:"time_window"`
	Threshold     uint32   `json:"threshold"`
	BanDuration   string   `json:"ban_duration"`
	PassUntracked bool     `json:"pass_untracked"`
	Allowlist     []string `json:"allowlist"`
}

func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	policy := h.engine.Policy()
	window, threshold := h.engine.RatePolicy()

	allow := make([]string, 0, len(policy.Allowlist))
	for _, p := range policy.Allowlist {
		allow = append(allow, p.String())
	}

	return Response{
		ID: cmd.ID,
		Result: StatusResult{
			Version:       Version,
			PID:           os.Getpid(),
			UptimeSec:     int64(h.now().Sub(h.startTime) / time.Second),
			Mode:          policy.Mode.String(),
			Window:        window.String(),
			Threshold:     threshold,
			BanDuration:   policy.BanDuration.String(),
			PassUntracked: policy.PassUntracked,
			Allowlist:     allow,
		},
	}
}

func (h *CommandHandler) handleDaemonStats(_ context.Context, cmd Command) Response {
	return Response{ID: cmd.ID, Result: h.engine.Snapshot()}
}

// BlacklistListResult is returned by blacklist_list.
type BlacklistListResult struct {
	Entries []blacklist.Entry `json:"entries"`
	Count   int               `json:"count"`
}

func (h *CommandHandler) handleBlacklistList(_ context.Context, cmd Command) Response {
	entries := h.engine.Bans(h.now())
	if entries == nil {
		entries = []blacklist.Entry{}
	}
	return Response{
		ID:     cmd.ID,
		Result: BlacklistListResult{Entries: entries, Count: len(entries)},
	}
}

// BlacklistAddParams represents parameters for blacklist_add. An empty
// duration uses the configured ban duration.
type BlacklistAddParams struct {
	Addr     string `json:"addr"`
	Duration string `json:"duration,omitempty"`
}

// BlacklistRemoveParams represents parameters for blacklist_remove.
type BlacklistRemoveParams struct {
	Addr string `json:"addr"`
}

// BlacklistResult is returned by blacklist_add and blacklist_remove.
type BlacklistResult struct {
	Addr      string    `json:"addr"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Removed   bool      `json:"removed,omitempty"`
}

func (h *CommandHandler) handleBlacklistAdd(_ context.Context, cmd Command) Response {
	var params BlacklistAddParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	addr, err := netip.ParseAddr(params.Addr)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid addr: %v", err)
	}
	var d time.Duration
	if params.Duration != "" {
		if d, err = time.ParseDuration(params.Duration); err != nil || d <= 0 {
			return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid duration %q", params.Duration)
		}
	}

	expires := h.engine.Ban(addr, d, h.now())
	log.GetLogger().WithField("addr", addr).WithField("expires_at", expires).Info("source blacklisted by operator")
	return Response{
		ID:     cmd.ID,
		Result: BlacklistResult{Addr: addr.Unmap().String(), ExpiresAt: expires},
	}
}

func (h *CommandHandler) handleBlacklistRemove(_ context.Context, cmd Command) Response {
	var params BlacklistRemoveParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid params: %v", err)
	}
	addr, err := netip.ParseAddr(params.Addr)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, "invalid addr: %v", err)
	}

	removed := h.engine.Unban(addr)
	if removed {
		log.GetLogger().WithField("addr", addr).Info("blacklist entry removed by operator")
	}
	return Response{
		ID:     cmd.ID,
		Result: BlacklistResult{Addr: addr.Unmap().String(), Removed: removed},
	}
}

func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}
	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "reload config failed: %v", err)
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "reloaded"},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	log.GetLogger().Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // let the response be sent first

	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "shutting_down"},
	}
}
