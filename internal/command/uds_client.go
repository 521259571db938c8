package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"firestige.xyz/synguard/internal/blacklist"
	"firestige.xyz/synguard/internal/core"
	"firestige.xyz/synguard/internal/metrics"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response. A daemon that is not
// listening yields an error wrapping core.ErrDaemonNotRunning.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	conn, err := d.DialContext(dialCtx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrDaemonNotRunning, c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	respID := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{
		ID:     respID,
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

// callInto performs Call and decodes the result into out. RPC errors are
// returned as *ErrorInfo.
func (c *UDSClient) callInto(ctx context.Context, method string, params, out interface{}) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to re-encode result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// Stats returns the engine counters and table gauges.
func (c *UDSClient) Stats(ctx context.Context) (metrics.Snapshot, error) {
	var s metrics.Snapshot
	err := c.callInto(ctx, MethodDaemonStats, nil, &s)
	return s, err
}

// Status returns the daemon status and running policy.
func (c *UDSClient) Status(ctx context.Context) (StatusResult, error) {
	var s StatusResult
	err := c.callInto(ctx, MethodDaemonStatus, nil, &s)
	return s, err
}

// BlacklistList returns the live bans.
func (c *UDSClient) BlacklistList(ctx context.Context) ([]blacklist.Entry, error) {
	var r BlacklistListResult
	err := c.callInto(ctx, MethodBlacklistList, nil, &r)
	return r.Entries, err
}

// BlacklistAdd bans addr for d; zero uses the configured ban duration.
func (c *UDSClient) BlacklistAdd(ctx context.Context, addr string, d time.Duration) (BlacklistResult, error) {
	params := BlacklistAddParams{Addr: addr}
	if d > 0 {
		params.Duration = d.String()
	}
	var r BlacklistResult
	err := c.callInto(ctx, MethodBlacklistAdd, params, &r)
	return r, err
}

// BlacklistRemove lifts a ban, reporting whether one existed.
func (c *UDSClient) BlacklistRemove(ctx context.Context, addr string) (bool, error) {
	var r BlacklistResult
	err := c.callInto(ctx, MethodBlacklistRemove, BlacklistRemoveParams{Addr: addr}, &r)
	return r.Removed, err
}

// ConfigReload asks the daemon to re-read its configuration file.
func (c *UDSClient) ConfigReload(ctx context.Context) error {
	return c.callInto(ctx, MethodConfigReload, nil, nil)
}

// Shutdown asks the daemon to stop gracefully.
func (c *UDSClient) Shutdown(ctx context.Context) error {
	return c.callInto(ctx, MethodDaemonShutdown, nil, nil)
}

// Ping checks that the daemon answers.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.Status(ctx)
	return err
}
