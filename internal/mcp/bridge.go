// Package mcp bridges the relay core to agent clients speaking the
// tool-call protocol: JSON-RPC over one HTTP endpoint, replies framed as
// server-sent events.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// ProtocolVersion is the fixed protocol token echoed by initialize.
const ProtocolVersion = "2024-11-05"

const (
	serverName    = "relay"
	serverVersion = "1.0.0"
)

// JSON-RPC error codes.
const (
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// Bridge dispatches JSON-RPC methods onto the tool adapter.
type Bridge struct {
	adapter *Adapter
	logger  zerolog.Logger
}

// NewBridge creates the bridge.
func NewBridge(adapter *Adapter, logger zerolog.Logger) *Bridge {
	return &Bridge{
		adapter: adapter,
		logger:  logger.With().Str("component", "mcp").Logger(),
	}
}

// Handler returns the fiber handler serving GET and POST /mcp.
func (b *Bridge) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodGet {
			// Handshake: an empty SSE comment frame.
			c.Set("Content-Type", "text/event-stream")
			c.Set("Cache-Control", "no-store")
			return c.SendString(": ok\n\n")
		}
		return b.handlePost(c)
	}
}

func (b *Bridge) handlePost(c *fiber.Ctx) error {
	accept := c.Get("Accept")
	if !strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream") {
		return c.Status(fiber.StatusNotAcceptable).JSON(rpcResponse{
			JSONRPC: "2.0",
			Error: &rpcError{
				Code:    codeInvalidRequest,
				Message: "Accept must include application/json and text/event-stream",
			},
		})
	}

	var req rpcRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return b.sendSSE(c, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: codeInvalidRequest, Message: "parse error: " + err.Error()},
		})
	}

	if strings.HasPrefix(req.Method, "notifications/") {
		c.Status(fiber.StatusAccepted)
		return nil
	}

	resp := b.dispatch(c, req)
	return b.sendSSE(c, resp)
}

func (b *Bridge) dispatch(c *fiber.Ctx, req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    serverName,
				"version": serverVersion,
			},
		}

	case "tools/list":
		resp.Result = map[string]interface{}{"tools": toolSchemas()}

	case "tools/call":
		var params struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
			return resp
		}

		result, err := b.adapter.Call(c.UserContext(), params.Name, params.Arguments)
		if err != nil {
			resp.Error = &rpcError{Code: codeInternalError, Message: err.Error()}
			return resp
		}
		resp.Result = result

	case "ping":
		resp.Result = map[string]interface{}{}

	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not found: " + req.Method}
	}

	return resp
}

// sendSSE frames one JSON-RPC reply as a message event.
func (b *Bridge) sendSSE(c *fiber.Ctx, resp rpcResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		b.logger.Error().Err(err).Msg("encoding rpc response")
		return fiber.ErrInternalServerError
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-store")
	return c.SendString("event: message\ndata: " + string(payload) + "\n\n")
}
