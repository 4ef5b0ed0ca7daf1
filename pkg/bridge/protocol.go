package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is sent in the hello message.
const ProtocolVersion = 1

// Handshake messages. The client speaks first; the server answers with
// welcome or error and then switches to JSON-RPC 2.0 frames.
type helloMessage struct {
	Type    string `json:"type"`
	Token   string `json:"token,omitempty"`
	Client  string `json:"client,omitempty"`
	Version int    `json:"version,omitempty"`
}

type welcomeMessage struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Server  string `json:"server,omitempty"`
	Error   string `json:"error,omitempty"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcFrame is any inbound frame: a response when ID is set and Method is
// empty, a notification when Method is set.
type rpcFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is an error object returned by the dev server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Notification is a server-initiated message without an id, such as a
// script change pushed by the dev server's file watcher.
type Notification struct {
	Method string
	Params json.RawMessage
}

type callResult struct {
	Result json.RawMessage
	Err    error
}

func rpcIDToString(id any) string {
	switch v := id.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
