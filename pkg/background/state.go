// Package background is the long-lived host of devbridge. It keeps the
// script list and open tabs, owns the connection to the dev server, and
// decides which scripts each tab receives.
package background

import (
	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/scripts"
	"github.com/entrhq/devbridge/pkg/urlmatch"
)

// State keys.
const (
	KeyScripts     = "scripts"
	KeyTabs        = "tabs"
	KeyConn        = "conn"
	KeyInitPending = "init-pending"
	KeyLastError   = "last-error"
	KeyEvals       = "evals"
	KeyReconnectMs = "reconnect-ms"
)

// AmbientRequestID is the ambient value a host provides as a fresh request
// id for every dispatch, so handlers never generate ids themselves.
const AmbientRequestID = "request-id"

// ConnStatus is the dev server connection state.
type ConnStatus string

const (
	ConnDisconnected ConnStatus = "disconnected"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
	ConnFailed       ConnStatus = "failed"
)

// Tab is an open page that may receive scripts.
type Tab struct {
	ID  int
	URL string
}

// Site groups tabs by registrable domain.
func (t Tab) Site() string {
	return urlmatch.Site(t.URL)
}

// TabID is the watcher identity for tabs.
func TabID(item any) any {
	if t, ok := item.(Tab); ok {
		return t.ID
	}
	return item
}

// Eval is one code evaluation forwarded to the dev server. Only evaluations
// still waiting for a result are held in state; settled ones leave through
// the eval-done effect.
type Eval struct {
	ID     string
	Code   string
	Result string
	Err    string
	Done   bool
}

// NewState returns the initial background state with its list watchers.
func NewState(initial []scripts.Script, reconnectMs int) fx.State {
	s := fx.NewState(
		KeyScripts, initial,
		KeyTabs, []Tab{},
		KeyConn, ConnDisconnected,
		KeyEvals, []Eval{},
		KeyReconnectMs, reconnectMs,
	)
	return fx.WithWatchers(s,
		fx.ListWatcher{Field: KeyScripts, ID: scripts.ScriptID, OnChange: ActScriptsChanged},
		fx.ListWatcher{Field: KeyTabs, ID: TabID, OnChange: ActTabsChanged},
	)
}

// Scripts returns the script list held in s.
func Scripts(s fx.State) []scripts.Script {
	list, _ := fx.Lookup[[]scripts.Script](s, KeyScripts)
	return list
}

// Tabs returns the open tabs held in s.
func Tabs(s fx.State) []Tab {
	list, _ := fx.Lookup[[]Tab](s, KeyTabs)
	return list
}

// Conn returns the connection status held in s.
func Conn(s fx.State) ConnStatus {
	status, ok := fx.Lookup[ConnStatus](s, KeyConn)
	if !ok {
		return ConnDisconnected
	}
	return status
}

// PendingInit returns the request id of the initialization in flight.
func PendingInit(s fx.State) string {
	id, _ := fx.Lookup[string](s, KeyInitPending)
	return id
}

// LastError returns the last connection error message.
func LastError(s fx.State) string {
	msg, _ := fx.Lookup[string](s, KeyLastError)
	return msg
}

// Evals returns the evaluations in flight.
func Evals(s fx.State) []Eval {
	list, _ := fx.Lookup[[]Eval](s, KeyEvals)
	return list
}
