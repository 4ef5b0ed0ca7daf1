package background

import (
	"encoding/json"
	"fmt"

	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// Actions.
const (
	ActInit           fx.Tag = "bg/init"
	ActInitDone       fx.Tag = "bg/init-done"
	ActInitFailed     fx.Tag = "bg/init-failed"
	ActDisconnected   fx.Tag = "bg/disconnected"
	ActReconnect      fx.Tag = "bg/reconnect"
	ActScriptsLoaded  fx.Tag = "bg/scripts-loaded"
	ActScriptUpdated  fx.Tag = "bg/script-updated"
	ActScriptRemoved  fx.Tag = "bg/script-removed"
	ActScriptToggled  fx.Tag = "bg/script-toggled"
	ActScriptsChanged fx.Tag = "bg/scripts-changed"
	ActTabOpened      fx.Tag = "bg/tab-opened"
	ActTabClosed      fx.Tag = "bg/tab-closed"
	ActTabsChanged    fx.Tag = "bg/tabs-changed"
	ActEval           fx.Tag = "bg/eval"
	ActEvalResult     fx.Tag = "bg/eval-result"
)

// Effects.
const (
	FxInitialize   fx.Tag = "fx/initialize"
	FxInject       fx.Tag = "fx/inject"
	FxSaveManifest fx.Tag = "fx/save-manifest"
	FxRPC          fx.Tag = "fx/rpc"
	FxDispatch     fx.Tag = "fx/dispatch"
	FxLog          fx.Tag = "fx/log"

	FxPublishScripts fx.Tag = "fx/publish-scripts"
	FxPublishStatus  fx.Tag = "fx/publish-status"
	FxEvalDone       fx.Tag = "fx/eval-done"
)

// MethodEval is the dev server method that evaluates code.
const MethodEval = "script.eval"

// Handler is the pure background action handler.
var Handler = fx.Router{
	ActInit:           handleInit,
	ActInitDone:       handleInitDone,
	ActInitFailed:     handleInitFailed,
	ActDisconnected:   handleDisconnected,
	ActReconnect:      handleReconnect,
	ActScriptsLoaded:  handleScriptsLoaded,
	ActScriptUpdated:  handleScriptUpdated,
	ActScriptRemoved:  handleScriptRemoved,
	ActScriptToggled:  handleScriptToggled,
	ActScriptsChanged: handleScriptsChanged,
	ActTabOpened:      handleTabOpened,
	ActTabClosed:      handleTabClosed,
	ActTabsChanged:    handleTabsChanged,
	ActEval:           handleEval,
	ActEvalResult:     handleEvalResult,
}

// bg/init [requestID]: starts one initialization unless one is already in
// flight or the connection is up. Without an explicit id the ambient
// request id is used.
func handleInit(db fx.State, amb fx.Ambient, a fx.Action) fx.Result {
	if PendingInit(db) != "" || Conn(db) == ConnConnected {
		return fx.Result{}
	}
	reqID, _ := a.Arg(0).(string)
	if reqID == "" {
		reqID = amb.Get(AmbientRequestID)
	}
	if reqID == "" {
		return fx.Emit(fx.E(FxLog, "warn", "bg/init without request id ignored"))
	}

	next := db.Assign(KeyInitPending, reqID, KeyConn, ConnConnecting)
	return fx.Handled(next, fx.Await(FxInitialize, reqID), publishStatus(next))
}

// bg/init-done requestID []Script
func handleInitDone(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	reqID, _ := a.Arg(0).(string)
	if reqID != PendingInit(db) {
		return fx.Emit(fx.E(FxLog, "debug", fmt.Sprintf("stale init result %s ignored", reqID)))
	}
	list, _ := a.Arg(1).([]scripts.Script)
	if list == nil {
		list = []scripts.Script{}
	}

	next := db.Without(KeyInitPending, KeyLastError).Assign(KeyConn, ConnConnected, KeyScripts, list)
	return fx.Handled(next,
		publishStatus(next),
		publishScripts(next),
		fx.E(FxLog, "info", fmt.Sprintf("connected, %d script(s) loaded", len(list))),
	)
}

// bg/init-failed requestID message
func handleInitFailed(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	reqID, _ := a.Arg(0).(string)
	if reqID != PendingInit(db) {
		return fx.Result{}
	}
	msg, _ := a.Arg(1).(string)

	next := db.Without(KeyInitPending).Assign(KeyConn, ConnFailed, KeyLastError, msg)
	return fx.Handled(next, scheduleReconnect(db), publishStatus(next), fx.E(FxLog, "warn", "initialization failed: "+msg))
}

func handleDisconnected(db fx.State, _ fx.Ambient, _ fx.Action) fx.Result {
	if Conn(db) != ConnConnected {
		return fx.Result{}
	}
	next := db.With(KeyConn, ConnDisconnected)
	return fx.Handled(next, scheduleReconnect(db), publishStatus(next), fx.E(FxLog, "warn", "dev server connection lost"))
}

func handleReconnect(db fx.State, _ fx.Ambient, _ fx.Action) fx.Result {
	if Conn(db) == ConnConnected || PendingInit(db) != "" {
		return fx.Result{}
	}
	return fx.Result{}.Then(fx.A(ActInit))
}

func scheduleReconnect(db fx.State) fx.Effect {
	ms, _ := fx.Lookup[int](db, KeyReconnectMs)
	return fx.Defer(ms, fx.A(ActReconnect))
}

func publishStatus(db fx.State) fx.Effect {
	return fx.E(FxPublishStatus, Conn(db), LastError(db))
}

func publishScripts(db fx.State) fx.Effect {
	return fx.E(FxPublishScripts, Scripts(db))
}

// bg/scripts-loaded []Script
func handleScriptsLoaded(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	list, ok := a.Arg(0).([]scripts.Script)
	if !ok {
		return fx.Unhandled()
	}
	next := db.With(KeyScripts, list)
	return fx.Handled(next, publishScripts(next))
}

// bg/script-updated Script: pushed by the dev server when a script changes.
func handleScriptUpdated(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	s, ok := a.Arg(0).(scripts.Script)
	if !ok {
		return fx.Unhandled()
	}
	_, known := scripts.Find(Scripts(db), s.ID)
	list := scripts.Upsert(Scripts(db), s)
	next := db.With(KeyScripts, list)

	fxs := []fx.Effect{fx.E(FxSaveManifest, list), publishScripts(next)}
	if known {
		// Content change only; the membership watcher will not fire
		fxs = append(fxs, injectAll(next)...)
	}
	return fx.Handled(next, fxs...)
}

// bg/script-removed id
func handleScriptRemoved(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	id, _ := a.Arg(0).(string)
	if _, ok := scripts.Find(Scripts(db), id); !ok {
		return fx.Result{}
	}
	list := scripts.Remove(Scripts(db), id)
	next := db.With(KeyScripts, list)
	return fx.Handled(next, fx.E(FxSaveManifest, list), publishScripts(next))
}

// bg/script-toggled id enabled
func handleScriptToggled(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	id, _ := a.Arg(0).(string)
	enabled, _ := a.Arg(1).(bool)
	s, ok := scripts.Find(Scripts(db), id)
	if !ok || s.Enabled == enabled {
		return fx.Result{}
	}
	s.Enabled = enabled
	list := scripts.Upsert(Scripts(db), s)
	next := db.With(KeyScripts, list)

	// Membership is unchanged, so re-inject here rather than in the watcher
	fxs := []fx.Effect{fx.E(FxSaveManifest, list), publishScripts(next)}
	fxs = append(fxs, injectAll(next)...)
	return fx.Handled(next, fxs...)
}

// bg/scripts-changed ListChange: script membership changed, every open tab
// gets its script set recomputed.
func handleScriptsChanged(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	change, _ := a.Arg(0).(fx.ListChange)
	fxs := []fx.Effect{fx.E(FxLog, "debug",
		fmt.Sprintf("scripts changed: +%v -%v", change.Added, change.Removed))}
	fxs = append(fxs, injectAll(db)...)
	return fx.Emit(fxs...)
}

func injectAll(db fx.State) []fx.Effect {
	list := Scripts(db)
	var fxs []fx.Effect
	for _, tab := range Tabs(db) {
		fxs = append(fxs, fx.E(FxInject, tab, scripts.ForURL(list, tab.URL)))
	}
	return fxs
}

// bg/tab-opened Tab. Reopening a known tab id replaces its URL.
func handleTabOpened(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	tab, ok := a.Arg(0).(Tab)
	if !ok {
		return fx.Unhandled()
	}
	tabs := Tabs(db)
	next := make([]Tab, 0, len(tabs)+1)
	replaced := false
	for _, t := range tabs {
		if t.ID == tab.ID {
			next = append(next, tab)
			replaced = true
			continue
		}
		next = append(next, t)
	}
	if !replaced {
		next = append(next, tab)
		return fx.Handled(db.With(KeyTabs, next))
	}
	// Same identity, so the watcher stays quiet; inject directly
	return fx.Handled(db.With(KeyTabs, next), fx.E(FxInject, tab, scripts.ForURL(Scripts(db), tab.URL)))
}

// bg/tab-closed id
func handleTabClosed(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	id, ok := a.Arg(0).(int)
	if !ok {
		return fx.Unhandled()
	}
	tabs := Tabs(db)
	next := make([]Tab, 0, len(tabs))
	for _, t := range tabs {
		if t.ID != id {
			next = append(next, t)
		}
	}
	return fx.Handled(db.With(KeyTabs, next))
}

// bg/tabs-changed ListChange: newly opened tabs receive their scripts.
func handleTabsChanged(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	change, _ := a.Arg(0).(fx.ListChange)
	added := make(map[any]struct{}, len(change.Added))
	for _, id := range change.Added {
		added[id] = struct{}{}
	}

	list := Scripts(db)
	var fxs []fx.Effect
	for _, tab := range Tabs(db) {
		if _, ok := added[tab.ID]; ok {
			fxs = append(fxs, fx.E(FxInject, tab, scripts.ForURL(list, tab.URL)))
		}
	}
	for _, id := range change.Removed {
		fxs = append(fxs, fx.E(FxLog, "debug", fmt.Sprintf("tab %v closed", id)))
	}
	return fx.Emit(fxs...)
}

// bg/eval evalID code: forwards code to the dev server. The RPC result flows
// into the follow-up dispatch through the chain's previous-result slot.
func handleEval(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	evalID, _ := a.Arg(0).(string)
	code, _ := a.Arg(1).(string)
	if evalID == "" {
		return fx.Unhandled()
	}

	evals := append(append([]Eval{}, Evals(db)...), Eval{ID: evalID, Code: code})
	next := db.With(KeyEvals, evals)

	if Conn(db) != ConnConnected {
		return fx.Handled(next).Then(fx.A(ActEvalResult, evalID, "", "not connected"))
	}

	params := map[string]any{"id": evalID, "code": code}
	onError := fx.A(ActEvalResult, evalID, "")
	return fx.Handled(next, fx.Chain(
		fx.Await(FxRPC, MethodEval, params, onError),
		fx.E(FxDispatch, ActEvalResult, evalID, fx.PrevResult),
	))
}

// bg/eval-result evalID result [error]: settles an evaluation in flight.
// The settled eval leaves state and is handed to its waiter.
func handleEvalResult(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	evalID, _ := a.Arg(0).(string)
	errMsg, _ := a.Arg(2).(string)

	evals := Evals(db)
	next := make([]Eval, 0, len(evals))
	var settled *Eval
	for _, e := range evals {
		if e.ID == evalID && settled == nil {
			e.Result, e.Err, e.Done = formatResult(a.Arg(1)), errMsg, true
			settled = &e
			continue
		}
		next = append(next, e)
	}
	if settled == nil {
		return fx.Result{}
	}
	return fx.Handled(db.With(KeyEvals, next), fx.E(FxEvalDone, evalID, *settled))
}

func formatResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case json.RawMessage:
		return string(r)
	case []byte:
		return string(r)
	}
	return fmt.Sprint(v)
}
