// Package panel is the editor panel: it shows one script's source and a
// console log of evaluations run against the dev server.
package panel

import (
	"errors"
	"fmt"

	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// State keys.
const (
	KeyScript  = "script"
	KeyLog     = "log"
	KeyMaxLog  = "max-log"
	KeyNextSeq = "next-seq"
	KeyPending = "pending"
)

// Actions.
const (
	ActOpen       fx.Tag = "panel/open"
	ActEval       fx.Tag = "panel/eval"
	ActResult     fx.Tag = "panel/result"
	ActClear      fx.Tag = "panel/clear"
	ActLogChanged fx.Tag = "panel/log-changed"
)

// Effects.
const (
	FxEval     fx.Tag = "fx/eval"
	FxRender   fx.Tag = "fx/render"
	FxSettled  fx.Tag = "fx/eval-settled"
	FxRejected fx.Tag = "fx/eval-rejected"
)

// ErrBusy is returned when code is submitted while another evaluation runs.
var ErrBusy = errors.New("evaluation already running")

// EntryKind classifies log lines.
type EntryKind string

const (
	KindInfo   EntryKind = "info"
	KindInput  EntryKind = "input"
	KindResult EntryKind = "result"
	KindError  EntryKind = "error"
)

// Entry is one console line.
type Entry struct {
	Seq  int
	Kind EntryKind
	Text string
}

// EntrySeq is the watcher identity for log entries.
func EntrySeq(item any) any {
	if e, ok := item.(Entry); ok {
		return e.Seq
	}
	return item
}

// NewState returns the initial panel state. maxLog bounds the console.
func NewState(maxLog int) fx.State {
	if maxLog <= 0 {
		maxLog = 200
	}
	s := fx.NewState(
		KeyLog, []Entry{},
		KeyMaxLog, maxLog,
		KeyNextSeq, 1,
	)
	return fx.WithWatchers(s, fx.ListWatcher{Field: KeyLog, ID: EntrySeq, OnChange: ActLogChanged})
}

// Script returns the open script.
func Script(s fx.State) (scripts.Script, bool) {
	return fx.Lookup[scripts.Script](s, KeyScript)
}

// Log returns the console entries.
func Log(s fx.State) []Entry {
	log, _ := fx.Lookup[[]Entry](s, KeyLog)
	return log
}

// Pending returns the id of the evaluation in flight.
func Pending(s fx.State) string {
	id, _ := fx.Lookup[string](s, KeyPending)
	return id
}

// Handler is the pure panel action handler.
var Handler = fx.Router{
	ActOpen:       handleOpen,
	ActEval:       handleEval,
	ActResult:     handleResult,
	ActClear:      handleClear,
	ActLogChanged: handleLogChanged,
}

func appendEntry(db fx.State, kind EntryKind, text string) fx.State {
	next, _ := addEntry(db, kind, text)
	return next
}

func addEntry(db fx.State, kind EntryKind, text string) (fx.State, Entry) {
	seq, _ := fx.Lookup[int](db, KeyNextSeq)
	entry := Entry{Seq: seq, Kind: kind, Text: text}
	log := append(append([]Entry{}, Log(db)...), entry)
	return db.Assign(KeyLog, log, KeyNextSeq, seq+1), entry
}

// panel/open Script
func handleOpen(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	s, ok := a.Arg(0).(scripts.Script)
	if !ok {
		return fx.Unhandled()
	}
	next := appendEntry(db.With(KeyScript, s), KindInfo, "opened "+s.ID)
	return fx.Handled(next)
}

// panel/eval code [evalID]: one evaluation at a time. Callers that wait for
// the outcome pass their own id; a rejected id is reported through
// fx/eval-rejected.
func handleEval(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	code, _ := a.Arg(0).(string)
	evalID, _ := a.Arg(1).(string)
	if code == "" {
		return fx.Result{}
	}
	if Pending(db) != "" {
		next := appendEntry(db, KindError, ErrBusy.Error())
		if evalID == "" {
			return fx.Handled(next)
		}
		return fx.Handled(next, fx.E(FxRejected, evalID))
	}

	if evalID == "" {
		seq, _ := fx.Lookup[int](db, KeyNextSeq)
		evalID = fmt.Sprintf("panel-%d", seq)
	}
	next := appendEntry(db, KindInput, code).With(KeyPending, evalID)
	return fx.Handled(next, fx.Await(FxEval, evalID, code))
}

// panel/result evalID result [error]
func handleResult(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	evalID, _ := a.Arg(0).(string)
	if evalID == "" || evalID != Pending(db) {
		return fx.Result{}
	}
	result, _ := a.Arg(1).(string)
	errMsg, _ := a.Arg(2).(string)

	kind, text := KindResult, result
	if errMsg != "" {
		kind, text = KindError, errMsg
	}
	next, entry := addEntry(db.Without(KeyPending), kind, text)
	return fx.Handled(next, fx.E(FxSettled, evalID, entry))
}

func handleClear(db fx.State, _ fx.Ambient, _ fx.Action) fx.Result {
	return fx.Handled(db.With(KeyLog, []Entry{}))
}

// panel/log-changed ListChange: bounds the console and asks for a redraw
// when lines were added.
func handleLogChanged(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	change, _ := a.Arg(0).(fx.ListChange)
	log := Log(db)
	limit, _ := fx.Lookup[int](db, KeyMaxLog)

	var fxs []fx.Effect
	if len(change.Added) > 0 {
		fxs = append(fxs, fx.E(FxRender))
	}
	if limit > 0 && len(log) > limit {
		trimmed := append([]Entry{}, log[len(log)-limit:]...)
		return fx.Handled(db.With(KeyLog, trimmed), fxs...)
	}
	return fx.Emit(fxs...)
}
