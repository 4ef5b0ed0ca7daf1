// Package popup is the script list UI. The list animates: scripts that
// appear are shown entering, scripts that disappear linger while leaving,
// all driven by a shadow list watcher on the popup's own store.
package popup

import (
	"fmt"
	"strings"

	"github.com/entrhq/devbridge/pkg/fx"
	"github.com/entrhq/devbridge/pkg/scripts"
)

// State keys.
const (
	KeyScripts      = "scripts"
	KeyShadow       = "shadow"
	KeySelected     = "selected"
	KeyStatus       = "status"
	KeyEnterMs      = "enter-ms"
	KeyLeaveMs      = "leave-ms"
	KeyShowDisabled = "show-disabled"
	KeyBaseURL      = "base-url"
)

// Actions.
const (
	ActScripts fx.Tag = "popup/scripts"
	ActStatus  fx.Tag = "popup/status"
	ActSync    fx.Tag = "popup/sync"
	ActEntered fx.Tag = "popup/entered"
	ActLeft    fx.Tag = "popup/left"
	ActSelect  fx.Tag = "popup/select"
	ActToggle  fx.Tag = "popup/toggle"
	ActCopyURL fx.Tag = "popup/copy-url"
)

// Effects.
const (
	FxClipboard    fx.Tag = "fx/clipboard"
	FxToggleScript fx.Tag = "fx/toggle-script"
)

// Settings are the popup's presentation options.
type Settings struct {
	EnterMs      int
	LeaveMs      int
	ShowDisabled bool
	BaseURL      string
}

// NewState returns the initial popup state with its shadow watcher.
func NewState(settings Settings) fx.State {
	s := fx.NewState(
		KeyScripts, []scripts.Script{},
		KeyShadow, []fx.ShadowEntry{},
		KeySelected, 0,
		KeyStatus, "",
		KeyEnterMs, settings.EnterMs,
		KeyLeaveMs, settings.LeaveMs,
		KeyShowDisabled, settings.ShowDisabled,
		KeyBaseURL, strings.TrimRight(settings.BaseURL, "/"),
	)
	return fx.WithWatchers(s, fx.ListWatcher{
		Field:      KeyScripts,
		ID:         scripts.ScriptID,
		OnChange:   ActSync,
		ShadowPath: KeyShadow,
	})
}

// Shadow returns the rendered list, leaving entries included.
func Shadow(s fx.State) []fx.ShadowEntry {
	return fx.ShadowEntries(s.Get(KeyShadow))
}

// Visible returns the entries that can be selected: every shadow entry that
// is not leaving.
func Visible(s fx.State) []fx.ShadowEntry {
	var out []fx.ShadowEntry
	for _, e := range Shadow(s) {
		if !e.Leaving {
			out = append(out, e)
		}
	}
	return out
}

// Selected returns the selected script, if any.
func Selected(s fx.State) (scripts.Script, bool) {
	visible := Visible(s)
	idx, _ := fx.Lookup[int](s, KeySelected)
	if idx < 0 || idx >= len(visible) {
		return scripts.Script{}, false
	}
	script, ok := visible[idx].Item.(scripts.Script)
	return script, ok
}

// Status returns the status line.
func Status(s fx.State) string {
	status, _ := fx.Lookup[string](s, KeyStatus)
	return status
}

// Handler is the pure popup action handler.
var Handler = fx.Router{
	ActScripts: handleScripts,
	ActStatus:  handleStatus,
	ActSync:    handleSync,
	ActEntered: handleEntered,
	ActLeft:    handleLeft,
	ActSelect:  handleSelect,
	ActToggle:  handleToggle,
	ActCopyURL: handleCopyURL,
}

// popup/scripts []Script: replaces the source list. The shadow catches up
// through the watcher.
func handleScripts(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	list, ok := a.Arg(0).([]scripts.Script)
	if !ok {
		return fx.Unhandled()
	}
	if show, _ := fx.Lookup[bool](db, KeyShowDisabled); !show {
		enabled := make([]scripts.Script, 0, len(list))
		for _, s := range list {
			if s.Enabled {
				enabled = append(enabled, s)
			}
		}
		list = enabled
	}
	return fx.Handled(db.With(KeyScripts, list))
}

func handleStatus(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	status, _ := a.Arg(0).(string)
	return fx.Handled(db.With(KeyStatus, status))
}

// popup/sync ShadowChange: mirrors the change into the shadow list and
// schedules the end of the enter and leave animations.
func handleSync(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	change, ok := a.Arg(0).(fx.ShadowChange)
	if !ok {
		return fx.Unhandled()
	}

	shadow := fx.ApplyShadowChange(Shadow(db), change, scripts.ScriptID)
	next := db.With(KeyShadow, shadow)

	var fxs []fx.Effect
	if len(change.AddedItems) > 0 {
		ids := make([]any, len(change.AddedItems))
		for i, item := range change.AddedItems {
			ids[i] = scripts.ScriptID(item)
		}
		ms, _ := fx.Lookup[int](db, KeyEnterMs)
		fxs = append(fxs, fx.Defer(ms, fx.A(ActEntered, ids...)))
	}
	if len(change.RemovedIDs) > 0 {
		ms, _ := fx.Lookup[int](db, KeyLeaveMs)
		fxs = append(fxs, fx.Defer(ms, fx.A(ActLeft, change.RemovedIDs...)))
	}
	return fx.Handled(clampSelection(next), fxs...)
}

// popup/entered ids...
func handleEntered(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	if len(a.Args) == 0 {
		return fx.Result{}
	}
	shadow := fx.SettleEntering(Shadow(db), scripts.ScriptID, a.Args...)
	return fx.Handled(db.With(KeyShadow, shadow))
}

// popup/left ids...
func handleLeft(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	if len(a.Args) == 0 {
		return fx.Result{}
	}
	shadow := fx.DropLeaving(Shadow(db), scripts.ScriptID, a.Args...)
	return fx.Handled(clampSelection(db.With(KeyShadow, shadow)))
}

// popup/select delta: moves the cursor, wrapping around.
func handleSelect(db fx.State, _ fx.Ambient, a fx.Action) fx.Result {
	delta, _ := a.Arg(0).(int)
	n := len(Visible(db))
	if n == 0 {
		return fx.Handled(db.With(KeySelected, 0))
	}
	idx, _ := fx.Lookup[int](db, KeySelected)
	idx = ((idx+delta)%n + n) % n
	return fx.Handled(db.With(KeySelected, idx))
}

func handleToggle(db fx.State, _ fx.Ambient, _ fx.Action) fx.Result {
	s, ok := Selected(db)
	if !ok {
		return fx.Result{}
	}
	return fx.Emit(fx.E(FxToggleScript, s.ID, !s.Enabled))
}

func handleCopyURL(db fx.State, _ fx.Ambient, _ fx.Action) fx.Result {
	s, ok := Selected(db)
	if !ok {
		return fx.Result{}
	}
	base, _ := fx.Lookup[string](db, KeyBaseURL)
	return fx.Emit(fx.E(FxClipboard, ScriptURL(base, s.ID)))
}

// ScriptURL is where the dev server serves a script's source.
func ScriptURL(base, id string) string {
	return fmt.Sprintf("%s/scripts/%s.js", base, id)
}

func clampSelection(db fx.State) fx.State {
	n := len(Visible(db))
	idx, _ := fx.Lookup[int](db, KeySelected)
	switch {
	case n == 0:
		idx = 0
	case idx >= n:
		idx = n - 1
	case idx < 0:
		idx = 0
	}
	return db.With(KeySelected, idx)
}
