// Package fx is the action/effect dispatch engine shared by the background,
// popup and panel contexts.
//
// Hosts describe what should happen as data. An action handler turns
// (state, ambient, action) into a Result carrying a new state, effects and
// follow-up actions. The Store folds a batch of actions through the handler,
// diffs the watched list fields of the state before and after the batch, and
// re-dispatches whatever the watchers synthesize. Only then does it hand the
// accumulated effects to the host executor, in emission order.
//
// Nothing in this package performs I/O. Asynchronous work is marked with
// Await; the executor runs it and re-enters through Dispatch, or feeds the
// result into the next effect of a Chain via the PrevResult placeholder.
//
// Two watcher modes exist:
//
//   - plain: membership only, payload ListChange of identities
//   - shadow: membership, content and enter/leave lifecycle against a
//     []ShadowEntry mirror, payload ShadowChange
package fx
