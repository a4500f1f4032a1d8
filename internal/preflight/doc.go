// Package preflight provides readiness checks for the filesystem paths and
// external services speecheval depends on.
//
// These checks run in two contexts:
//   - The daemon runs CheckPaths before starting and refuses to start when
//     the data or log directory is unusable. It runs RunAll afterwards and
//     logs the remaining failures as warnings.
//   - The CLI "evalctl status" command prints RunAll results.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
