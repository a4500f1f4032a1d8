// Command evalctl manages the speech evaluation daemon and its job queue.
//
// Job commands talk to the daemon's HTTP API when it is running and fall
// back to the SQLite job database otherwise; jobs submitted offline are
// picked up by the daemon on its next reconcile pass.
package main
