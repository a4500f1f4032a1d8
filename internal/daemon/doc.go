// Package daemon coordinates the long-running evaluation process.
//
// It wires configuration, job storage, the workflow manager, the credential
// pool's day rollover, and the HTTP API into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon exposes
// store maintenance helpers and runtime status for the CLI.
//
// Keep orchestration logic here: pipeline stages live in their own packages
// while the daemon focuses on startup, shutdown, and high level coordination.
package daemon
