// Package bus connects the workflow to NATS. It provides the JetStream
// backed task queue that carries stage tasks between workers, publishes job
// status changes on per-job subjects, and can run an embedded NATS server
// for single-host deployments.
package bus
