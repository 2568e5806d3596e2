// Package task contains the orchestrator core: the coordinator that admits
// queued tasks under per-class concurrency caps, the acquisition pipeline
// that drives license fetch, transfer, decrypt, validation, and placement,
// the recurring sync and policy workers, and the recovery pass that
// re-attaches monitoring to transfers that survived a restart.
package task
