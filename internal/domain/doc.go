// Package domain contains the core entities of the orchestrator: the task
// model with its class and status state machine, and the typed per-class
// metadata variants. Domain objects enforce their own validation rules and
// are persistence-agnostic; the coordinator and stores depend on this
// package, never the other way around.
package domain
