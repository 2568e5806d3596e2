// Package store provides the shared persistence abstractions used by the
// orchestrator's sqlite-backed stores: the DBTX connection/transaction
// interface, transaction helpers, and common error values.
package store
