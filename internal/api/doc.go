// Package api provides the HTTP surface of the orchestrator: task
// submission and control, task inspection, and a live event stream.
package api
