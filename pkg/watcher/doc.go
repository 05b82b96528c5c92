// Package watcher converts platform watch streams into health events.
//
// Each object class (nodes, storage member pods) has its own Watcher with a
// private readiness cache. A Watcher emits "online" when a resource becomes
// ready and "failed" when a ready resource stops being ready; repeated
// readiness values, deletions and indeterminate conditions produce nothing.
// The last published status per resource is tracked separately so a
// reconnect that replays ADDED events does not publish the same alert twice.
package watcher
