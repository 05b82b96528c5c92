// Package orchestration runs cluster operations through pcs and verifies
// each of them against freshly queried pacemaker status before returning.
package orchestration
