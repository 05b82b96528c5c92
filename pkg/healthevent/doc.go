// Package healthevent defines the versioned health event record exchanged
// between the resource watchers, the event broker and the action handlers,
// together with the subscription descriptor components register with.
//
// Resource types, statuses and functional types are closed enumerations:
// unknown values are rejected with ErrInvalidEvent and never coerced.
package healthevent
