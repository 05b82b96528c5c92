// Package action reacts to health events. A Factory picks the handler for the
// event's resource type and the handler branches on the reported state,
// optionally republishing the event as the ha component and asking the
// orchestration client to move nodes in and out of standby.
package action
