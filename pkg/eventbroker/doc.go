// Package eventbroker implements the health event subscription registry.
//
// Producers publish on their own channel ("ha_event_<component>"). Consumers
// register the resource types, states and functional types they care about
// and read producer channels through Receive, which filters by those
// registrations.
package eventbroker
