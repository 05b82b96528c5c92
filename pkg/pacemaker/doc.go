// Package pacemaker parses the output of the pcs command line tool into
// read-only snapshots of the cluster topology.
//
// Snapshots are parsed fresh from every query and must not be cached.
package pacemaker
