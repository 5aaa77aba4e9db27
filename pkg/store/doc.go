/*
Package store resolves and reads the on-disk configuration tree.

The tree under the configuration directory is the ground truth for what
worlds exist:

	<root>/Events/docker-compose.yml                     global config
	<root>/Events/<event>/docker-compose.yml             event descriptor
	<root>/Events/<event>/<user>/docker-compose.yml      world compose file
	<root>/Events/<event>/<user>/peer/peer_<user>.conf   wireguard peer config

A world counts as created exactly when its peer config file exists; the
integrity check and the reconciler both key off that file, not off any
in-memory state. Directory listings skip dot-entries, and a missing
Events tree lists as empty rather than erroring, so a fresh daemon on an
empty directory starts clean.

The store never parses YAML; it hands paths and raw bytes to
pkg/lifecycle, which owns descriptor semantics.
*/
package store
