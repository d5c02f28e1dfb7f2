// Package command defines the wamesh-cli command tree.
//
// Commands talk to a wamesh-server over its REST API. Connection details
// come from flags, WAMESH_* environment variables, or a named profile in
// ~/.wamesh/cli.yaml, in that order. "wamesh-cli shell" runs the same
// commands interactively.
package command
