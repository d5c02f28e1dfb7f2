// Package connection is the wamesh-cli side of the REST API: an HTTP
// client that authenticates with X-API-Key and unwraps the server's
// {success, data, error, code} response envelope.
package connection
