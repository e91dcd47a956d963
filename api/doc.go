// Package api holds the JSON request and response types of the record
// access HTTP API, shared between the server handlers and the typed client
// in api/clients.
package api
