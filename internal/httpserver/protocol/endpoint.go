package protocol

import "net/http"

// EndpointRoute is one method and path served by an Endpoint.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoint groups related routes under a key that can be enabled per
// listener.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}
