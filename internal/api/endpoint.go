package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint is one server operation exposed both as an HTTP route and as
// a CLI command, so the two surfaces cannot drift apart.
type Endpoint interface {
	// Route returns the HTTP method, path, and handler for this endpoint.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the engine's backing
	// services (store client, change bus, session manager) to be up.
	// Health and readiness probes answer before initialization finishes;
	// everything else waits behind the init gate.
	RequiresInit() bool

	// Command returns a cobra command that calls this endpoint over HTTP.
	// getServerURL is evaluated at run time so the --server flag applies.
	Command(getServerURL func() string) *cobra.Command
}
