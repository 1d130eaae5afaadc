package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// Registry holds all registered endpoints.
type Registry struct {
	endpoints []Endpoint
}

// NewRegistry creates a new endpoint registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an endpoint to the registry.
func (r *Registry) Register(ep Endpoint) {
	r.endpoints = append(r.endpoints, ep)
}

// RegisterRoutes registers all endpoint HTTP routes with the given mux.
// initMiddleware wraps handlers that require full server initialization.
func (r *Registry) RegisterRoutes(mux *http.ServeMux, initMiddleware func(http.HandlerFunc) http.HandlerFunc) {
	for _, ep := range r.endpoints {
		method, path, handler := ep.Route()
		if ep.RequiresInit() {
			handler = initMiddleware(handler)
		}
		mux.HandleFunc(method+" "+path, handler)
	}
}

// BuildCommands returns a cobra.Command tree for all registered endpoints.
// Commands are grouped by the first path segment after /api/, so
// GET /api/jobs/{id} becomes "api jobs get". Routes outside /api/ are
// attached directly.
func (r *Registry) BuildCommands(getServerURL func() string) *cobra.Command {
	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Commands that call the running server",
		Long: `API commands call the running quire server via HTTP.

These commands require a running server (quire serve).
Use --server to specify a custom server URL.

Examples:
  quire api health                  # Check server health
  quire api jobs create 7143038691  # Queue a download
  quire api jobs list               # List all jobs
  quire api updates check           # Look for new chapters`,
	}

	groups := make(map[string]*cobra.Command)
	for _, ep := range r.endpoints {
		_, path, _ := ep.Route()
		group := groupOf(path)
		if group == "" {
			apiCmd.AddCommand(ep.Command(getServerURL))
			continue
		}
		parent, ok := groups[group]
		if !ok {
			parent = &cobra.Command{Use: group, Short: "Manage " + group}
			groups[group] = parent
		}
		parent.AddCommand(ep.Command(getServerURL))
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		apiCmd.AddCommand(groups[name])
	}
	return apiCmd
}

func groupOf(path string) string {
	rest, ok := strings.CutPrefix(path, "/api/")
	if !ok {
		return ""
	}
	group, _, _ := strings.Cut(rest, "/")
	return group
}

// Endpoints returns all registered endpoints.
func (r *Registry) Endpoints() []Endpoint {
	return r.endpoints
}
