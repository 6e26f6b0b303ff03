package main

import (
	"net/http"
	"strings"

	"github.com/pierre-mcp/pierre/pkg/api"
)

// providerHandler serves GET /providers/{name}/authorize and
// GET /providers/{name}/callback for every connected fitness provider.
// Neither route goes through the bearer-token middleware (pkg/auth's
// publicPrefixes carves "/providers/" out): authorize resolves its own
// principal from the Authorization header, the same way
// auth.NewMiddleware would, and callback has none to resolve at all.
// It's the provider's own redirect, authenticated by its state
// parameter instead.
func providerHandler(d *deps) http.HandlerFunc {
	resolvePrincipal := principalFromBearer(d.tokens)

	return func(w http.ResponseWriter, r *http.Request) {
		name, action, ok := splitProviderPath(r.URL.Path)
		if !ok {
			api.WriteNotFound(w, "unknown providers route")
			return
		}

		client, ok := d.providers[name]
		if !ok {
			api.WriteNotFound(w, "provider "+name+" is not configured")
			return
		}

		switch action {
		case "authorize":
			principal, ok := resolvePrincipal(r)
			if !ok {
				api.WriteUnauthorized(w, "a bearer token identifying the connecting user is required")
				return
			}
			authorizeURL, err := client.AuthorizeURL(r.Context(), principal.GetTenantID(), principal.GetID(), d.stateTTL)
			if err != nil {
				api.WriteInternal(w, err)
				return
			}
			http.Redirect(w, r, authorizeURL, http.StatusFound)

		case "callback":
			state := r.URL.Query().Get("state")
			code := r.URL.Query().Get("code")
			if state == "" || code == "" {
				api.WriteBadRequest(w, "state and code are required")
				return
			}
			if _, err := client.CompleteCallback(r.Context(), state, code); err != nil {
				api.WriteBadRequest(w, "provider authorization failed: "+err.Error())
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("provider connected, you may close this window"))

		default:
			api.WriteNotFound(w, "unknown providers route")
		}
	}
}

// splitProviderPath parses "/providers/{name}/{action}" into its parts.
func splitProviderPath(path string) (name, action string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/providers/")
	if trimmed == path {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
