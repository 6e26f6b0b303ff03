// Package tools is the concrete tool set registered into the MCP/A2A
// tool registry: the handlers a dispatched tools/call or
// /a2a/invoke actually runs, built on top of the Provider OAuth Client
// (pkg/provider) and Credential Store (pkg/credentials).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/credentials"
	"github.com/pierre-mcp/pierre/pkg/dispatch"
	"github.com/pierre-mcp/pierre/pkg/provider"
	"github.com/pierre-mcp/pierre/pkg/registry"
	"github.com/pierre-mcp/pierre/pkg/tooling"
)

// Deps bundles what the tool set needs to build its handlers. Strava gets
// its own field since it's the one provider with a concrete client
// (pkg/provider's doc comment on why); the rest are reached generically
// through Providers, keyed by name.
type Deps struct {
	Strava    *provider.StravaClient
	Providers map[string]*provider.Client
	Creds     credentials.Store
}

// RegisterAll registers every tool this deployment exposes into catalog.
// Handlers never trust a caller-supplied tenant or user id: both come
// exclusively from the dispatched auth.Principal, which the Session &
// Token Authenticator has already resolved from the bearer token.
func RegisterAll(catalog registry.Catalog, deps Deps) error {
	if deps.Strava != nil {
		if err := catalog.Register(registry.Entry{
			Descriptor: tooling.Descriptor{
				Name:           "strava.profile",
				Description:    "Fetch the connected Strava athlete's profile",
				Category:       "fitness",
				RequiredScopes: []string{"profile:read"},
				InputSchema:    json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
			},
			Handler: stravaProfileHandler(deps.Strava),
		}); err != nil {
			return fmt.Errorf("tools: register strava.profile: %w", err)
		}
	}

	if deps.Creds != nil {
		if err := catalog.Register(registry.Entry{
			Descriptor: tooling.Descriptor{
				Name:           "providers.status",
				Description:    "List which fitness providers the caller has connected",
				Category:       "providers",
				RequiredScopes: []string{"providers:read"},
				InputSchema:    json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
			},
			Handler: providerStatusHandler(deps.Creds, providerNames(deps.Providers)),
		}); err != nil {
			return fmt.Errorf("tools: register providers.status: %w", err)
		}
	}

	return nil
}

func providerNames(providers map[string]*provider.Client) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// principalFromContext pulls the caller's resolved identity back out of
// the handler's context; dispatch.Invoke's caller (pkg/mcpserver,
// pkg/a2a) never threads it through params, since a tool's authority MUST
// come from the authenticated session, never from caller-supplied input.
func principalFromContext(ctx context.Context) (auth.Principal, error) {
	return auth.GetPrincipal(ctx)
}

func stravaProfileHandler(client *provider.StravaClient) registry.Handler {
	return func(ctx context.Context, params []byte) ([]byte, error) {
		principal, err := principalFromContext(ctx)
		if err != nil {
			return nil, err
		}
		dispatch.ProgressFromContext(ctx)(0, "fetching athlete profile")
		athlete, err := client.FetchAthlete(ctx, principal.GetTenantID(), principal.GetID())
		if err != nil {
			return nil, err
		}
		dispatch.ProgressFromContext(ctx)(1, "done")
		return json.Marshal(athlete)
	}
}

func providerStatusHandler(creds credentials.Store, providers []string) registry.Handler {
	return func(ctx context.Context, params []byte) ([]byte, error) {
		principal, err := principalFromContext(ctx)
		if err != nil {
			return nil, err
		}
		statuses, err := creds.ListStatus(ctx, principal.GetTenantID(), principal.GetID(), providers)
		if err != nil {
			return nil, err
		}
		return json.Marshal(statuses)
	}
}
