// Package provider implements the Provider OAuth Client: a
// per-(tenant, user, provider) OAuth 2.0 authorization-code flow against a
// fitness provider, with transparent, coalesced refresh.
//
// Six providers are named in scope (Strava, Garmin, Fitbit, WHOOP, COROS,
// Terra). All six are standard RFC 6749 authorization-code providers
// differing only in endpoint URLs and scope syntax, so one generic Client
// is driven by a Descriptor table rather than one bespoke type per
// provider. Strava additionally gets a small concrete wrapper (strava.go)
// since its token response carries an embedded athlete profile the others
// don't.
package provider

// Descriptor is the static, provider-specific shape of an OAuth 2.0
// authorization-code flow.
type Descriptor struct {
	Name            string
	AuthorizeURL    string
	TokenURL        string
	DeauthorizeURL  string // empty if the provider has no revoke endpoint
	DefaultScopes   []string
	ScopeSeparator  string // most providers use a space; Strava uses a comma
	AuthStyleInBody bool   // true: client_id/secret as form fields; false: HTTP Basic
}

// Catalog is the registered set of providers Pierre can connect to.
var Catalog = map[string]Descriptor{
	"strava": {
		Name:            "strava",
		AuthorizeURL:    "https://www.strava.com/oauth/authorize",
		TokenURL:        "https://www.strava.com/oauth/token",
		DeauthorizeURL:  "https://www.strava.com/oauth/deauthorize",
		DefaultScopes:   []string{"activity:read_all", "profile:read_all"},
		ScopeSeparator:  ",",
		AuthStyleInBody: true,
	},
	"garmin": {
		Name:            "garmin",
		AuthorizeURL:    "https://connect.garmin.com/oauth2Confirm",
		TokenURL:        "https://connectapi.garmin.com/oauth-service/oauth/token",
		DefaultScopes:   []string{"ACTIVITY_EXPORT"},
		ScopeSeparator:  " ",
		AuthStyleInBody: true,
	},
	"fitbit": {
		Name:            "fitbit",
		AuthorizeURL:    "https://www.fitbit.com/oauth2/authorize",
		TokenURL:        "https://api.fitbit.com/oauth2/token",
		DefaultScopes:   []string{"activity", "profile", "heartrate"},
		ScopeSeparator:  " ",
		AuthStyleInBody: false,
	},
	"whoop": {
		Name:            "whoop",
		AuthorizeURL:    "https://api.prod.whoop.com/oauth/oauth2/auth",
		TokenURL:        "https://api.prod.whoop.com/oauth/oauth2/token",
		DefaultScopes:   []string{"read:recovery", "read:cycles", "read:sleep"},
		ScopeSeparator:  " ",
		AuthStyleInBody: true,
	},
	"coros": {
		Name:            "coros",
		AuthorizeURL:    "https://open.coros.com/oauth2/authorize",
		TokenURL:        "https://open.coros.com/oauth2/accesstoken",
		DefaultScopes:   []string{"activity:read"},
		ScopeSeparator:  " ",
		AuthStyleInBody: true,
	},
	"terra": {
		Name:            "terra",
		AuthorizeURL:    "https://api.tryterra.co/v2/auth/authenticateUser",
		TokenURL:        "https://api.tryterra.co/v2/auth/token",
		DefaultScopes:   []string{"activity", "body", "daily"},
		ScopeSeparator:  " ",
		AuthStyleInBody: true,
	},
}

// Lookup returns the Descriptor for a named provider.
func Lookup(name string) (Descriptor, bool) {
	d, ok := Catalog[name]
	return d, ok
}
