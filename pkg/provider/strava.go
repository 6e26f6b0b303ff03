package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pierre-mcp/pierre/pkg/credentials"
)

const stravaAthleteURL = "https://www.strava.com/api/v3/athlete"

// StravaClient wraps the generic Client and adds FetchAthlete, which reads
// the summary athlete profile from Strava's /athlete endpoint. The token
// exchange goes through the generic Client unchanged; the athlete profile
// embedded in Strava's token response is not parsed or kept.
type StravaClient struct {
	*Client
}

// Athlete is Strava's summary athlete object, returned both embedded in
// the token response and from the standalone /athlete endpoint.
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

type stravaTokenResponse struct {
	TokenResponse
	Athlete *Athlete `json:"athlete,omitempty"`
}

// NewStravaClient constructs the Strava reference client from the
// registered Descriptor and the server's Strava app credentials.
func NewStravaClient(clientID, clientSecret, redirectURI string, creds credentials.Store, states StateStore) (*StravaClient, error) {
	d, ok := Lookup("strava")
	if !ok {
		return nil, fmt.Errorf("provider: strava descriptor not registered")
	}
	return &StravaClient{Client: NewClient(d, clientID, clientSecret, redirectURI, creds, states)}, nil
}

// FetchAthlete retrieves the authenticated athlete's profile using a
// currently valid access token obtained via AccessToken.
func (c *StravaClient) FetchAthlete(ctx context.Context, tenantID, userID string) (*Athlete, error) {
	accessToken, err := c.AccessToken(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, stravaAthleteURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: strava athlete request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: strava athlete request returned %d", resp.StatusCode)
	}

	var athlete Athlete
	if err := json.NewDecoder(resp.Body).Decode(&athlete); err != nil {
		return nil, fmt.Errorf("provider: decode athlete: %w", err)
	}
	return &athlete, nil
}
