package auth

import "golang.org/x/oauth2"

var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// DiscordConfig is the "Sign in with Discord" client. The Discord token it
// yields is handed to the backend, which owns the account link.
func DiscordConfig(clientID, clientSecret, siteURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  siteURL + "/oauth/discord/callback",
		Scopes:       []string{"identify", "email"},
		Endpoint:     DiscordEndpoint,
	}
}
