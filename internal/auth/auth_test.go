package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestSignerRoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := Signer{Secret: []byte("secret"), Now: fixedClock(now)}

	tok := s.SignFor(time.Minute, "s1", "stripe", "a|b c")
	fields, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "stripe", "a|b c"}, fields)
}

func TestSignerNoFields(t *testing.T) {
	s := NewSigner("secret")
	fields, err := s.Verify(s.SignFor(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestSignerRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	s := Signer{Secret: []byte("secret"), Now: fixedClock(now)}
	good := s.SignFor(time.Minute, "nonce")
	payload, _, _ := strings.Cut(good, ".")

	later := Signer{Secret: []byte("secret"), Now: fixedClock(now.Add(2 * time.Minute))}
	other := Signer{Secret: []byte("other"), Now: fixedClock(now)}

	tests := []struct {
		name  string
		s     Signer
		token string
		want  error
	}{
		{"no dot", s, "abc", ErrBadToken},
		{"bad base64", s, "!!!." + "x", ErrBadToken},
		{"wrong secret", other, good, ErrBadSig},
		{"tampered sig", s, payload + ".AAAA", ErrBadSig},
		{"expired", later, good, ErrExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.s.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-key"))
	require.NoError(t, err)
	return tok
}

func TestParseClaims(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	c, err := ParseClaims(token(t, jwt.MapClaims{
		"sub":   "u1",
		"email": "a@example.com",
		"role":  "admin",
		"exp":   now.Add(time.Hour).Unix(),
	}), now)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, "a@example.com", c.Email)
	assert.True(t, c.IsAdmin())
}

func TestParseClaimsRejects(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	_, err := ParseClaims("not-a-jwt", now)
	assert.ErrorIs(t, err, ErrBadToken)

	_, err = ParseClaims(token(t, jwt.MapClaims{"role": "admin"}), now)
	assert.ErrorIs(t, err, ErrBadPayload)

	_, err = ParseClaims(token(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Minute).Unix()}), now)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestDiscordConfig(t *testing.T) {
	c := DiscordConfig("id", "secret", "https://market.example")
	assert.Equal(t, "https://market.example/oauth/discord/callback", c.RedirectURL)
	assert.Contains(t, c.AuthCodeURL("st"), "discord.com/oauth2/authorize")
}
