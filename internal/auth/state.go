package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadToken   = errors.New("bad token")
	ErrBadSig     = errors.New("invalid signature")
	ErrExpired    = errors.New("expired")
	ErrBadPayload = errors.New("bad payload")
)

// Signer issues short-lived HMAC tokens carrying a few string fields. It
// protects OAuth state and checkout return links from tampering.
type Signer struct {
	Secret []byte
	Now    func() time.Time
}

func NewSigner(secret string) Signer {
	return Signer{Secret: []byte(secret)}
}

func (s Signer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sign encodes fields and exp as payload.sig, both raw URL-safe base64.
func (s Signer) Sign(exp time.Time, fields ...string) string {
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		parts = append(parts, url.PathEscape(f))
	}
	parts = append(parts, strconv.FormatInt(exp.Unix(), 10))
	msg := []byte(strings.Join(parts, "|"))

	payload := base64.RawURLEncoding.EncodeToString(msg)
	return payload + "." + base64.RawURLEncoding.EncodeToString(s.mac(msg))
}

// SignFor is Sign with an expiry ttl from now.
func (s Signer) SignFor(ttl time.Duration, fields ...string) string {
	return s.Sign(s.now().Add(ttl), fields...)
}

// Verify checks the signature and expiry and returns the signed fields.
func (s Signer) Verify(token string) ([]string, error) {
	payloadB64, sigB64, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrBadToken
	}
	msg, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, ErrBadToken
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, ErrBadToken
	}
	if !hmac.Equal(sig, s.mac(msg)) {
		return nil, ErrBadSig
	}

	parts := strings.Split(string(msg), "|")
	expUnix, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil {
		return nil, ErrBadPayload
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return nil, ErrExpired
	}

	fields := make([]string, 0, len(parts)-1)
	for _, p := range parts[:len(parts)-1] {
		f, err := url.PathUnescape(p)
		if err != nil {
			return nil, ErrBadPayload
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (s Signer) mac(msg []byte) []byte {
	m := hmac.New(sha256.New, s.Secret)
	m.Write(msg)
	return m.Sum(nil)
}
