package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/auth"
	"github.com/briangreenhill/scriptmarket/internal/i18n"
	"github.com/briangreenhill/scriptmarket/internal/market"
)

const (
	sessOAuthNonce = "oauth_nonce"
	oauthStateTTL  = 10 * time.Minute
)

// loginReply is what the backend returns for every sign-in method.
type loginReply struct {
	AccessToken string      `json:"accessToken"`
	User        market.User `json:"user"`
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "login", map[string]any{
		"Title":   i18n.T(r.Context(), "nav.login"),
		"Next":    safeNext(r.URL.Query().Get("next")),
		"Discord": s.Discord != nil,
	})
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	email := strings.TrimSpace(r.Form.Get("email"))
	next := safeNext(r.Form.Get("next"))

	reply, err := api.Post[loginReply](r.Context(), s.API, "/auth/login", map[string]string{
		"email":    email,
		"password": r.Form.Get("password"),
	}, api.Public())
	if err != nil {
		hlog.FromRequest(r).Info().Err(err).Str("email", email).Msg("login failed")
		msg := api.Message(err)
		if api.StatusCode(err) == 0 {
			msg = i18n.T(r.Context(), "login.failed")
		}
		s.flash(r, msg)
		s.renderStatus(w, r, http.StatusUnauthorized, "login", map[string]any{
			"Title":   i18n.T(r.Context(), "nav.login"),
			"Next":    next,
			"Email":   email,
			"Discord": s.Discord != nil,
		})
		return
	}
	if err := s.signIn(r.Context(), reply); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("start session")
		http.Error(w, "could not start session", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// signIn stores the backend token in a fresh session.
func (s *Server) signIn(ctx context.Context, reply loginReply) error {
	if _, err := auth.ParseClaims(reply.AccessToken, s.now()); err != nil {
		return err
	}
	if err := s.Sess.RenewToken(ctx); err != nil {
		return err
	}
	s.Sess.Put(ctx, sessToken, reply.AccessToken)
	s.Logger.Info().Str("user", reply.User.ID).Msg("signed in")
	return nil
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := s.userID(r); id != "" {
		s.UserData.Invalidate(id)
	}
	if err := s.Sess.Destroy(r.Context()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("destroy session")
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleDiscordStart(w http.ResponseWriter, r *http.Request) {
	if s.Discord == nil {
		http.NotFound(w, r)
		return
	}
	nonce := uuid.NewString()
	s.Sess.Put(r.Context(), sessOAuthNonce, nonce)
	state := s.Signer.SignFor(oauthStateTTL, nonce, safeNext(r.URL.Query().Get("next")))
	http.Redirect(w, r, s.Discord.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleDiscordCallback(w http.ResponseWriter, r *http.Request) {
	if s.Discord == nil {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	log := hlog.FromRequest(r)
	q := r.URL.Query()

	fields, err := s.Signer.Verify(q.Get("state"))
	nonce := s.Sess.PopString(ctx, sessOAuthNonce)
	if err != nil || len(fields) != 2 || nonce == "" || fields[0] != nonce {
		log.Warn().Err(err).Msg("discord state rejected")
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}
	if e := q.Get("error"); e != "" {
		s.flash(r, i18n.T(ctx, "login.failed"))
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	tok, err := s.Discord.Exchange(ctx, q.Get("code"))
	if err != nil {
		log.Error().Err(err).Msg("discord token exchange failed")
		s.flash(r, i18n.T(ctx, "login.failed"))
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}

	reply, err := api.Post[loginReply](ctx, s.API, "/auth/discord", map[string]string{
		"accessToken": tok.AccessToken,
	}, api.Public())
	if err != nil {
		log.Info().Err(err).Msg("backend rejected discord login")
		s.flash(r, api.Message(err))
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if err := s.signIn(ctx, reply); err != nil {
		log.Error().Err(err).Msg("start session")
		http.Error(w, "could not start session", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, safeNext(fields[1]), http.StatusSeeOther)
}
