package routes

import (
	"html/template"
	"net/http"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/oauth2"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/auth"
	"github.com/briangreenhill/scriptmarket/internal/cache"
	"github.com/briangreenhill/scriptmarket/internal/checkout"
	"github.com/briangreenhill/scriptmarket/internal/config"
	appmw "github.com/briangreenhill/scriptmarket/internal/http/middleware"
	"github.com/briangreenhill/scriptmarket/internal/i18n"
	"github.com/briangreenhill/scriptmarket/internal/jobs"
	"github.com/briangreenhill/scriptmarket/internal/market"
	"github.com/briangreenhill/scriptmarket/internal/store"
	"github.com/briangreenhill/scriptmarket/internal/userdata"
)

// Session keys.
const (
	sessToken = "access_token"
	sessFlash = "flash"
)

type Server struct {
	Router   *chi.Mux
	Sess     *scs.SessionManager
	Tmpl     *template.Template
	API      *api.Client
	Cache    *cache.TTL
	Scripts  *store.Store[market.Script]
	Users    *store.Store[market.User]
	Licenses *store.Store[market.License] // every user's licenses, admin only
	UserData *userdata.Fetcher
	Checkout *checkout.Registry
	Jobs     jobs.Enqueuer
	Signer   auth.Signer
	Discord  *oauth2.Config
	Cfg      config.Config
	Logger   zerolog.Logger

	now func() time.Time
}

type ServerOptions struct {
	Sess     *scs.SessionManager
	Tmpl     *template.Template
	API      *api.Client
	Cache    *cache.TTL
	Scripts  *store.Store[market.Script]
	Users    *store.Store[market.User]
	Licenses *store.Store[market.License]
	UserData *userdata.Fetcher
	Checkout *checkout.Registry
	Jobs     jobs.Enqueuer
	Cfg      config.Config
	Logger   zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	s := &Server{
		Router:   r,
		Sess:     opts.Sess,
		Tmpl:     opts.Tmpl,
		API:      opts.API,
		Cache:    opts.Cache,
		Scripts:  opts.Scripts,
		Users:    opts.Users,
		Licenses: opts.Licenses,
		UserData: opts.UserData,
		Checkout: opts.Checkout,
		Jobs:     opts.Jobs,
		Signer:   auth.NewSigner(opts.Cfg.SessionSecret),
		Cfg:      opts.Cfg,
		Logger:   opts.Logger,
		now:      time.Now,
	}
	if s.Checkout == nil {
		s.Checkout = checkout.NewRegistry()
	}
	if opts.Cfg.HasDiscord() {
		s.Discord = auth.DiscordConfig(opts.Cfg.Discord.ClientID, opts.Cfg.Discord.ClientSecret, opts.Cfg.SiteURL)
	}

	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(chimw.RealIP)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)
	r.Use(s.Sess.LoadAndSave)
	r.Use(i18n.Middleware)
	r.Use(s.sessionToContext)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})

	r.Get("/", s.handleScripts)
	r.Get("/scripts/{scriptID}", s.handleScript)
	r.Get("/login", s.handleLogin)
	r.Post("/login", s.handleLoginSubmit)
	r.Post("/logout", s.handleLogout)
	r.Get("/oauth/discord/start", s.handleDiscordStart)
	r.Get("/oauth/discord/callback", s.handleDiscordCallback)

	r.Group(func(pr chi.Router) {
		pr.Use(appmw.RequireAuth)
		pr.Get("/account", s.handleAccount)
		pr.Get("/licenses", s.handleLicenses)
		pr.Post("/licenses/{licenseID}/ip", s.handleLicenseIP)
		pr.Post("/licenses/{licenseID}/reset", s.handleLicenseReset)
		pr.Get("/activity", s.handleActivity)
		pr.Get("/payments", s.handlePayments)

		pr.Post("/checkout/{provider}", s.handleCheckoutStart)
		pr.Get("/checkout/{provider}/success", s.handleCheckoutSuccess)
		pr.Get("/checkout/cancel", s.handleCheckoutCancel)

		pr.Get("/api/activity", pollJSON[[]market.Activity](s, userdata.ActivityEndpoint))
		pr.Get("/api/payments", pollJSON[[]market.Payment](s, userdata.PaymentsEndpoint))
		pr.Get("/api/activity/stream", stream[[]market.Activity](s, userdata.ActivityEndpoint))
		pr.Get("/api/payments/stream", stream[[]market.Payment](s, userdata.PaymentsEndpoint))
	})

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(appmw.RequireAuth)
		ar.Use(appmw.RequireAdmin)
		ar.Get("/scripts", s.handleAdminScripts)
		ar.Post("/scripts", s.handleAdminCreateScript)
		ar.Post("/scripts/{scriptID}", s.handleAdminUpdateScript)
		ar.Post("/scripts/{scriptID}/image", s.handleAdminScriptImage)
		ar.Post("/scripts/{scriptID}/delete", s.handleAdminDeleteScript)
		ar.Get("/users", s.handleAdminUsers)
		ar.Get("/licenses", s.handleAdminLicenses)
		ar.Post("/licenses/{licenseID}/revoke", s.handleAdminRevokeLicense)
	})

	return s
}

// sessionToContext exposes the session's access token to the API client and
// its claims to handlers. An unreadable or expired token ends the session.
func (s *Server) sessionToContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if tok := s.Sess.GetString(ctx, sessToken); tok != "" {
			claims, err := auth.ParseClaims(tok, s.now())
			if err != nil {
				hlog.FromRequest(r).Info().Err(err).Msg("dropping session token")
				s.Sess.Remove(ctx, sessToken)
				s.flash(r, i18n.T(ctx, "session.expired"))
			} else {
				ctx = api.WithToken(ctx, tok)
				ctx = appmw.WithClaims(ctx, claims)
				hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
					return c.Str("user", claims.Subject)
				})
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	s.renderStatus(w, r, http.StatusOK, name, data)
}

func (s *Server) renderStatus(w http.ResponseWriter, r *http.Request, status int, name string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	ctx := r.Context()
	data["L"] = i18n.For(ctx)
	data["User"] = appmw.ClaimsFrom(ctx)
	data["Flash"] = s.Sess.PopString(ctx, sessFlash)
	data["AnalyticsID"] = s.Cfg.AnalyticsID
	if _, ok := data["Title"]; !ok {
		data["Title"] = "ScriptMarket"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.Tmpl.ExecuteTemplate(w, name, data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("template", name).Msg("render template failed")
	}
}

// flash queues a one-shot message shown on the next rendered page.
func (s *Server) flash(r *http.Request, msg string) {
	s.Sess.Put(r.Context(), sessFlash, msg)
}

// fail handles a failed backend call made on behalf of a form post: a 401
// signs the user out, anything else is flashed and the user is sent back.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, back string) {
	if api.IsUnauthorized(err) {
		s.expire(w, r)
		return
	}
	hlog.FromRequest(r).Error().Err(err).Msg("backend call failed")
	s.flash(r, api.Message(err))
	http.Redirect(w, r, back, http.StatusSeeOther)
}

// pageError reports whether err was handled by ending the session. Other
// errors are logged and returned as the message to show on the page.
func (s *Server) pageError(w http.ResponseWriter, r *http.Request, err error) (string, bool) {
	if api.IsUnauthorized(err) {
		s.expire(w, r)
		return "", true
	}
	hlog.FromRequest(r).Error().Err(err).Msg("backend call failed")
	return api.Message(err), false
}

// expire ends the session after the backend rejected its token.
func (s *Server) expire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if c := appmw.ClaimsFrom(ctx); c != nil {
		s.UserData.Invalidate(c.Subject)
	}
	s.Sess.Remove(ctx, sessToken)
	if err := s.Sess.RenewToken(ctx); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("renew session token")
	}
	s.flash(r, i18n.T(ctx, "session.expired"))
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) userID(r *http.Request) string {
	if c := appmw.ClaimsFrom(r.Context()); c != nil {
		return c.Subject
	}
	return ""
}
