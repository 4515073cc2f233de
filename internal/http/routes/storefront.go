package routes

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/checkout"
	appmw "github.com/briangreenhill/scriptmarket/internal/http/middleware"
	"github.com/briangreenhill/scriptmarket/internal/i18n"
	"github.com/briangreenhill/scriptmarket/internal/jobs"
	"github.com/briangreenhill/scriptmarket/internal/market"
)

// catalogKey marks the scripts store as fresh in the TTL cache.
const catalogKey = "catalog:scripts"

const checkoutStateTTL = time.Hour

// catalog returns the script list, reloading it from the backend when the
// cached copy has expired. A failed reload falls back to the last list held
// by the store.
func (s *Server) catalog(ctx context.Context) ([]market.Script, error) {
	if _, ok := s.Cache.Get(catalogKey); ok {
		return s.Scripts.State().Items, nil
	}
	items, err := s.Scripts.GetAll(ctx)
	if err != nil {
		if stale := s.Scripts.State().Items; len(stale) > 0 {
			s.Logger.Warn().Err(err).Msg("serving stale catalog")
			return stale, nil
		}
		return nil, err
	}
	s.Cache.Set(catalogKey, true, s.Cfg.CacheTTL)
	return items, nil
}

func (s *Server) handleScripts(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": i18n.T(r.Context(), "nav.scripts")}
	scripts, err := s.catalog(r.Context())
	if err != nil {
		msg, done := s.pageError(w, r, err)
		if done {
			return
		}
		data["Error"] = msg
	}
	active := scripts[:0:0]
	for _, sc := range scripts {
		if sc.Active {
			active = append(active, sc)
		}
	}
	data["Scripts"] = active
	s.render(w, r, "scripts", data)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scriptID")

	sc, ok := s.Scripts.Find(id)
	if !ok {
		var err error
		sc, err = s.Scripts.GetByID(r.Context(), id)
		if err != nil {
			if api.IsNotFound(err) {
				s.renderStatus(w, r, http.StatusNotFound, "error", map[string]any{
					"Title": "Not found", "Message": api.Message(err),
				})
				return
			}
			msg, done := s.pageError(w, r, err)
			if done {
				return
			}
			s.renderStatus(w, r, http.StatusBadGateway, "error", map[string]any{"Title": "Error", "Message": msg})
			return
		}
	}

	s.render(w, r, "script", map[string]any{
		"Title":     sc.Name,
		"Script":    sc,
		"Providers": s.Checkout.List(),
	})
}

func (s *Server) handleCheckoutStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, err := s.Checkout.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	scriptID := strings.TrimSpace(r.Form.Get("script_id"))
	if scriptID == "" {
		http.Error(w, "script_id required", http.StatusBadRequest)
		return
	}

	state := s.Signer.SignFor(checkoutStateTTL, s.userID(r), scriptID, name)
	success := s.Cfg.SiteURL + "/checkout/" + name + "/success?state=" + url.QueryEscape(state)
	if name == checkout.Stripe {
		// filled in by Stripe on redirect
		success += "&session_id={CHECKOUT_SESSION_ID}"
	}

	sess, err := p.Begin(r.Context(), checkout.Request{
		ScriptID:       scriptID,
		SuccessURL:     success,
		CancelURL:      s.Cfg.SiteURL + "/checkout/cancel?script=" + url.QueryEscape(scriptID),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		s.fail(w, r, err, "/scripts/"+url.PathEscape(scriptID))
		return
	}
	hlog.FromRequest(r).Info().Str("provider", name).Str("session", sess.ID).Str("script", scriptID).Msg("checkout started")
	http.Redirect(w, r, sess.URL, http.StatusSeeOther)
}

func (s *Server) handleCheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	p, err := s.Checkout.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	fields, err := s.Signer.Verify(q.Get("state"))
	if err == nil && (len(fields) != 3 || fields[0] != s.userID(r) || fields[2] != name) {
		err = errors.New("state does not match session")
	}
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("checkout state rejected")
		http.Error(w, "invalid checkout state", http.StatusBadRequest)
		return
	}

	// Stripe returns session_id, PayPal returns the order as token.
	id := q.Get("session_id")
	if id == "" {
		id = q.Get("token")
	}
	if id == "" {
		http.Error(w, "missing checkout id", http.StatusBadRequest)
		return
	}

	pay, err := p.Confirm(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, "/scripts/"+url.PathEscape(fields[1]))
		return
	}

	userID := s.userID(r)
	s.UserData.Invalidate(userID)
	s.enqueueReceipt(r, pay, userID)

	s.flash(r, i18n.T(r.Context(), "checkout.success"))
	http.Redirect(w, r, "/licenses", http.StatusSeeOther)
}

func (s *Server) enqueueReceipt(r *http.Request, pay market.Payment, userID string) {
	log := hlog.FromRequest(r)
	if s.Jobs == nil {
		return
	}
	c := appmw.ClaimsFrom(r.Context())
	if c == nil || c.Email == "" {
		log.Info().Str("payment", pay.ID).Msg("no email on token, skipping receipt")
		return
	}
	task, err := jobs.NewPurchaseReceiptTask(jobs.PurchaseReceiptPayload{
		PaymentID: pay.ID,
		UserID:    userID,
		Email:     c.Email,
		Lang:      i18n.FromContext(r.Context()).String(),
	})
	if err != nil {
		log.Error().Err(err).Msg("build receipt task")
		return
	}
	info, err := s.Jobs.Enqueue(task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Info().Str("payment", pay.ID).Msg("receipt already queued")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("payment", pay.ID).Msg("enqueue receipt failed")
		return
	}
	log.Info().Str("task", info.ID).Str("queue", info.Queue).Msg("enqueued receipt")
}

func (s *Server) handleCheckoutCancel(w http.ResponseWriter, r *http.Request) {
	s.flash(r, i18n.T(r.Context(), "checkout.cancelled"))
	back := "/"
	if id := r.URL.Query().Get("script"); id != "" {
		back = "/scripts/" + url.PathEscape(id)
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}
