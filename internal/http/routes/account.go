package routes

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/fetch"
	"github.com/briangreenhill/scriptmarket/internal/i18n"
	"github.com/briangreenhill/scriptmarket/internal/market"
	"github.com/briangreenhill/scriptmarket/internal/store"
)

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": "Account"}
	d, err := s.UserData.Dashboard(r.Context(), s.userID(r))
	if err != nil {
		msg, done := s.pageError(w, r, err)
		if done {
			return
		}
		data["Error"] = msg
	} else {
		data["Dashboard"] = d
	}
	s.render(w, r, "account", data)
}

func (s *Server) handleLicenses(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": i18n.T(r.Context(), "nav.licenses")}
	licenses, err := s.UserData.Licenses(r.Context(), s.userID(r))
	if err != nil {
		msg, done := s.pageError(w, r, err)
		if done {
			return
		}
		data["Error"] = msg
	}
	data["Licenses"] = licenses
	s.render(w, r, "licenses", data)
}

// userLicenses is a request-scoped store over the user's cached licenses, so
// a mutation is reconciled against what the user was shown.
func (s *Server) userLicenses(r *http.Request) (*store.Store[market.License], error) {
	licenses, err := s.UserData.Licenses(r.Context(), s.userID(r))
	if err != nil {
		return nil, err
	}
	st := store.New[market.License](s.API, store.Config{Name: "licenses", Endpoint: "/licenses"})
	st.SetItems(licenses)
	return st, nil
}

func (s *Server) handleLicenseIP(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "licenseID")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	ip := strings.TrimSpace(r.Form.Get("ip"))
	if ip != "" && net.ParseIP(ip) == nil {
		s.flash(r, fmt.Sprintf("%q is not an IP address", ip))
		http.Redirect(w, r, "/licenses", http.StatusSeeOther)
		return
	}

	licenses, err := s.userLicenses(r)
	if err != nil {
		s.fail(w, r, err, "/licenses")
		return
	}
	if _, ok := licenses.Find(id); !ok {
		http.Error(w, "license not found", http.StatusNotFound)
		return
	}
	if _, err := licenses.Patch(r.Context(), id, map[string]string{"boundIp": ip}); err != nil {
		s.fail(w, r, err, "/licenses")
		return
	}

	s.UserData.Invalidate(s.userID(r))
	s.flash(r, i18n.T(r.Context(), "licenses.ip_saved"))
	http.Redirect(w, r, "/licenses", http.StatusSeeOther)
}

func (s *Server) handleLicenseReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "licenseID")
	if err := s.API.Post(r.Context(), "/licenses/"+url.PathEscape(id)+"/reset", nil, nil); err != nil {
		s.fail(w, r, err, "/licenses")
		return
	}
	s.UserData.Invalidate(s.userID(r))
	s.flash(r, i18n.T(r.Context(), "licenses.reset_done"))
	http.Redirect(w, r, "/licenses", http.StatusSeeOther)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": i18n.T(r.Context(), "nav.activity")}
	items, err := s.UserData.Activity(r.Context(), s.userID(r))
	if err != nil {
		msg, done := s.pageError(w, r, err)
		if done {
			return
		}
		data["Error"] = msg
	}
	data["Activity"] = items
	s.render(w, r, "activity", data)
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": i18n.T(r.Context(), "nav.payments")}
	items, err := s.UserData.Payments(r.Context(), s.userID(r))
	if err != nil {
		msg, done := s.pageError(w, r, err)
		if done {
			return
		}
		data["Error"] = msg
	}
	data["Payments"] = items
	s.render(w, r, "payments", data)
}

// resourceState is the JSON form of fetch.State.
type resourceState[T any] struct {
	Data      T         `json:"data"`
	Loading   bool      `json:"loading"`
	Error     string    `json:"error,omitempty"`
	Status    int       `json:"status,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

func toJSON[T any](st fetch.State[T]) resourceState[T] {
	return resourceState[T]{
		Data:      st.Data,
		Loading:   st.Loading,
		Error:     api.Message(st.Err),
		Status:    api.StatusCode(st.Err),
		UpdatedAt: st.UpdatedAt,
	}
}

// pollJSON serves the current state of a backend resource for views that
// poll from the browser.
func pollJSON[T any](s *Server, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := fetch.New[T](s.API, endpoint, fetch.Options[T]{Immediate: true})
		_ = res.Mount(r.Context())
		res.Unmount()

		st := res.State()
		status := http.StatusOK
		if st.Err != nil {
			status = http.StatusBadGateway
			if api.IsUnauthorized(st.Err) {
				status = http.StatusUnauthorized
			}
		}
		writeJSON(w, r, status, toJSON(st))
	}
}

// stream pushes the resource as server-sent events, re-fetching every
// POLL_INTERVAL until the client goes away.
func stream[T any](s *Server, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		log := hlog.FromRequest(r)

		updates := make(chan fetch.State[T], 1)
		res := fetch.New[T](s.API, endpoint, fetch.Options[T]{
			Immediate:       true,
			RefreshInterval: s.Cfg.PollInterval,
			OnChange: func(st fetch.State[T]) {
				if st.Loading {
					return
				}
				// keep only the newest state if the writer is behind
				select {
				case <-updates:
				default:
				}
				select {
				case updates <- st:
				default:
				}
			},
			Logger: log,
		})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := r.Context()
		if err := res.Mount(ctx); err != nil {
			log.Debug().Err(err).Str("endpoint", endpoint).Msg("initial stream fetch failed")
		}
		defer res.Unmount()

		for {
			select {
			case <-ctx.Done():
				return
			case st := <-updates:
				b, err := json.Marshal(toJSON(st))
				if err != nil {
					log.Error().Err(err).Msg("encode stream event")
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
					return
				}
				flusher.Flush()
				if api.IsUnauthorized(st.Err) {
					return
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("write json")
	}
}
