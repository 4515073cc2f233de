package routes

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/i18n"
	"github.com/briangreenhill/scriptmarket/internal/market"
)

const maxImageSize = 5 << 20

func (s *Server) handleAdminScripts(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": "Admin"}
	if _, err := s.Scripts.GetAll(r.Context()); err != nil {
		msg, done := s.pageError(w, r, err)
		if done {
			return
		}
		data["Error"] = msg
	} else {
		s.Cache.Set(catalogKey, true, s.Cfg.CacheTTL)
	}
	data["Scripts"] = s.Scripts.State().Items
	s.render(w, r, "admin_scripts", data)
}

// scriptForm reads the editable script fields. Fields missing from the form
// are left out so the backend keeps its values.
func scriptForm(r *http.Request) (map[string]any, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	out := map[string]any{}
	for _, k := range []string{"name", "game", "description", "currency", "version"} {
		if vs, ok := r.PostForm[k]; ok {
			out[k] = strings.TrimSpace(vs[0])
		}
	}
	if v := strings.TrimSpace(r.PostForm.Get("price")); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil || price < 0 {
			return nil, errBadPrice
		}
		out["price"] = price
	}
	if _, ok := r.PostForm["name"]; ok {
		out["active"] = r.PostForm.Get("active") != ""
	}
	return out, nil
}

var errBadPrice = errors.New("price must be a non-negative number")

func (s *Server) handleAdminCreateScript(w http.ResponseWriter, r *http.Request) {
	fields, err := scriptForm(r)
	if err != nil {
		s.flash(r, err.Error())
		http.Redirect(w, r, "/admin/scripts", http.StatusSeeOther)
		return
	}
	if name, _ := fields["name"].(string); name == "" {
		s.flash(r, "name required")
		http.Redirect(w, r, "/admin/scripts", http.StatusSeeOther)
		return
	}
	fields["active"] = true
	if _, err := s.Scripts.Create(r.Context(), fields, api.WithIdempotencyKey(uuid.NewString())); err != nil {
		s.fail(w, r, err, "/admin/scripts")
		return
	}
	s.flash(r, i18n.T(r.Context(), "admin.script_saved"))
	http.Redirect(w, r, "/admin/scripts", http.StatusSeeOther)
}

func (s *Server) handleAdminUpdateScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scriptID")
	fields, err := scriptForm(r)
	if err != nil {
		s.flash(r, err.Error())
		http.Redirect(w, r, "/admin/scripts", http.StatusSeeOther)
		return
	}
	if _, err := s.Scripts.Patch(r.Context(), id, fields); err != nil {
		s.fail(w, r, err, "/admin/scripts")
		return
	}
	s.flash(r, i18n.T(r.Context(), "admin.script_saved"))
	http.Redirect(w, r, "/admin/scripts", http.StatusSeeOther)
}

func (s *Server) handleAdminScriptImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scriptID")
	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		http.Error(w, "image too large or malformed", http.StatusBadRequest)
		return
	}
	f, hdr, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image required", http.StatusBadRequest)
		return
	}
	defer f.Close() //nolint:errcheck

	var updated market.Script
	err = s.API.Upload(r.Context(), "/scripts/"+url.PathEscape(id)+"/image", api.Form{
		Files: []api.FormFile{{Field: "image", Filename: hdr.Filename, Content: f}},
	}, &updated)
	if err != nil {
		s.fail(w, r, err, "/admin/scripts")
		return
	}
	if updated.ID != "" {
		s.Scripts.ReplaceItem(updated)
	}
	s.flash(r, i18n.T(r.Context(), "admin.script_saved"))
	http.Redirect(w, r, "/admin/scripts", http.StatusSeeOther)
}

func (s *Server) handleAdminDeleteScript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scriptID")
	if err := s.Scripts.Remove(r.Context(), id); err != nil {
		s.fail(w, r, err, "/admin/scripts")
		return
	}
	s.flash(r, i18n.T(r.Context(), "admin.script_deleted"))
	http.Redirect(w, r, "/admin/scripts", http.StatusSeeOther)
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": "Users"}
	users, err := s.Users.GetAll(r.Context())
	if err != nil {
		msg, done := s.pageError(w, r, err)
		if done {
			return
		}
		data["Error"] = msg
	}
	data["Users"] = users
	s.render(w, r, "admin_users", data)
}

func (s *Server) handleAdminLicenses(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Title": "Licenses"}
	licenses, err := s.Licenses.GetAll(r.Context())
	if err != nil {
		msg, done := s.pageError(w, r, err)
		if done {
			return
		}
		data["Error"] = msg
	}
	data["Licenses"] = licenses
	s.render(w, r, "admin_licenses", data)
}

func (s *Server) handleAdminRevokeLicense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "licenseID")
	lic, err := s.Licenses.Patch(r.Context(), id, map[string]string{"status": market.LicenseRevoked})
	if err != nil {
		s.fail(w, r, err, "/admin/licenses")
		return
	}
	if lic.UserID != "" {
		s.UserData.Invalidate(lic.UserID)
	}
	s.flash(r, i18n.T(r.Context(), "admin.license_revoked"))
	http.Redirect(w, r, "/admin/licenses", http.StatusSeeOther)
}
