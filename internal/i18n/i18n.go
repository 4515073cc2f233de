// Package i18n picks the storefront language for a request and holds the
// message catalog.
package i18n

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	LangParam      = "lang"
	LangCookieName = "sm_lang"
)

var supported = []language.Tag{
	language.English,
	language.German,
	language.Spanish,
}

var matcher = language.NewMatcher(supported)

func Supported() []language.Tag {
	return append([]language.Tag(nil), supported...)
}

func Default() language.Tag { return language.English }

// Resolve picks the language from, in order, the lang query param, the
// language cookie and Accept-Language. persist is true when the query param
// won and should be saved in the cookie.
func Resolve(r *http.Request) (tag language.Tag, persist bool) {
	if v := strings.TrimSpace(r.URL.Query().Get(LangParam)); v != "" {
		if tag, ok := parse(v); ok {
			return tag, true
		}
	}
	if c, err := r.Cookie(LangCookieName); err == nil {
		if tag, ok := parse(c.Value); ok {
			return tag, false
		}
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, idx, conf := matcher.Match(tags...)
			if conf != language.No {
				return supported[idx], false
			}
		}
	}
	return Default(), false
}

func SetCookie(w http.ResponseWriter, tag language.Tag) {
	http.SetCookie(w, &http.Cookie{
		Name:     LangCookieName,
		Value:    tag.String(),
		Path:     "/",
		MaxAge:   int((365 * 24 * time.Hour).Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

// parse accepts only supported languages; regional variants map to their
// base ("de-AT" is German).
func parse(v string) (language.Tag, bool) {
	t, err := language.Parse(v)
	if err != nil {
		return language.Tag{}, false
	}
	base, _ := t.Base()
	for _, s := range supported {
		if sb, _ := s.Base(); sb == base {
			return s, true
		}
	}
	return language.Tag{}, false
}

type ctxKey struct{}

// Middleware stores the resolved language on the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag, persist := Resolve(r)
		if persist {
			SetCookie(w, tag)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, tag)))
	})
}

func FromContext(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(ctxKey{}).(language.Tag); ok {
		return tag
	}
	return Default()
}

func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// T translates key for the language on ctx. Unknown keys come back as-is.
func T(ctx context.Context, key string, args ...any) string {
	return For(ctx).T(key, args...)
}

// Localizer translates for one language. Templates call {{.L.T "key"}}.
type Localizer struct {
	Tag language.Tag
	p   *message.Printer
}

func For(ctx context.Context) Localizer {
	tag := FromContext(ctx)
	return Localizer{Tag: tag, p: Printer(tag)}
}

func (l Localizer) T(key string, args ...any) string {
	if l.p == nil {
		tag := l.Tag
		if tag == language.Und {
			tag = Default()
		}
		l.p = Printer(tag)
	}
	return l.p.Sprintf(key, args...)
}
