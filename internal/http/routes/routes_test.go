package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/cache"
	"github.com/briangreenhill/scriptmarket/internal/checkout"
	"github.com/briangreenhill/scriptmarket/internal/config"
	"github.com/briangreenhill/scriptmarket/internal/jobs"
	"github.com/briangreenhill/scriptmarket/internal/market"
	"github.com/briangreenhill/scriptmarket/internal/store"
	"github.com/briangreenhill/scriptmarket/internal/userdata"
	"github.com/briangreenhill/scriptmarket/web"
)

func signToken(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": sub + "@example.com",
		"role":  role,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("backend"))
	require.NoError(t, err)
	return tok
}

type call struct {
	method, path, auth string
	body               map[string]any
}

// backend fakes the marketplace API.
type backend struct {
	t  *testing.T
	mu sync.Mutex

	calls        []call
	tokens       map[string]string // email -> token
	licensesCode int
	scripts      []market.Script
}

func (b *backend) record(r *http.Request) call {
	c := call{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(r.Body).Decode(&c.body)
	}
	b.mu.Lock()
	b.calls = append(b.calls, c)
	b.mu.Unlock()
	return c
}

func (b *backend) count(method, path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.method == method && c.path == path {
			n++
		}
	}
	return n
}

func (b *backend) last(method, path string) (call, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].method == method && b.calls[i].path == path {
			return b.calls[i], true
		}
	}
	return call{}, false
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := b.record(r)
	reply := func(status int, body string) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
	envelope := func(v any) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
	}

	switch {
	case c.method == "POST" && c.path == "/auth/login":
		tok, ok := b.tokens[c.body["email"].(string)]
		if !ok || c.body["password"] != "hunter2" {
			reply(http.StatusUnauthorized, `{"message":"Invalid credentials","statusCode":401}`)
			return
		}
		envelope(map[string]any{"accessToken": tok, "user": map[string]string{"id": "u1"}})
	case c.method == "GET" && c.path == "/scripts":
		b.mu.Lock()
		envelope(b.scripts)
		b.mu.Unlock()
	case c.method == "GET" && c.path == "/scripts/s1":
		envelope(b.scripts[0])
	case c.method == "POST" && c.path == "/scripts":
		envelope(map[string]any{"id": "s9", "name": c.body["name"], "active": true})
	case c.method == "GET" && c.path == userdata.LicensesEndpoint:
		if b.licensesCode != 0 {
			reply(b.licensesCode, `{"message":"Unauthorized","statusCode":401}`)
			return
		}
		envelope([]map[string]any{{"id": "l1", "key": "KEY-123", "status": "active", "scriptName": "Aimbot"}})
	case c.method == "PATCH" && c.path == "/licenses/l1":
		envelope(map[string]any{"id": "l1", "key": "KEY-123", "status": "active", "boundIp": c.body["boundIp"]})
	case c.method == "GET" && c.path == userdata.ActivityEndpoint:
		envelope([]map[string]any{{"id": "a1", "type": "login", "message": "Signed in"}})
	case c.method == "POST" && c.path == "/payments/stripe/checkout":
		envelope(map[string]any{"id": "cs_1", "url": "https://checkout.stripe.com/c/cs_1"})
	case c.method == "GET" && c.path == "/payments/stripe/checkout/cs_1":
		envelope(map[string]any{"id": "p1", "status": "paid"})
	default:
		reply(http.StatusNotFound, `{"message":"Not Found","statusCode":404}`)
	}
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *fakeQueue) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: jobs.QueueMail}, nil
}

type harness struct {
	srv     *Server
	url     string
	backend *backend
	queue   *fakeQueue
	client  *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b := &backend{
		t: t,
		tokens: map[string]string{
			"buyer@example.com": signToken(t, "u1", "customer"),
			"admin@example.com": signToken(t, "u2", "admin"),
		},
		scripts: []market.Script{
			{ID: "s1", Name: "Aimbot", Price: 9.99, Currency: "EUR", Active: true},
			{ID: "s2", Name: "Retired", Active: false},
		},
	}
	be := httptest.NewServer(b)
	t.Cleanup(be.Close)

	client, err := api.New(be.URL)
	require.NoError(t, err)
	tmpl, err := web.Templates()
	require.NoError(t, err)

	tc := cache.New()
	q := &fakeQueue{}
	cfg := config.Config{
		SiteURL:       "http://market.test",
		SessionSecret: "test-secret",
		CacheTTL:      time.Minute,
		PollInterval:  20 * time.Millisecond,
	}
	s := New(ServerOptions{
		Sess:     scs.New(),
		Tmpl:     tmpl,
		API:      client,
		Cache:    tc,
		Scripts:  store.New[market.Script](client, store.Config{Name: "scripts", Endpoint: "/scripts"}),
		Users:    store.New[market.User](client, store.Config{Name: "users", Endpoint: "/users"}),
		Licenses: store.New[market.License](client, store.Config{Name: "licenses", Endpoint: "/licenses"}),
		UserData: userdata.New(client, tc),
		Checkout: checkout.NewRegistry(checkout.StripeProvider{Client: client}),
		Jobs:     q,
		Cfg:      cfg,
		Logger:   zerolog.Nop(),
	})
	front := httptest.NewServer(s.Router)
	t.Cleanup(front.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	hc := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &harness{srv: s, url: front.URL, backend: b, queue: q, client: hc}
}

func (h *harness) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.Get(h.url + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func (h *harness) post(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := h.client.PostForm(h.url+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func (h *harness) login(t *testing.T, email string) {
	t.Helper()
	resp, _ := h.post(t, "/login", url.Values{"email": {email}, "password": {"hunter2"}, "next": {"/licenses"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/licenses", resp.Header.Get("Location"))
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)
	resp, body := h.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func TestCatalogIsCached(t *testing.T) {
	h := newHarness(t)

	resp, body := h.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Aimbot")
	assert.Contains(t, body, "9.99 EUR")
	assert.NotContains(t, body, "Retired")

	_, _ = h.get(t, "/")
	assert.Equal(t, 1, h.backend.count("GET", "/scripts"))
}

func TestLanguageSwitch(t *testing.T) {
	h := newHarness(t)
	_, body := h.get(t, "/?lang=de")
	assert.Contains(t, body, "Skripte durchsuchen")

	// the cookie keeps the choice
	_, body = h.get(t, "/")
	assert.Contains(t, body, "Skripte durchsuchen")
}

func TestScriptDetail(t *testing.T) {
	h := newHarness(t)
	resp, body := h.get(t, "/scripts/s1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Aimbot")

	resp, _ = h.get(t, "/scripts/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProtectedPagesRedirect(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.get(t, "/licenses")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?next=%2Flicenses", resp.Header.Get("Location"))
}

func TestLoginFailure(t *testing.T) {
	h := newHarness(t)
	resp, body := h.post(t, "/login", url.Values{"email": {"buyer@example.com"}, "password": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "Invalid credentials")
}

func TestLoginAndLicenses(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")

	resp, body := h.get(t, "/licenses")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "KEY-123")

	c, ok := h.backend.last("GET", userdata.LicensesEndpoint)
	require.True(t, ok)
	assert.Equal(t, "Bearer "+h.backend.tokens["buyer@example.com"], c.auth)
}

func TestOpenRedirectBlocked(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.post(t, "/login", url.Values{"email": {"buyer@example.com"}, "password": {"hunter2"}, "next": {"//evil.example"}})
	assert.Equal(t, "/", resp.Header.Get("Location"))
}

func TestUnauthorizedBackendEndsSession(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")
	h.backend.licensesCode = http.StatusUnauthorized

	resp, _ := h.get(t, "/licenses")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = h.get(t, "/account")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Location"), "/login?next=")
}

func TestBindLicenseIP(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")

	resp, _ := h.post(t, "/licenses/l1/ip", url.Values{"ip": {"203.0.113.7"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	c, ok := h.backend.last("PATCH", "/licenses/l1")
	require.True(t, ok)
	assert.Equal(t, "203.0.113.7", c.body["boundIp"])

	_, body := h.get(t, "/licenses")
	assert.Contains(t, body, "IP updated.")
}

func TestBindLicenseIPRejectsGarbage(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")

	_, _ = h.post(t, "/licenses/l1/ip", url.Values{"ip": {"not-an-ip"}})
	assert.Equal(t, 0, h.backend.count("PATCH", "/licenses/l1"))
}

func TestCheckoutFlow(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")

	resp, _ := h.post(t, "/checkout/stripe", url.Values{"script_id": {"s1"}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", resp.Header.Get("Location"))

	c, ok := h.backend.last("POST", "/payments/stripe/checkout")
	require.True(t, ok)
	success, err := url.Parse(c.body["successUrl"].(string))
	require.NoError(t, err)
	assert.Equal(t, "/checkout/stripe/success", success.Path)

	// Stripe substitutes the session id on redirect
	q := success.Query()
	q.Set("session_id", "cs_1")
	resp, _ = h.get(t, success.Path+"?"+q.Encode())
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/licenses", resp.Header.Get("Location"))

	require.Len(t, h.queue.tasks, 1)
	var p jobs.PurchaseReceiptPayload
	require.NoError(t, json.Unmarshal(h.queue.tasks[0].Payload(), &p))
	assert.Equal(t, "p1", p.PaymentID)
	assert.Equal(t, "u1@example.com", p.Email)
}

func TestCheckoutRejectsForgedState(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")

	forged := h.srv.Signer.SignFor(time.Hour, "someone-else", "s1", "stripe")
	resp, _ := h.get(t, "/checkout/stripe/success?session_id=cs_1&state="+url.QueryEscape(forged))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 0, h.backend.count("GET", "/payments/stripe/checkout/cs_1"))
}

func TestUnknownProvider(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")
	resp, _ := h.post(t, "/checkout/bitcoin", url.Values{"script_id": {"s1"}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestActivityJSON(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")

	resp, body := h.get(t, "/api/activity")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st struct {
		Data    []market.Activity `json:"data"`
		Loading bool              `json:"loading"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.False(t, st.Loading)
	require.Len(t, st.Data, 1)
	assert.Equal(t, "Signed in", st.Data[0].Message)
}

func TestAdminRequiresRole(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")
	resp, _ := h.get(t, "/admin/scripts")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminCreateScript(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin@example.com")

	resp, body := h.get(t, "/admin/scripts")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Retired")

	resp, _ = h.post(t, "/admin/scripts", url.Values{"name": {"Wallhack"}, "price": {"4.50"}})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	items := h.srv.Scripts.State().Items
	require.NotEmpty(t, items)
	assert.Equal(t, "s9", items[0].ID)

	c, ok := h.backend.last("POST", "/scripts")
	require.True(t, ok)
	assert.InDelta(t, 4.5, c.body["price"], 0.001)
}

func TestAdminCreateScriptValidates(t *testing.T) {
	h := newHarness(t)
	h.login(t, "admin@example.com")
	_, _ = h.post(t, "/admin/scripts", url.Values{"name": {"X"}, "price": {"-1"}})
	assert.Equal(t, 0, h.backend.count("POST", "/scripts"))
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	h.login(t, "buyer@example.com")

	resp, _ := h.post(t, "/logout", nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, _ = h.get(t, "/licenses")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"/licenses":         "/licenses",
		"":                  "/",
		"https://evil.test": "/",
		"//evil.test":       "/",
		"/\\evil.test":      "/",
		"/scripts/s1?x=1":   "/scripts/s1?x=1",
	}
	for in, want := range tests {
		assert.Equal(t, want, safeNext(in), in)
	}
}
