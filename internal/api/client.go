// Package api is the storefront's client for the marketplace backend. Every
// backend reply is unwrapped from its {data, message, success} envelope at this
// boundary, and every non-2xx reply becomes an *APIError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/briangreenhill/scriptmarket/internal/api"

// TokenSource supplies the bearer token for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) string

func (f TokenFunc) Token(ctx context.Context) string { return f(ctx) }

// StaticToken always returns the same token; used by the worker.
type StaticToken string

func (s StaticToken) Token(context.Context) string { return string(s) }

type tokenKey struct{}

// WithToken attaches an access token to ctx for the default TokenSource.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token set by WithToken, or "".
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(tokenKey{}).(string)
	return tok
}

type Client struct {
	http    *http.Client
	baseURL string
	tokens  TokenSource
	logger  zerolog.Logger
	tracer  trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// New builds a client for the backend rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url must be absolute, got %q", baseURL)
	}
	c := &Client{
		http:    http.DefaultClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  TokenFunc(TokenFromContext),
		logger:  zerolog.Nop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the normalized backend root.
func (c *Client) BaseURL() string { return c.baseURL }

type requestOptions struct {
	public         bool
	idempotencyKey string
	query          url.Values
}

// RequestOption tweaks a single call.
type RequestOption func(*requestOptions)

// Public sends the request without an Authorization header.
func Public() RequestOption {
	return func(o *requestOptions) { o.public = true }
}

// WithIdempotencyKey sets the Idempotency-Key header on mutating calls.
func WithIdempotencyKey(key string) RequestOption {
	return func(o *requestOptions) { o.idempotencyKey = key }
}

// WithQuery appends query parameters to the endpoint.
func WithQuery(q url.Values) RequestOption {
	return func(o *requestOptions) { o.query = q }
}

// URL joins the base and endpoint with exactly one slash between them.
func (c *Client) URL(endpoint string) string {
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) Get(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.doInto(ctx, http.MethodGet, endpoint, nil, out, opts)
}

func (c *Client) Post(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.doInto(ctx, http.MethodPost, endpoint, body, out, opts)
}

func (c *Client) Put(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.doInto(ctx, http.MethodPut, endpoint, body, out, opts)
}

func (c *Client) Patch(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.doInto(ctx, http.MethodPatch, endpoint, body, out, opts)
}

func (c *Client) Delete(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.doInto(ctx, http.MethodDelete, endpoint, nil, out, opts)
}

func (c *Client) doInto(ctx context.Context, method, endpoint string, body, out any, opts []RequestOption) error {
	res, err := c.Do(ctx, method, endpoint, body, opts...)
	if err != nil {
		return err
	}
	return res.Into(out)
}

// Do performs one request and resolves the reply shape. A nil body sends no
// payload; any other body is encoded as JSON.
func (c *Client) Do(ctx context.Context, method, endpoint string, body any, opts ...RequestOption) (Result, error) {
	var (
		r           io.Reader
		contentType string
	)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return Result{}, fmt.Errorf("encode %s %s body: %w", method, endpoint, err)
		}
		r = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.send(ctx, method, endpoint, r, contentType, opts)
}

// FormFile is one file part of an Upload.
type FormFile struct {
	Field    string
	Filename string
	Content  io.Reader
}

// Form is the multipart payload for Upload.
type Form struct {
	Fields map[string]string
	Files  []FormFile
}

// Upload POSTs a multipart form. The Content-Type (with boundary) comes from
// the multipart writer rather than being set by the caller.
func (c *Client) Upload(ctx context.Context, endpoint string, form Form, out any, opts ...RequestOption) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range form.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	for _, f := range form.Files {
		part, err := mw.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return fmt.Errorf("create form file %s: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return fmt.Errorf("copy form file %s: %w", f.Field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	res, err := c.send(ctx, http.MethodPost, endpoint, &buf, mw.FormDataContentType(), opts)
	if err != nil {
		return err
	}
	return res.Into(out)
}

func (c *Client) newReq(ctx context.Context, method, endpoint string, body io.Reader, contentType string, o requestOptions) (*http.Request, error) {
	u := c.URL(endpoint)
	if len(o.query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + o.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if !o.public {
		if tok := c.tokens.Token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	if o.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", o.idempotencyKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, contentType string, opts []RequestOption) (Result, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := c.tracer.Start(ctx, "api "+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", endpoint),
	)

	req, err := c.newReq(ctx, method, endpoint, body, contentType, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Debug().Err(err).Str("method", method).Str("endpoint", endpoint).Msg("api request failed")
		return Result{}, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.logger.Debug().
		Str("method", method).
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api request")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("read %s %s: %w", method, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := parseError(resp.StatusCode, raw)
		span.SetStatus(codes.Error, apiErr.Message)
		return Result{}, apiErr
	}

	res, err := Decode(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	return res, nil
}

// Get is the typed form of Client.Get.
func Get[T any](ctx context.Context, c *Client, endpoint string, opts ...RequestOption) (T, error) {
	var out T
	err := c.Get(ctx, endpoint, &out, opts...)
	return out, err
}

// Post is the typed form of Client.Post.
func Post[T any](ctx context.Context, c *Client, endpoint string, body any, opts ...RequestOption) (T, error) {
	var out T
	err := c.Post(ctx, endpoint, body, &out, opts...)
	return out, err
}

// Put is the typed form of Client.Put.
func Put[T any](ctx context.Context, c *Client, endpoint string, body any, opts ...RequestOption) (T, error) {
	var out T
	err := c.Put(ctx, endpoint, body, &out, opts...)
	return out, err
}

// Patch is the typed form of Client.Patch.
func Patch[T any](ctx context.Context, c *Client, endpoint string, body any, opts ...RequestOption) (T, error) {
	var out T
	err := c.Patch(ctx, endpoint, body, &out, opts...)
	return out, err
}

// Delete is the typed form of Client.Delete.
func Delete[T any](ctx context.Context, c *Client, endpoint string, opts ...RequestOption) (T, error) {
	var out T
	err := c.Delete(ctx, endpoint, &out, opts...)
	return out, err
}
