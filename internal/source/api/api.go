// Package api extracts JSON records from an HTTP endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mergeflow/internal/apperr"
	"mergeflow/internal/batch"
	"mergeflow/internal/config"
	"mergeflow/internal/datasource/httpds"
	"mergeflow/internal/ddl"
	jsonparser "mergeflow/internal/parser/json"
	"mergeflow/internal/probe"
	"mergeflow/internal/source"
	"mergeflow/internal/storage"
	"mergeflow/internal/template"
)

// Auth types.
const (
	AuthNone    = ""
	AuthBearer  = "bearer"
	AuthHeaders = "headers"
	AuthOAuth2  = "oauth2"
)

// openDriver is a test seam over storage.New for iterate queries.
var openDriver = storage.New

var errStop = errors.New("stop")

func init() {
	source.Register(config.TypeAPI, func(ctx context.Context, cfg config.Source, env source.Env) (source.Source, error) {
		return New(ctx, cfg, env)
	})
}

// Source issues one request, or one per queries.iterate row, and turns each
// response into rows.
type Source struct {
	cfg     config.Source
	env     source.Env
	client  *httpds.Client
	iter    storage.Driver
	token   string
	dynamic template.Params
}

var (
	_ source.Source      = (*Source)(nil)
	_ source.ParamSetter = (*Source)(nil)
)

// New builds the HTTP client and, for iterated requests, opens the
// connection that runs queries.iterate.
func New(ctx context.Context, cfg config.Source, env source.Env) (*Source, error) {
	if cfg.API.URL == "" {
		return nil, apperr.Config("source.api", "api.url is required")
	}
	timeout := cfg.API.Timeout
	if timeout <= 0 {
		timeout = config.DefaultAPITimeout
	}
	s := &Source{
		cfg: cfg,
		env: env,
		client: httpds.NewClient(httpds.Config{
			Timeout:            timeout,
			RequestsPerSecond:  cfg.API.RequestsPerSecond,
			InsecureSkipVerify: cfg.API.InsecureSkipVerify,
		}),
	}
	if cfg.Queries.Iterate != "" {
		drv, err := openDriver(ctx, cfg.Storage())
		if err != nil {
			return nil, err
		}
		s.iter = drv
	}
	return s, nil
}

// NewWithClient is New with a caller-supplied client and iterate driver
// (which may be nil).
func NewWithClient(cfg config.Source, env source.Env, c *httpds.Client, iter storage.Driver) *Source {
	return &Source{cfg: cfg, env: env, client: c, iter: iter}
}

func (s *Source) SetDynamicParams(p template.Params) { s.dynamic = p }

func (s *Source) Close() error {
	if s.iter != nil {
		return s.iter.Close()
	}
	return nil
}

func (s *Source) params() template.Params {
	return template.Merge(s.cfg.Queries.ExtractParams, s.dynamic)
}

// Extract fetches every request. Responses without records add nothing.
func (s *Source) Extract(ctx context.Context) (*batch.Manifest, error) {
	m := &batch.Manifest{}
	rows, err := s.iterations(ctx)
	if err != nil {
		return nil, err
	}
	chunked := s.cfg.ChunkSize > 0
	for i, p := range rows {
		iter := 0
		if s.iter != nil {
			iter = i + 1
		}
		j := 0
		err := s.fetch(ctx, p, s.cfg.ChunkSize, func(b *batch.Batch) error {
			if b.Len() == 0 {
				return nil
			}
			probe.Infer(b)
			j++
			return s.env.Emit(m, source.Paged(iter, j, iter > 0 || chunked), b)
		})
		if err != nil {
			return nil, err
		}
	}
	s.env.Logger().Info("source: extracted", "kind", config.TypeAPI, "requests", len(rows), "slices", m.Len(), "rows", m.Rows())
	return m, nil
}

// iterations lists the parameter set of every request.
func (s *Source) iterations(ctx context.Context) ([]template.Params, error) {
	base := s.params()
	if s.iter == nil {
		return []template.Params{base}, nil
	}
	q, err := template.Render(s.cfg.Queries.Iterate, base)
	if err != nil {
		return nil, err
	}
	b, err := s.iter.Query(ctx, q)
	if err != nil {
		if apperr.KindOf(err) != 0 {
			return nil, err
		}
		return nil, apperr.Connection("source.api iterate", err)
	}
	out := make([]template.Params, 0, b.Len())
	for _, row := range b.Rows {
		out = append(out, template.Merge(base, source.RowParams(b, row)))
	}
	return out, nil
}

// Inspect samples the first request.
func (s *Source) Inspect(ctx context.Context) (ddl.TableDef, error) {
	rows, err := s.iterations(ctx)
	if err != nil {
		return ddl.TableDef{}, err
	}
	sample := batch.New()
	if len(rows) > 0 {
		err = s.fetch(ctx, rows[0], 0, func(b *batch.Batch) error {
			sample = b
			return errStop
		})
		if err != nil && !errors.Is(err, errStop) {
			return ddl.TableDef{}, err
		}
	}
	probe.Infer(sample)
	return sample.Schema(s.cfg.Schema, s.cfg.Table), nil
}

func (s *Source) fetch(ctx context.Context, p template.Params, pageSize int, fn func(*batch.Batch) error) error {
	a := s.cfg.API
	u, err := template.Render(a.URL, p)
	if err != nil {
		return err
	}
	var body []byte
	if a.Payload != "" {
		payload, err := template.Render(a.Payload, p)
		if err != nil {
			return err
		}
		body = []byte(payload)
	}
	hdr, err := s.headers(ctx, p)
	if err != nil {
		return err
	}
	method := strings.ToUpper(a.Method)
	if method == "" {
		method = config.DefaultAPIMethod
	}

	data, err := s.client.Fetch(ctx, method, u, body, hdr)
	if err != nil {
		return apperr.Connection("source.api "+method, err)
	}
	s.env.Logger().Debug("source: api response", "method", method, "url", u, "bytes", len(data))

	opt := jsonparser.Options{RecordsPath: a.RecordsPath, Flatten: a.Flatten}
	err = jsonparser.Read(ctx, bytes.NewReader(data), opt, pageSize, fn)
	if err != nil && !errors.Is(err, errStop) && apperr.KindOf(err) == 0 {
		return fmt.Errorf("source.api: %s: %w", u, err)
	}
	return err
}

// headers renders api.headers and adds the Authorization header of the
// configured auth type unless one is already set.
func (s *Source) headers(ctx context.Context, p template.Params) (http.Header, error) {
	a := s.cfg.API
	hdr := http.Header{}
	for k, v := range a.Headers {
		rv, err := template.Render(v, p)
		if err != nil {
			return nil, err
		}
		hdr.Set(k, rv)
	}
	if a.Payload != "" && hdr.Get("Content-Type") == "" {
		hdr.Set("Content-Type", "application/json")
	}

	prefix := a.Auth.Bearer
	if prefix == "" {
		prefix = config.DefaultTokenPrefix
	}
	switch strings.ToLower(a.Auth.Type) {
	case AuthBearer:
		if hdr.Get("Authorization") == "" {
			hdr.Set("Authorization", prefix+" "+a.Auth.Token)
		}
	case AuthHeaders:
		for k, v := range a.Auth.HeadersExtra {
			hdr.Set(k, v)
		}
	case AuthOAuth2:
		tok, err := s.accessToken(ctx)
		if err != nil {
			return nil, err
		}
		if hdr.Get("Authorization") == "" {
			hdr.Set("Authorization", prefix+" "+tok)
		}
	}
	return hdr, nil
}

// accessToken runs the client_credentials grant once per source.
func (s *Source) accessToken(ctx context.Context) (string, error) {
	if s.token != "" {
		return s.token, nil
	}
	a := s.cfg.API.Auth
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {a.ClientID},
		"client_secret": {a.ClientSecret},
	}
	extra := http.Header{}
	for k, v := range a.HeadersExtra {
		extra.Set(k, v)
	}
	data, err := s.client.PostForm(ctx, a.AccessTokenURL, form, extra)
	if err != nil {
		return "", apperr.Connection("source.api token", err)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", apperr.Connection("source.api token", fmt.Errorf("decode token response: %w", err))
	}
	if resp.AccessToken == "" {
		return "", apperr.Connection("source.api token", errors.New("token response has no access_token"))
	}
	s.token = resp.AccessToken
	return s.token, nil
}
