// Package httpapi exposes the EA dashboard over JSON/HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"eadash.io/internal/audit"
	"eadash.io/internal/auth"
	"eadash.io/internal/config"
	"eadash.io/internal/model"
	"eadash.io/internal/obs"
	"eadash.io/internal/records"
	"eadash.io/internal/store"
)

// Prefixes under which every route is served. The SPA talks to /api.
var routePrefixes = []string{"", "/api"}

const healthProbeTimeout = 2 * time.Second

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	cfg      config.Config
	store    store.Store
	gateway  *auth.Gateway
	accounts *auth.Accounts
	audit    *audit.Recorder
	records  *records.Service
	version  string
	started  time.Time

	loginLimit rate.Limit
	loginBurst int
	clientIP   ClientIP
}

// Option configures an API.
type Option func(*API)

// WithCatalog serves a catalog other than records.DefaultCatalog.
func WithCatalog(c *records.Catalog) Option {
	return func(a *API) {
		a.records = records.NewService(a.store, a.audit, records.WithCatalog(c))
	}
}

// WithLoginRate overrides the login rate limit.
func WithLoginRate(limit rate.Limit, burst int) Option {
	return func(a *API) {
		a.loginLimit = limit
		a.loginBurst = burst
	}
}

// New wires the services on top of st and registers every route.
func New(cfg config.Config, st store.Store, tokens *auth.TokenService, version string, opts ...Option) *API {
	rec := audit.NewRecorder(st)
	perMinute := cfg.Auth.LoginRatePerMinute
	a := &API{
		mux:        http.NewServeMux(),
		cfg:        cfg,
		store:      st,
		gateway:    auth.NewGateway(tokens, st.Users()),
		accounts:   auth.NewAccounts(st, tokens, rec),
		audit:      rec,
		records:    records.NewService(st, rec),
		version:    version,
		started:    time.Now(),
		loginLimit: rate.Every(time.Minute / time.Duration(max(perMinute, 1))),
		loginBurst: max(perMinute, 1),
	}
	trusted, err := config.ParsePrefixes(cfg.HTTP.TrustedProxies)
	if err != nil {
		obs.Logger().Warn("trusted_proxies_ignored", zap.Error(err))
		trusted = nil
	}
	a.clientIP = NewClientIP(trusted)
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

// Accounts exposes the account service for bootstrap.
func (a *API) Accounts() *auth.Accounts { return a.accounts }

// Records exposes the entity service for startup seeding.
func (a *API) Records() *records.Service { return a.records }

func (a *API) routes() {
	a.mux.Handle("GET /metrics", obs.Handler())

	login := RateLimit(http.HandlerFunc(a.handleLogin), a.loginLimit, a.loginBurst, a.clientIP)
	for _, p := range routePrefixes {
		a.mux.HandleFunc("GET "+p+"/health", a.Health)

		a.mux.Handle("POST "+p+"/auth/login", login)
		a.mux.HandleFunc("POST "+p+"/auth/refresh", a.handleRefresh)
		a.mux.HandleFunc("GET "+p+"/auth/me", a.authed(model.ReadRoles, a.handleMe))
		a.mux.HandleFunc("PUT "+p+"/auth/me", a.authed(model.ReadRoles, a.handleUpdateMe))

		a.mux.HandleFunc("GET "+p+"/admin/users", a.authed(model.AdminRoles, a.handleListUsers))
		a.mux.HandleFunc("POST "+p+"/admin/users", a.authed(model.AdminRoles, a.handleCreateUser))
		a.mux.HandleFunc("GET "+p+"/admin/users/{id}", a.authed(model.AdminRoles, a.handleGetUser))
		a.mux.HandleFunc("PUT "+p+"/admin/users/{id}", a.authed(model.AdminRoles, a.handleUpdateUser))
		a.mux.HandleFunc("DELETE "+p+"/admin/users/{id}", a.authed(model.AdminRoles, a.handleDeleteUser))
		a.mux.HandleFunc("GET "+p+"/admin/audit-log", a.authed(model.AdminRoles, a.handleAuditLog))

		a.mux.HandleFunc("POST "+p+"/seed", a.authed(model.AdminRoles, a.handleSeed))
		a.mux.HandleFunc("GET "+p+"/export/json", a.authed(model.ReadRoles, a.handleExport))
		a.mux.HandleFunc("GET "+p+"/dashboard/summary", a.authed(model.ReadRoles, a.handleSummary))
		a.mux.HandleFunc("GET "+p+"/dashboard/distribution/{field}", a.authed(model.ReadRoles, a.handleDistribution))
		a.mux.HandleFunc("GET "+p+"/dashboard/compliance-status", a.authed(model.ReadRoles, a.handleComplianceStatus))

		for _, s := range a.records.Catalog().All() {
			base := p + "/" + s.Path
			a.mux.HandleFunc("GET "+base, a.authed(model.ReadRoles, a.listRecords(s)))
			a.mux.HandleFunc("POST "+base, a.authed(model.WriteRoles, a.createRecord(s)))
			a.mux.HandleFunc("GET "+base+"/{id}", a.authed(model.ReadRoles, a.getRecord(s)))
			a.mux.HandleFunc("PUT "+base+"/{id}", a.authed(model.WriteRoles, a.updateRecord(s)))
			a.mux.HandleFunc("DELETE "+base+"/{id}", a.authed(model.AdminRoles, a.deleteRecord(s)))
		}
	}
}

// Handler returns the routed mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.mux)
	h = LoggingJSON(h)
	h = MaxBodyBytes(h, a.cfg.HTTP.MaxBodyBytes)
	h = CORS(h, a.cfg.HTTP.CORSOrigins)
	h = SecurityHeaders(h)
	return RequestID(h)
}

type healthDatabase struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

type healthResponse struct {
	Status        string         `json:"status"`
	Database      healthDatabase `json:"database"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Version       string         `json:"version"`
}

// Health always answers 200; a failed store probe turns the status to degraded.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	resp := healthResponse{
		Status:        "healthy",
		Database:      healthDatabase{Type: a.store.Kind(), Connected: true},
		UptimeSeconds: int64(time.Since(a.started).Seconds()),
		Version:       a.version,
	}
	if err := a.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database.Connected = false
	}
	writeJSON(w, http.StatusOK, resp)
}
