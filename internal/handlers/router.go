package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fixparts/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// Group is a route prefix mounted under the API base path.
type Group string

const (
	GroupCart     Group = "cart"
	GroupCheckout Group = "checkout"
	GroupOrders   Group = "orders"
	GroupAdmin    Group = "admin"
	GroupWebhooks Group = "webhooks"
)

// groups fixes the mount order.
var groups = []Group{GroupCart, GroupCheckout, GroupOrders, GroupAdmin, GroupWebhooks}

const (
	defaultAPIPrefix  = "/api/v1"
	defaultTimeout    = 30 * time.Second
	errorNotFoundCode = "route_not_found"
)

type groupConfig struct {
	registrar   RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[Group]*groupConfig
}

func (c *routerConfig) group(g Group) *groupConfig {
	if c.groups == nil {
		c.groups = make(map[Group]*groupConfig, len(groups))
	}
	gc, ok := c.groups[g]
	if !ok {
		gc = &groupConfig{}
		c.groups[g] = gc
	}
	return gc
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// NewRouter builds the HTTP surface. Probes live at the root and are not subject to the request
// timeout; API groups are mounted under the base path and answer 501 until a registrar is set.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		timeout:  defaultTimeout,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(errorNotFoundCode, "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.timeout))
		for _, g := range groups {
			gc := cfg.groups[g]
			if gc == nil {
				gc = &groupConfig{}
			}
			api.Route("/"+string(g), func(sub chi.Router) {
				for _, mw := range gc.middlewares {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if gc.registrar == nil {
					notImplemented(sub, g)
					return
				}
				gc.registrar(sub)
			})
		}
	})

	return r
}

// WithMiddlewares appends global middleware, applied to probes and API routes alike.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout bounds API requests. Non-positive values keep the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		if d > 0 {
			cfg.timeout = d
		}
	}
}

// WithBasePath overrides the API prefix.
func WithBasePath(path string) Option {
	return func(cfg *routerConfig) {
		if path != "" {
			cfg.basePath = path
		}
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithRoutes mounts reg under the group prefix, wrapped in the given group middleware.
func WithRoutes(g Group, reg RouteRegistrar, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		gc := cfg.group(g)
		gc.registrar = reg
		gc.middlewares = append(gc.middlewares, mw...)
	}
}

// WithGroupMiddlewares adds middleware to a group without changing its registrar.
func WithGroupMiddlewares(g Group, mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		gc := cfg.group(g)
		gc.middlewares = append(gc.middlewares, mw...)
	}
}

func notImplemented(r chi.Router, g Group) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", string(g)+" routes are not available", http.StatusNotImplemented))
	}
	r.HandleFunc("/*", handler)
	r.HandleFunc("/", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
