package api

import (
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/ignite-health/funnel/internal/api/handlers"
	"github.com/ignite-health/funnel/internal/api/middleware"
	"github.com/ignite-health/funnel/internal/audit"
	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/ignite-health/funnel/internal/metrics"
	"github.com/ignite-health/funnel/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps is everything the HTTP layer needs from the process.
type Deps struct {
	Config      config.Config
	Logger      zerolog.Logger
	Service     *subscribers.Service
	Audit       *audit.Logger
	Health      *handlers.HealthChecker
	Pool        *pgxpool.Pool
	RateLimiter *middleware.RateLimiter
	Version     string
	GitCommit   string
	BuildDate   string
}

// NewRouter builds the funnel's HTTP handler with the full middleware chain.
func NewRouter(d Deps) (http.Handler, error) {
	pages, err := web.Pages()
	if err != nil {
		return nil, err
	}
	return newRouter(d, pages), nil
}

func newRouter(d Deps, pages *template.Template) http.Handler {
	cfg := d.Config
	proxies := cfg.RateLimit.TrustedProxyCIDRs
	limiter := d.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.Environment)
	}
	health := d.Health
	if health == nil {
		health = handlers.NewHealthChecker(d.Pool, nil, d.Version, d.GitCommit)
	}

	newsletter := &handlers.NewsletterHandler{
		Service:        d.Service,
		Pages:          pages,
		Env:            cfg.Environment,
		SignupURL:      cfg.Mailchimp.SignupURL,
		SiteURL:        cfg.Server.PublicSiteURL,
		TrustedProxies: proxies,
	}
	forms := &handlers.FormsHandler{Service: d.Service, Env: cfg.Environment, TrustedProxies: proxies}
	stats := &handlers.StatsHandler{Service: d.Service, Audit: d.Audit, Env: cfg.Environment, TrustedProxies: proxies}
	admin := &handlers.AdminHandler{Service: d.Service, Audit: d.Audit, Env: cfg.Environment, TrustedProxies: proxies}

	newsletterLimit := limiter.Limit(middleware.TierNewsletter)
	unsubscribeLimit := limiter.Limit(middleware.TierUnsubscribe)
	formsLimit := limiter.Limit(middleware.TierForms)
	adminChain := func(h http.HandlerFunc) http.Handler {
		return limiter.Limit(middleware.TierStats)(middleware.APIKey(cfg.APIKeys, cfg.Environment)(h))
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", handlers.Readyz(d.Pool))
	mux.Handle("GET /health", health.Health())
	mux.Handle("/version", VersionHandler(d.Version, d.GitCommit, d.BuildDate))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/robots.txt", web.RobotsTxtHandler())

	mux.Handle("/api/newsletter", methodMux(map[string]http.Handler{
		http.MethodPost:    newsletterLimit(http.HandlerFunc(newsletter.Subscribe)),
		http.MethodDelete:  unsubscribeLimit(http.HandlerFunc(newsletter.Unsubscribe)),
		http.MethodGet:     http.HandlerFunc(newsletter.Health),
		http.MethodOptions: http.HandlerFunc(newsletter.Preflight),
	}))
	mux.Handle("GET /api/newsletter/unsubscribe", unsubscribeLimit(http.HandlerFunc(newsletter.ConfirmUnsubscribe)))
	mux.Handle("POST /api/newsletter/unsubscribe", unsubscribeLimit(http.HandlerFunc(newsletter.OneClickUnsubscribe)))

	mux.Handle("POST /api/subscribe", formsLimit(http.HandlerFunc(forms.Signup)))
	mux.Handle("POST /api/interest", formsLimit(http.HandlerFunc(forms.Interest)))
	mux.Handle("POST /api/submit", formsLimit(http.HandlerFunc(forms.Submit)))

	mux.Handle("GET /api/stats", adminChain(stats.GetStats))
	mux.Handle("GET /api/admin/segments/{segment}/subscribers", adminChain(admin.Distribution))
	mux.Handle("PUT /api/admin/subscribers/{email}/preferences", adminChain(admin.UpdatePreferences))

	var handler http.Handler = mux
	handler = limiter.Limit(middleware.TierGeneral)(handler)
	handler = newsletterHeaders(handler)
	handler = middleware.RequestSize(cfg.Server.MaxBodyBytes, cfg.Environment)(handler)
	handler = middleware.CORS(cfg.CORS, d.Logger, "/api/newsletter")(handler)
	handler = middleware.SecurityHeaders(cfg.Environment == "production")(handler)
	handler = middleware.RequestLogging(proxies)(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.Tracing(handler)
	handler = middleware.ResolveClientIP(proxies)(handler)
	handler = middleware.CorrelationID(d.Logger)(handler)
	handler = middleware.Recover(cfg.Environment)(handler)
	return handler
}

// newsletterHeaders applies the public CORS headers to /api/newsletter
// ahead of the general limiter, so every response on that path, 429s
// included, is readable from any origin.
func newsletterHeaders(next http.Handler) http.Handler {
	public := handlers.PublicHeaders(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/newsletter" {
			public.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
