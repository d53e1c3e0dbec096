// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Two surfaces share one engine:
//   - the public submission and confirmation pages at the root, open to any
//     origin and limited per client IP;
//   - the owner API under cfg.APIBasePath, behind bearer tokens, CORS and a
//     per-account limiter.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/formrelay/formrelay/docs"
	"github.com/formrelay/formrelay/internal/config"
	"github.com/formrelay/formrelay/internal/http/handlers"
	"github.com/formrelay/formrelay/internal/http/middleware"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/kv"
	"github.com/formrelay/formrelay/internal/mail"
	"github.com/formrelay/formrelay/internal/plans"
	"github.com/formrelay/formrelay/internal/quota"
	"github.com/formrelay/formrelay/internal/repo"
	"github.com/formrelay/formrelay/internal/services"
	"github.com/formrelay/formrelay/internal/sitecheck"
	"github.com/formrelay/formrelay/internal/sysutil"
	"github.com/formrelay/formrelay/internal/tempstate"
)

// Deps holds the infrastructure RegisterRoutes builds services on.
type Deps struct {
	DB    *gorm.DB
	KV    kv.Store
	Mail  mail.Sender
	Plans *plans.Catalog
	Keys  *identity.Keyring
	// Captcha is nil when the CAPTCHA gate is bypassed. Pass a nil interface,
	// not a typed nil pointer.
	Captcha services.CaptchaVerifier
	// Sites checks sitewide verification files. Nil means sitecheck.NewVerifier().
	Sites services.SiteVerifier
}

func (d Deps) validate() error {
	switch {
	case d.DB == nil:
		return errors.New("httpapi: DB is required")
	case d.KV == nil:
		return errors.New("httpapi: KV is required")
	case d.Mail == nil:
		return errors.New("httpapi: Mail is required")
	case d.Plans == nil:
		return errors.New("httpapi: Plans is required")
	case d.Keys == nil:
		return errors.New("httpapi: Keys is required")
	}
	return nil
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLog: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip and security headers
//
// The submission routes add an allow-all CORS policy. The owner API group
// adds CORS, Auth, the idempotency validator and a per-account rate limiter
// (after idempotency so replays bypass it).
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) error {
	if err := d.validate(); err != nil {
		return err
	}
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Access log; debug mode keeps raw paths and client IPs for local work
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		Raw:         cfg.GinMode == gin.DebugMode,
		MaskHeaders: []string{"X-Api-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics(middleware.MetricsOptions{APIPrefix: cfg.APIBasePath}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression and security headers
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{"/confirm/", "/unconfirm/"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = "/"
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/kv/mail
	h := handlers.New(buildDeps(d, cfg))

	// One per-IP bucket set covers pages and submissions.
	perIP := middleware.NewRateLimiter(middleware.RateLimitOptions{
		RPS:    cfg.RateRPS,
		Burst:  cfg.RateBurst,
		Key:    middleware.KeyByIP(),
		Reject: h.RateLimited,
	}).Handler()

	// Public pages
	pub := r.Group("")
	pub.Use(middleware.ContentSecurityPolicy())
	pub.Use(perIP)
	{
		pub.GET("/thanks", h.Thanks)
		pub.GET("/confirm/:token", h.Confirm)
		pub.GET("/unconfirm/:id", h.RequestUnconfirm)
		pub.GET("/unconfirm/:id/:digest", h.UnconfirmPage)
		pub.POST("/unconfirm/:id/:digest", h.UnconfirmOneClick)
		pub.POST("/unconfirm/multiple", h.UnconfirmMultiple)
	}

	// Submissions are posted from any site, by forms and by scripts.
	// Preflights are answered by CORS before the limiter sees them.
	send := r.Group("")
	send.Use(submitCORS())
	send.Use(middleware.ContentSecurityPolicy())
	send.Use(perIP)
	{
		send.POST("/:target", h.Submit)
		send.GET("/:target", h.SubmitGet)
		send.OPTIONS("/:target", preflight)
	}

	// Owner API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	api.Use(middleware.Auth([]byte(cfg.JWTSecret)))
	api.Use(middleware.Idempotency(middleware.IdempotencyOptions{
		Scope: services.ScopeCreateForm,
		Seen: func(ctx context.Context, ownerID uint, scope, key string) (bool, error) {
			_, err := repo.GetIdempotency(ctx, d.DB, ownerID, scope, key, time.Now().UTC())
			if errors.Is(err, repo.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		},
	}))
	api.Use(middleware.NewRateLimiter(middleware.RateLimitOptions{
		RPS:   cfg.RateRPS,
		Burst: cfg.RateBurst,
		Key:   middleware.KeyByUserOrIP(),
	}).Handler())
	{
		// Forms
		api.POST("/forms", h.CreateForm)
		api.POST("/forms/sitewide-check", h.SitewideCheck)
		api.GET("/forms", h.ListForms)
		api.GET("/forms/:hashid", h.GetForm)
		api.PATCH("/forms/:hashid", h.UpdateForm)
		api.DELETE("/forms/:hashid", h.DeleteForm)

		// Archive
		api.GET("/forms/:hashid/submissions", h.ListSubmissions)
		api.DELETE("/forms/:hashid/submissions/:id", h.DeleteSubmission)

		// Notification template
		api.PUT("/forms/:hashid/template", h.PutTemplate)
		api.DELETE("/forms/:hashid/template", h.DeleteTemplate)

		// Without a matching OPTIONS route gin answers preflights from the
		// NoMethod chain, which never reaches the CORS middleware.
		for _, p := range []string{"/forms", "/forms/sitewide-check", "/forms/:hashid", "/forms/:hashid/submissions", "/forms/:hashid/submissions/:id", "/forms/:hashid/template"} {
			api.OPTIONS(p, preflight)
		}
	}
	return nil
}

// preflight ends OPTIONS requests that CORS did not already abort, such as
// those sent without an Origin header.
func preflight(c *gin.Context) { c.Status(http.StatusNoContent) }

// submitCORS opens the submission endpoint to every origin so scripts on the
// forms' own sites can read the JSON reply. No credentials are involved.
func submitCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Accept", "Content-Type", "X-Requested-With", "Authorization"},
		ExposeHeaders:   []string{"X-Request-ID"},
		MaxAge:          12 * time.Hour,
	})
}

// buildDeps constructs the services graph. Pipeline and Confirmations refer
// to each other: confirming a form replays its buffered submission through
// the pipeline.
func buildDeps(d Deps, cfg config.Config) handlers.Deps {
	hostNonces := &tempstate.HostNonces{KV: d.KV, TTL: cfg.TempStateTTL}
	counter := quota.NewCounter(d.KV)
	sites := d.Sites
	if sites == nil {
		sites = sitecheck.NewVerifier()
	}
	confirms := &services.Confirmations{
		DB:            d.DB,
		Mail:          d.Mail,
		Keys:          d.Keys,
		Replays:       &tempstate.PendingReplays{KV: d.KV, TTL: cfg.PendingReplayTTL},
		ServiceURL:    cfg.ServiceURL,
		ServiceName:   cfg.ServiceName,
		DefaultSender: cfg.DefaultSender,
	}
	pipeline := &services.Pipeline{
		DB:      d.DB,
		Mail:    d.Mail,
		Keys:    d.Keys,
		Counter: counter,
		Limits: quota.Limits{
			Default:         cfg.Quota.MonthlyLimit,
			Grandfathered:   cfg.Quota.GrandfatherLimit,
			Cutoff:          cfg.Quota.GrandfatherCutoff,
			WarningFraction: cfg.Quota.WarningFraction,
			NoticeQuantity:  cfg.Quota.NoticeQuantity,
		},
		Plans:         d.Plans,
		Captcha:       d.Captcha,
		HostNonces:    hostNonces,
		Confirmations: confirms,
		Pruner: &services.Pruner{
			DB:          d.DB,
			Limit:       cfg.Archive.Limit,
			Probability: cfg.Archive.PruneProbability,
		},
		ServiceURL:    cfg.ServiceURL,
		ServiceName:   cfg.ServiceName,
		DefaultSender: cfg.DefaultSender,
	}
	confirms.Pipeline = pipeline

	return handlers.Deps{
		Resolver: &services.Resolver{
			DB:                d.DB,
			Keys:              d.Keys,
			ServiceURL:        cfg.ServiceURL,
			AllowAjaxCreation: cfg.AllowAjaxCreation,
		},
		Admitter:      pipeline,
		Confirmations: confirms,
		Owners: &services.OwnerService{
			DB:             d.DB,
			Keys:           d.Keys,
			Plans:          d.Plans,
			Confirmations:  confirms,
			Sites:          sites,
			Counter:        counter,
			IdempotencyTTL: cfg.IdempotencyTTL,
		},
		HostNonces:   hostNonces,
		Keys:         d.Keys,
		Cookies:      cookieCodec(cfg),
		ServiceURL:   cfg.ServiceURL,
		ServiceName:  cfg.ServiceName,
		RecaptchaKey: cfg.Captcha.SiteKey,
	}
}

// cookieCodec signs (and, with a block key, encrypts) the unsubscribe page
// cookie. Without COOKIE_HASH_KEY the hash key is derived from SECRET_KEY so
// cookies survive restarts.
func cookieCodec(cfg config.Config) *securecookie.SecureCookie {
	hashKey := []byte(cfg.CookieHashKey)
	if len(hashKey) == 0 {
		hashKey = sysutil.DeriveKey(cfg.SecretKey, "unconfirm-cookie")
	}
	var blockKey []byte
	if cfg.CookieBlockKey != "" {
		blockKey = []byte(cfg.CookieBlockKey)
	}
	return securecookie.New(hashKey, blockKey).MaxAge(3600)
}

// corsMiddleware returns the owner API CORS posture: allow all origins when
// none are configured, otherwise echo allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// Force ACAO: * even for requests without an Origin header.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false, // must remain false with AllowAllOrigins
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
