package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cartjo/docs" //this is required to generate swagger docs
	"cartjo/internal/auth"
	"cartjo/internal/checkout"
	"cartjo/internal/domain/attempts"
	"cartjo/internal/domain/pushtokens"
	"cartjo/internal/mailer"
	"cartjo/internal/ratelimiter"
	"cartjo/internal/refid"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

type application struct {
	config        config
	attempts      attempts.Store
	pushTokens    pushtokens.Store
	checkout      *checkout.Orchestrator
	refs          *refid.Generator
	logger        *zap.SugaredLogger
	mailer        mailer.Client
	authenticator auth.Authenticator
	rateLimiter   ratelimiter.Limiter
}

type config struct {
	addr        string
	db          dbConfig
	env         string
	apiURL      string
	mail        mailConfig
	frontendURL string
	auth        authConfig
	gateway     gatewayConfig
	backend     backendConfig
	checkout    checkoutConfig
	rateLimiter ratelimiter.Config
}

type authConfig struct {
	basic basicConfig
	token tokenConfig
}
type tokenConfig struct {
	refreshSecret string
	secret        string
	iss           string
}
type basicConfig struct {
	user string
	pass string
}

type mailConfig struct {
	fromEmail string
	smtp      smtpConfig
}

type smtpConfig struct {
	host     string
	port     int
	username string
	password string
}

type dbConfig struct {
	addr        string
	maxConns    int
	maxIdleTime string
}

type gatewayConfig struct {
	provider           string
	accessCode         string
	merchantIdentifier string
	shaRequestPhrase   string
	shaResponsePhrase  string
	production         bool
}

type backendConfig struct {
	baseURL string
	timeout time.Duration
}

type checkoutConfig struct {
	tokenTimeout time.Duration
	confirmPath  string
	refSalt      string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	//Set a timeout value on the request context (ctx), that will signal through ctx.Done() that the request has timed out and further processing should be stopped
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		docsURL := fmt.Sprintf("%s/swagger/doc.json", app.config.addr)
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(docsURL)))

		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		// The gateway posts the shopper's browser back here; no bearer
		// token ever rides along, trust comes from the signed payload.
		r.Post("/checkout/gateway/return", app.gatewayReturnHandler)

		r.Route("/checkout", func(r chi.Router) {
			r.Use(app.AuthTokenMiddleware)
			r.Use(app.RateLimiterMiddleware)

			r.Get("/", app.listAttemptsHandler)
			r.Post("/", app.createCheckoutHandler)

			r.Route("/{ref}", func(r chi.Router) {
				r.Get("/", app.getCheckoutHandler)
				r.Delete("/", app.cancelCheckoutHandler)
				r.Post("/shipping", app.attachShippingHandler)
				r.Post("/pay", app.submitCardHandler)
				r.Post("/retry", app.retryCheckoutHandler)
				r.Post("/retry-charge", app.retryChargeHandler)
				r.Get("/events", app.listAttemptEventsHandler)
			})
		})

		r.Route("/push-tokens", func(r chi.Router) {
			r.Use(app.AuthTokenMiddleware)
			r.Post("/", app.savePushTokenHandler)
			r.Delete("/", app.removePushTokenHandler)
		})

		// Token minting sits behind basic auth; customer identity is
		// established by the storefront, not this service.
		r.Route("/tokens", func(r chi.Router) {
			r.With(app.BasicAuthMiddleware()).Post("/", app.createTokenHandler)
			r.Post("/refresh", app.refreshTokenHandler)
		})
	})
	return r
}

func (app *application) run(mux http.Handler) error {
	// Docs
	docs.SwaggerInfo.Version = version
	docs.SwaggerInfo.Host = app.config.apiURL
	docs.SwaggerInfo.BasePath = "/v1"

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	// Implementing graceful shutdown
	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr, "env", app.config.env)

	return nil
}
