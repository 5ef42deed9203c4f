package main

import (
	"expvar"
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"
	"time"

	"cartjo/internal/auth"
	"cartjo/internal/backend"
	"cartjo/internal/checkout"
	"cartjo/internal/db"
	"cartjo/internal/domain/attempts"
	"cartjo/internal/domain/pushtokens"
	"cartjo/internal/mailer"
	"cartjo/internal/notifications"
	"cartjo/internal/payments"
	"cartjo/internal/ratelimiter"
	"cartjo/internal/refid"

	"github.com/9ssi7/exponent"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoadRateLimiterConfig retrieves rate limiter settings from environment variables
func LoadRateLimiterConfig() ratelimiter.Config {
	// Default values
	defaultRequests := 60
	defaultEnabled := false

	requestsPerTimeFrame := defaultRequests
	if val, exists := os.LookupEnv("RATELIMITER_REQUESTS_COUNT"); exists {
		if parsedVal, err := strconv.Atoi(val); err == nil {
			requestsPerTimeFrame = parsedVal
		} else {
			fmt.Println("Invalid RATELIMITER_REQUESTS_COUNT, defaulting to", defaultRequests)
		}
	}

	enabled := defaultEnabled
	if val, exists := os.LookupEnv("RATE_LIMITER_ENABLED"); exists {
		if parsedVal, err := strconv.ParseBool(val); err == nil {
			enabled = parsedVal
		} else {
			fmt.Println("Invalid RATE_LIMITER_ENABLED, defaulting to", defaultEnabled)
		}
	}

	return ratelimiter.Config{
		RequestsPerTimeFrame: requestsPerTimeFrame,
		TimeFrame:            5 * time.Second,
		Enabled:              enabled,
	}
}

func getEnvDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

// NewLogger creates a new zap logger with color.
func NewLogger() (*zap.SugaredLogger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder // This adds color to log levels (INFO, WARN, ERROR)

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	level := zapcore.InfoLevel

	core := zapcore.NewCore(consoleEncoder, zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout)), level)

	logger := zap.New(core)

	return logger.Sugar(), nil
}

var version = "0.4.0"

//	@title			Cartjo Checkout API
//	@description	Checkout orchestration for Cartjo: payment sessions, card tokenization and charge submission.

//	@contact.name	API Support

//	@BasePath					/v1
//	@securityDefinitions.apikey	ApiKeyAuth
//	@in							header
//	@name						Authorization
//	@description

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Fatalf("Error loading .env file: %v", err)
	}

	maxConnsStr := os.Getenv("DB_MAX_CONNS")
	maxConns, err := strconv.Atoi(maxConnsStr)
	if err != nil {
		log.Fatalf("Invalid value for DB_MAX_CONNS: %v", err)
	}

	smtpPortStr := os.Getenv("SMTP_PORT")
	smtpPort, err := strconv.Atoi(smtpPortStr)
	if err != nil {
		log.Fatalf("Invalid value for SMTP_PORT: %v", err)
	}

	tokenTimeout, err := time.ParseDuration(getEnvDefault("CHECKOUT_TOKEN_TIMEOUT", "2m"))
	if err != nil {
		log.Fatalf("Invalid value for CHECKOUT_TOKEN_TIMEOUT: %v", err)
	}

	cfg := config{
		addr:        os.Getenv("ADDR"),
		env:         os.Getenv("ENV"),
		frontendURL: os.Getenv("FRONTEND_URL"),
		apiURL:      os.Getenv("EXTERNAL_URL"),
		db: dbConfig{
			addr:        os.Getenv("DB_ADDR"),
			maxConns:    maxConns,
			maxIdleTime: os.Getenv("DB_MAX_IDLE_TIME"),
		},
		mail: mailConfig{
			fromEmail: os.Getenv("SMTP_FROM_EMAIL"),
			smtp: smtpConfig{
				host:     os.Getenv("SMTP_HOST"),
				port:     smtpPort,
				username: os.Getenv("SMTP_USERNAME"),
				password: os.Getenv("SMTP_PASSWORD"),
			},
		},
		auth: authConfig{
			basic: basicConfig{
				user: os.Getenv("AUTH_BASIC_USER"),
				pass: os.Getenv("AUTH_BASIC_PASS"),
			},
			token: tokenConfig{
				refreshSecret: os.Getenv("AUTH_TOKEN_REFRESH_SECRET"),
				secret:        os.Getenv("AUTH_TOKEN_SECRET"),
				iss:           "cartjo",
			},
		},
		gateway: gatewayConfig{
			provider:           getEnvDefault("GATEWAY_PROVIDER", "payfort"),
			accessCode:         os.Getenv("GATEWAY_ACCESS_CODE"),
			merchantIdentifier: os.Getenv("GATEWAY_MERCHANT_IDENTIFIER"),
			shaRequestPhrase:   os.Getenv("GATEWAY_SHA_REQUEST_PHRASE"),
			shaResponsePhrase:  os.Getenv("GATEWAY_SHA_RESPONSE_PHRASE"),
			production:         os.Getenv("ENV") == "production",
		},
		backend: backendConfig{
			baseURL: os.Getenv("BACKEND_BASE_URL"),
			timeout: 15 * time.Second,
		},
		checkout: checkoutConfig{
			tokenTimeout: tokenTimeout,
			confirmPath:  "/checkout/confirmation",
			refSalt:      os.Getenv("REF_SALT"),
		},
		rateLimiter: LoadRateLimiterConfig(),
	}

	logger, err := NewLogger()
	if err != nil {
		fmt.Println("Error creating logger:", err)
		return
	}
	defer logger.Sync()

	// Database
	pool, err := db.New(
		cfg.db.addr,
		int32(cfg.db.maxConns),
		cfg.db.maxIdleTime,
	)
	if err != nil {
		logger.Fatal(err)
	}
	defer pool.Close()
	logger.Info("database connection pool established")

	attemptStore := attempts.NewRepository(pool)
	tokenStore := pushtokens.NewRepository(pool)

	refs, err := refid.NewGenerator(cfg.checkout.refSalt)
	if err != nil {
		logger.Fatal(err)
	}

	gateways := payments.NewManager()
	gateways.Register(payments.NewPayFortAdapter(
		cfg.gateway.accessCode,
		cfg.gateway.merchantIdentifier,
		cfg.gateway.shaRequestPhrase,
		cfg.gateway.shaResponsePhrase,
		cfg.gateway.production,
	))
	gateway, err := gateways.Gateway(cfg.gateway.provider)
	if err != nil {
		logger.Fatal(err)
	}

	backendClient := backend.NewClient(cfg.backend.baseURL, cfg.backend.timeout)

	smtpMailer := mailer.NewSMTP(
		cfg.mail.smtp.host,
		cfg.mail.smtp.port,
		cfg.mail.smtp.username,
		cfg.mail.smtp.password,
		cfg.mail.fromEmail,
	)

	expo := notifications.NewExpoAdapter(exponent.NewClient())
	notifier := notifications.NewPaymentNotifier(expo, tokenStore, smtpMailer, logger)

	orchestrator := checkout.New(checkout.Config{
		Backend:      backendClient,
		Gateway:      gateway,
		Recorder:     attemptStore,
		Notifier:     notifier,
		Logger:       logger,
		TokenTimeout: cfg.checkout.tokenTimeout,
		ConfirmPath:  cfg.checkout.confirmPath,
		Ref:          refs.Encode,
	})

	// Rate limiter
	rateLimiter := ratelimiter.NewFixedWindowLimiter(
		cfg.rateLimiter.RequestsPerTimeFrame,
		cfg.rateLimiter.TimeFrame,
	)
	go func() {
		ticker := time.NewTicker(cfg.rateLimiter.TimeFrame)
		for range ticker.C {
			rateLimiter.Sweep()
		}
	}()

	// Authenticator
	jwtAuthenticator := auth.NewJWTAuthenticator(
		cfg.auth.token.secret,
		cfg.auth.token.refreshSecret,
		cfg.auth.token.iss,
		cfg.auth.token.iss,
	)

	app := &application{
		config:        cfg,
		attempts:      attemptStore,
		pushTokens:    tokenStore,
		checkout:      orchestrator,
		refs:          refs,
		logger:        logger,
		mailer:        smtpMailer,
		authenticator: jwtAuthenticator,
		rateLimiter:   rateLimiter,
	}

	//Metrics collected http://localhost:8080/v1/debug/vars
	expvar.NewString("version").Set(version)
	expvar.Publish("database", expvar.Func(func() any {
		s := pool.Stat()
		return map[string]any{
			"total_conns":    s.TotalConns(),
			"idle_conns":     s.IdleConns(),
			"acquired_conns": s.AcquiredConns(),
		}
	}))
	expvar.Publish("goroutines", expvar.Func(func() any {
		return runtime.NumGoroutine()
	}))

	app.pruneStalePushTokensDaily()
	app.pruneFinishedAttemptsHourly()

	mux := app.mount()

	logger.Fatal(app.run(mux))
}
