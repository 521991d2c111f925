package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"time"

	"github.com/bluesky-social/indigo/util"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lacchain/lac1resolver/identity"
	"github.com/lacchain/lac1resolver/lac1"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	CacheMemory = "memory"
	CacheSqlite = "sqlite"
	CacheNone   = "none"
)

type Server struct {
	http     *http.Client
	httpd    *http.Server
	echo     *echo.Echo
	db       *gorm.DB
	logger   *slog.Logger
	config   *config
	resolver *identity.Resolver
	passport *identity.Passport
	dbCache  *identity.DbCache
}

type Args struct {
	Addr           string
	DbName         string
	Logger         *slog.Logger
	Version        string
	Networks       identity.Networks
	Mode           string
	Cache          string
	CacheSize      int
	CacheTTL       time.Duration
	ResolveTimeout time.Duration
	AdminPassword  string

	// Dial overrides how network backends are opened.
	Dial identity.DialFunc
}

type config struct {
	Version       string
	AdminPassword string
	CacheTTL      time.Duration
}

type CustomValidator struct {
	validator *validator.Validate
}

type ValidationError struct {
	error
	Field string
	Tag   string
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		var validateErrors validator.ValidationErrors
		if errors.As(err, &validateErrors) && len(validateErrors) > 0 {
			first := validateErrors[0]
			return ValidationError{
				error: err,
				Field: first.Field(),
				Tag:   first.Tag(),
			}
		}

		return err
	}

	return nil
}

var hexChainIDRegex = regexp.MustCompile(`^(0x)?[0-9a-fA-F]+$`)

func New(args *Args) (*Server, error) {
	if args.Addr == "" {
		return nil, fmt.Errorf("addr must be set")
	}

	if len(args.Networks) == 0 {
		return nil, fmt.Errorf("at least one network must be set")
	}

	if args.Cache == "" {
		args.Cache = CacheMemory
	}

	if args.Cache == CacheSqlite && args.DbName == "" {
		return nil, fmt.Errorf("db name must be set when using the sqlite cache")
	}

	if args.CacheSize <= 0 {
		args.CacheSize = 10_000
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	mode, err := identity.ParseMode(args.Mode)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Pre(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Pre(slogecho.New(args.Logger))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:       100_000_000,
	}))

	vdtor := validator.New()
	vdtor.RegisterValidation("lac1-did", func(fl validator.FieldLevel) bool {
		if _, err := lac1.Decode(fl.Field().String()); err != nil {
			return false
		}
		return true
	})
	vdtor.RegisterValidation("eth-address", func(fl validator.FieldLevel) bool {
		return common.IsHexAddress(fl.Field().String())
	})
	vdtor.RegisterValidation("hex-chain-id", func(fl validator.FieldLevel) bool {
		return hexChainIDRegex.MatchString(fl.Field().String())
	})

	e.Validator = &CustomValidator{validator: vdtor}

	httpd := &http.Server{
		Addr:    args.Addr,
		Handler: e,
	}

	h := util.RobustHTTPClient()

	resolver, err := identity.NewResolver(&identity.ResolverArgs{
		Networks:   args.Networks,
		Mode:       mode,
		Timeout:    args.ResolveTimeout,
		Dial:       args.Dial,
		Logger:     args.Logger,
		HTTPClient: h,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		http:     h,
		httpd:    httpd,
		echo:     e,
		logger:   args.Logger,
		resolver: resolver,
		config: &config{
			Version:       args.Version,
			AdminPassword: args.AdminPassword,
			CacheTTL:      args.CacheTTL,
		},
	}

	var bc identity.BackingCache
	switch args.Cache {
	case CacheMemory:
		bc = identity.NewMemCache(args.CacheSize, args.CacheTTL)
	case CacheSqlite:
		db, err := gorm.Open(sqlite.Open(args.DbName), &gorm.Config{})
		if err != nil {
			return nil, err
		}

		dc, err := identity.NewDbCache(db, args.CacheTTL)
		if err != nil {
			return nil, err
		}

		s.db = db
		s.dbCache = dc
		bc = dc
	case CacheNone:
	default:
		return nil, fmt.Errorf("unknown cache %q", args.Cache)
	}

	s.passport = identity.NewPassport(resolver, bc, args.Logger)

	s.addRoutes()

	return s, nil
}

func (s *Server) addRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/robots.txt", s.handleRobots)

	// public
	s.echo.GET("/1.0/identifiers/:did", s.handleResolve)
	s.echo.GET("/1.0/encode", s.handleEncode)
	s.echo.GET("/1.0/decode", s.handleDecode)

	// admin
	if s.config.AdminPassword != "" {
		admin := s.echo.Group("/admin", middleware.BasicAuth(s.checkAdminPassword))
		admin.POST("/cache/bust", s.handleAdminBustCache)
	}
}

func (s *Server) checkAdminPassword(username, password string, e echo.Context) (bool, error) {
	ok := subtle.ConstantTimeCompare([]byte(username), []byte("admin")) == 1 &&
		subtle.ConstantTimeCompare([]byte(password), []byte(s.config.AdminPassword)) == 1
	return ok, nil
}

// ServeHTTP lets the server be driven without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting lac1 resolver", "addr", s.httpd.Addr)

	go func() {
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(err)
		}
	}()

	if s.dbCache != nil {
		go s.purgeExpiredLoop(ctx)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpd.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error shutting down http server", "error", err)
	}

	fmt.Println("shut down")

	return nil
}

func (s *Server) purgeExpiredLoop(ctx context.Context) {
	interval := s.config.CacheTTL
	if interval <= 0 {
		interval = identity.DefaultCacheTTL
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.dbCache.PurgeExpired()
			if err != nil {
				s.logger.Error("error purging expired documents", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("purged expired documents", "count", n)
			}
		}
	}
}
