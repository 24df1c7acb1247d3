package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"dbconnector/internal/db"
	"dbconnector/internal/ipc"
	"dbconnector/internal/logger"
	"dbconnector/internal/plotly"
	"dbconnector/internal/scheduler"
	"dbconnector/internal/settings"
	"dbconnector/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

type Options struct {
	Settings    *settings.Settings
	Logger      *logger.Logger
	Handler     *ipc.Handler
	Hub         *ipc.Hub
	Connections *store.Connections
	Queries     *store.Queries
	Tags        *store.Tags
	Scheduler   *scheduler.Scheduler
	Pool        *db.Pool
	HTTPClient  *http.Client
	Version     string
}

// Server is the REST façade plus the UI channel endpoint.
type Server struct {
	settings    *settings.Settings
	log         *logger.Logger
	handler     *ipc.Handler
	hub         *ipc.Hub
	connections *store.Connections
	queries     *store.Queries
	tags        *store.Tags
	scheduler   *scheduler.Scheduler
	pool        *db.Pool
	httpClient  *http.Client
	version     string
	tokens      *tokenManager
	engine      *gin.Engine

	mu      sync.Mutex
	origins []string
	http    *http.Server
	https   *http.Server
}

func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	pool := opts.Pool
	if pool == nil {
		pool = db.NewPool(log.Zap())
	}
	s := &Server{
		settings:    opts.Settings,
		log:         log,
		handler:     opts.Handler,
		hub:         opts.Hub,
		connections: opts.Connections,
		queries:     opts.Queries,
		tags:        opts.Tags,
		scheduler:   opts.Scheduler,
		pool:        pool,
		httpClient:  opts.HTTPClient,
		version:     opts.Version,
	}
	s.tokens = newTokenManager(s.tokenSecret(), time.Duration(s.settings.Int("ACCESS_TOKEN_AGE"))*time.Second)
	if s.handler != nil {
		s.handler.SetServerControl(s)
	}
	if s.hub != nil {
		s.hub.SetCheckOrigin(s.channelOriginAllowed)
	}
	s.engine = s.routes()
	return s
}

// tokenSecret returns ACCESS_TOKEN_SECRET, generating and saving one on
// first use.
func (s *Server) tokenSecret() string {
	if secret := s.settings.String("ACCESS_TOKEN_SECRET"); secret != "" {
		return secret
	}
	secret := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
	if err := s.settings.Save("ACCESS_TOKEN_SECRET", secret); err != nil {
		s.log.Logf(logger.DetailWarn, "failed to save ACCESS_TOKEN_SECRET: %v", err)
	}
	return secret
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// plotly returns a client for the Plotly instance currently configured.
func (s *Server) plotly() *plotly.Client {
	opts := []plotly.Option{plotly.WithLogger(s.log.Zap())}
	if s.httpClient != nil {
		opts = append(opts, plotly.WithHTTPClient(s.httpClient))
	}
	return plotly.NewClient(s.settings.String("PLOTLY_API_URL"), s.settings.String("PLOTLY_URL"), opts...)
}

// credentials of username from the USERS setting.
func (s *Server) credentials(username string) plotly.Credentials {
	user, ok := s.settings.User(username)
	if !ok {
		return plotly.Credentials{Username: username}
	}
	return plotly.Credentials{Username: user.Username, APIKey: user.APIKey, AccessToken: user.AccessToken}
}

// ListenAndServe serves HTTP on PORT, and HTTPS on PORT_HTTPS when the
// certificate files exist, until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.settings.Int("PORT")),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	if _, err := s.StartHTTPS(); err != nil {
		s.log.Logf(logger.DetailError, "Could not start https server: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Logf(logger.DetailInfo, "Listening at: http://localhost:%d", s.settings.Int("PORT"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// StartHTTPS serves HTTPS from CERT_FILE and KEY_FILE. It reports false
// when the certificate is missing.
func (s *Server) StartHTTPS() (bool, error) {
	certFile := s.settings.String("CERT_FILE")
	keyFile := s.settings.String("KEY_FILE")
	if !fileExists(certFile) || !fileExists(keyFile) {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.https != nil {
		return true, nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.settings.Int("PORT_HTTPS")),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return true, fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
	}
	s.https = srv
	go func() {
		if err := srv.ServeTLS(ln, certFile, keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Logf(logger.DetailError, "https server stopped: %v", err)
		}
	}()
	s.log.Logf(logger.DetailInfo, "Listening at: %s", s.httpsURL())
	return true, nil
}

func (s *Server) httpsURL() string {
	return fmt.Sprintf("https://%s:%d", s.settings.String("CONNECTOR_HTTPS_DOMAIN"), s.settings.Int("PORT_HTTPS"))
}

// URLs are the addresses the UI can reach the connector at.
func (s *Server) URLs() map[string]string {
	s.mu.Lock()
	httpsRunning := s.https != nil
	s.mu.Unlock()
	urls := map[string]string{
		"http":  fmt.Sprintf("http://localhost:%d", s.settings.Int("PORT")),
		"https": "",
	}
	if httpsRunning {
		urls["https"] = s.httpsURL()
	}
	return urls
}

// AddAllowedOrigin lets domain through CORS and remembers it in
// ADDITIONAL_CORS_ALLOWED_ORIGINS.
func (s *Server) AddAllowedOrigin(domain string) {
	domain = strings.TrimRight(strings.TrimSpace(domain), "/")
	if domain == "" {
		return
	}
	s.mu.Lock()
	for _, origin := range s.origins {
		if origin == domain {
			s.mu.Unlock()
			return
		}
	}
	s.origins = append(s.origins, domain)
	s.mu.Unlock()

	saved := s.settings.Strings("ADDITIONAL_CORS_ALLOWED_ORIGINS")
	for _, origin := range saved {
		if origin == domain {
			return
		}
	}
	if err := s.settings.Save("ADDITIONAL_CORS_ALLOWED_ORIGINS", append(saved, domain)); err != nil {
		s.log.Logf(logger.DetailWarn, "failed to save allowed origin %s: %v", domain, err)
	}
}

func (s *Server) allowedOrigins() []string {
	origins := s.settings.Strings("CORS_ALLOWED_ORIGINS")
	s.mu.Lock()
	origins = append(origins, s.origins...)
	s.mu.Unlock()
	return origins
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	servers := []*http.Server{s.http, s.https}
	s.https = nil
	s.mu.Unlock()

	var errs []error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
