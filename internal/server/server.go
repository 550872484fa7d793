// Package server orchestrates all components: NATS client, settings store,
// remote shell, content session, HTTP health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/webshell-bridge/internal/config"
	"github.com/morezero/webshell-bridge/pkg/bridge"
	"github.com/morezero/webshell-bridge/pkg/commsutil"
	"github.com/morezero/webshell-bridge/pkg/events"
	"github.com/morezero/webshell-bridge/pkg/loader"
	"github.com/morezero/webshell-bridge/pkg/normalize"
	"github.com/morezero/webshell-bridge/pkg/remote"
	"github.com/morezero/webshell-bridge/pkg/session"
	"github.com/morezero/webshell-bridge/pkg/store"
)

const logPrefix = "server:server"

// sessionForServer is the part of the content session the HTTP handlers use.
type sessionForServer interface {
	Status() loader.Status
	Resume()
}

// storeForServer is the part of the settings store the HTTP handlers use.
type storeForServer interface {
	Ping(ctx context.Context) error
	Load(ctx context.Context) (store.EndpointConfig, error)
}

// HealthOutput is the /health response.
type HealthOutput struct {
	Status    string       `json:"status"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks lists the individual health checks.
type HealthChecks struct {
	Store bool `json:"store"`
	Comms bool `json:"comms"`
}

// Server is the webshell-bridge orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	store      storeForServer
	sess       sessionForServer
	host       *remote.Host
	connected  func() bool
	httpServer *http.Server
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run() error {
	// Setup structured logging
	var logLevel slog.Level
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info(fmt.Sprintf("%s - Starting webshell-bridge", logPrefix))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	// Step 1: Connect to NATS
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	s.nc = nc
	s.connected = nc.IsConnected

	// Step 2: Open the endpoint settings store
	backend, err := store.OpenBackend(ctx, cfg.StoreOptions())
	if err != nil {
		nc.Close()
		return fmt.Errorf("%s - failed to open settings store: %w", logPrefix, err)
	}
	publisher := events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalChangeSubject: cfg.ChangeEventSubject})
	st := store.New(backend, cfg.Defaults(), publisher)
	s.store = st

	// Step 3: Reach the shell's capture providers
	host := remote.NewHost(nc, cfg.ProviderTimeout, cfg.ProviderHeartbeat)
	if err := host.Start(ctx); err != nil {
		st.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to start remote host: %w", logPrefix, err)
	}
	s.host = host

	// Step 4: Create the content session
	sess, err := session.New(session.Options{
		Store:              st,
		Providers:          host.Providers(),
		Recognizer:         host,
		Encoder:            normalize.NewEncoder(cfg.JPEGQuality),
		Sink:               newSink(nc, cfg),
		Views:              remote.NewViewFactory(nc, cfg.InspectTimeout),
		Loader:             cfg.LoaderConfig(),
		ProtocolConstraint: cfg.ProtocolConstraint,
	})
	if err != nil {
		host.Stop()
		st.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to create session: %w", logPrefix, err)
	}
	s.sess = sess

	sessCtx, stopSession := context.WithCancel(ctx)
	sessDone := make(chan error, 1)
	go func() { sessDone <- sess.Run(sessCtx) }()

	// Step 5: Subscribe to content messages and shell lifecycle events
	sub, err := nc.Subscribe(cfg.InboundSubject, func(msg *comms.Msg) {
		sess.PostToNative(msg.Data)
	})
	if err != nil {
		stopSession()
		<-sessDone
		host.Stop()
		st.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, cfg.InboundSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, cfg.InboundSubject))

	resumeSubject := commsutil.BuildViewSubject("resume")
	resumeSub, err := nc.Subscribe(resumeSubject, func(*comms.Msg) {
		sess.Resume()
	})
	if err != nil {
		sub.Unsubscribe()
		stopSession()
		<-sessDone
		host.Stop()
		st.Close()
		nc.Close()
		return fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, resumeSubject, err)
	}
	slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, resumeSubject))

	// Step 6: Start HTTP health server
	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = fmt.Sprintf(":%d", cfg.HTTPPort)
	}
	s.httpServer = &http.Server{Addr: httpAddr, Handler: s.routes()}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP health server listening on %s", logPrefix, httpAddr))
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - webshell-bridge is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown: stop intake, resolve the in-flight request, then close transports.
	sub.Unsubscribe()
	resumeSub.Unsubscribe()
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
	defer shutdownCancel()
	s.httpServer.Shutdown(shutdownCtx)
	stopSession()
	<-sessDone
	host.Stop()
	nc.Drain()
	st.Close()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

// newSink returns the envelope sink for the configured delivery mode.
func newSink(nc *comms.Conn, cfg *config.Config) bridge.Sink {
	out := bridge.NewCommsSink(nc, cfg.OutboundSubject)
	if cfg.DeliveryMode() == config.DeliveryScript {
		return bridge.NewScriptSink(func(script string) error {
			return out.Send([]byte(script))
		})
	}
	return out
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/status", s.handleStatus())
	mux.HandleFunc("/reload", s.handleReload())
	mux.HandleFunc("/connection", s.handleConnection())
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) commsConnected() bool {
	return s.connected != nil && s.connected()
}

func (s *Server) health(ctx context.Context) *HealthOutput {
	out := &HealthOutput{Timestamp: time.Now().UTC().Format(time.RFC3339)}
	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - settings store health check failed: %v", logPrefix, err))
		} else {
			out.Checks.Store = true
		}
	}
	out.Checks.Comms = s.commsConnected()
	out.Status = "healthy"
	if !out.Checks.Store || !out.Checks.Comms {
		out.Status = "unhealthy"
	}
	return out
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthCtx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()
		h := s.health(healthCtx)
		w.Header().Set("Content-Type", "application/json")
		if h.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	}
}

// handleStatus reports the loading-indicator model of the content session.
func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.sess.Status())
	}
}

// handleReload requests an explicit reload: the configured endpoint is re-read
// and the content switches if it changed.
func (s *Server) handleReload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.sess.Resume()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "reload requested"})
	}
}

// connectionInfo tells a shell where to reach the bridge.
type connectionInfo struct {
	NatsURL            string `json:"natsUrl"`
	InboundSubject     string `json:"inboundSubject"`
	OutboundSubject    string `json:"outboundSubject"`
	ChangeEventSubject string `json:"changeEventSubject"`
	ResultFunction     string `json:"resultFunction"`
	Delivery           string `json:"delivery"`
}

func (s *Server) handleConnection() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		natsURL := s.cfg.NATSClientURL
		if natsURL == "" {
			natsURL = s.cfg.COMMSURL
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(connectionInfo{
			NatsURL:            natsURL,
			InboundSubject:     s.cfg.InboundSubject,
			OutboundSubject:    s.cfg.OutboundSubject,
			ChangeEventSubject: s.cfg.ChangeEventSubject,
			ResultFunction:     bridge.ResultFunction,
			Delivery:           s.cfg.DeliveryMode(),
		})
	}
}

// homePageTemplate is the HTML for the bridge home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Webshell Bridge</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    a { color: #0066cc; }
    h1, h2, h3 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; width: 200px; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Webshell Bridge</h1>
  <p class="meta">Content session, endpoint configuration and health.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>Settings store: {{if .Health.Checks.Store}}<span class="stat">OK</span>{{else}}<span class="error">Failed</span>{{end}}</p>
    <p>COMMS: {{if .Health.Checks.Comms}}<span class="stat">OK</span>{{else}}<span class="error">Disconnected</span>{{end}}</p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Content</h2>
    <table>
      <tr><th>State</th><td>{{.Status.State}}{{if .Status.IsLoading}} (loading){{end}}</td></tr>
      <tr><th>Current endpoint</th><td>{{.Status.CurrentURL}}</td></tr>
      <tr><th>Target</th><td>{{.Status.Target}}</td></tr>
      <tr><th>Attempts</th><td>{{.Status.Attempts}} of {{.Status.MaxAttempts}}</td></tr>
      <tr><th>Switching</th><td>{{.Status.Switching}}{{if .Status.ForcedReload}} (forced reload issued){{end}}</td></tr>
    </table>
  </section>

  <section>
    <h2>Endpoint configuration</h2>
    {{if .ConfigError}}
    <p class="error">Could not read the endpoint configuration: {{.ConfigError}}</p>
    {{else}}
    <table>
      <tr><th>Server URL</th><td>{{.Endpoint.ServerURL}}</td></tr>
      <tr><th>Default server URL</th><td>{{.DefaultURL}}</td></tr>
      <tr><th>Security token</th><td>{{if .TokenIsDefault}}<span class="error">built-in default</span>{{else}}custom{{end}}</td></tr>
    </table>
    {{end}}
  </section>
</body>
</html>
`

// homeData is the data passed to the home page template.
type homeData struct {
	Health         *HealthOutput
	Status         loader.Status
	Endpoint       store.EndpointConfig
	DefaultURL     string
	TokenIsDefault bool
	ConfigError    string
}

// handleHome returns an HTTP handler for the bridge home page. The security
// token itself is never rendered.
func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{
			Health:     s.health(ctx),
			Status:     s.sess.Status(),
			DefaultURL: s.cfg.DefaultServerURL,
		}
		endpoint, err := s.store.Load(ctx)
		if err != nil {
			data.ConfigError = err.Error()
		} else {
			data.Endpoint = endpoint
			data.TokenIsDefault = endpoint.SecurityToken == s.cfg.DefaultSecurityToken
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", logPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
