package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/acme"
	"github.com/rsclarke/firmcheck/internal/auth"
	"github.com/rsclarke/firmcheck/internal/db"
	"github.com/rsclarke/firmcheck/internal/logging"
	"github.com/rsclarke/firmcheck/internal/metrics"
	"github.com/rsclarke/firmcheck/internal/server"
)

const cachePruneInterval = time.Hour

var serveFlags struct {
	addr        string
	httpAddr    string
	dbPath      string
	domain      string
	tlsCert     string
	tlsKey      string
	acme        bool
	acmeEmail   string
	acmeStaging bool
	noAuth      bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	Long: `Serve the firmcheck REST API.

Endpoints:
  POST   /v1/existence         run an existence check
  POST   /v1/domains/validate  validate domains
  DELETE /v1/cache[/{ns}]      clear cached results
  GET    /healthz              liveness
  GET    /metrics              Prometheus metrics

/v1 requires a bearer API key. If the database holds no key, one is created
and printed on startup.

TLS Modes:
  --tls-cert + --tls-key  → Manual TLS mode (use provided certificates)
  --acme --domain <name>  → Automatic Let's Encrypt certificate; TLS-ALPN-01
                            on --addr, HTTP-01 on --http-addr
  (neither)               → Plain HTTP`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVar(&serveFlags.addr, "addr", "", "API listen address (default :8080, env FIRMCHECK_ADDR)")
	f.StringVar(&serveFlags.httpAddr, "http-addr", "", "HTTP-01 challenge listen address in ACME mode (default :80)")
	f.StringVar(&serveFlags.dbPath, "db", "", "database for API keys and certificates (default firmcheck.db, env FIRMCHECK_DB)")
	f.StringVar(&serveFlags.domain, "domain", "", "public domain of the API, required for ACME")
	f.StringVar(&serveFlags.tlsCert, "tls-cert", "", "path to TLS certificate file (enables manual TLS mode)")
	f.StringVar(&serveFlags.tlsKey, "tls-key", "", "path to TLS key file (enables manual TLS mode)")
	f.BoolVar(&serveFlags.acme, "acme", false, "obtain a certificate from Let's Encrypt")
	f.StringVar(&serveFlags.acmeEmail, "acme-email", "", "email for Let's Encrypt notifications")
	f.BoolVar(&serveFlags.acmeStaging, "acme-staging", false, "use Let's Encrypt staging CA")
	f.BoolVar(&serveFlags.noAuth, "no-auth", false, "serve /v1 without API key authentication")
}

func applyServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	s := &cfg.Server
	if f.Changed("addr") {
		s.Addr = serveFlags.addr
	}
	if f.Changed("http-addr") {
		s.HTTPAddr = serveFlags.httpAddr
	}
	if f.Changed("db") {
		s.DBPath = serveFlags.dbPath
	}
	if f.Changed("domain") {
		s.Domain = serveFlags.domain
	}
	if f.Changed("tls-cert") {
		s.TLSCertFile = serveFlags.tlsCert
	}
	if f.Changed("tls-key") {
		s.TLSKeyFile = serveFlags.tlsKey
	}
	if f.Changed("acme") {
		s.ACME = serveFlags.acme
	}
	if f.Changed("acme-email") {
		s.ACMEEmail = serveFlags.acmeEmail
	}
	if f.Changed("acme-staging") {
		s.ACMEStaging = serveFlags.acmeStaging
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	applyServeFlags(cmd)

	m := metrics.New()
	e, err := newEngine(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer e.Close()

	database, err := e.openDB(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if !serveFlags.noAuth {
		if err := ensureAPIKey(ctx, cmd, database); err != nil {
			return err
		}
	}

	apiSrv := &server.APIServer{
		Checker:   e.orchestrator,
		Validator: e.validator,
		Cache:     e.cache,
		Metrics:   m.Handler(),
		Logger:    logger.Named("api"),
	}
	if !serveFlags.noAuth {
		apiSrv.DB = database
	} else {
		logger.Warn("API key authentication disabled")
	}
	handler := apiSrv.Handler()

	var tlsConfig *tls.Config
	var challengeSrv *server.ManagedServer
	switch {
	case cfg.Server.ACME:
		manager := acme.NewManager(cfg.Server.Domain, cfg.Server.ACMEEmail, database, cfg.Server.ACMEStaging, logger.Named("certmagic"))

		// HTTP-01 challenges must be answerable while the certificate is obtained.
		challengeSrv = server.NewManagedServer("acme-http", server.DefaultServerConfig(
			cfg.Server.HTTPAddr, manager.HTTPChallengeHandler(handler), logger.Named("acme-http")))
		if err := challengeSrv.Listen(); err != nil {
			logger.Warn("HTTP-01 listener unavailable, relying on TLS-ALPN-01", zap.Error(err))
			challengeSrv = nil
		} else {
			challengeSrv.Start()
		}

		if err := manager.Manage(ctx); err != nil {
			if challengeSrv != nil {
				challengeSrv.Shutdown(context.Background())
			}
			return fmt.Errorf("ACME certificate acquisition: %w", err)
		}
		tlsConfig = manager.TLSConfig()
	case cfg.Server.TLSCertFile != "":
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	default:
		logger.Info("https disabled", zap.String("reason", "no TLS certificate or ACME configured"))
	}

	srvCfg := server.DefaultServerConfig(cfg.Server.Addr, handler, logger.Named("http"))
	srvCfg.TLSConfig = tlsConfig
	apiServer := server.NewManagedServer("api", srvCfg)
	if err := apiServer.Listen(); err != nil {
		return err
	}
	apiServer.Start()

	go e.cache.PruneEvery(ctx, cachePruneInterval)

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-apiServer.Err():
		if err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()
	apiServer.Shutdown(shutdownCtx)
	if challengeSrv != nil {
		challengeSrv.Shutdown(shutdownCtx)
	}
	logger.Info("stopped", logging.Addr(cfg.Server.Addr))
	return nil
}

// ensureAPIKey creates and prints an API key when the database has none.
func ensureAPIKey(ctx context.Context, cmd *cobra.Command, database *sql.DB) error {
	count, err := db.CountAPIKeys(ctx, database)
	if err != nil {
		return fmt.Errorf("count API keys: %w", err)
	}
	if count > 0 {
		return nil
	}

	key, err := auth.NewKey()
	if err != nil {
		return fmt.Errorf("generate API key: %w", err)
	}
	if _, err := db.CreateAPIKey(ctx, database, key.Prefix, key.Hash, "bootstrap"); err != nil {
		return fmt.Errorf("create API key: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "=============================================================")
	fmt.Fprintln(out, "API KEY CREATED (save this, it will not be shown again):")
	fmt.Fprintln(out, key.Display)
	fmt.Fprintln(out, "=============================================================")
	return nil
}
