// Package acme obtains and renews the API server's TLS certificate via ACME.
// Certificates are stored in the shared SQLite database.
package acme

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/caddyserver/certmagic"
	certmagicsqlite "github.com/rsclarke/certmagic-sqlite"
	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/logging"
)

// Manager handles certificate acquisition and renewal for a single domain
// using the TLS-ALPN-01 and HTTP-01 challenges.
type Manager struct {
	Domain  string
	Email   string
	Staging bool
	DB      *sql.DB
	Logger  *zap.Logger

	once     sync.Once
	setupErr error
	config   *certmagic.Config
	issuer   *certmagic.ACMEIssuer
}

// SetLogger configures the global certmagic loggers.
// Call this before starting any HTTP servers that handle ACME challenges.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	certmagic.Default.Logger = logger
	certmagic.DefaultACME.Logger = logger
}

func NewManager(domain, email string, db *sql.DB, staging bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	SetLogger(logger)
	return &Manager{
		Domain:  domain,
		Email:   email,
		Staging: staging,
		DB:      db,
		Logger:  logger,
	}
}

// CAURL returns the Let's Encrypt directory to use.
func CAURL(staging bool) string {
	if staging {
		return certmagic.LetsEncryptStagingCA
	}
	return certmagic.LetsEncryptProductionCA
}

// setup builds the certmagic configuration and ACME issuer once.
func (m *Manager) setup() error {
	m.once.Do(func() {
		hostname, _ := os.Hostname()
		storage, err := certmagicsqlite.NewWithDB(m.DB, certmagicsqlite.WithOwnerID(hostname))
		if err != nil {
			m.setupErr = fmt.Errorf("create certmagic storage: %w", err)
			return
		}

		cfg := certmagic.NewDefault()
		cfg.Storage = storage
		cfg.Logger = m.Logger

		m.issuer = certmagic.NewACMEIssuer(cfg, certmagic.ACMEIssuer{
			CA:     CAURL(m.Staging),
			Email:  m.Email,
			Agreed: true,
			Logger: m.Logger,
		})
		cfg.Issuers = []certmagic.Issuer{m.issuer}
		m.config = cfg
	})
	return m.setupErr
}

// Manage obtains a certificate for the domain, blocking until it is issued
// or loaded from storage, and keeps it renewed in the background.
func (m *Manager) Manage(ctx context.Context) error {
	if m.Domain == "" {
		return errors.New("acme: domain required")
	}
	if err := m.setup(); err != nil {
		return err
	}

	m.Logger.Info("obtaining certificate", logging.Domain(m.Domain), zap.Bool("staging", m.Staging))
	if err := m.config.ManageSync(ctx, []string{m.Domain}); err != nil {
		return fmt.Errorf("manage certificate for %s: %w", m.Domain, err)
	}
	m.Logger.Info("certificate ready", logging.Domain(m.Domain))
	return nil
}

// TLSConfig returns a TLS configuration serving the managed certificate and
// answering TLS-ALPN challenges. It is nil if the manager could not be set up.
func (m *Manager) TLSConfig() *tls.Config {
	if m.setup() != nil {
		return nil
	}
	return m.config.TLSConfig()
}

// HTTPChallengeHandler answers HTTP-01 challenges and passes every other
// request to next. It may be installed before Manage is called.
func (m *Manager) HTTPChallengeHandler(next http.Handler) http.Handler {
	if err := m.setup(); err != nil {
		m.Logger.Warn("HTTP-01 challenges disabled", zap.Error(err))
		return next
	}
	return m.issuer.HTTPChallengeHandler(next)
}
