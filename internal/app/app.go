// internal/app/app.go
package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/i18n"
	"github.com/javajoker/farmtrace-backend/internal/ledger"
	"github.com/javajoker/farmtrace-backend/internal/middleware"
	"github.com/javajoker/farmtrace-backend/internal/payment"
	"github.com/javajoker/farmtrace-backend/internal/repository"
	"github.com/javajoker/farmtrace-backend/internal/router"
	"github.com/javajoker/farmtrace-backend/internal/services"
	"github.com/javajoker/farmtrace-backend/internal/utils"
)

// App holds the services shared by the HTTP server and farmtracectl.
type App struct {
	Config   *config.Config
	Repo     repository.Repository
	Services *router.Services
	Limiter  *middleware.RateLimiter

	closers []func() error
}

type Option func(*options)

type options struct {
	ledger  ledger.Client
	gateway payment.Gateway
	card    payment.Collector
	archive *services.ProofArchive
}

// WithLedger replaces the configured ledger backend.
func WithLedger(client ledger.Client) Option {
	return func(o *options) { o.ledger = client }
}

// WithGateway replaces the configured mobile-money rail.
func WithGateway(gateway payment.Gateway) Option {
	return func(o *options) { o.gateway = gateway }
}

func WithCardCollector(card payment.Collector) Option {
	return func(o *options) { o.card = card }
}

func WithProofArchive(archive *services.ProofArchive) Option {
	return func(o *options) { o.archive = archive }
}

func New(cfg *config.Config, repo repository.Repository, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := i18n.Initialize(cfg.I18n.LocalesPath, cfg.I18n.DefaultLocale); err != nil {
		return nil, fmt.Errorf("failed to initialize i18n: %w", err)
	}
	utils.SetJWTSecret(cfg.JWT.SecretKey)
	utils.SetJWTIssuer(cfg.JWT.Issuer)

	a := &App{Config: cfg, Repo: repo}

	client := o.ledger
	if client == nil {
		backend, err := a.ledgerBackend()
		if err != nil {
			return nil, err
		}
		client = ledger.NewRetryingClient(backend, cfg.Ledger.RetryConfig())
	}

	gateway := o.gateway
	if gateway == nil {
		gateway = a.gatewayBackend()
	}

	card := o.card
	if card == nil && cfg.Payment.StripeSecretKey != "" {
		card = payment.NewCardCollector(cfg.Payment.StripeSecretKey, cfg.Payment.Currency, nil)
	}

	archive := o.archive
	if archive == nil {
		var err error
		archive, err = services.NewProofArchive(cfg.AWS)
		if err != nil {
			return nil, err
		}
	}

	anchorer := services.NewAnchorer(client, repo)
	farmers := services.NewFarmerService(repo, anchorer, payment.KenyaContact)
	carbon := services.NewCarbonService(repo, anchorer, cfg.Carbon)
	a.Services = &router.Services{
		Farmers:     farmers,
		Produce:     services.NewProduceService(repo, farmers, anchorer, payment.KenyaContact),
		Custody:     services.NewCustodyService(repo, anchorer, archive),
		Settlement:  services.NewSettlementService(repo, gateway, anchorer, carbon, cfg.Settlement),
		Collections: services.NewCollectionService(repo, gateway, card),
		Carbon:      carbon,
	}
	return a, nil
}

func (a *App) ledgerBackend() (ledger.Client, error) {
	cfg := a.Config.Ledger
	if cfg.Backend != "hedera" {
		logrus.WithField("topic", cfg.TopicID).Warn("Using in-memory ledger; anchors are lost on restart")
		return ledger.NewMemoryNetwork(cfg.TopicID), nil
	}

	mirror := ledger.NewMirrorClient(cfg.MirrorURL, &http.Client{Timeout: 30 * time.Second})
	network, err := ledger.NewHederaNetwork(ledger.HederaConfig{
		Network:     cfg.Network,
		OperatorID:  cfg.OperatorID,
		OperatorKey: cfg.OperatorKey,
		TopicID:     cfg.TopicID,
	}, mirror)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize hedera ledger: %w", err)
	}
	a.closers = append(a.closers, network.Close)
	return network, nil
}

func (a *App) gatewayBackend() payment.Gateway {
	cfg := a.Config.MPesa
	if cfg.Backend != "mpesa" {
		logrus.Warn("Using simulated M-Pesa rail; no money moves")
		return payment.NewSimulatedRail(payment.KenyaContact, time.Now)
	}

	return payment.NewMPesaClient(payment.MPesaConfig{
		BaseURL:            cfg.BaseURL,
		ConsumerKey:        cfg.ConsumerKey,
		ConsumerSecret:     cfg.ConsumerSecret,
		ShortCode:          cfg.ShortCode,
		Passkey:            cfg.Passkey,
		InitiatorName:      cfg.InitiatorName,
		SecurityCredential: cfg.SecurityCredential,
		CallbackURL:        cfg.CallbackURL,
		ResultURL:          cfg.ResultURL,
		TimeoutURL:         cfg.TimeoutURL,
		Timeout:            time.Duration(cfg.TimeoutSeconds) * time.Second,
		RequestsPerSecond:  cfg.RequestsPerSecond,
		Burst:              cfg.Burst,
		TokenSkew:          time.Duration(cfg.TokenSkewSeconds) * time.Second,
		Retry:              cfg.RetryConfig(),
		Contact:            payment.KenyaContact,
	})
}

// Router builds the HTTP engine over the app's services.
func (a *App) Router() *gin.Engine {
	return router.Initialize(a.Config, a.Repo, a.Services, a.Limiter)
}

func (a *App) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			logrus.WithError(err).Warn("Error closing backend")
		}
	}
}
