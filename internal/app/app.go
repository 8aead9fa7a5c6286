// Package app assembles the service components from configuration. The
// server and the admin CLI share it so both see the same stores.
package app

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adamscao/breakglass/internal/clock"
	"github.com/adamscao/breakglass/internal/config"
	"github.com/adamscao/breakglass/internal/credential"
	"github.com/adamscao/breakglass/internal/db"
	"github.com/adamscao/breakglass/internal/db/repository"
	"github.com/adamscao/breakglass/internal/ledger"
	"github.com/adamscao/breakglass/internal/metrics"
	"github.com/adamscao/breakglass/internal/nonce"
	"github.com/adamscao/breakglass/internal/notify"
	"github.com/adamscao/breakglass/internal/policy"
	"github.com/adamscao/breakglass/internal/report"
	"github.com/adamscao/breakglass/internal/signature"
	"github.com/adamscao/breakglass/internal/token"
	"github.com/adamscao/breakglass/internal/vault"
)

// Options tune how components are built
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Clock   clock.Clock
	// GenerateKey creates the signing key on first start instead of
	// failing when it is missing.
	GenerateKey bool
}

// App holds the assembled components
type App struct {
	Config    *config.Config
	DB        *db.DB
	Ledger    *ledger.Ledger
	Nonces    nonce.Store
	Requests  *repository.RequestRepository
	Issuer    *token.Issuer
	Manager   *credential.Manager
	Finalizer *report.Finalizer

	// KeyGenerated reports the signing key was created by this Open
	KeyGenerated bool
	SigningKey   *signature.KeyPair

	opts    Options
	closers []func()
}

// OpenStorage opens the database, the ledger and the nonce store. It needs
// no signing key, so it serves read-only tooling.
func OpenStorage(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	a := &App{Config: cfg, opts: opts}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.DB = database
	a.closers = append(a.closers, func() { database.Close() })
	a.Requests = repository.NewRequestRepository(database.DB)

	store, err := a.openLedgerStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger, err = ledger.Open(ctx, store,
		ledger.WithClock(opts.Clock),
		ledger.WithMetrics(opts.Metrics),
		ledger.WithLogger(opts.Logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	a.Nonces, err = a.openNonceStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Open opens storage and builds the credential manager and the report
// finalizer on top of it
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a, err := OpenStorage(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	if err := a.buildServices(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildServices() error {
	cfg, opts := a.Config, a.opts

	ks := signature.NewKeyStore(cfg.Signing.ScryptWorkFactor)
	if opts.GenerateKey {
		kp, generated, err := ks.LoadOrGenerate(cfg.Signing.PrivateKeyPath, cfg.Signing.PublicKeyPath, cfg.Signing.Passphrase)
		if err != nil {
			return fmt.Errorf("failed to load signing key: %w", err)
		}
		a.SigningKey, a.KeyGenerated = kp, generated
	} else {
		priv, err := ks.LoadPrivateKey(cfg.Signing.PrivateKeyPath, cfg.Signing.Passphrase)
		if err != nil {
			return fmt.Errorf("failed to load signing key: %w", err)
		}
		a.SigningKey = &signature.KeyPair{PrivateKey: priv, PublicKey: priv.Public().(ed25519.PublicKey)}
	}

	a.Issuer = token.NewIssuer(a.SigningKey.PrivateKey, a.Nonces,
		token.WithClock(opts.Clock),
		token.WithTags(cfg.Token.Issuer, cfg.Token.Audience),
		token.WithMetrics(opts.Metrics),
		token.WithLogger(opts.Logger),
	)

	approvers := signature.NewDirKeys(cfg.Approvers.KeysDir)
	a.Manager = credential.NewManager(
		a.Requests,
		a.Issuer,
		a.Ledger,
		approvers,
		vault.NewDirVault(cfg.Vault.RootDir),
		credential.WithClock(opts.Clock),
		credential.WithPolicy(policy.NewValidator(cfg)),
		credential.WithNonceStore(a.Nonces),
		credential.WithNotifier(notify.NewLogNotifier(opts.Logger)),
		credential.WithOwnerResolver(cfg.OwnerFor),
		credential.WithMetrics(opts.Metrics),
		credential.WithLogger(opts.Logger),
	)
	a.Finalizer = report.NewFinalizer(a.Ledger,
		report.WithClock(opts.Clock),
		report.WithSignerKeys(approvers),
		report.WithMetrics(opts.Metrics),
		report.WithLogger(opts.Logger),
	)
	return nil
}

// Close releases every opened resource in reverse order
func (a *App) Close() {
	if a.Manager != nil {
		a.Manager.WaitNotifications()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openLedgerStore() (ledger.Store, error) {
	switch a.Config.Ledger.Backend {
	case "file":
		fs, err := ledger.OpenFileStore(a.Config.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger file: %w", err)
		}
		a.closers = append(a.closers, func() { fs.Close() })
		return fs, nil
	default:
		return repository.NewLedgerRepository(a.DB.DB), nil
	}
}

func (a *App) openNonceStore(ctx context.Context) (nonce.Store, error) {
	cfg := a.Config.Nonce
	switch cfg.Backend {
	case "memory":
		return nonce.NewMemoryStore(a.opts.Clock), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, func() { client.Close() })
		return nonce.NewRedisStore(client, cfg.RedisPrefix, a.opts.Clock), nil
	default:
		return repository.NewNonceRepository(a.DB.DB, a.opts.Clock), nil
	}
}
