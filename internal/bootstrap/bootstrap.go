// Package bootstrap opens the backends selected by configuration. The API
// server, the worker and the admin seeding tool share it so they always
// agree on where documents, events and credentials live.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"qrattend/internal/config"
	"qrattend/internal/docstore"
	"qrattend/internal/identity"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// QueueKey is the redis list carrying scan events.
const QueueKey = "attendance:scans"

// Backends are the opened clients. DB, Redis and Verifier are nil when the
// configuration does not need them.
type Backends struct {
	Store    docstore.Store
	Queue    queue.Queue
	Identity identity.Provider
	Verifier identity.TokenVerifier
	DB       *store.DB
	Redis    *store.Redis

	closers []func() error
}

// Open connects every backend named in cfg. On error, whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg config.App, log *zap.Logger) (b *Backends, err error) {
	if log == nil {
		log = zap.NewNop()
	}
	b = &Backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
			b = nil
		}
	}()

	if cfg.NotifyBackend == "redis" || cfg.QueueBackend == "redis" {
		b.Redis = store.NewRedis(cfg.RedisAddr)
		b.closers = append(b.closers, b.Redis.Close)
		if !b.Redis.Healthy(ctx) {
			log.Warn("redis not reachable yet", zap.String("addr", cfg.RedisAddr))
		}
	}

	var app *firebase.App
	if cfg.StoreBackend == "firestore" || cfg.IdentityBackend == "firebase" {
		app, err = newFirebaseApp(ctx, cfg)
		if err != nil {
			return b, err
		}
	}

	if err = b.openStore(ctx, cfg, app, log); err != nil {
		return b, err
	}
	if err = b.openQueue(cfg); err != nil {
		return b, err
	}
	if err = b.openIdentity(ctx, cfg, app); err != nil {
		return b, err
	}

	log.Info("backends ready",
		zap.String("store", cfg.StoreBackend),
		zap.String("notify", cfg.NotifyBackend),
		zap.String("queue", cfg.QueueBackend),
		zap.String("identity", cfg.IdentityBackend),
	)
	return b, nil
}

func newFirebaseApp(ctx context.Context, cfg config.App) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.FirebaseCredentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentials))
	}
	var fbCfg *firebase.Config
	if cfg.FirebaseProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

func (b *Backends) openStore(ctx context.Context, cfg config.App, app *firebase.App, log *zap.Logger) error {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory document store; data is lost on restart")
		b.Store = docstore.NewMemory()

	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		b.DB = db
		b.closers = append(b.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		notifier, err := b.notifier(cfg)
		if err != nil {
			return err
		}
		b.Store = docstore.NewPostgres(db.Client, notifier)

	case "firestore":
		client, err := app.Firestore(ctx)
		if err != nil {
			return fmt.Errorf("init firestore: %w", err)
		}
		b.Store = docstore.NewFirestore(client)

	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	b.closers = append(b.closers, b.Store.Close)
	return nil
}

func (b *Backends) notifier(cfg config.App) (docstore.Notifier, error) {
	switch cfg.NotifyBackend {
	case "local":
		return docstore.NewLocalNotifier(), nil
	case "redis":
		return docstore.NewRedisNotifier(b.Redis.Client, ""), nil
	default:
		return nil, fmt.Errorf("unknown NOTIFY_BACKEND %q", cfg.NotifyBackend)
	}
}

func (b *Backends) openQueue(cfg config.App) error {
	switch cfg.QueueBackend {
	case "memory":
		b.Queue = queue.NewInMemory(256)
	case "redis":
		b.Queue = queue.NewRedisQueue(b.Redis.Client, QueueKey)
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
	return nil
}

func (b *Backends) openIdentity(ctx context.Context, cfg config.App, app *firebase.App) error {
	switch cfg.IdentityBackend {
	case "local":
		b.Identity = identity.NewLocal(b.Store, 0)
	case "firebase":
		if cfg.FirebaseWebAPIKey == "" {
			return errors.New("IDENTITY_BACKEND=firebase requires FIREBASE_WEB_API_KEY")
		}
		client, err := app.Auth(ctx)
		if err != nil {
			return fmt.Errorf("init firebase auth: %w", err)
		}
		fb := identity.NewFirebase(client, cfg.FirebaseWebAPIKey)
		b.Identity = fb
		b.Verifier = fb
	default:
		return fmt.Errorf("unknown IDENTITY_BACKEND %q", cfg.IdentityBackend)
	}
	return nil
}

// Health returns a reachability check per opened network backend.
func (b *Backends) Health() map[string]func(context.Context) bool {
	checks := map[string]func(context.Context) bool{}
	if b.DB != nil {
		checks["db"] = b.DB.Healthy
	}
	if b.Redis != nil {
		checks["redis"] = b.Redis.Healthy
	}
	return checks
}

// Close releases the backends in reverse opening order.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}
