package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/layer-3/slashauth"
	"github.com/layer-3/slashauth/adapters/authapi"
	"github.com/layer-3/slashauth/adapters/events"
	"github.com/layer-3/slashauth/adapters/frame"
	"github.com/layer-3/slashauth/adapters/locker"
	"github.com/layer-3/slashauth/adapters/store"
	"github.com/layer-3/slashauth/adapters/verifier"
	"github.com/layer-3/slashauth/adapters/wallet"
	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/internal/config"
	"github.com/layer-3/slashauth/internal/logger"
	"github.com/layer-3/slashauth/metrics"
	"github.com/layer-3/slashauth/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// agent is a fully wired session core
type agent struct {
	cfg      *config.Config
	sdk      *slashauth.SDK
	log      zerolog.Logger
	registry *prometheus.Registry
	closers  []func() error
}

func (a *agent) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("shutdown step failed")
		}
	}
}

// noWallet stands in when no wallet key is configured
type noWallet struct {
	env string
}

func (w noWallet) Connect(ctx context.Context) (string, error) {
	return "", fmt.Errorf("no wallet key configured, set %s", w.env)
}

func (w noWallet) SignMessage(ctx context.Context, address, message string) (string, error) {
	return "", fmt.Errorf("no wallet key configured, set %s", w.env)
}

func buildAgent(ctx context.Context, configPath string) (*agent, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, logCloser, err := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogRotateMegabytes,
		MaxBackups: cfg.LogRotateMaxFiles,
	})
	if err != nil {
		return nil, err
	}

	a := &agent{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	a.closers = append(a.closers, logCloser.Close)

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *agent) wire(ctx context.Context) error {
	cfg := a.cfg
	collector := metrics.New(a.registry)

	storage, lock, err := a.storage(ctx)
	if err != nil {
		return err
	}

	publisher, subscriber, err := a.pubsub()
	if err != nil {
		return err
	}
	eventPub := events.NewWatermillPublisher(publisher)

	idVerifier, err := a.verifier(ctx)
	if err != nil {
		return err
	}

	var w ports.Wallet = noWallet{env: cfg.Wallet.PrivateKeyEnv}
	if key := os.Getenv(cfg.Wallet.PrivateKeyEnv); key != "" {
		kw, err := wallet.NewKeyWalletFromHex(key)
		if err != nil {
			return err
		}
		kw.OnEvent(func(evt core.WalletEvent) {
			if err := eventPub.PublishWalletEvent(context.Background(), evt); err != nil {
				a.log.Warn().Err(err).Msg("failed to publish wallet event")
			}
		})
		w = kw
	}

	durations, err := cfg.Client.Durations()
	if err != nil {
		return err
	}

	api := authapi.NewClient(cfg.Client.AuthDomain, nil)
	a.sdk, err = slashauth.New(slashauth.Config{
		ClientID:         cfg.Client.ClientID,
		Issuer:           cfg.Client.Issuer,
		AuthDomain:       cfg.Client.AuthDomain,
		Audience:         cfg.Client.Audience,
		Scope:            cfg.Client.Scope,
		RedirectURI:      cfg.Client.RedirectURI,
		Leeway:           durations.Leeway,
		MaxAge:           durations.MaxAge,
		HandshakeTimeout: durations.HandshakeTimeout,
		SessionDays:      cfg.Client.SessionDays,
	}, slashauth.Dependencies{
		Storage:      storage,
		Locker:       lock,
		Verifier:     idVerifier,
		Mounter:      frame.NewWebsocketMounter(cfg.Client.HostOrigin, nil, a.log),
		Tokens:       api,
		Nonces:       api,
		Accounts:     api,
		Wallet:       w,
		WalletEvents: events.NewWalletSubscriber(subscriber, a.log),
		Events:       eventPub,
		Logger:       a.log,
		Metrics:      collector,
	})
	return err
}

func (a *agent) storage(ctx context.Context) (ports.Storage, ports.Locker, error) {
	sc := a.cfg.Storage

	switch sc.Type {
	case "redis":
		rs, err := store.NewRedisStoreFromURL(ctx, sc.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, rs.Close)
		return rs, locker.NewRedisLocker(rs.Client()), nil

	case "postgres":
		pool, err := pgxpool.New(ctx, sc.ConnectionURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })

		var opts []store.PostgresOption
		if sc.Table != "" {
			opts = append(opts, store.WithTable(sc.Table))
		}
		ps, err := store.NewPostgresStore(pool, opts...)
		if err != nil {
			return nil, nil, err
		}
		if err := ps.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		return ps, locker.NewMemoryLocker(), nil

	default:
		return store.NewMemoryStore(), locker.NewMemoryLocker(), nil
	}
}

func (a *agent) pubsub() (message.Publisher, message.Subscriber, error) {
	ec := a.cfg.Events
	wmLogger := watermill.NewStdLogger(false, false)

	if ec.Type != "redis" {
		ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, wmLogger)
		a.closers = append(a.closers, ps.Close)
		return ps, ps, nil
	}

	opts, err := redis.ParseURL(ec.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse events redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client.Close)

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, wmLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	a.closers = append(a.closers, publisher.Close)

	subscriber, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		ConsumerGroup: ec.ConsumerGroup,
	}, wmLogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create redis subscriber: %w", err)
	}
	a.closers = append(a.closers, subscriber.Close)

	return publisher, subscriber, nil
}

func (a *agent) verifier(ctx context.Context) (ports.IDTokenVerifier, error) {
	issuer := a.cfg.Client.Issuer
	if issuer == "" {
		issuer = a.cfg.Client.AuthDomain
	}
	v, err := verifier.NewOIDCVerifierFromIssuer(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer keys: %w", err)
	}
	return v, nil
}
