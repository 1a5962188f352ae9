package slashauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/slashauth/cache"
	"github.com/layer-3/slashauth/channel"
	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/lock"
	"github.com/layer-3/slashauth/login"
	"github.com/layer-3/slashauth/metrics"
	"github.com/layer-3/slashauth/ports"
	"github.com/layer-3/slashauth/service"
	"github.com/rs/zerolog"
)

// Config describes the client application and the auth server
type Config struct {
	ClientID    string
	Issuer      string
	AuthDomain  string
	Audience    string
	Scope       string
	RedirectURI string

	Leeway           time.Duration
	MaxAge           time.Duration
	HandshakeTimeout time.Duration
	TeardownDelay    time.Duration
	SessionDays      int

	LockAttemptTimeout time.Duration
	LockRetries        int
}

// Dependencies are the collaborators the session core is built on
type Dependencies struct {
	Storage  ports.Storage
	Locker   ports.Locker
	Verifier ports.IDTokenVerifier
	Mounter  ports.FrameMounter
	Tokens   ports.TokenEndpoint
	Nonces   ports.NonceAPI
	Accounts ports.AccountAPI
	Wallet   ports.Wallet

	// WalletEvents and Events are optional
	WalletEvents ports.WalletEventSource
	Events       ports.EventPublisher

	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// SDK implements Client
type SDK struct {
	*service.Client

	machine  *login.Machine
	listener *login.Listener
	events   ports.WalletEventSource
	log      zerolog.Logger
}

var _ Client = (*SDK)(nil)

// New wires the session core
func New(cfg Config, deps Dependencies) (*SDK, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = cfg.AuthDomain
	}
	log := deps.Logger

	manager := cache.NewManager(deps.Storage, deps.Verifier, cfg.ClientID, cfg.Issuer,
		cache.WithLogger(log),
		cache.WithMetrics(deps.Metrics),
	)

	mutexOpts := []lock.MutexOption{lock.WithLogger(log), lock.WithMetrics(deps.Metrics)}
	if cfg.LockAttemptTimeout > 0 {
		mutexOpts = append(mutexOpts, lock.WithAttemptTimeout(cfg.LockAttemptTimeout))
	}
	if cfg.LockRetries > 0 {
		mutexOpts = append(mutexOpts, lock.WithRetries(cfg.LockRetries))
	}
	refresher := lock.NewRefresher(lock.NewMutex(deps.Locker, mutexOpts...))

	teardown := cfg.TeardownDelay
	if teardown == 0 {
		teardown = channel.DefaultTeardownDelay
	}
	ch, err := channel.New(channel.Config{
		AuthDomain:    cfg.AuthDomain,
		ClientID:      cfg.ClientID,
		RedirectURI:   cfg.RedirectURI,
		Timeout:       cfg.HandshakeTimeout,
		TeardownDelay: teardown,
	}, deps.Mounter, deps.Tokens, channel.WithLogger(log), channel.WithMetrics(deps.Metrics))
	if err != nil {
		return nil, err
	}

	client := service.NewClient(service.Options{
		ClientID:    cfg.ClientID,
		Audience:    cfg.Audience,
		Scope:       cfg.Scope,
		Leeway:      cfg.Leeway,
		MaxAge:      cfg.MaxAge,
		SessionDays: cfg.SessionDays,
	}, service.Dependencies{
		Cache:     manager,
		Refresher: refresher,
		Channel:   ch,
		Tokens:    deps.Tokens,
		Nonces:    deps.Nonces,
		Accounts:  deps.Accounts,
		Storage:   deps.Storage,
		Events:    deps.Events,
		Log:       log,
		Metrics:   deps.Metrics,
	})

	machine := login.NewMachine(log)
	return &SDK{
		Client:   client,
		machine:  machine,
		listener: login.NewListener(machine, deps.Wallet, client, client, log),
		events:   deps.WalletEvents,
		log:      log.With().Str("component", "sdk").Logger(),
	}, nil
}

// Start attaches the login listener, restores a hinted session and watches
// wallet events until ctx is done
func (s *SDK) Start(ctx context.Context) {
	detach := s.listener.Attach(ctx)
	go func() {
		<-ctx.Done()
		detach()
	}()

	s.CheckSession(ctx)

	if s.events != nil {
		go func() {
			if err := s.Binding().Watch(ctx, s.events); err != nil {
				s.log.Error().Err(err).Msg("wallet event watch stopped")
			}
		}()
	}
}

// Login starts the wallet flow and waits until it ends. A flow already in
// progress is not interrupted. Start must have been called first.
func (s *SDK) Login(ctx context.Context) (*core.Account, error) {
	if st := s.machine.State(); st.Step != core.StepNone && !st.Step.Terminal() {
		return nil, core.ErrLoginInProgress
	}

	done := make(chan login.State, 1)
	unsubscribe := s.machine.Subscribe(func(prev, next login.State) {
		if next.Step.Terminal() {
			select {
			case done <- next:
			default:
			}
		}
	})
	defer unsubscribe()

	s.machine.Dispatch(login.Activate{})
	s.machine.Dispatch(login.LoginRequested{})

	select {
	case <-ctx.Done():
		s.machine.Dispatch(login.Cancelled{})
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &core.TimeoutError{Op: "login"}
		}
		return nil, ctx.Err()
	case st := <-done:
		switch st.Step {
		case core.StepLoggedIn:
			return st.Account, nil
		case core.StepCancel:
			return nil, core.ErrUserRejected
		default:
			return nil, fmt.Errorf("%w: %s", core.ErrLoginFailed, st.Error)
		}
	}
}

// LoginState returns the current step of the login flow
func (s *SDK) LoginState() login.State {
	return s.machine.State()
}

// Subscribe observes login state changes
func (s *SDK) Subscribe(fn login.Subscriber) func() {
	return s.machine.Subscribe(fn)
}

// Reset abandons the login flow
func (s *SDK) Reset() {
	s.machine.Dispatch(login.Reset{})
}
