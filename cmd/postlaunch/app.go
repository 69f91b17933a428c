package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/broadcast"
	"github.com/sawpanic/postlaunch/internal/config"
	"github.com/sawpanic/postlaunch/internal/creation"
	"github.com/sawpanic/postlaunch/internal/descriptor"
	"github.com/sawpanic/postlaunch/internal/guard"
	"github.com/sawpanic/postlaunch/internal/infrastructure/db"
	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
	"github.com/sawpanic/postlaunch/internal/journal"
	"github.com/sawpanic/postlaunch/internal/metadata"
	"github.com/sawpanic/postlaunch/internal/metrics"
	"github.com/sawpanic/postlaunch/internal/persistence"
	"github.com/sawpanic/postlaunch/internal/pipeline"
	"github.com/sawpanic/postlaunch/internal/signer"
	"github.com/sawpanic/postlaunch/internal/social"
)

// app is the fully wired launch service
type app struct {
	cfg     *config.Config
	metrics *metrics.Registry
	ledger  *db.Manager
	journal journal.Journal
	redis   *journal.Redis
	relays  []*broadcast.Relay
	service *pipeline.Service
}

// newApp validates cfg and wires every collaborator. Close releases what was
// opened even when wiring fails part way.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	a = &app{cfg: cfg, metrics: metrics.NewRegistry(true)}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	key, err := loadKey(cfg.Signer)
	if err != nil {
		return a, err
	}

	a.ledger, err = db.NewManager(ctx, cfg.Ledger)
	if err != nil {
		return a, err
	}

	switch cfg.Journal.Driver {
	case "redis":
		a.redis, err = journal.OpenRedis(ctx, journal.Options{
			Addr:     cfg.Journal.Redis.Addr,
			Password: cfg.Journal.Redis.Password,
			DB:       cfg.Journal.Redis.DB,
			TTL:      cfg.Journal.TTL,
		})
		if err != nil {
			return a, fmt.Errorf("resume journal: %w", err)
		}
		a.journal = a.redis
	default:
		log.Warn().Msg("Using in-memory resume journal; stalled launches cannot be resumed after restart")
		a.journal = journal.NewMemory()
	}

	ledger := a.ledger.Ledger()
	a.relays, a.service, err = a.wire(cfg, key, ledger)
	return a, err
}

func (a *app) wire(cfg *config.Config, key ed25519.PrivateKey, ledger persistence.Ledger) ([]*broadcast.Relay, *pipeline.Service, error) {
	pool := func(ep config.Endpoint) *httpclient.ClientPool {
		return httpclient.NewClientPool(cfg.Client.Pool(ep.Name, ep.Limiter()))
	}

	verifier := social.NewVerifier(social.NewHTTPPlatform(cfg.Social.URL, pool(cfg.Social.Endpoint)), cfg.Social.Trigger)
	publisher := metadata.NewHTTPPublisher(cfg.Metadata.URL, pool(cfg.Metadata.Endpoint), cfg.Metadata.MaxImageBytes)

	creationPool := cfg.Client.Pool(cfg.Creation.Name, cfg.Creation.Limiter())
	creationPool.RequestTimeout = cfg.Creation.Timeout
	creator := creation.NewHTTPClient(cfg.Creation.URL, cfg.Creation.APIKey, cfg.Creation.Params, creationPool)

	relays := make([]*broadcast.Relay, 0, len(cfg.Broadcast.Relays))
	for _, ep := range cfg.Broadcast.Relays {
		relays = append(relays, broadcast.NewRelay(ep.Name, ep.URL, pool(ep), cfg.Broadcast.Breaker.Breaker()))
	}
	var direct *broadcast.DirectSubmitter
	if len(cfg.Broadcast.RPC) > 0 {
		networks := make([]*broadcast.Network, 0, len(cfg.Broadcast.RPC))
		for _, ep := range cfg.Broadcast.RPC {
			networks = append(networks, broadcast.NewNetwork(ep.Name, ep.URL, pool(ep)))
		}
		direct = broadcast.NewDirectSubmitter(networks, cfg.Broadcast.PollInterval, cfg.Broadcast.ConfirmTimeout)
	}

	sgn := signer.New(key)
	svc, err := pipeline.New(pipeline.Deps{
		Verifier:    verifier,
		Validator:   descriptor.NewValidator(),
		Guard:       guard.New(ledger, cfg.Guard.Cooldown),
		Publisher:   publisher,
		Creator:     creator,
		Signer:      sgn,
		Broadcaster: broadcast.NewCoordinator(relays, cfg.Broadcast.RelayTimeout, direct, a.metrics),
		Ledger:      ledger,
		Journal:     a.journal,
		Metrics:     a.metrics,
	})
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Int("relays", len(relays)).
		Int("rpc_endpoints", len(cfg.Broadcast.RPC)).
		Str("ledger", cfg.Ledger.Driver).
		Str("journal", cfg.Journal.Driver).
		Str("requester", sgn.Address()).
		Msg("Launch service wired")
	return relays, svc, nil
}

func loadKey(sc config.SignerConfig) (ed25519.PrivateKey, error) {
	if sc.Key != "" {
		key, err := signer.ParseKey([]byte(sc.Key))
		if err != nil {
			return nil, fmt.Errorf("signer key from environment: %w", err)
		}
		return key, nil
	}
	key, err := signer.LoadKeyFile(sc.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("signer key %s: %w", sc.KeyFile, err)
	}
	return key, nil
}

// Close releases the ledger and journal connections
func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	return errors.Join(errs...)
}
