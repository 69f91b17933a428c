package broadcast

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
	"github.com/sawpanic/postlaunch/internal/net/breaker"
)

// MaxBundleSize is the largest batch a relay accepts as one bundle
const MaxBundleSize = 5

// Relay submits bundles through one block-engine endpoint
type Relay struct {
	name    string
	rpc     *rpcClient
	breaker *breaker.Breaker
}

// NewRelay creates a relay client guarded by its own circuit breaker
func NewRelay(name, url string, pool *httpclient.ClientPool, cfg breaker.Config) *Relay {
	return &Relay{
		name:    name,
		rpc:     newRPCClient(url, pool, http.Header{}),
		breaker: breaker.New("relay-"+name, cfg),
	}
}

func (r *Relay) Name() string { return r.name }

// BreakerState reports the relay's circuit state
func (r *Relay) BreakerState() string { return r.breaker.State() }

// Broadcast sends txs as one sendBundle call and returns the bundle id
func (r *Relay) Broadcast(ctx context.Context, txs []launch.SignedTx) (launch.BroadcastProof, error) {
	if len(txs) == 0 {
		return launch.BroadcastProof{}, fmt.Errorf("empty bundle")
	}
	if len(txs) > MaxBundleSize {
		return launch.BroadcastProof{}, fmt.Errorf("bundle of %d transactions exceeds relay limit %d", len(txs), MaxBundleSize)
	}

	encoded := make([]string, len(txs))
	for i, tx := range txs {
		encoded[i] = base58.Encode(tx.Raw)
	}

	v, err := r.breaker.Execute(func() (any, error) {
		var bundleID string
		if err := r.rpc.call(ctx, "sendBundle", []interface{}{encoded}, &bundleID); err != nil {
			return nil, err
		}
		if bundleID == "" {
			return nil, fmt.Errorf("relay returned an empty bundle id")
		}
		return bundleID, nil
	})
	if err != nil {
		log.Debug().Err(err).Str("relay", r.name).Msg("Relay declined bundle")
		return launch.BroadcastProof{}, err
	}

	return launch.BroadcastProof{Kind: launch.ProofBundle, ID: v.(string), Endpoint: r.name}, nil
}
