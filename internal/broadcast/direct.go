package broadcast

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
)

// Status is the confirmation state of a submitted transaction
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Network is one base-network RPC endpoint
type Network struct {
	name string
	rpc  *rpcClient
}

func NewNetwork(name, url string, pool *httpclient.ClientPool) *Network {
	return &Network{name: name, rpc: newRPCClient(url, pool, http.Header{})}
}

func (n *Network) Name() string { return n.name }

// SendTransaction submits one wire transaction and returns its signature
func (n *Network) SendTransaction(ctx context.Context, raw []byte) (string, error) {
	opts := map[string]interface{}{
		"encoding":            "base64",
		"skipPreflight":       false,
		"preflightCommitment": "confirmed",
		"maxRetries":          0,
	}
	var sig string
	err := n.rpc.call(ctx, "sendTransaction", []interface{}{base64.StdEncoding.EncodeToString(raw), opts}, &sig)
	if err != nil {
		return "", err
	}
	return sig, nil
}

type signatureStatuses struct {
	Value []*struct {
		ConfirmationStatus string      `json:"confirmationStatus"`
		Err                interface{} `json:"err"`
	} `json:"value"`
}

// SignatureStatus reports whether sig is confirmed, failed or still pending
func (n *Network) SignatureStatus(ctx context.Context, sig string) (Status, error) {
	var out signatureStatuses
	params := []interface{}{[]string{sig}, map[string]bool{"searchTransactionHistory": true}}
	if err := n.rpc.call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return "", err
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return StatusPending, nil
	}
	v := out.Value[0]
	if v.Err != nil {
		return StatusFailed, nil
	}
	switch v.ConfirmationStatus {
	case "confirmed", "finalized":
		return StatusConfirmed, nil
	}
	return StatusPending, nil
}

// DirectSubmitter sends each transaction in order to the base network and
// waits for it to confirm before sending the next
type DirectSubmitter struct {
	endpoints      []*Network
	pollInterval   time.Duration
	confirmTimeout time.Duration
}

// NewDirectSubmitter uses endpoints in order; a send that fails on one
// endpoint is retried on the next
func NewDirectSubmitter(endpoints []*Network, pollInterval, confirmTimeout time.Duration) *DirectSubmitter {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	return &DirectSubmitter{endpoints: endpoints, pollInterval: pollInterval, confirmTimeout: confirmTimeout}
}

func (d *DirectSubmitter) Name() string { return "direct" }

// Broadcast returns a direct proof carrying the last transaction's signature
func (d *DirectSubmitter) Broadcast(ctx context.Context, txs []launch.SignedTx) (launch.BroadcastProof, error) {
	if len(d.endpoints) == 0 {
		return launch.BroadcastProof{}, errors.New("no base network endpoints configured")
	}
	if len(txs) == 0 {
		return launch.BroadcastProof{}, errors.New("nothing to submit")
	}

	var last string
	var endpoint string
	for i, tx := range txs {
		sig, ep, err := d.submit(ctx, tx)
		if err != nil {
			return launch.BroadcastProof{}, fmt.Errorf("transaction %d: %w", i, err)
		}
		last, endpoint = sig, ep.name
		log.Debug().Int("index", i).Str("signature", sig).Str("endpoint", ep.name).Msg("Transaction confirmed")
	}
	return launch.BroadcastProof{Kind: launch.ProofDirect, ID: last, Endpoint: endpoint}, nil
}

// submit lands one transaction; one that already landed is not resent
func (d *DirectSubmitter) submit(ctx context.Context, tx launch.SignedTx) (string, *Network, error) {
	if tx.Signature != "" {
		if st, err := d.endpoints[0].SignatureStatus(ctx, tx.Signature); err == nil && st == StatusConfirmed {
			return tx.Signature, d.endpoints[0], nil
		}
	}

	var errs []error
	for _, ep := range d.endpoints {
		sig, err := ep.SendTransaction(ctx, tx.Raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ep.name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if err := d.await(ctx, ep, sig); err != nil {
			return "", nil, fmt.Errorf("%s: %w", ep.name, err)
		}
		return sig, ep, nil
	}
	return "", nil, errors.Join(errs...)
}

func (d *DirectSubmitter) await(ctx context.Context, ep *Network, sig string) error {
	ctx, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		st, err := ep.SignatureStatus(ctx, sig)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("signature", sig).Msg("Status poll failed")
		case st == StatusConfirmed:
			return nil
		case st == StatusFailed:
			return fmt.Errorf("transaction %s failed on chain", sig)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("transaction %s not confirmed: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}
