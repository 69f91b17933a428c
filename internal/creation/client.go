// Package creation calls the token-creation service. A call allocates a new
// asset on the service side, so it is made at most once per launch and never
// retried.
package creation

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
)

// ErrOutcomeUnknown marks failures after which the service may or may not
// have allocated an asset
var ErrOutcomeUnknown = errors.New("creation outcome unknown")

// Params are the execution parameters forwarded with every request
type Params struct {
	InitialBuySOL       float64 `yaml:"initial_buy_sol"`
	SlippageBps         int     `yaml:"slippage_bps"`
	RelayTipLamports    uint64  `yaml:"relay_tip_lamports"`
	PriorityFeeLamports uint64  `yaml:"priority_fee_lamports"`
}

// Result is a validated creation response
type Result struct {
	AssetID   string
	Secret    *launch.OneTimeSecret
	Templates []launch.Template
}

// Client is the creation service as seen by the pipeline
type Client interface {
	Create(ctx context.Context, requester ed25519.PublicKey, req launch.Request, metadataURI string) (Result, error)
}

// HTTPClient posts JSON requests to the creation endpoint
type HTTPClient struct {
	url    string
	apiKey string
	params Params
	pool   *httpclient.ClientPool
}

// NewHTTPClient builds a client. Retries are forced off regardless of cfg.
func NewHTTPClient(url, apiKey string, params Params, cfg httpclient.ClientConfig) *HTTPClient {
	cfg.MaxRetries = 0
	return &HTTPClient{
		url:    url,
		apiKey: apiKey,
		params: params,
		pool:   httpclient.NewClientPool(cfg),
	}
}

type createRequest struct {
	PublicKey           string  `json:"publicKey"`
	Name                string  `json:"name"`
	Symbol              string  `json:"symbol"`
	MetadataURI         string  `json:"metadataUri"`
	Beneficiary         string  `json:"beneficiary"`
	InitialBuySOL       float64 `json:"initialBuySol"`
	SlippageBps         int     `json:"slippageBps"`
	RelayTipLamports    uint64  `json:"relayTipLamports"`
	PriorityFeeLamports uint64  `json:"priorityFeeLamports"`
}

type createResponse struct {
	Mint         string            `json:"mint"`
	MintSecret   string            `json:"mintSecret"`
	Transactions []templateMessage `json:"transactions"`
}

type templateMessage struct {
	Message string   `json:"message"`
	Signers []string `json:"signers"`
}

func (c *HTTPClient) Create(ctx context.Context, requester ed25519.PublicKey, req launch.Request, metadataURI string) (Result, error) {
	body := createRequest{
		PublicKey:           base58.Encode(requester),
		Name:                req.Name,
		Symbol:              req.Symbol,
		MetadataURI:         metadataURI,
		Beneficiary:         req.BeneficiaryAddress,
		InitialBuySOL:       c.params.InitialBuySOL,
		SlippageBps:         c.params.SlippageBps,
		RelayTipLamports:    c.params.RelayTipLamports,
		PriorityFeeLamports: c.params.PriorityFeeLamports,
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("X-API-Key", c.apiKey)
	}

	var resp createResponse
	if err := c.do(ctx, header, body, &resp); err != nil {
		return Result{}, err
	}

	res, err := parseResponse(resp)
	if err != nil {
		return Result{}, launch.Wrap(launch.KindCreation, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err), "malformed creation response")
	}

	log.Info().
		Str("asset_id", res.AssetID).
		Str("symbol", req.Symbol).
		Int("templates", len(res.Templates)).
		Msg("Asset allocated by creation service")
	return res, nil
}

func (c *HTTPClient) do(ctx context.Context, header http.Header, body createRequest, out *createResponse) error {
	httpReq, err := newJSONRequest(ctx, c.url, header, body)
	if err != nil {
		return launch.Wrap(launch.KindCreation, err, "build creation request")
	}

	resp, err := c.pool.Do(ctx, httpReq)
	if err != nil {
		if sentBeforeFailure(err) {
			err = fmt.Errorf("%w: %v", ErrOutcomeUnknown, err)
		}
		return launch.Wrap(launch.KindCreation, err, "creation call failed")
	}

	if err := c.pool.DecodeStrict(resp, out); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) && se.StatusCode < 500 {
			return launch.Wrap(launch.KindCreation, err, "creation rejected")
		}
		return launch.Wrap(launch.KindCreation, fmt.Errorf("%w: %v", ErrOutcomeUnknown, err), "creation failed")
	}
	return nil
}

func newJSONRequest(ctx context.Context, url string, header http.Header, body interface{}) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// sentBeforeFailure is false only for errors that prove the request never
// left the process
func sentBeforeFailure(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	var dnsErr *net.DNSError
	return !errors.As(err, &dnsErr)
}

// OutcomeUnknown reports whether a creation error leaves the asset state open
func OutcomeUnknown(err error) bool {
	return errors.Is(err, ErrOutcomeUnknown)
}

func parseResponse(resp createResponse) (Result, error) {
	if !launch.ValidAddress(resp.Mint) {
		return Result{}, fmt.Errorf("mint %q is not a valid address", resp.Mint)
	}

	secret, err := base58.Decode(resp.MintSecret)
	if err != nil || len(secret) != ed25519.PrivateKeySize {
		return Result{}, errors.New("mintSecret is not a base58 64-byte keypair")
	}
	// the public half must derive from the seed and name the mint
	key := ed25519.NewKeyFromSeed(secret[:ed25519.SeedSize])
	for i := range secret {
		secret[i] = 0
	}
	if base58.Encode(key.Public().(ed25519.PublicKey)) != resp.Mint {
		return Result{}, errors.New("mintSecret does not match mint")
	}

	if len(resp.Transactions) == 0 {
		return Result{}, errors.New("no transactions returned")
	}
	templates := make([]launch.Template, 0, len(resp.Transactions))
	for i, tx := range resp.Transactions {
		msg, err := base64.StdEncoding.DecodeString(tx.Message)
		if err != nil || len(msg) == 0 {
			return Result{}, fmt.Errorf("transaction %d: message is not base64", i)
		}
		tpl := launch.Template{Message: msg}
		for _, s := range tx.Signers {
			role := launch.SignerRole(s)
			if role != launch.SignerRequester && role != launch.SignerAsset {
				return Result{}, fmt.Errorf("transaction %d: unknown signer %q", i, s)
			}
			tpl.Signers = append(tpl.Signers, role)
		}
		if !tpl.Requires(launch.SignerRequester) {
			return Result{}, fmt.Errorf("transaction %d: requester signature not requested", i)
		}
		templates = append(templates, tpl)
	}

	return Result{
		AssetID:   resp.Mint,
		Secret:    launch.NewOneTimeSecret(key),
		Templates: templates,
	}, nil
}
