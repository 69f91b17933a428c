package creation

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
)

func seededKey(b byte) ed25519.PrivateKey {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b + byte(i)
	}
	return ed25519.NewKeyFromSeed(seed)
}

var (
	mintKey      = seededKey(1)
	requesterKey = seededKey(100)
	mint         = base58.Encode(mintKey.Public().(ed25519.PublicKey))
)

func validResponse() map[string]interface{} {
	return map[string]interface{}{
		"mint":       mint,
		"mintSecret": base58.Encode(mintKey),
		"transactions": []map[string]interface{}{
			{"message": base64.StdEncoding.EncodeToString([]byte("create")), "signers": []string{"requester", "asset"}},
			{"message": base64.StdEncoding.EncodeToString([]byte("buy")), "signers": []string{"requester"}},
		},
	}
}

type creationServer struct {
	hits   int32
	status int
	delay  time.Duration
	body   interface{}

	mu      sync.Mutex
	lastReq createRequest
	apiKey  string
}

func (cs *creationServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&cs.hits, 1)
		if cs.delay > 0 {
			time.Sleep(cs.delay)
		}
		var in createRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		cs.mu.Lock()
		cs.apiKey = r.Header.Get("X-API-Key")
		cs.lastReq = in
		cs.mu.Unlock()
		if cs.status != 0 {
			w.WriteHeader(cs.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}
		switch b := cs.body.(type) {
		case string:
			_, _ = w.Write([]byte(b))
		default:
			_ = json.NewEncoder(w).Encode(b)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(url string, timeout time.Duration) *HTTPClient {
	cfg := httpclient.DefaultClientConfig("creation")
	cfg.RequestTimeout = timeout
	cfg.BackoffBase = time.Millisecond
	return NewHTTPClient(url, "secret-key", Params{InitialBuySOL: 0.5, SlippageBps: 500, RelayTipLamports: 1000, PriorityFeeLamports: 5000}, cfg)
}

var req = launch.Request{Name: "Foo", Symbol: "FOO", BeneficiaryAddress: "So11111111111111111111111111111111111111112"}

func TestCreate_Success(t *testing.T) {
	cs := &creationServer{body: validResponse()}
	c := newClient(cs.start(t).URL, 2*time.Second)

	res, err := c.Create(context.Background(), requesterKey.Public().(ed25519.PublicKey), req, "https://meta/x.json")
	require.NoError(t, err)

	assert.Equal(t, mint, res.AssetID)
	assert.Equal(t, mintKey.Public(), res.Secret.Public())
	require.Len(t, res.Templates, 2)
	assert.Equal(t, []byte("create"), res.Templates[0].Message)
	assert.True(t, res.Templates[0].Requires(launch.SignerAsset))
	assert.False(t, res.Templates[1].Requires(launch.SignerAsset))

	cs.mu.Lock()
	defer cs.mu.Unlock()
	assert.Equal(t, "secret-key", cs.apiKey)
	assert.Equal(t, base58.Encode(requesterKey.Public().(ed25519.PublicKey)), cs.lastReq.PublicKey)
	assert.Equal(t, "https://meta/x.json", cs.lastReq.MetadataURI)
	assert.Equal(t, req.BeneficiaryAddress, cs.lastReq.Beneficiary)
	assert.Equal(t, 500, cs.lastReq.SlippageBps)
	assert.Equal(t, uint64(1000), cs.lastReq.RelayTipLamports)
}

func TestCreate_NeverRetried(t *testing.T) {
	cs := &creationServer{status: http.StatusServiceUnavailable}
	c := newClient(cs.start(t).URL, 2*time.Second)

	_, err := c.Create(context.Background(), requesterKey.Public().(ed25519.PublicKey), req, "u")
	require.Error(t, err)
	assert.True(t, errors.Is(err, launch.ErrCreation), "got %v", err)
	assert.True(t, OutcomeUnknown(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cs.hits))
}

func TestCreate_RejectionIsDefinite(t *testing.T) {
	cs := &creationServer{status: http.StatusBadRequest}
	c := newClient(cs.start(t).URL, 2*time.Second)

	_, err := c.Create(context.Background(), requesterKey.Public().(ed25519.PublicKey), req, "u")
	assert.True(t, errors.Is(err, launch.ErrCreation), "got %v", err)
	assert.False(t, OutcomeUnknown(err))
}

func TestCreate_TimeoutIsAmbiguous(t *testing.T) {
	cs := &creationServer{body: validResponse(), delay: 300 * time.Millisecond}
	c := newClient(cs.start(t).URL, 50*time.Millisecond)

	_, err := c.Create(context.Background(), requesterKey.Public().(ed25519.PublicKey), req, "u")
	assert.True(t, errors.Is(err, launch.ErrCreation), "got %v", err)
	assert.True(t, OutcomeUnknown(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cs.hits))
}

func TestCreate_SchemaViolations(t *testing.T) {
	other := seededKey(50)

	mutate := map[string]func(map[string]interface{}){
		"bad mint":          func(m map[string]interface{}) { m["mint"] = "not-base58-0OIl" },
		"short secret":      func(m map[string]interface{}) { m["mintSecret"] = base58.Encode([]byte("short")) },
		"foreign secret":    func(m map[string]interface{}) { m["mintSecret"] = base58.Encode(other) },
		"no transactions":   func(m map[string]interface{}) { m["transactions"] = []interface{}{} },
		"unknown field":     func(m map[string]interface{}) { m["extra"] = true },
		"message not b64":   func(m map[string]interface{}) { m["transactions"] = []map[string]interface{}{{"message": "%%%", "signers": []string{"requester"}}} },
		"unknown signer":    func(m map[string]interface{}) { m["transactions"] = []map[string]interface{}{{"message": "AQ==", "signers": []string{"requester", "mallory"}}} },
		"missing requester": func(m map[string]interface{}) { m["transactions"] = []map[string]interface{}{{"message": "AQ==", "signers": []string{"asset"}}} },
	}

	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			body := validResponse()
			fn(body)
			cs := &creationServer{body: body}
			c := newClient(cs.start(t).URL, 2*time.Second)

			_, err := c.Create(context.Background(), requesterKey.Public().(ed25519.PublicKey), req, "u")
			require.Error(t, err)
			assert.True(t, errors.Is(err, launch.ErrCreation), "got %v", err)
		})
	}
}

func TestCreate_ErrorsNeverLeakSecret(t *testing.T) {
	body := validResponse()
	body["transactions"] = []interface{}{}
	cs := &creationServer{body: body}
	c := newClient(cs.start(t).URL, 2*time.Second)

	_, err := c.Create(context.Background(), requesterKey.Public().(ed25519.PublicKey), req, "u")
	require.Error(t, err)
	assert.NotContains(t, fmt.Sprintf("%v", err), base58.Encode(mintKey))
}
