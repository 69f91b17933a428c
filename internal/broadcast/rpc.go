package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/sawpanic/postlaunch/internal/infrastructure/httpclient"
)

// RPCError is a JSON-RPC error object returned by a relay or node
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// rpcClient is a minimal JSON-RPC 2.0 client over the shared client pool
type rpcClient struct {
	url    string
	pool   *httpclient.ClientPool
	header http.Header
	nextID uint64
}

func newRPCClient(url string, pool *httpclient.ClientPool, header http.Header) *rpcClient {
	return &rpcClient{url: url, pool: pool, header: header}
}

func (c *rpcClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.nextID, 1),
		Method:  method,
		Params:  params,
	}

	var resp rpcResponse
	if err := c.pool.DoJSON(ctx, http.MethodPost, c.url, c.header, req, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return fmt.Errorf("%s: empty result", method)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}
