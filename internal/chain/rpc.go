package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRPCTimeout = 10 * time.Second
	suiCoinType       = "0x2::sui::SUI"
)

// StatusError captures a non-200 HTTP response from the node or the
// upstream faucet, with any Retry-After hint it carried.
type StatusError struct {
	StatusCode     int
	Body           string
	RetryAfterSecs int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// ParseRetryAfter records an integer-seconds Retry-After value; empty or
// unparsable values leave zero.
func (e *StatusError) ParseRetryAfter(v string) {
	if v == "" {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		e.RetryAfterSecs = secs
	}
}

// RPCError is a JSON-RPC level error returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// RPCClient is a minimal JSON-RPC 2.0 client for the fullnode.
type RPCClient struct {
	url    string
	client *http.Client
}

// NewRPCClient returns a client for the given fullnode URL. A
// non-positive timeout falls back to 10s.
func NewRPCClient(url string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &RPCClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// URL returns the configured fullnode endpoint.
func (c *RPCClient) URL() string { return c.url }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call invokes a JSON-RPC method and unmarshals the result into out (out
// may be nil when the caller only cares about success).
func (c *RPCClient) Call(ctx context.Context, method string, params []any, out any) error {
	ctx, span := otel.Tracer("faucet.chain").Start(ctx, "rpc.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.method", method),
			attribute.String("http.url", c.url),
		),
	)
	defer span.End()

	payload := rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal failed")
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(jsonData))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Propagate W3C trace context (traceparent/tracestate) to the node.
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return fmt.Errorf("rpc request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response failed")
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return se
	}

	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		span.RecordError(decoded.Error)
		span.SetStatus(codes.Error, decoded.Error.Message)
		return decoded.Error
	}

	if out != nil {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode result failed")
			return fmt.Errorf("failed to decode result for %s: %w", method, err)
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// SystemStateEpoch fetches the latest system state and returns its epoch.
// Used as the connectivity probe.
func (c *RPCClient) SystemStateEpoch(ctx context.Context) (string, error) {
	var res struct {
		Epoch string `json:"epoch"`
	}
	if err := c.Call(ctx, "sui_getLatestSuiSystemState", []any{}, &res); err != nil {
		return "", err
	}
	return res.Epoch, nil
}

// Balance returns the total native-token balance of owner in base units.
func (c *RPCClient) Balance(ctx context.Context, owner string) (int64, error) {
	var res struct {
		TotalBalance string `json:"totalBalance"`
	}
	if err := c.Call(ctx, "suix_getBalance", []any{owner, suiCoinType}, &res); err != nil {
		return 0, err
	}
	bal, err := strconv.ParseInt(res.TotalBalance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable balance %q: %w", res.TotalBalance, err)
	}
	return bal, nil
}

// Coin is one owned coin object.
type Coin struct {
	CoinObjectID string `json:"coinObjectId"`
	Balance      string `json:"balance"`
}

// LargestCoin returns the owner's highest-balance native coin, used as
// both transfer source and gas.
func (c *RPCClient) LargestCoin(ctx context.Context, owner string) (*Coin, error) {
	var res struct {
		Data []Coin `json:"data"`
	}
	if err := c.Call(ctx, "suix_getCoins", []any{owner, suiCoinType, nil, nil}, &res); err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, fmt.Errorf("no coins owned by %s", owner)
	}
	best := res.Data[0]
	bestBal, _ := strconv.ParseInt(best.Balance, 10, 64)
	for _, coin := range res.Data[1:] {
		bal, _ := strconv.ParseInt(coin.Balance, 10, 64)
		if bal > bestBal {
			best, bestBal = coin, bal
		}
	}
	return &best, nil
}

// PaySuiTxBytes asks the node to build a transfer that splits amount base
// units off coinID to recipient, with coinID doubling as gas. Returns the
// base64 transaction bytes to sign.
func (c *RPCClient) PaySuiTxBytes(ctx context.Context, signer, coinID, recipient string, amount, gasBudget int64) (string, error) {
	var res struct {
		TxBytes string `json:"txBytes"`
	}
	params := []any{
		signer,
		[]string{coinID},
		[]string{recipient},
		[]string{strconv.FormatInt(amount, 10)},
		strconv.FormatInt(gasBudget, 10),
	}
	if err := c.Call(ctx, "unsafe_paySui", params, &res); err != nil {
		return "", err
	}
	if res.TxBytes == "" {
		return "", fmt.Errorf("node returned empty tx bytes")
	}
	return res.TxBytes, nil
}

// ExecuteResult is the subset of transaction effects the faucet cares
// about.
type ExecuteResult struct {
	Digest          string
	Status          string
	StatusError     string
	ComputationCost string
}

// ExecuteTransaction submits signed transaction bytes and waits for local
// execution so effects are available in the response.
func (c *RPCClient) ExecuteTransaction(ctx context.Context, txBytes, signature string) (*ExecuteResult, error) {
	var res struct {
		Digest  string `json:"digest"`
		Effects struct {
			Status struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			} `json:"status"`
			GasUsed struct {
				ComputationCost string `json:"computationCost"`
			} `json:"gasUsed"`
		} `json:"effects"`
	}
	params := []any{
		txBytes,
		[]string{signature},
		map[string]bool{"showEffects": true},
		"WaitForLocalExecution",
	}
	if err := c.Call(ctx, "sui_executeTransactionBlock", params, &res); err != nil {
		return nil, err
	}
	return &ExecuteResult{
		Digest:          res.Digest,
		Status:          res.Effects.Status.Status,
		StatusError:     res.Effects.Status.Error,
		ComputationCost: res.Effects.GasUsed.ComputationCost,
	}, nil
}
