package rollup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/empower1/block-builder/internal/model"
)

// HTTPContract talks to a rollup RPC gateway over JSON/HTTP. The real
// deployment is an EVM contract reached through an RPC node; this client
// assumes a thin JSON-RPC facade in front of it rather than embedding an
// ABI encoder, since the rollup contract's on-chain ABI is out of this
// module's scope.
type HTTPContract struct {
	baseURL string
	client  *http.Client
	signer  *Signer
}

func NewHTTPContract(baseURL string, signer *Signer) *HTTPContract {
	return &HTTPContract{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		signer:  signer,
	}
}

func (c *HTTPContract) post(ctx context.Context, path string, reqBody, respBody any) error {
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("rollup: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("rollup: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("rollup: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rollup: %s returned status %d", path, resp.StatusCode)
	}
	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("rollup: decode %s response: %w", path, err)
	}
	return nil
}

type postBlockRequest struct {
	IsRegistrationBlock bool   `json:"is_registration_block"`
	TxTreeRoot          string `json:"tx_tree_root"`
	Expiry              uint64 `json:"expiry"`
	SenderFlag          string `json:"sender_flag"`
	AggPubKey           string `json:"agg_pubkey"`
	AggSignature        string `json:"agg_signature"`
	MessagePoint        string `json:"message_point"`
	PubKeyHash          string `json:"pubkey_hash,omitempty"`
	AccountIDs          string `json:"account_ids,omitempty"`
	PubKeys             []string `json:"pubkeys,omitempty"`
	BuilderAddress      string `json:"builder_address"`
	Signature           string `json:"signature"`
}

func (c *HTTPContract) signedRequest(task model.BlockPostTask, agg AggregatedSignature, pubkeys []string, pubkeyHash, accountIDs string) postBlockRequest {
	digest := callDigest(task, agg)
	sig := c.signer.Sign(digest)
	addr := c.signer.Address()
	return postBlockRequest{
		IsRegistrationBlock: task.IsRegistrationBlock,
		TxTreeRoot:          hex.EncodeToString(task.TxTreeRoot[:]),
		Expiry:              task.Expiry,
		SenderFlag:          hex.EncodeToString(agg.SenderFlag),
		AggPubKey:           hex.EncodeToString(agg.AggPubKey[:]),
		AggSignature:        hex.EncodeToString(agg.AggSignature[:]),
		MessagePoint:        hex.EncodeToString(agg.MessagePoint[:]),
		PubKeyHash:          pubkeyHash,
		AccountIDs:          accountIDs,
		PubKeys:             pubkeys,
		BuilderAddress:      hex.EncodeToString(addr[:]),
		Signature:           hex.EncodeToString(sig),
	}
}

func callDigest(task model.BlockPostTask, agg AggregatedSignature) [32]byte {
	h := sha256.New()
	h.Write(task.TxTreeRoot[:])
	h.Write(agg.AggSignature[:])
	var expiryBuf [8]byte
	for i := 7; i >= 0; i-- {
		expiryBuf[i] = byte(task.Expiry)
		task.Expiry >>= 8
	}
	h.Write(expiryBuf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (c *HTTPContract) PostRegistrationBlock(ctx context.Context, task model.BlockPostTask, agg AggregatedSignature) error {
	pubkeys := make([]string, 0, len(task.PubKeys))
	for _, pk := range task.PubKeys {
		if pk.IsDummy() {
			continue
		}
		pubkeys = append(pubkeys, hex.EncodeToString(pk[:]))
	}
	req := c.signedRequest(task, agg, pubkeys, "", "")
	return c.post(ctx, "/rollup/post-registration-block", req, nil)
}

func (c *HTTPContract) PostNonRegistrationBlock(ctx context.Context, task model.BlockPostTask, agg AggregatedSignature) error {
	req := c.signedRequest(task, agg, nil, hex.EncodeToString(task.PubKeyHash[:]), hex.EncodeToString(task.AccountIDs.Bytes()))
	return c.post(ctx, "/rollup/post-non-registration-block", req, nil)
}

func (c *HTTPContract) GetLatestBlockNumber(ctx context.Context) (uint32, error) {
	var resp struct {
		BlockNumber uint32 `json:"block_number"`
	}
	if err := c.post(ctx, "/rollup/latest-block-number", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.BlockNumber, nil
}

func (c *HTTPContract) GetPenalty(ctx context.Context) (uint64, error) {
	var resp struct {
		Penalty uint64 `json:"penalty"`
	}
	if err := c.post(ctx, "/rollup/penalty", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.Penalty, nil
}

func (c *HTTPContract) GetBlockBuilderNonce(ctx context.Context, isRegistration bool) (uint32, error) {
	var resp struct {
		Nonce uint32 `json:"nonce"`
	}
	req := struct {
		BuilderAddress string `json:"builder_address"`
		IsRegistration bool   `json:"is_registration"`
	}{
		BuilderAddress: func() string { a := c.signer.Address(); return hex.EncodeToString(a[:]) }(),
		IsRegistration: isRegistration,
	}
	if err := c.post(ctx, "/rollup/builder-nonce", req, &resp); err != nil {
		return 0, err
	}
	return resp.Nonce, nil
}

var _ Contract = (*HTTPContract)(nil)

type HTTPRegistry struct {
	baseURL string
	client  *http.Client
	signer  *Signer
}

func NewHTTPRegistry(baseURL string, signer *Signer) *HTTPRegistry {
	return &HTTPRegistry{baseURL: baseURL, client: &http.Client{Timeout: 5 * time.Second}, signer: signer}
}

func (r *HTTPRegistry) EmitHeartBeat(ctx context.Context, builderURL string) error {
	addr := r.signer.Address()
	body := struct {
		BuilderAddress string `json:"builder_address"`
		BuilderURL     string `json:"builder_url"`
	}{
		BuilderAddress: hex.EncodeToString(addr[:]),
		BuilderURL:     builderURL,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rollup: marshal heartbeat: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/registry/heartbeat", bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("rollup: build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("rollup: heartbeat call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rollup: heartbeat returned status %d", resp.StatusCode)
	}
	return nil
}

var _ Registry = (*HTTPRegistry)(nil)
