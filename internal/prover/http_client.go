package prover

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPClient is a plain JSON/HTTP realization of Client, matching how the
// block builder reaches out to its sibling services in this deployment.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("prover: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("prover: call %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prover: %s returned status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) GetBlockNumber(ctx context.Context) (uint32, error) {
	var resp struct {
		BlockNumber uint32 `json:"block_number"`
	}
	if err := c.get(ctx, "/validity-prover/block-number", &resp); err != nil {
		return 0, err
	}
	return resp.BlockNumber, nil
}

func (c *HTTPClient) GetNextDepositIndex(ctx context.Context) (uint32, error) {
	var resp struct {
		NextDepositIndex uint32 `json:"next_deposit_index"`
	}
	if err := c.get(ctx, "/validity-prover/next-deposit-index", &resp); err != nil {
		return 0, err
	}
	return resp.NextDepositIndex, nil
}

func (c *HTTPClient) GetLatestIncludedDepositIndex(ctx context.Context) (*uint32, error) {
	var resp struct {
		LatestIncludedDepositIndex *uint32 `json:"latest_included_deposit_index"`
	}
	if err := c.get(ctx, "/validity-prover/latest-included-deposit-index", &resp); err != nil {
		return nil, err
	}
	return resp.LatestIncludedDepositIndex, nil
}

func (c *HTTPClient) GetAccountInfoBatch(ctx context.Context, pubkeys [][32]byte) ([]AccountInfo, error) {
	reqPubkeys := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		reqPubkeys[i] = hex.EncodeToString(pk[:])
	}
	body, err := json.Marshal(struct {
		PubKeys []string `json:"pubkeys"`
	}{PubKeys: reqPubkeys})
	if err != nil {
		return nil, fmt.Errorf("prover: marshal account-info request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validity-prover/account-info-batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("prover: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prover: call account-info-batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prover: account-info-batch returned status %d", resp.StatusCode)
	}

	var out struct {
		Accounts []struct {
			AccountID *uint64 `json:"account_id"`
		} `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("prover: decode account-info-batch response: %w", err)
	}
	infos := make([]AccountInfo, len(out.Accounts))
	for i, a := range out.Accounts {
		infos[i] = AccountInfo{AccountID: a.AccountID}
	}
	return infos, nil
}

var _ Client = (*HTTPClient)(nil)
