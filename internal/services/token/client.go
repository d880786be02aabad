package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client moves tokens through an external custody service.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type transferInRequest struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Kind   common.Address `json:"kind"`
	ID     uint64         `json:"id"`
	Amount uint64         `json:"amount"`
	Data   hexutil.Bytes  `json:"data"`
}

type transferOutRequest struct {
	To     common.Address `json:"to"`
	Kind   common.Address `json:"kind"`
	ID     uint64         `json:"id"`
	Amount uint64         `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) TransferIn(ctx context.Context, from, to, kind common.Address, id, amount uint64, data []byte) error {
	return c.post(ctx, "/transfers/in", transferInRequest{From: from, To: to, Kind: kind, ID: id, Amount: amount, Data: data})
}

func (c *Client) TransferOut(ctx context.Context, to, kind common.Address, id, amount uint64) error {
	return c.post(ctx, "/transfers/out", transferOutRequest{To: to, Kind: kind, ID: id, Amount: amount})
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e errorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			if e.Error == ErrInsufficientBalance.Error() {
				return ErrInsufficientBalance
			}
			return fmt.Errorf("custody returned status %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("custody returned status %d", resp.StatusCode)
	}
	return nil
}
