package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HTTPClient submits requests to a remote oracle, which answers later
// through the fulfill endpoint.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type submitResponse struct {
	RequestID common.Hash `json:"requestId"`
}

func (c *HTTPClient) SubmitRequest(ctx context.Context, keyHash common.Hash, fee uint64, seed common.Hash) (common.Hash, error) {
	payload, err := json.Marshal(Request{KeyHash: keyHash, Seed: seed, Fee: fee})
	if err != nil {
		return common.Hash{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/requests", bytes.NewReader(payload))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return common.Hash{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return common.Hash{}, fmt.Errorf("oracle returned status %d", resp.StatusCode)
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return common.Hash{}, err
	}
	if out.RequestID == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("oracle returned empty request id")
	}
	return out.RequestID, nil
}
