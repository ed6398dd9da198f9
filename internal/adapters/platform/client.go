// Package platform talks to the Pi payment platform REST API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/DanielPopoola/travelpay/internal/config"
	"github.com/DanielPopoola/travelpay/internal/core/domain"
)

// HTTPClient performs single, unretried platform calls.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPClient(cfg config.PlatformConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.CallTimeout,
		},
	}
}

type completeRequest struct {
	TxID string `json:"txid"`
}

func (c *HTTPClient) GetPayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	return sendRequest[any, domain.PlatformPayment](c, ctx, http.MethodGet, c.paymentURL(platformPaymentID, ""), nil, c.serverAuth())
}

func (c *HTTPClient) ApprovePayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	return sendRequest[any, domain.PlatformPayment](c, ctx, http.MethodPost, c.paymentURL(platformPaymentID, "approve"), nil, c.serverAuth())
}

func (c *HTTPClient) CompletePayment(ctx context.Context, platformPaymentID, txID string) (*domain.PlatformPayment, error) {
	req := completeRequest{TxID: txID}
	return sendRequest[completeRequest, domain.PlatformPayment](c, ctx, http.MethodPost, c.paymentURL(platformPaymentID, "complete"), &req, c.serverAuth())
}

func (c *HTTPClient) CancelPayment(ctx context.Context, platformPaymentID string) (*domain.PlatformPayment, error) {
	return sendRequest[any, domain.PlatformPayment](c, ctx, http.MethodPost, c.paymentURL(platformPaymentID, "cancel"), nil, c.serverAuth())
}

// GetUser resolves a user access token to the platform identity.
func (c *HTTPClient) GetUser(ctx context.Context, accessToken string) (*domain.PlatformUser, error) {
	return sendRequest[any, domain.PlatformUser](c, ctx, http.MethodGet, c.baseURL+"/v2/me", nil, "Bearer "+accessToken)
}

func (c *HTTPClient) serverAuth() string {
	return "Key " + c.apiKey
}

func (c *HTTPClient) paymentURL(id, action string) string {
	u := fmt.Sprintf("%s/v2/payments/%s", c.baseURL, url.PathEscape(id))
	if action != "" {
		u += "/" + action
	}
	return u
}

func sendRequest[Req any, Resp any](c *HTTPClient, ctx context.Context, method, url string, reqBody *Req, authorization string) (*Resp, error) {
	var bodyReader io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("error marshalling json: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", authorization)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errResp platformErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Err == "" {
			return nil, &PlatformError{
				Code:       http.StatusText(resp.StatusCode),
				Message:    string(body),
				StatusCode: resp.StatusCode,
			}
		}
		return nil, &PlatformError{
			Code:       errResp.Err,
			Message:    errResp.Message,
			StatusCode: resp.StatusCode,
		}
	}

	var out Resp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("error decoding json response: %w", err)
	}

	return &out, nil
}
