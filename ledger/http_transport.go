package ledger

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	// External Packages
	"github.com/go-resty/resty/v2"
)

// HTTPTransport talks JSON to a ledger gateway:
//
//	POST /v1/entries          {key, payload} -> {reference, block_height}
//	GET  /v1/entries/{key}    -> {key, reference, block_height, recorded_at} | 404
//	GET  /v1/accounts/{id}    -> {shopkeeper_id, registered} | 404
//	GET  /v1/status           -> 2xx when healthy
type HTTPTransport struct {
	client *resty.Client
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &HTTPTransport{client: client}
}

type submitRequest struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

func (t *HTTPTransport) Submit(ctx context.Context, key string, payload []byte) (SubmissionResult, error) {
	var out SubmissionResult
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", key).
		SetBody(submitRequest{Key: key, Payload: payload}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/v1/entries")
	if err != nil {
		return SubmissionResult{}, err
	}
	if err := statusError("submit", resp); err != nil {
		return SubmissionResult{}, err
	}
	if out.Reference == "" {
		return SubmissionResult{}, Transient("submit returned no reference", nil)
	}
	return out, nil
}

func (t *HTTPTransport) Lookup(ctx context.Context, key string) (Confirmation, error) {
	var out Confirmation
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("key", key).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/v1/entries/{key}")
	if err != nil {
		return Confirmation{}, err
	}
	if err := statusError("lookup", resp); err != nil {
		return Confirmation{}, err
	}
	return out, nil
}

func (t *HTTPTransport) AccountStatus(ctx context.Context, shopkeeperID string) (AccountStatus, error) {
	var out AccountStatus
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("id", shopkeeperID).
		SetResult(&out).
		ForceContentType("application/json").
		Get("/v1/accounts/{id}")
	if err != nil {
		return AccountStatus{}, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return AccountStatus{ShopkeeperID: shopkeeperID, Registered: false}, nil
	}
	if err := statusError("account_status", resp); err != nil {
		return AccountStatus{}, err
	}
	return out, nil
}

func (t *HTTPTransport) Status(ctx context.Context) error {
	resp, err := t.client.R().SetContext(ctx).Get("/v1/status")
	if err != nil {
		return err
	}
	return statusError("status", resp)
}

// statusError maps gateway responses onto the transient/permanent split.
func statusError(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	msg := fmt.Sprintf("%s: gateway answered %d", op, code)
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return Transient(msg, ErrDuplicateKey)
	case code == http.StatusForbidden:
		return Permanent(msg, ErrUnregistered)
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		return Transient(msg, nil)
	case code >= 400 && code < 500:
		return Permanent(msg, fmt.Errorf("%s", resp.String()))
	}
	return Transient(msg, nil)
}
