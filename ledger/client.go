// Package ledger is the pipeline's only way to reach the external append-only ledger.
//
// The ledger is a remote service with its own clock and failure domain. Submit is not
// assumed to be idempotent on the wire: a timed-out submit may still have landed, so
// callers must Lookup a key before submitting it again.
package ledger

import (
	// Go Internal Packages
	"context"
	"net"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	metrics "kirana-ledger/metrics"

	// External Packages
	"go.uber.org/zap"
)

const DefaultTimeout = 5 * time.Second

type SubmissionResult struct {
	Reference   string `json:"reference"`
	BlockHeight int64  `json:"block_height"`
}

type Confirmation struct {
	Key         string    `json:"key"`
	Reference   string    `json:"reference"`
	BlockHeight int64     `json:"block_height"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type AccountStatus struct {
	ShopkeeperID string `json:"shopkeeper_id"`
	Registered   bool   `json:"registered"`
}

// Transport performs the raw calls. Implementations may return any error; the Client
// classifies what they do not.
type Transport interface {
	Submit(ctx context.Context, key string, payload []byte) (SubmissionResult, error)
	Lookup(ctx context.Context, key string) (Confirmation, error)
	AccountStatus(ctx context.Context, shopkeeperID string) (AccountStatus, error)
	Status(ctx context.Context) error
}

type Client struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func NewClient(transport Transport, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{transport: transport, timeout: timeout, logger: logger, metrics: m}
}

// Submit records payload under key. A transient error may hide a successful write.
func (c *Client) Submit(ctx context.Context, key string, payload []byte) (SubmissionResult, error) {
	var res SubmissionResult
	err := c.call(ctx, "submit", func(ctx context.Context) error {
		var err error
		res, err = c.transport.Submit(ctx, key, payload)
		return err
	})
	return res, err
}

// Lookup returns the confirmation for key, or an error satisfying IsNotFound.
func (c *Client) Lookup(ctx context.Context, key string) (Confirmation, error) {
	var conf Confirmation
	err := c.call(ctx, "lookup", func(ctx context.Context) error {
		var err error
		conf, err = c.transport.Lookup(ctx, key)
		return err
	})
	return conf, err
}

// EnsureRegistered fails permanently when the shopkeeper has no ledger account.
func (c *Client) EnsureRegistered(ctx context.Context, shopkeeperID string) error {
	var st AccountStatus
	err := c.call(ctx, "account_status", func(ctx context.Context) error {
		var err error
		st, err = c.transport.AccountStatus(ctx, shopkeeperID)
		return err
	})
	if err != nil {
		return err
	}
	if !st.Registered {
		return Permanent("shopkeeper "+shopkeeperID, ErrUnregistered)
	}
	return nil
}

// Status probes the ledger for health checks.
func (c *Client) Status(ctx context.Context) error {
	return c.call(ctx, "status", c.transport.Status)
}

func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := classify(op, fn(cctx), cctx)
	c.metrics.ObserveLedgerCall(op, outcome(err), time.Since(start))
	if err != nil && !IsNotFound(err) {
		c.logger.Warn("ledger call failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

func classify(op string, err error, ctx context.Context) error {
	if err == nil {
		return nil
	}
	switch errors.KindOf(err) {
	case errors.TransientLedger, errors.PermanentLedger, errors.NotFound:
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return Transient(op+" did not complete", errors.Join(ErrOutcomeUnknown, err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(op+" network failure", err)
	}
	// Unrecognised failures are retried: the lookup guard makes that safe.
	return Transient(op+" failed", err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsNotFound(err):
		return "not_found"
	case IsPermanent(err):
		return "permanent"
	}
	return "transient"
}
