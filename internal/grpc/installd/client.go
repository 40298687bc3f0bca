package installd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/GriffinCanCode/BundleOS/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
)

const serviceName = "/installd.Installd/"

// Client talks to the installd worker over gRPC. The connection lives in a
// single mutex-guarded slot; a failed call invalidates the slot so the next
// caller redials.
type Client struct {
	addr    string
	breaker *resilience.Breaker
	log     *logging.Logger

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// New creates an installd client. The first connection is established
// lazily on the first call.
func New(addr string, log *logging.Logger) *Client {
	breaker := resilience.New("installd", resilience.Settings{
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5)
		},
	})

	return &Client{
		addr:    addr,
		breaker: breaker,
		log:     log.Named("installd"),
	}
}

// Close closes the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// current returns the live connection, dialing if the slot is empty.
func (c *Client) current() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(10*1024*1024),
			grpc.MaxCallSendMsgSize(10*1024*1024),
			grpc.CallContentSubtype(CodecName),
		),
	}

	conn, err := grpc.Dial(c.addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial installd: %w", err)
	}
	c.conn = conn
	return conn, nil
}

// invalidate drops conn from the slot if it is still the current handle, so
// the next caller reconnects. Stale handles from concurrent callers are
// left alone.
func (c *Client) invalidate(conn *grpc.ClientConn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// invoke performs one unary call through the circuit breaker.
func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	conn, err := c.current()
	if err != nil {
		return errcode.ErrInstalldServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return nil, conn.Invoke(ctx, serviceName+method, req, resp)
	})

	if err == resilience.ErrCircuitOpen {
		return errcode.ErrInstalldServiceUnavailable
	}
	if err != nil {
		c.invalidate(conn)
		return fmt.Errorf("installd %s: %w", method, err)
	}
	return nil
}

// checked performs one unary call and maps a non-zero worker status to code.
func (c *Client) checked(ctx context.Context, method string, req interface{}, r *reply, code errcode.Code) error {
	if err := c.invoke(ctx, method, req, r); err != nil {
		return err
	}
	if r.Status != 0 {
		return fmt.Errorf("installd %s: %s: %w", method, r.Message, code)
	}
	return nil
}
