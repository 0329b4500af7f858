// Package odoo provides XML-RPC access to the Odoo external API.
package odoo

import (
	"context"
	"fmt"
	"net/http"
	"net/rpc"
	"strings"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Odoo operations used by the poster.
type Client interface {
	Authenticate(ctx context.Context) (int64, error)
	Search(ctx context.Context, model string, domain []any, opts *Options) ([]int64, error)
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]Record, error)
	SearchRead(ctx context.Context, model string, domain []any, fields []string, opts *Options) ([]Record, error)
	Create(ctx context.Context, model string, values map[string]any) (int64, error)
	Write(ctx context.Context, model string, ids []int64, values map[string]any) error
	Unlink(ctx context.Context, model string, ids []int64) error
	Execute(ctx context.Context, model, method string, args []any, kwargs map[string]any, reply any) error
}

// Record is one row returned by read or search_read.
type Record map[string]any

// Options are the keyword arguments of search and search_read.
type Options struct {
	Limit  int
	Offset int
	Order  string
}

func (o *Options) kwargs() map[string]any {
	kw := map[string]any{}
	if o == nil {
		return kw
	}
	if o.Limit > 0 {
		kw["limit"] = o.Limit
	}
	if o.Offset > 0 {
		kw["offset"] = o.Offset
	}
	if o.Order != "" {
		kw["order"] = o.Order
	}
	return kw
}

// Credentials identify one Odoo user on one database.
type Credentials struct {
	URL      string
	Database string
	Username string
	APIKey   string
}

// ClientOption configures the Odoo client.
type ClientOption func(*xmlrpcClient)

// WithRateLimit sets a per-second rate limit for API calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *xmlrpcClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithLimiter shares one limiter between clients of the same server.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *xmlrpcClient) {
		c.limiter = l
	}
}

// WithTimeout bounds the wait for each response.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *xmlrpcClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTransport overrides the HTTP transport.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(c *xmlrpcClient) {
		c.transport = rt
	}
}

// xmlrpcClient wraps github.com/kolo/xmlrpc.
//
// NOTE: kolo/xmlrpc does not accept context.Context and shuts a client down
// after a transport failure, so every call gets a fresh client over a shared
// transport and ctx is honored by abandoning the in-flight call.
type xmlrpcClient struct {
	creds     Credentials
	transport http.RoundTripper
	limiter   *rate.Limiter
	timeout   time.Duration

	mu  sync.Mutex
	uid int64
}

// NewClient creates a Client for the given credentials.
func NewClient(creds Credentials, opts ...ClientOption) (Client, error) {
	if creds.URL == "" || creds.Database == "" || creds.Username == "" || creds.APIKey == "" {
		return nil, eris.New("odoo: url, database, username and api key are required")
	}
	creds.URL = strings.TrimRight(creds.URL, "/")
	c := &xmlrpcClient{creds: creds, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	if c.transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = c.timeout
		c.transport = t
	}
	return c, nil
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *xmlrpcClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *xmlrpcClient) call(ctx context.Context, endpoint, method string, args []any, reply any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "odoo: rate limit")
	}
	cl, err := xmlrpc.NewClient(c.creds.URL+"/xmlrpc/2/"+endpoint, c.transport)
	if err != nil {
		return eris.Wrap(err, "odoo: create xmlrpc client")
	}
	defer cl.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pending := cl.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-pending.Done:
		return done.Error
	}
}

// Authenticate resolves and caches the user id.
func (c *xmlrpcClient) Authenticate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}

	var reply any
	args := []any{c.creds.Database, c.creds.Username, c.creds.APIKey, map[string]any{}}
	if err := c.call(ctx, "common", "authenticate", args, &reply); err != nil {
		return 0, eris.Wrap(err, "odoo: authenticate")
	}
	uid, ok := toInt64(reply)
	if !ok || uid == 0 {
		return 0, eris.Wrapf(ErrAuthentication, "odoo: authenticate %s@%s", c.creds.Username, c.creds.Database)
	}
	c.uid = uid
	return uid, nil
}

// Execute calls execute_kw on the object endpoint.
func (c *xmlrpcClient) Execute(ctx context.Context, model, method string, args []any, kwargs map[string]any, reply any) error {
	uid, err := c.Authenticate(ctx)
	if err != nil {
		return err
	}
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	params := []any{c.creds.Database, uid, c.creds.APIKey, model, method, args, kwargs}
	if err := c.call(ctx, "object", "execute_kw", params, reply); err != nil {
		return eris.Wrap(err, fmt.Sprintf("odoo: %s.%s", model, method))
	}
	return nil
}

func (c *xmlrpcClient) Search(ctx context.Context, model string, domain []any, opts *Options) ([]int64, error) {
	var reply any
	if err := c.Execute(ctx, model, "search", []any{nonNil(domain)}, opts.kwargs(), &reply); err != nil {
		return nil, err
	}
	return toInt64s(reply)
}

func (c *xmlrpcClient) Read(ctx context.Context, model string, ids []int64, fields []string) ([]Record, error) {
	var reply any
	kw := map[string]any{}
	if len(fields) > 0 {
		kw["fields"] = fields
	}
	if err := c.Execute(ctx, model, "read", []any{ids}, kw, &reply); err != nil {
		return nil, err
	}
	return toRecords(reply)
}

func (c *xmlrpcClient) SearchRead(ctx context.Context, model string, domain []any, fields []string, opts *Options) ([]Record, error) {
	var reply any
	kw := opts.kwargs()
	if len(fields) > 0 {
		kw["fields"] = fields
	}
	if err := c.Execute(ctx, model, "search_read", []any{nonNil(domain)}, kw, &reply); err != nil {
		return nil, err
	}
	return toRecords(reply)
}

func (c *xmlrpcClient) Create(ctx context.Context, model string, values map[string]any) (int64, error) {
	var reply any
	if err := c.Execute(ctx, model, "create", []any{values}, nil, &reply); err != nil {
		return 0, err
	}
	id, ok := toInt64(reply)
	if !ok {
		return 0, eris.Errorf("odoo: %s.create returned %T", model, reply)
	}
	return id, nil
}

func (c *xmlrpcClient) Write(ctx context.Context, model string, ids []int64, values map[string]any) error {
	var reply any
	return c.Execute(ctx, model, "write", []any{ids, values}, nil, &reply)
}

func (c *xmlrpcClient) Unlink(ctx context.Context, model string, ids []int64) error {
	var reply any
	return c.Execute(ctx, model, "unlink", []any{ids}, nil, &reply)
}

func nonNil(domain []any) []any {
	if domain == nil {
		return []any{}
	}
	return domain
}
