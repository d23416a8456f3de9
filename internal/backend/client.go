package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agent-console/pkg/logger"

	"github.com/go-resty/resty/v2"
)

const (
	pathConnections = "/connections/manage"
	pathCallLog     = "/calls/log"
	pathBranches    = "/branches"
	pathContact     = "/contacts/{id}"
)

// TokenProvider supplies the bearer token for outbound requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken always returns the same token.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

type Options struct {
	BaseURL string
	Timeout time.Duration

	// Tokens is required. Each request asks it for the current token.
	Tokens TokenProvider

	// OnSessionExpired is invoked for every 401 so the UI can navigate to login.
	OnSessionExpired func(ctx context.Context)

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the remote backend that owns connections and call logs.
// It is safe for concurrent use.
type Client struct {
	rc        *resty.Client
	tokens    TokenProvider
	onExpired func(ctx context.Context)
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("backend: base url is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("backend: token provider is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	var rc *resty.Client
	if opts.HTTPClient != nil {
		rc = resty.NewWithClient(opts.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	return &Client{rc: rc, tokens: opts.Tokens, onExpired: opts.OnSessionExpired}, nil
}

// WithTokens returns a shallow copy that authenticates with a different provider.
// The underlying connection pool is shared.
func (c *Client) WithTokens(tp TokenProvider) *Client {
	cp := *c
	cp.tokens = tp
	return &cp
}

// WithSessionExpired returns a shallow copy with a different 401 handler.
func (c *Client) WithSessionExpired(fn func(ctx context.Context)) *Client {
	cp := *c
	cp.onExpired = fn
	return &cp
}

func (c *Client) request(ctx context.Context, op string) (*resty.Request, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrNoToken, err)}
	}
	if tok == "" {
		return nil, &TransportError{Op: op, Err: ErrNoToken}
	}
	return c.rc.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetError(&apiError{}), nil
}

// check converts a resty outcome into the package error taxonomy.
func (c *Client) check(ctx context.Context, op string, resp *resty.Response, err error) error {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &TransportError{Op: op, Err: ctxErr}
		}
		return &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	status := resp.StatusCode()
	if status == http.StatusUnauthorized {
		logger.From(ctx).Warn("backend rejected token", "op", op)
		if c.onExpired != nil {
			c.onExpired(ctx)
		}
		return &TransportError{Op: op, Status: status, Err: ErrSessionExpired}
	}
	if status < 200 || status >= 300 {
		msg := ""
		if ae, ok := resp.Error().(*apiError); ok {
			msg = ae.text()
		}
		return &TransportError{Op: op, Status: status, Message: msg}
	}
	return nil
}

// ListConnections returns the caller's current connections.
func (c *Client) ListConnections(ctx context.Context) ([]ConnectionRecord, error) {
	const op = "list connections"
	req, err := c.request(ctx, op)
	if err != nil {
		return nil, err
	}
	resp, err := req.Get(pathConnections)
	if err := c.check(ctx, op, resp, err); err != nil {
		return nil, err
	}
	out, err := decodeList[ConnectionRecord](resp.Body(), "connections")
	if err != nil {
		return nil, &TransportError{Op: op, Status: resp.StatusCode(), Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

// CreateConnection starts a connection of one type to one branch.
func (c *Client) CreateConnection(ctx context.Context, in CreateConnectionRequest) (CreateConnectionResponse, error) {
	const op = "create connection"
	req, err := c.request(ctx, op)
	if err != nil {
		return CreateConnectionResponse{}, err
	}
	if in.ConnectionData == nil {
		in.ConnectionData = map[string]any{}
	}
	var out CreateConnectionResponse
	resp, err := req.SetBody(in).SetResult(&out).Post(pathConnections)
	if err := c.check(ctx, op, resp, err); err != nil {
		return CreateConnectionResponse{}, err
	}
	if out.SessionID == "" {
		return CreateConnectionResponse{}, &TransportError{Op: op, Status: resp.StatusCode(), Message: "response without session_id"}
	}
	return out, nil
}

// UpdateConnection pushes a status change for one connection.
func (c *Client) UpdateConnection(ctx context.Context, sessionID, status string) error {
	const op = "update connection"
	req, err := c.request(ctx, op)
	if err != nil {
		return err
	}
	resp, err := req.SetBody(UpdateConnectionRequest{SessionID: sessionID, Status: status}).Put(pathConnections)
	return c.check(ctx, op, resp, err)
}

// DeleteConnection terminates one connection.
func (c *Client) DeleteConnection(ctx context.Context, sessionID string) error {
	const op = "delete connection"
	req, err := c.request(ctx, op)
	if err != nil {
		return err
	}
	resp, err := req.SetQueryParam("session_id", sessionID).Delete(pathConnections)
	return c.check(ctx, op, resp, err)
}

// LogCall persists a finished call.
func (c *Client) LogCall(ctx context.Context, in CallLogRequest) (CallLogResponse, error) {
	const op = "log call"
	req, err := c.request(ctx, op)
	if err != nil {
		return CallLogResponse{}, err
	}
	var out CallLogResponse
	resp, err := req.SetBody(in).SetResult(&out).Post(pathCallLog)
	if err := c.check(ctx, op, resp, err); err != nil {
		return CallLogResponse{}, err
	}
	return out, nil
}

// ListBranches returns the branch directory.
func (c *Client) ListBranches(ctx context.Context) ([]Branch, error) {
	const op = "list branches"
	req, err := c.request(ctx, op)
	if err != nil {
		return nil, err
	}
	resp, err := req.Get(pathBranches)
	if err := c.check(ctx, op, resp, err); err != nil {
		return nil, err
	}
	out, err := decodeList[Branch](resp.Body(), "branches")
	if err != nil {
		return nil, &TransportError{Op: op, Status: resp.StatusCode(), Err: fmt.Errorf("decode: %w", err)}
	}
	return out, nil
}

// GetContact looks up a contact to resolve its phone number.
func (c *Client) GetContact(ctx context.Context, id string) (Contact, error) {
	const op = "get contact"
	req, err := c.request(ctx, op)
	if err != nil {
		return Contact{}, err
	}
	var out Contact
	resp, err := req.SetPathParam("id", id).SetResult(&out).Get(pathContact)
	if err := c.check(ctx, op, resp, err); err != nil {
		return Contact{}, err
	}
	return out, nil
}
