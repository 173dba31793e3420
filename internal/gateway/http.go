package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/metal-toolbox/vmconsole/internal/app"
	"github.com/metal-toolbox/vmconsole/internal/metrics"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// connectionTimeout is the maximum amount of time spent on each http connection to the management endpoint.
	connectionTimeout = 30 * time.Second

	// maxReplyBytes limits the reply body read from the management endpoint.
	maxReplyBytes = 8 << 20
)

var (
	ErrHTTPEndpoint = errors.New("http endpoint error")
)

// HTTP is a gateway to a REST management endpoint.
type HTTP struct {
	endpoint *url.URL
	client   *http.Client
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewHTTPGateway returns a gateway to the configured endpoint.
func NewHTTPGateway(ctx context.Context, cfg *app.HTTPOptions, timeout time.Duration, logger *logrus.Logger) (*HTTP, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, errors.Wrap(ErrHTTPEndpoint, "endpoint not defined")
	}

	endpoint := cfg.EndpointURL
	if endpoint == nil {
		var err error

		endpoint, err = url.Parse(cfg.Endpoint)
		if err != nil {
			return nil, errors.Wrap(ErrHTTPEndpoint, err.Error())
		}
	}

	var client *http.Client

	if cfg.DisableOAuth {
		client = newRetryableClient(logger).StandardClient()
	} else {
		var err error

		client, err = newClientWithOAuth(ctx, cfg, logger)
		if err != nil {
			return nil, errors.Wrap(ErrHTTPEndpoint, err.Error())
		}
	}

	client.Timeout = connectionTimeout

	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	return &HTTP{endpoint: endpoint, client: client, timeout: timeout, logger: logger}, nil
}

func newRetryableClient(logger *logrus.Logger) *retryablehttp.Client {
	// init retryable http client
	retryableClient := retryablehttp.NewClient()

	// set retryable HTTP client to be the otel http client to collect telemetry
	retryableClient.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	// disable default debug logging on the retryable client
	if logger.Level < logrus.DebugLevel {
		retryableClient.Logger = nil
	} else {
		retryableClient.Logger = logger
	}

	return retryableClient
}

// returns a retryable http client with Otel and Oauth wrapped in
func newClientWithOAuth(ctx context.Context, cfg *app.HTTPOptions, logger *logrus.Logger) (*http.Client, error) {
	retryableClient := newRetryableClient(logger)

	// setup oidc provider
	provider, err := oidc.NewProvider(ctx, cfg.OidcIssuerEndpoint)
	if err != nil {
		return nil, err
	}

	clientID := model.AppName

	if cfg.OidcClientID != "" {
		clientID = cfg.OidcClientID
	}

	// setup oauth configuration
	oauthConfig := clientcredentials.Config{
		ClientID:       clientID,
		ClientSecret:   cfg.OidcClientSecret,
		TokenURL:       provider.Endpoint().TokenURL,
		Scopes:         cfg.OidcClientScopes,
		EndpointParams: url.Values{"audience": []string{cfg.OidcAudience}},
	}

	// wrap OAuth transport, cookie jar in the retryable client
	oAuthclient := oauthConfig.Client(ctx)

	retryableClient.HTTPClient.Transport = otelhttp.NewTransport(oAuthclient.Transport)
	retryableClient.HTTPClient.Jar = oAuthclient.Jar

	return retryableClient.StandardClient(), nil
}

// MutationPath returns the endpoint path a mutation is posted to.
func MutationPath(ref model.ResourceRef, kind types.PayloadKind) string {
	return ResourcePath(ref) + "/mutations/" + url.PathEscape(string(kind))
}

// ResourcePath returns the endpoint path of a resource.
func ResourcePath(ref model.ResourceRef) string {
	return "/connections/" + url.PathEscape(ref.ConnectionName) + "/resources/" + ref.ID.String()
}

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

// Mutate posts the payload to the resource mutation endpoint.
func (h *HTTP) Mutate(ctx context.Context, ref model.ResourceRef, payload types.Payload) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "HTTP.Mutate")
	defer span.End()

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(ErrReply, err.Error())
	}

	status, reply, err := h.do(ctx, http.MethodPost, MutationPath(ref, payload.Kind()), body)
	if err != nil {
		return err
	}

	if status >= http.StatusOK && status < http.StatusMultipleChoices && reply.Error == "" {
		return nil
	}

	msg := reply.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	metrics.GatewayErrorCount.WithLabelValues(string(model.GatewayKindHTTP), "rejected").Inc()

	return &MutationError{Kind: payload.Kind(), Ref: ref, Message: msg}
}

// Resource fetches the resource from the endpoint.
func (h *HTTP) Resource(ctx context.Context, ref model.ResourceRef) (*model.Resource, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "HTTP.Resource")
	defer span.End()

	status, reply, err := h.do(ctx, http.MethodGet, ResourcePath(ref), nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusNotFound || reply.NotFound:
		return nil, errors.Wrap(model.ErrResourceNotFound, ref.String())
	case status != http.StatusOK:
		return nil, errors.Wrapf(ErrReply, "status %d: %s", status, reply.Error)
	case reply.Resource == nil:
		return nil, errors.Wrap(ErrReply, "reply carries no resource")
	}

	return reply.Resource, nil
}

func (h *HTTP) do(ctx context.Context, method, path string, body []byte) (int, *types.Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.endpoint.JoinPath(path).String(), reader)
	if err != nil {
		return 0, nil, errors.Wrap(ErrHTTPEndpoint, err.Error())
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		metrics.GatewayErrorCount.WithLabelValues(string(model.GatewayKindHTTP), "transport").Inc()

		return 0, nil, &TransportError{Gateway: model.GatewayKindHTTP, Err: err}
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return 0, nil, &TransportError{Gateway: model.GatewayKindHTTP, Err: err}
	}

	reply := &types.Reply{}

	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, reply); err != nil {
			// a non JSON error body is used as the rejection reason
			if resp.StatusCode >= http.StatusBadRequest {
				reply.Error = string(bytes.TrimSpace(data))
			} else {
				return resp.StatusCode, nil, errors.Wrap(ErrReply, err.Error())
			}
		}
	}

	h.logger.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	}).Trace("management endpoint request")

	return resp.StatusCode, reply, nil
}
