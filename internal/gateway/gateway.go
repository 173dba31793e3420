// Package gateway dispatches resource mutations to the backend management layer
// and reads back authoritative resources.
package gateway

import (
	"context"

	"github.com/metal-toolbox/vmconsole/internal/app"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

//go:generate mockgen -source gateway.go -destination=mock_gateway.go -package=gateway

const (
	pkgName = "internal/gateway"
)

var (
	ErrGatewayKind = errors.New("unsupported gateway kind")
	ErrReply       = errors.New("invalid reply from backend")
)

// Gateway accepts a mutation request and returns once the backend acknowledged
// or rejected it.
type Gateway interface {
	Mutate(ctx context.Context, ref model.ResourceRef, payload types.Payload) error
}

// Fetcher reads the authoritative state of a resource.
//
// model.ErrResourceNotFound is returned when the backend no longer knows the resource.
type Fetcher interface {
	Resource(ctx context.Context, ref model.ResourceRef) (*model.Resource, error)
}

// Backend is the management layer a gateway talks to.
type Backend interface {
	Gateway
	Fetcher
}

// Client is a backend connection.
type Client interface {
	Backend
	Close() error
}

// MutationError is returned when the backend rejected a mutation.
//
// Message is the human readable reason as reported by the backend.
type MutationError struct {
	Kind    types.PayloadKind
	Ref     model.ResourceRef
	Message string
}

func (e *MutationError) Error() string {
	return e.Message
}

// TransportError is returned when the request did not reach the backend, or no reply was received.
type TransportError struct {
	Gateway model.GatewayKind
	Err     error
}

func (e *TransportError) Error() string {
	return string(e.Gateway) + " gateway: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Message returns the text to display for a gateway error.
func Message(err error) string {
	var merr *MutationError
	if errors.As(err, &merr) {
		return merr.Message
	}

	var terr *TransportError
	if errors.As(err, &terr) {
		return terr.Err.Error()
	}

	return err.Error()
}

// New returns a backend client for the configured gateway kind.
//
// The repository is served by the local gateway, it is ignored by the other kinds.
func New(ctx context.Context, cfg *app.Configuration, repo store.Repository, logger *logrus.Logger) (Client, error) {
	switch cfg.Gateway.Kind {
	case model.GatewayKindNats:
		return NewNatsGateway(cfg.NatsOptions, cfg.Gateway.Timeout, logger)
	case model.GatewayKindHTTP:
		return NewHTTPGateway(ctx, cfg.HTTPOptions, cfg.Gateway.Timeout, logger)
	case model.GatewayKindLocal:
		if repo == nil {
			return nil, errors.Wrap(ErrGatewayKind, "local gateway requires an inventory")
		}

		return NewLocal(repo, logger), nil
	default:
		return nil, errors.Wrap(ErrGatewayKind, string(cfg.Gateway.Kind))
	}
}
