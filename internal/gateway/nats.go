package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/metal-toolbox/vmconsole/internal/app"
	"github.com/metal-toolbox/vmconsole/internal/metrics"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRequestTimeout = 30 * time.Second

	subjectMutate = "mutate"
	subjectGet    = "get"
)

var (
	ErrNatsConnect = errors.New("error connecting to nats")
)

// Nats is a gateway over the NATS request/reply bus.
type Nats struct {
	conn    *nats.Conn
	prefix  string
	timeout time.Duration
	logger  *logrus.Logger
	// owned is set when the connection was opened by the gateway.
	owned bool
}

// NewNatsGateway connects to the NATS server and returns a gateway.
func NewNatsGateway(cfg *app.NatsOptions, timeout time.Duration, logger *logrus.Logger) (*Nats, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.Wrap(ErrNatsConnect, "nats url not defined")
	}

	opts := []nats.Option{
		nats.Name(model.AppName),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, errors.Wrap(ErrNatsConnect, err.Error())
	}

	g := NewNatsGatewayWithConn(conn, cfg.SubjectPrefix, timeout, logger)
	g.owned = true

	return g, nil
}

// NewNatsGatewayWithConn returns a gateway using an established connection.
func NewNatsGatewayWithConn(conn *nats.Conn, prefix string, timeout time.Duration, logger *logrus.Logger) *Nats {
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}

	if prefix == "" {
		prefix = model.AppName
	}

	return &Nats{conn: conn, prefix: prefix, timeout: timeout, logger: logger}
}

// Subject returns the subject a request is published on for a connection.
func Subject(prefix, connection, verb string) string {
	return prefix + "." + connection + "." + verb
}

func (n *Nats) Close() error {
	if n.owned {
		n.conn.Close()
	}

	return nil
}

// Mutate sends the mutation and waits for the backend reply.
func (n *Nats) Mutate(ctx context.Context, ref model.ResourceRef, payload types.Payload) error {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Nats.Mutate")
	defer span.End()

	req, err := types.NewMutationRequest(ref, payload)
	if err != nil {
		return errors.Wrap(ErrReply, err.Error())
	}

	sc := trace.SpanContextFromContext(ctx)
	req.TraceID = sc.TraceID().String()
	req.SpanID = sc.SpanID().String()

	reply, err := n.request(ctx, Subject(n.prefix, ref.ConnectionName, subjectMutate), req.MustBytes())
	if err != nil {
		return err
	}

	if reply.Error != "" {
		metrics.GatewayErrorCount.WithLabelValues(string(model.GatewayKindNats), "rejected").Inc()

		return &MutationError{Kind: payload.Kind(), Ref: ref, Message: reply.Error}
	}

	return nil
}

// Resource fetches the authoritative resource from the backend.
func (n *Nats) Resource(ctx context.Context, ref model.ResourceRef) (*model.Resource, error) {
	ctx, span := otel.Tracer(pkgName).Start(ctx, "Nats.Resource")
	defer span.End()

	req := &types.FetchRequest{Connection: ref.ConnectionName, ResourceID: ref.ID}

	reply, err := n.request(ctx, Subject(n.prefix, ref.ConnectionName, subjectGet), req.MustBytes())
	if err != nil {
		return nil, err
	}

	switch {
	case reply.NotFound:
		return nil, errors.Wrap(model.ErrResourceNotFound, ref.String())
	case reply.Error != "":
		return nil, errors.Wrap(ErrReply, reply.Error)
	case reply.Resource == nil:
		return nil, errors.Wrap(ErrReply, "reply carries no resource")
	}

	return reply.Resource, nil
}

func (n *Nats) request(ctx context.Context, subject string, data []byte) (*types.Reply, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)

		defer cancel()
	}

	msg, err := n.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		metrics.GatewayErrorCount.WithLabelValues(string(model.GatewayKindNats), "transport").Inc()

		return nil, &TransportError{Gateway: model.GatewayKindNats, Err: err}
	}

	reply := &types.Reply{}
	if err := json.Unmarshal(msg.Data, reply); err != nil {
		return nil, errors.Wrap(ErrReply, err.Error())
	}

	return reply, nil
}
