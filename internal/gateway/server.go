package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/metal-toolbox/vmconsole/internal/metrics"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/types"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const (
	handlerTimeout = 60 * time.Second
)

// Server exposes a Backend over NATS, it answers the requests sent by the Nats gateway.
type Server struct {
	conn    *nats.Conn
	prefix  string
	backend Backend
	logger  *logrus.Logger
	subs    []*nats.Subscription
}

// Serve subscribes the backend to mutate and get requests for all connections under prefix.
func Serve(conn *nats.Conn, prefix string, backend Backend, logger *logrus.Logger) (*Server, error) {
	if prefix == "" {
		prefix = model.AppName
	}

	s := &Server{conn: conn, prefix: prefix, backend: backend, logger: logger}

	handlers := map[string]nats.MsgHandler{
		subjectMutate: s.handleMutate,
		subjectGet:    s.handleGet,
	}

	for verb, handler := range handlers {
		sub, err := conn.QueueSubscribe(Subject(prefix, "*", verb), model.AppName, handler)
		if err != nil {
			_ = s.Stop()
			return nil, errors.Wrap(ErrNatsConnect, err.Error())
		}

		s.subs = append(s.subs, sub)
	}

	// ensure the subscriptions are registered before requests are sent
	if err := conn.Flush(); err != nil {
		_ = s.Stop()
		return nil, errors.Wrap(ErrNatsConnect, err.Error())
	}

	logger.WithField("prefix", prefix).Info("backend listening for requests")

	return s, nil
}

// Stop unsubscribes the backend, pending requests are finished.
func (s *Server) Stop() error {
	var merr *multierror.Error

	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			merr = multierror.Append(merr, err)
		}
	}

	s.subs = nil

	return merr.ErrorOrNil()
}

// connection returns the connection token of a <prefix>.<connection>.<verb> subject.
func (s *Server) connection(subject string) string {
	rest := strings.TrimPrefix(subject, s.prefix+".")
	if idx := strings.LastIndex(rest, "."); idx > 0 {
		return rest[:idx]
	}

	return rest
}

func (s *Server) respond(msg *nats.Msg, request string, reply *types.Reply) {
	response := "ok"
	if reply.Error != "" || reply.NotFound {
		response = "error"
	}

	metrics.BackendRequestCounter.WithLabelValues(request, response).Inc()

	if err := msg.Respond(reply.MustBytes()); err != nil {
		s.logger.WithError(err).WithField("subject", msg.Subject).Warn("reply failed")
	}
}

func (s *Server) handleMutate(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	ctx, span := otel.Tracer(pkgName).Start(ctx, "Server.Mutate")
	defer span.End()

	req := &types.MutationRequest{}
	if err := json.Unmarshal(msg.Data, req); err != nil {
		s.respond(msg, subjectMutate, &types.Reply{Error: "invalid request: " + err.Error()})
		return
	}

	// the subject is authoritative for the connection
	req.Connection = s.connection(msg.Subject)

	le := s.logger.WithFields(logrus.Fields{
		"resourceID": req.ResourceID.String(),
		"connection": req.Connection,
		"kind":       req.Kind,
		"traceID":    req.TraceID,
	})

	payload, err := req.DecodePayload()
	if err != nil {
		le.WithError(err).Warn("invalid mutation payload")
		s.respond(msg, subjectMutate, &types.Reply{Error: "invalid request: " + err.Error()})

		return
	}

	if err := s.backend.Mutate(ctx, req.Ref(), payload); err != nil {
		le.WithError(err).Info("mutation rejected")
		s.respond(msg, subjectMutate, &types.Reply{Error: Message(err)})

		return
	}

	le.Debug("mutation applied")
	s.respond(msg, subjectMutate, &types.Reply{})
}

func (s *Server) handleGet(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	ctx, span := otel.Tracer(pkgName).Start(ctx, "Server.Get")
	defer span.End()

	req := &types.FetchRequest{}
	if err := json.Unmarshal(msg.Data, req); err != nil {
		s.respond(msg, subjectGet, &types.Reply{Error: "invalid request: " + err.Error()})
		return
	}

	ref := model.ResourceRef{ConnectionName: s.connection(msg.Subject), ID: req.ResourceID}

	res, err := s.backend.Resource(ctx, ref)
	switch {
	case errors.Is(err, model.ErrResourceNotFound):
		s.respond(msg, subjectGet, &types.Reply{NotFound: true})
	case err != nil:
		s.respond(msg, subjectGet, &types.Reply{Error: err.Error()})
	default:
		s.respond(msg, subjectGet, &types.Reply{Resource: res})
	}
}
