package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/focusguard/internal/foundation"
	ferrors "git.home.luguber.info/inful/focusguard/internal/foundation/errors"
	"git.home.luguber.info/inful/focusguard/internal/logfields"
)

// DefaultSubjectPrefix prefixes every focusguard subject.
const DefaultSubjectPrefix = "focusguard"

const queueGroup = "focusguard-daemon"

// Subjects derives subject names from a prefix.
type Subjects struct {
	Prefix string
}

func (s Subjects) prefix() string {
	if s.Prefix == "" {
		return DefaultSubjectPrefix
	}
	return s.Prefix
}

// UI is the request subject for trusted callers.
func (s Subjects) UI() string { return s.prefix() + ".rpc.ui" }

// Content is the request subject for untrusted callers.
func (s Subjects) Content() string { return s.prefix() + ".rpc.content" }

// Events carries broadcasts.
func (s Subjects) Events() string { return s.prefix() + ".events" }

// For returns the request subject matching trust.
func (s Subjects) For(trust Trust) string {
	if trust == Trusted {
		return s.UI()
	}
	return s.Content()
}

// NATSServer answers requests arriving on the UI and content subjects. Trust is
// decided by subject only.
type NATSServer struct {
	conn     *nats.Conn
	subjects Subjects
	handler  Handler
	logger   *slog.Logger
	subs     []*nats.Subscription
}

// NewNATSServer creates a server; call Start to subscribe.
func NewNATSServer(conn *nats.Conn, subjects Subjects, h Handler, logger *slog.Logger) *NATSServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSServer{conn: conn, subjects: subjects, handler: h, logger: logger}
}

// Start subscribes both request subjects in a queue group.
func (s *NATSServer) Start(ctx context.Context) error {
	for _, trust := range []Trust{Trusted, Untrusted} {
		subject := s.subjects.For(trust)
		sub, err := s.conn.QueueSubscribe(subject, queueGroup, func(m *nats.Msg) {
			go s.serve(ctx, trust, m)
		})
		if err != nil {
			_ = s.Stop()
			return ferrors.TransportError("subscribe " + subject).WithCause(err).Build()
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.conn.Flush(); err != nil {
		_ = s.Stop()
		return ferrors.TransportError("flush subscriptions").WithCause(err).Build()
	}
	s.logger.Info("Request subjects ready",
		logfields.Subject(s.subjects.UI()), slog.String("content_subject", s.subjects.Content()))
	return nil
}

func (s *NATSServer) serve(ctx context.Context, trust Trust, m *nats.Msg) {
	var resp Response
	msg, err := Decode(m.Data)
	if err != nil {
		resp = Fail(err)
	} else {
		resp = s.handler.Handle(ctx, trust, msg)
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Encode response failed", logfields.Subject(m.Subject), logfields.Error(err))
		return
	}
	if err := m.Respond(data); err != nil {
		s.logger.Debug("Respond failed", logfields.Subject(m.Subject), logfields.Error(err))
	}
}

// Stop drains the subscriptions.
func (s *NATSServer) Stop() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}

// NATSClient sends requests to a daemon over NATS.
type NATSClient struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
	logger  *slog.Logger
}

// NewNATSClient creates a sender publishing to the subject for trust.
func NewNATSClient(conn *nats.Conn, subjects Subjects, trust Trust, timeout time.Duration, logger *slog.Logger) *NATSClient {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSClient{conn: conn, subject: subjects.For(trust), timeout: timeout, logger: logger}
}

func (c *NATSClient) Send(ctx context.Context, msg Message) foundation.Option[Response] {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Debug("Encode request failed", logfields.Error(err))
		return foundation.None[Response]()
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.conn.RequestWithContext(ctx, c.subject, data)
	if err != nil {
		// Timeouts, no responders and a closed connection all mean no answer.
		c.logger.Debug("No answer", logfields.Subject(c.subject),
			logfields.Action(string(msg.Action)), logfields.Error(err))
		return foundation.None[Response]()
	}

	resp, err := DecodeResponse(reply.Data)
	if err != nil {
		c.logger.Warn("Discarding malformed response", logfields.Subject(c.subject), logfields.Error(err))
		return foundation.None[Response]()
	}
	return foundation.Some(resp)
}
