package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// msgNamespace scopes archive message ids so they never collide with other publishers.
var msgNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("kong:archive"))

type NATSConfig struct {
	URL string
	// Subject prefix; records go to <Subject>.<request kind>.
	Subject string
	// Stream enables JetStream publishing with server-side dedupe when set.
	Stream  string
	Timeout time.Duration
}

// NATSSink publishes each record as JSON. Message ids are derived from the
// request id and its status count, so republishing an unchanged request is
// deduplicated by JetStream.
type NATSSink struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
	logger  *zap.SugaredLogger
}

func NewNATSSink(cfg NATSConfig, logger *zap.SugaredLogger) (*NATSSink, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Subject == "" {
		cfg.Subject = "kong.archive"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("kong-archive"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnw("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	s := &NATSSink{conn: conn, subject: cfg.Subject, logger: logger}
	if cfg.Stream != "" {
		js, err := conn.JetStream()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create JetStream context: %w", err)
		}
		if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
			conn.Close()
			return nil, err
		}
		s.js = js
	}
	logger.Infow("NATS archive sink connected", "subject", cfg.Subject, "stream", cfg.Stream)
	return s, nil
}

func ensureStream(js nats.JetStreamContext, name, subject string) error {
	if _, err := js.StreamInfo(name); err == nil {
		return nil
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   []string{subject + ".>"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     30 * 24 * time.Hour,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	return nil
}

func (s *NATSSink) Name() string { return "nats" }

func (s *NATSSink) Write(ctx context.Context, rec Record) error {
	msg, err := s.message(rec)
	if err != nil {
		return err
	}
	if s.js != nil {
		_, err = s.js.PublishMsg(msg, nats.Context(ctx))
		return err
	}
	return s.conn.PublishMsg(msg)
}

func (s *NATSSink) message(rec Record) (*nats.Msg, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	kind := "unknown"
	if rec.Request.Payload != nil {
		kind = strings.ToLower(string(rec.Request.Payload.Kind()))
	}
	msg := nats.NewMsg(s.subject + "." + kind)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, MessageID(rec).String())
	msg.Header.Set("Kong-Request-Id", strconv.FormatUint(rec.Request.ID, 10))
	return msg, nil
}

// MessageID is stable for a given request id and status history length.
func MessageID(rec Record) uuid.UUID {
	key := strconv.FormatUint(rec.Request.ID, 10) + ":" + strconv.Itoa(len(rec.Request.Statuses))
	return uuid.NewSHA1(msgNamespace, []byte(key))
}

func (s *NATSSink) Close() error {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
