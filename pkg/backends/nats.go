// Package backends provides optional sinks behind the diaglog.Sink
// interface for deployments that ship diagnostic records somewhere other
// than the default rotating file.
package backends

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tracekit/diaglog/pkg/diaglog"
)

// NATSSink publishes admitted records to a NATS subject. Rate limiting,
// throttling and sampling all happen in the Emitter before a record
// reaches the sink, so the publish path stays a single call.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

var _ diaglog.Sink = (*NATSSink)(nil)

// natsTarget is the parsed form of a sink URI such as
// nats://host:4222/diag.records?max_reconnect=10&reconnect_wait=2.
type natsTarget struct {
	serverURL string
	subject   string
	options   []nats.Option
}

// parseNATSURI validates a nats:// URI and extracts the subject and
// connection options.
func parseNATSURI(uri string) (*natsTarget, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid URI: %w", err)
	}
	if parsed.Scheme != "nats" {
		return nil, fmt.Errorf("invalid scheme: %s (expected 'nats')", parsed.Scheme)
	}

	subject := strings.TrimPrefix(parsed.Path, "/")
	if subject == "" {
		return nil, fmt.Errorf("missing subject in URI %q", uri)
	}

	target := &natsTarget{
		serverURL: fmt.Sprintf("nats://%s", parsed.Host),
		subject:   subject,
		options:   []nats.Option{nats.Name("diaglog-nats-sink")},
	}

	query := parsed.Query()
	if v := query.Get("max_reconnect"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			target.options = append(target.options, nats.MaxReconnects(n))
		}
	}
	if v := query.Get("reconnect_wait"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			target.options = append(target.options, nats.ReconnectWait(time.Duration(n)*time.Second))
		}
	}
	if v := query.Get("tls"); v != "" {
		if secure, _ := strconv.ParseBool(v); secure {
			target.options = append(target.options, nats.Secure())
		}
	}

	return target, nil
}

// NewNATSSink connects to the server named in the URI and returns a sink
// publishing to the URI's subject.
func NewNATSSink(uri string) (*NATSSink, error) {
	target, err := parseNATSURI(uri)
	if err != nil {
		return nil, err
	}

	conn, err := nats.Connect(target.serverURL, target.options...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	return &NATSSink{conn: conn, subject: target.subject}, nil
}

// Write publishes one record. Publishing is buffered by the NATS client;
// a failure is returned to the Emitter, which counts and drops the record
// rather than retrying.
func (s *NATSSink) Write(record []byte) error {
	if err := s.conn.Publish(s.subject, record); err != nil {
		return fmt.Errorf("publishing record: %w", err)
	}
	return nil
}

// Close flushes buffered publishes and closes the connection.
func (s *NATSSink) Close() error {
	if err := s.conn.FlushTimeout(2 * time.Second); err != nil {
		s.conn.Close()
		return fmt.Errorf("flushing NATS connection: %w", err)
	}
	s.conn.Close()
	return nil
}
