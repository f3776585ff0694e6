package backends

import (
	"bufio"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/tracekit/diaglog/pkg/diaglog"
)

// localSyslogSockets are the Unix socket paths probed when no address is
// given.
var localSyslogSockets = []string{"/dev/log", "/var/run/syslog", "/var/run/log"}

// SyslogSink forwards admitted records to a syslog daemon, each line
// framed as <priority>tag: message. Records arrive fully formatted from
// the Emitter; the sink only adds syslog framing.
type SyslogSink struct {
	mu       sync.Mutex
	conn     net.Conn
	writer   *bufio.Writer
	priority int
	tag      string
}

var _ diaglog.Sink = (*SyslogSink)(nil)

// syslogTarget is the parsed form of a sink URI such as
// syslog://localhost:514?priority=14&tag=trace or syslog:// for the
// local daemon socket.
type syslogTarget struct {
	network  string
	address  string
	priority int
	tag      string
}

// parseSyslogURI validates a syslog:// URI and extracts the address,
// priority and tag.
func parseSyslogURI(uri string) (*syslogTarget, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid URI: %w", err)
	}
	if parsed.Scheme != "syslog" {
		return nil, fmt.Errorf("invalid scheme: %s (expected 'syslog')", parsed.Scheme)
	}

	target := &syslogTarget{
		network:  "tcp",
		address:  parsed.Host,
		priority: 14, // user.info
		tag:      "diaglog",
	}

	query := parsed.Query()
	if v := query.Get("priority"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 191 {
			return nil, fmt.Errorf("invalid priority %q", v)
		}
		target.priority = n
	}
	if v := query.Get("tag"); v != "" {
		target.tag = v
	}
	if v := query.Get("network"); v != "" {
		target.network = v
	}

	if target.address == "" {
		for _, path := range localSyslogSockets {
			if _, err := os.Stat(path); err == nil {
				target.network = "unix"
				target.address = path
				break
			}
		}
		if target.address == "" {
			return nil, fmt.Errorf("no local syslog socket found")
		}
	}
	return target, nil
}

// NewSyslogSink connects to the daemon named in the URI. An empty host
// selects the local daemon socket.
func NewSyslogSink(uri string) (*SyslogSink, error) {
	target, err := parseSyslogURI(uri)
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial(target.network, target.address)
	if err != nil {
		return nil, fmt.Errorf("dialing syslog daemon: %w", err)
	}

	return &SyslogSink{
		conn:     conn,
		writer:   bufio.NewWriter(conn),
		priority: target.priority,
		tag:      target.tag,
	}, nil
}

// Write frames one record and hands it to the daemon.
func (s *SyslogSink) Write(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := fmt.Sprintf("<%d>%s: %s\n", s.priority, s.tag, strings.TrimSpace(string(record)))
	if _, err := s.writer.WriteString(msg); err != nil {
		return fmt.Errorf("writing to syslog: %w", err)
	}
	return s.writer.Flush()
}

// Close flushes buffered records and closes the connection.
func (s *SyslogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writer.Flush(); err != nil {
		s.conn.Close()
		return fmt.Errorf("flushing syslog connection: %w", err)
	}
	return s.conn.Close()
}
