// Package microscope is the client side of the instrument control
// protocol: a connected session handle exposing the configuration,
// stage, manipulator, state, and acquisition operations.
package microscope

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfibsem/gofibsem/internal/config"
	"github.com/openfibsem/gofibsem/internal/protocol/frame"
	"github.com/openfibsem/gofibsem/internal/protocol/schema"
	"github.com/openfibsem/gofibsem/internal/protocol/session"
	"github.com/openfibsem/gofibsem/internal/protocol/tlv"
)

var (
	ErrAddressRequired  = errors.New("microscope: address required")
	ErrClientIDRequired = errors.New("microscope: client_id required")
	ErrNotConnected     = errors.New("microscope: not connected")
	ErrSessionRejected  = errors.New("microscope: session rejected")
	ErrBadResponse      = errors.New("microscope: malformed response")
)

// RemoteError is an error response from the instrument.
type RemoteError struct {
	Code    uint32
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("microscope: remote error code=%d: %s", e.Code, e.Message)
}

// ClientConfig carries the connection parameters for one session.
type ClientConfig struct {
	Address            string
	ClientID           string
	Session            session.Config
	MaxConnectAttempts int
}

// Client is a connected instrument session. One request is in flight
// at a time; methods block until the instrument responds.
type Client struct {
	cfg ClientConfig

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	instrument session.HelloAck
	msgID      atomic.Uint64
	rng        *rand.Rand
}

// Connect dials the instrument with backoff and performs the hello
// handshake.
func Connect(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, ErrClientIDRequired
	}
	cfg.Session = cfg.Session.WithDefaults()

	c := &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	var attempt int
	for {
		attempt++
		err := c.dialAndHello(ctx)
		if err == nil {
			return c, nil
		}
		if errors.Is(err, ErrSessionRejected) || !c.shouldRetry(attempt) {
			return nil, err
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("addr", cfg.Address).Msg("microscope connect retry")
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// SetupSession loads the microscope profile from path and connects,
// returning the session handle together with the loaded settings.
func SetupSession(ctx context.Context, profilePath string) (*Client, config.Settings, error) {
	settings, err := config.Load(profilePath)
	if err != nil {
		return nil, config.Settings{}, err
	}
	client, err := ConnectWithSettings(ctx, settings)
	if err != nil {
		return nil, config.Settings{}, err
	}
	return client, settings, nil
}

// ConnectWithSettings connects using an already-loaded profile.
func ConnectWithSettings(ctx context.Context, settings config.Settings) (*Client, error) {
	sessionCfg := session.DefaultConfig()
	if d, err := settings.Connection.ConnectTimeoutDuration(); err != nil {
		return nil, err
	} else if d > 0 {
		sessionCfg.ConnectTimeout = d
	}
	if d, err := settings.Connection.RequestTimeoutDuration(); err != nil {
		return nil, err
	} else if d > 0 {
		sessionCfg.ReadTimeout = d
		sessionCfg.WriteTimeout = d
	}
	return Connect(ctx, ClientConfig{
		Address:  settings.Connection.Address,
		ClientID: settings.Connection.ClientID,
		Session:  sessionCfg,
	})
}

func (c *Client) dialAndHello(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return err
	}

	_ = conn.SetDeadline(time.Now().Add(c.cfg.Session.HandshakeTimeout))
	if err := session.WriteHello(conn, session.Hello{
		ClientID:        c.cfg.ClientID,
		ProtocolVersion: frame.Version,
	}); err != nil {
		_ = conn.Close()
		return err
	}
	reader := bufio.NewReader(conn)
	ack, err := session.ReadHelloAck(reader)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if ack.Status != session.AckStatusAccepted {
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrSessionRejected, ack.Message)
	}
	_ = conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.reader = reader
	c.instrument = ack
	c.mu.Unlock()

	log.Info().
		Str("instrument_id", ack.InstrumentID).
		Str("model", ack.Model).
		Str("serial", ack.SerialNumber).
		Msg("microscope session established")
	return nil
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return attempt < 5
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.cfg.Session.Backoff.Delay(attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Instrument returns the identity reported during the handshake.
func (c *Client) Instrument() session.HelloAck {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instrument
}

// Close tears down the session.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// request performs one round trip and returns the decoded response
// fields. The client mutex serializes requests on the session.
func (c *Client) request(ctx context.Context, msgType uint32, fields []tlv.Field, timeout time.Duration) ([]tlv.Field, error) {
	if err := schema.Validate(msgType, fields); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}

	id := c.msgID.Add(1)
	req := frame.Frame{
		Header: frame.Header{
			MessageID:   id,
			MessageType: msgType,
		},
		Payload: tlv.EncodeFields(fields),
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.conn.SetDeadline(deadline)
	defer c.conn.SetDeadline(time.Time{})

	if err := frame.WriteFrame(c.conn, req, frame.DefaultLimits()); err != nil {
		return nil, err
	}
	resp, err := frame.ReadFrame(c.reader, frame.DefaultLimits())
	if err != nil {
		return nil, err
	}
	if !resp.IsResponse() || resp.Header.MessageID != id || resp.Header.MessageType != msgType {
		return nil, fmt.Errorf("%w: response correlation mismatch", ErrBadResponse)
	}

	respFields, err := tlv.DecodeFields(resp.Payload)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, decodeRemoteError(respFields)
	}
	return respFields, nil
}

func decodeRemoteError(fields []tlv.Field) error {
	remote := &RemoteError{Code: schema.CodeInternalFailure, Message: "unknown"}
	if f, ok := tlv.GetField(fields, schema.FieldErrorCode); ok {
		if code, err := f.U32(); err == nil {
			remote.Code = code
		}
	}
	if f, ok := tlv.GetField(fields, schema.FieldErrorMessage); ok {
		if msg, err := f.String(); err == nil {
			remote.Message = msg
		}
	}
	return remote
}
