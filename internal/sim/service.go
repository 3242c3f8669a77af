package sim

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfibsem/gofibsem/internal/config"
	"github.com/openfibsem/gofibsem/internal/protocol/frame"
	"github.com/openfibsem/gofibsem/internal/protocol/session"
)

// ServiceConfig configures the simulated instrument endpoint.
type ServiceConfig struct {
	ListenAddr   string
	AdminAddr    string
	InstrumentID string
	Manufacturer string
	Model        string
	SerialNumber string
	Session      session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:   ":7520",
		AdminAddr:    "",
		InstrumentID: "sim.demo",
		Manufacturer: "OpenFIBSEM",
		Model:        "SimDualBeam",
		SerialNumber: "SIM-0001",
		Session:      session.DefaultConfig(),
	}
}

// Service owns the instrument model and serves the control protocol.
type Service struct {
	cfg        ServiceConfig
	instrument *Instrument

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	clientCount atomic.Int64
	started     time.Time
}

// NewService builds a service around a fresh instrument using the
// given microscope profile.
func NewService(cfg ServiceConfig, profile config.Settings) *Service {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = DefaultServiceConfig().ListenAddr
	}
	if strings.TrimSpace(cfg.InstrumentID) == "" {
		cfg.InstrumentID = DefaultServiceConfig().InstrumentID
	}
	cfg.Session = cfg.Session.WithDefaults()
	return &Service{
		cfg:        cfg,
		instrument: NewInstrument(profile),
		conns:      make(map[net.Conn]struct{}),
		started:    time.Now(),
	}
}

// Instrument exposes the model for admin inspection and tests.
func (s *Service) Instrument() *Instrument {
	return s.instrument
}

// Run listens on the configured address and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info().Str("addr", ln.Addr().String()).Str("instrument_id", s.cfg.InstrumentID).Msg("sim listening")
	if strings.TrimSpace(s.cfg.AdminAddr) != "" {
		go s.serveAdmin(ctx)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts protocol connections on ln until ctx is done.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.trackConn(conn)
		go s.handleConn(conn)
	}
}

func (s *Service) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Service) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Service) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	defer s.untrackConn(conn)

	remote := conn.RemoteAddr().String()
	active := s.clientCount.Add(1)
	log.Debug().Str("remote", remote).Int64("active_clients", active).Msg("sim client connected")
	defer func() {
		remaining := s.clientCount.Add(-1)
		log.Debug().Str("remote", remote).Int64("active_clients", remaining).Msg("sim client disconnected")
	}()

	reader := bufio.NewReader(conn)

	_ = conn.SetDeadline(time.Now().Add(s.cfg.Session.HandshakeTimeout))
	hello, err := session.ReadHello(reader)
	if err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("sim handshake failed")
		return
	}
	ack := session.HelloAck{
		Status:       session.AckStatusAccepted,
		InstrumentID: s.cfg.InstrumentID,
		Manufacturer: s.cfg.Manufacturer,
		Model:        s.cfg.Model,
		SerialNumber: s.cfg.SerialNumber,
		TimestampMS:  uint64(time.Now().UnixMilli()),
	}
	if hello.ProtocolVersion != frame.Version {
		ack.Status = session.AckStatusRejected
		ack.Message = "unsupported protocol version"
		_ = session.WriteHelloAck(conn, ack)
		return
	}
	if err := session.WriteHelloAck(conn, ack); err != nil {
		log.Warn().Err(err).Str("remote", remote).Msg("sim write hello ack failed")
		return
	}
	log.Info().Str("client_id", hello.ClientID).Str("remote", remote).Msg("sim session established")

	if err := conn.SetDeadline(time.Time{}); err != nil {
		log.Warn().Err(err).Msg("sim clear deadline failed")
	}

	for {
		fr, err := frame.ReadFrame(reader, frame.DefaultLimits())
		if err != nil {
			return
		}
		resp := s.dispatch(fr)
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.Session.WriteTimeout))
		if err := frame.WriteFrame(conn, resp, frame.DefaultLimits()); err != nil {
			log.Warn().Err(err).Str("remote", remote).Msg("sim write response failed")
			return
		}
		_ = conn.SetWriteDeadline(time.Time{})
	}
}
