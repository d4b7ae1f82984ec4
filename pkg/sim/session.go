// Package sim is a simulated InfiniBand transport. Instead of talking to
// verbs and umad devices it relays every management datagram through an
// ibsim server over UDP.
//
// A process holds one Session. Devices, end ports and UMAD transactors
// opened from it share its sockets:
//
//	s, err := sim.Connect(ctx, sim.Options{Host: "sim-host", Port: 7070})
//	dev, err := sim.OpenDevice(ctx, s, "ibsim0")
//	port, _ := dev.EndPort(1)
//	umad := port.UMAD()
//	reply, err := umad.Execute(ctx, mad, path, false)
//
// All UMAD transactors share the session's data socket, so at most one
// Execute may be in flight per process.
package sim

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/internal/telemetry"
	"github.com/marmos91/ibsim/internal/wire"
	"github.com/marmos91/ibsim/pkg/bufpool"
	simerrors "github.com/marmos91/ibsim/pkg/errors"
	"github.com/marmos91/ibsim/pkg/madtransactor"
	"github.com/marmos91/ibsim/pkg/metrics"
)

// DefaultPort is the ibsim control port.
const DefaultPort = 7070

// disconnectTimeout bounds the wait for the DISCONNECT acknowledgement.
const disconnectTimeout = 250 * time.Millisecond

// ErrRejected is wrapped by the error returned when the simulator answers a
// control request with an ERROR envelope.
var ErrRejected = errors.New("simulator rejected the request")

// Options configures Connect.
type Options struct {
	// Host is the simulator host name or address.
	Host string

	// Port is the simulator control port (default DefaultPort).
	Port int

	// NodeID selects the simulated node this client attaches to. At most
	// wire.NodeIDSize bytes.
	NodeID string

	QPN  uint32
	IsSM bool

	// Timeout and Retries seed the delivery policy of the paths built by
	// EndPort.SAPath. Zero Timeout means path.DefaultTimeout.
	Timeout time.Duration
	Retries int

	// SubnetTimeout, when non-zero, overrides the subnet timeout of every
	// end port opened from the session.
	SubnetTimeout uint8

	// Metrics may be nil.
	Metrics metrics.TransportMetrics

	// Trace is installed on every UMAD transactor opened from the session.
	Trace madtransactor.TraceFunc
}

// Session is one connection to the simulator: a control socket used for
// request/reply queries and a data socket carrying MADs.
type Session struct {
	id       string
	opts     Options
	remote   *net.UDPAddr
	clientID uint32

	// ctlMu serializes control round trips and guards ctl.
	ctlMu sync.Mutex
	ctl   *net.UDPConn

	data     *net.UDPConn
	dataPeer netip.AddrPort

	closeOnce sync.Once
}

// Connect opens a session with the simulator at opts.Host:opts.Port.
//
// The data socket is bound first so its local port can be offered as the
// client id. The simulator may assign a different id; data is then
// exchanged with port opts.Port+clientID+1.
func Connect(ctx context.Context, opts Options) (_ *Session, err error) {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if len(opts.NodeID) > wire.NodeIDSize {
		return nil, simerrors.NewInvalidArgumentError("connect",
			"node id %q longer than %d bytes", opts.NodeID, wire.NodeIDSize)
	}

	server := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanConnect,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.Server(server)))
	defer span.End()

	s := &Session{id: uuid.NewString(), opts: opts}
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
			s.Disconnect()
		}
	}()

	s.remote, err = resolve(ctx, opts.Host, opts.Port)
	if err != nil {
		return nil, err
	}

	s.data, err = net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, simerrors.NewConnectionError("connect", err)
	}
	candidate := uint32(s.data.LocalAddr().(*net.UDPAddr).Port)

	ctl, err := net.DialUDP("udp4", nil, s.remote)
	if err != nil {
		return nil, simerrors.NewConnectionError("connect", err)
	}
	s.ctl = ctl
	s.clientID = candidate

	info := wire.ClientInfo{ClientID: candidate, QPN: opts.QPN, IsSM: opts.IsSM, NodeID: opts.NodeID}
	reply, err := s.ControlCall(ctx, wire.OpConnect, wire.EncodeClientInfo(info))
	if err != nil {
		return nil, err
	}
	assigned, err := wire.DecodeClientInfo(reply.Data[:])
	if err != nil {
		return nil, err
	}
	s.clientID = assigned.ClientID

	dataPort := opts.Port + int(s.clientID) + 1
	if dataPort > 0xffff {
		return nil, simerrors.NewProtocolError("connect",
			"client id %d puts the data port out of range", s.clientID)
	}
	s.dataPeer = netip.AddrPortFrom(s.remote.AddrPort().Addr().Unmap(), uint16(dataPort))

	telemetry.SetAttributes(ctx, telemetry.ClientID(s.clientID))
	logger.Info("Connected to simulator",
		logger.KeyServer, server, logger.ClientID(s.clientID), logger.KeySessionID, s.id,
		"candidate", candidate, "data_port", dataPort)
	return s, nil
}

// resolve looks up an IPv4 address for host.
func resolve(ctx context.Context, host string, port int) (*net.UDPAddr, error) {
	if host == "" {
		return nil, simerrors.NewConnectionError("resolve", errors.New("no simulator host configured"))
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return nil, simerrors.NewConnectionError("resolve "+host, err)
	}
	if len(addrs) == 0 {
		return nil, simerrors.NewConnectionError("resolve "+host, errors.New("no IPv4 address"))
	}
	return net.UDPAddrFromAddrPort(netip.AddrPortFrom(addrs[0].Unmap(), uint16(port))), nil
}

// ID returns the random identifier attached to log records of this session.
func (s *Session) ID() string {
	return s.id
}

// ClientID returns the client id assigned by the simulator.
func (s *Session) ClientID() uint32 {
	return s.clientID
}

// Remote returns the simulator control address.
func (s *Session) Remote() *net.UDPAddr {
	return s.remote
}

// Options returns the options the session was opened with.
func (s *Session) Options() Options {
	return s.opts
}

// logContext returns a context carrying the session log fields.
func (s *Session) logContext(ctx context.Context) context.Context {
	if lc := logger.FromContext(ctx); lc != nil && lc.SessionID == s.id {
		return ctx
	}
	return logger.WithContext(ctx, logger.NewLogContext(s.id, s.clientID))
}

// ControlCall sends one control request and waits for its reply. There is
// no retry and no implicit timeout: the wait is bounded by ctx only.
//
// An ERROR reply is returned as a protocol error wrapping ErrRejected.
func (s *Session) ControlCall(ctx context.Context, op wire.Opcode, payload []byte) (*wire.Control, error) {
	opName := "control " + op.String()
	if len(payload) > wire.ControlDataSize {
		return nil, simerrors.NewInvalidArgumentError(opName,
			"payload of %d bytes exceeds %d", len(payload), wire.ControlDataSize)
	}

	ctx, span := telemetry.StartControlSpan(ctx, op.String(), telemetry.ClientID(s.clientID))
	defer span.End()

	start := time.Now()
	s.ctlMu.Lock()
	reply, err := s.exchangeLocked(ctx, op, payload)
	s.ctlMu.Unlock()

	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveControl(op.String(), time.Since(start), err)
	}
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(s.logContext(ctx), "Control call failed", logger.Opcode(op.String()), logger.Err(err))
		return nil, err
	}
	logger.DebugCtx(s.logContext(ctx), "Control call",
		logger.Opcode(op.String()), logger.DurationMs(logger.Duration(start)))
	return reply, nil
}

// exchangeLocked performs one round trip. Must be called with ctlMu held.
func (s *Session) exchangeLocked(ctx context.Context, op wire.Opcode, payload []byte) (*wire.Control, error) {
	opName := "control " + op.String()
	if s.ctl == nil {
		return nil, simerrors.NewClosedError(opName)
	}
	if err := ctx.Err(); err != nil {
		return nil, simerrors.NewConnectionError(opName, err)
	}

	if _, err := s.ctl.Write(wire.EncodeControl(wire.Magic, s.clientID, op, payload)); err != nil {
		return nil, simerrors.NewConnectionError(opName, err)
	}

	deadline, _ := ctx.Deadline()
	if err := s.ctl.SetReadDeadline(deadline); err != nil {
		return nil, simerrors.NewConnectionError(opName, err)
	}
	ctl := s.ctl
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(fired)
		_ = ctl.SetReadDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() {
			<-fired
		}
	}()

	buf := bufpool.Get(2 * wire.ControlSize)
	defer bufpool.Put(buf)
	for {
		n, err := s.ctl.Read(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, simerrors.NewConnectionError(opName, ctxErr)
			}
			// The read deadline may fire just before the context timer.
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && !deadline.IsZero() {
				return nil, simerrors.NewConnectionError(opName, context.DeadlineExceeded)
			}
			return nil, simerrors.NewConnectionError(opName, err)
		}

		reply, err := wire.DecodeControl(buf[:n])
		if err != nil {
			return nil, err
		}
		if reply.Magic != wire.Magic {
			return nil, simerrors.NewProtocolError(opName, "bad magic 0x%08x", reply.Magic)
		}

		switch reply.Opcode {
		case op:
			return reply, nil
		case wire.OpError:
			return nil, &simerrors.SimError{
				Code:    simerrors.ErrProtocol,
				Op:      opName,
				Message: "error reply",
				Err:     ErrRejected,
			}
		default:
			// Late reply to an abandoned call.
			logger.Debug("Discarding stale control reply",
				logger.Opcode(reply.Opcode.String()), "want", op.String())
		}
	}
}

// SetIsSM tells the simulator whether this client acts as subnet manager.
func (s *Session) SetIsSM(ctx context.Context, isSM bool) error {
	var b byte
	if isSM {
		b = 1
	}
	_, err := s.ControlCall(ctx, wire.OpSetIsSM, []byte{b})
	return err
}

// Disconnect sends DISCONNECT and closes both sockets. Errors are logged
// and otherwise ignored. Disconnect is idempotent and safe on a session
// whose Connect failed half way.
func (s *Session) Disconnect() {
	s.closeOnce.Do(func() {
		ctx, span := telemetry.StartSpan(context.Background(), telemetry.SpanDisconnect,
			trace.WithAttributes(telemetry.ClientID(s.clientID)))
		defer span.End()

		s.ctlMu.Lock()
		defer s.ctlMu.Unlock()

		if s.ctl != nil && s.dataPeer.IsValid() {
			ctx, cancel := context.WithTimeout(ctx, disconnectTimeout)
			_, err := s.exchangeLocked(ctx, wire.OpDisconnect, nil)
			cancel()
			if err != nil {
				logger.Debug("Disconnect not acknowledged", logger.ClientID(s.clientID), logger.Err(err))
			}
		}

		if s.ctl != nil {
			if err := s.ctl.Close(); err != nil {
				logger.Debug("Closing control socket", logger.Err(err))
			}
			s.ctl = nil
		}
		if s.data != nil {
			if err := s.data.Close(); err != nil {
				logger.Debug("Closing data socket", logger.Err(err))
			}
		}
		if s.dataPeer.IsValid() {
			logger.Info("Disconnected from simulator", logger.ClientID(s.clientID))
		}
	})
}

// Close implements io.Closer. It always returns nil.
func (s *Session) Close() error {
	s.Disconnect()
	return nil
}

// writeData sends one datagram to the client's data port.
func (s *Session) writeData(buf []byte) error {
	if s.data == nil || !s.dataPeer.IsValid() {
		return simerrors.NewClosedError("send")
	}
	if _, err := s.data.WriteToUDPAddrPort(buf, s.dataPeer); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return simerrors.NewClosedError("send")
		}
		return simerrors.NewConnectionError("send", err)
	}
	return nil
}

// readData waits until deadline for one datagram from the client's data
// port. It returns n == 0 and a nil error when the deadline passes first.
// Datagrams from other peers are discarded.
func (s *Session) readData(buf []byte, deadline time.Time) (int, error) {
	if s.data == nil || !s.dataPeer.IsValid() {
		return 0, simerrors.NewClosedError("receive")
	}
	if err := s.data.SetReadDeadline(deadline); err != nil {
		return 0, simerrors.NewConnectionError("receive", err)
	}
	for {
		n, from, err := s.data.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				return 0, nil
			case errors.Is(err, net.ErrClosed):
				return 0, simerrors.NewClosedError("receive")
			default:
				return 0, simerrors.NewConnectionError("receive", err)
			}
		}
		if netip.AddrPortFrom(from.Addr().Unmap(), from.Port()) != s.dataPeer {
			logger.Debug("Discarding datagram from unknown peer", "from", from.String())
			continue
		}
		if n == 0 {
			continue
		}
		return n, nil
	}
}
