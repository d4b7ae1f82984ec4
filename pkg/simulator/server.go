// Package simulator is an in-process stand-in for the ibsim server. It
// speaks the control protocol on one UDP port and gives every connected
// client its own data port at controlPort+clientID+1, answering MADs through
// a pluggable Responder. It backs the transport's tests and the
// `ibsim simulate` command.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/internal/wire"
	"github.com/marmos91/ibsim/pkg/bufpool"
	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/metrics"
)

// pollInterval bounds how long a read blocks before shutdown is rechecked.
const pollInterval = 200 * time.Millisecond

// Config holds the server configuration.
type Config struct {
	// Bind is the listen host (default 127.0.0.1)
	Bind string

	// Port is the control port. Zero picks a free port; data ports are
	// derived from the bound port.
	Port int

	// ClientID, when non-zero, is assigned to every client instead of the
	// candidate id the client proposes.
	ClientID uint32

	Node NodeSpec

	// Responder answers data requests. Nil uses NodeResponder.
	Responder Responder

	// DropFirst discards this many data requests before answering.
	DropFirst int

	// KeepRequestLength makes control replies carry the length field of
	// the request instead of the length of the reply payload, as ibsim
	// does for its query opcodes.
	KeepRequestLength bool

	// Metrics may be nil.
	Metrics metrics.SimulatorMetrics
}

// Server is a fake ibsim server.
type Server struct {
	config Config

	mu        sync.Mutex
	node      *Node
	clients   map[uint32]*client
	responder Responder
	dropLeft  int
	received  int
	controls  map[wire.Opcode]int

	ctlConn       *net.UDPConn
	shutdown      chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup
	listenerReady chan struct{}
}

// client is one connected session and its data socket.
type client struct {
	id     uint32
	info   wire.ClientInfo
	conn   *net.UDPConn
	closed chan struct{}
}

// NewServer creates a server in a stopped state.
func NewServer(cfg Config) *Server {
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1"
	}
	s := &Server{
		config:        cfg,
		node:          NewNode(cfg.Node),
		clients:       make(map[uint32]*client),
		controls:      make(map[wire.Opcode]int),
		dropLeft:      cfg.DropFirst,
		shutdown:      make(chan struct{}),
		listenerReady: make(chan struct{}),
	}
	s.responder = cfg.Responder
	if s.responder == nil {
		s.responder = NodeResponder(s)
	}
	return s
}

// Serve listens on the control port and blocks until ctx is cancelled or
// Stop is called. WaitReady unblocks once the control socket is bound.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Bind, fmt.Sprint(s.config.Port))
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve UDP %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen UDP %s: %w", addr, err)
	}
	s.ctlConn = conn
	close(s.listenerReady)

	logger.Info("Simulator listening",
		"address", conn.LocalAddr().String(),
		logger.KeyNodeType, iba.NodeTypeString(s.node.Info.NodeType),
		logger.NodeGUID(uint64(s.node.Info.NodeGUID)),
		"ports", len(s.node.Ports))

	s.wg.Add(1)
	go s.serveControl()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.wg.Wait()
	return nil
}

// WaitReady returns a channel closed once the control socket is bound.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenerReady
}

// Addr returns the bound control address. Only valid after WaitReady.
func (s *Server) Addr() *net.UDPAddr {
	return s.ctlConn.LocalAddr().(*net.UDPAddr)
}

// Port returns the bound control port. Only valid after WaitReady.
func (s *Server) Port() int {
	return s.Addr().Port
}

// Stop closes every socket and waits for the serving goroutines. It is safe
// to call more than once.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.ctlConn != nil {
			_ = s.ctlConn.Close()
		}
		s.mu.Lock()
		for id, c := range s.clients {
			s.closeClientLocked(id, c)
		}
		s.mu.Unlock()
		logger.Debug("Simulator stopped")
	})
}

// Clients returns the ids of connected clients.
func (s *Server) Clients() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint32, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	return ids
}

// ClientInfo returns the client info a client connected with.
func (s *Server) ClientInfo(id uint32) (wire.ClientInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return wire.ClientInfo{}, false
	}
	return c.info, true
}

// Received returns the number of data requests received, dropped ones
// included.
func (s *Server) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// ControlRequests returns how many well-formed control requests with
// opcode op were received.
func (s *Server) ControlRequests(op wire.Opcode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls[op]
}

// SetResponder replaces the data responder.
func (s *Server) SetResponder(r Responder) {
	s.mu.Lock()
	s.responder = r
	s.mu.Unlock()
}

// SetDropFirst discards the next n data requests.
func (s *Server) SetDropFirst(n int) {
	s.mu.Lock()
	s.dropLeft = n
	s.mu.Unlock()
}

// UpdatePort applies fn to the PortInfo of port num.
func (s *Server) UpdatePort(num uint8, fn func(*iba.PortInfo)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.node.Port(num)
	if ok {
		fn(pi)
	}
	return ok
}

// SetPKeys replaces the partition table. Nil makes GET_PKEYS fail.
func (s *Server) SetPKeys(pkeys []uint16) {
	s.mu.Lock()
	s.node.PKeys = append([]uint16(nil), pkeys...)
	s.mu.Unlock()
}

func (s *Server) nodeInfo() iba.NodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.node.Info
}

func (s *Server) portInfo(num uint8) (iba.PortInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.node.Port(num)
	if !ok {
		return iba.PortInfo{}, false
	}
	return *pi, true
}

func (s *Server) pkeys() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.node.PKeys...)
}

func (s *Server) stopping() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

func (s *Server) serveControl() {
	defer s.wg.Done()

	buf := bufpool.Get(2 * wire.ControlSize)
	defer bufpool.Put(buf)
	for {
		if s.stopping() {
			return
		}
		if err := s.ctlConn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			if s.stopping() {
				return
			}
			logger.Debug("Simulator: set deadline error", logger.Err(err))
			continue
		}

		n, from, err := s.ctlConn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.stopping() {
				return
			}
			logger.Debug("Simulator: control read error", logger.Err(err))
			continue
		}

		reply := s.handleControl(buf[:n], from)
		if reply == nil {
			continue
		}
		if _, err := s.ctlConn.WriteToUDP(reply, from); err != nil {
			logger.Debug("Simulator: control write error", "client", from.String(), logger.Err(err))
		}
	}
}

// handleControl decodes one control envelope and returns the reply, or nil
// when the datagram is not a control envelope.
func (s *Server) handleControl(data []byte, from *net.UDPAddr) []byte {
	req, err := wire.DecodeControl(data)
	if err != nil {
		logger.Debug("Simulator: bad control envelope", "client", from.String(), logger.Err(err))
		return nil
	}
	if req.Magic != wire.Magic {
		logger.Debug("Simulator: bad magic", "client", from.String(), "magic", req.Magic)
		return nil
	}

	s.mu.Lock()
	s.controls[req.Opcode]++
	s.mu.Unlock()
	if s.config.Metrics != nil {
		s.config.Metrics.RecordControl(req.Opcode.String())
	}

	handler, ok := controlHandlers[req.Opcode]
	if !ok {
		logger.Debug("Simulator: unsupported opcode", logger.Opcode(req.Opcode.String()), logger.ClientID(req.ClientID))
		return wire.EncodeControl(wire.Magic, req.ClientID, wire.OpError, nil)
	}

	clientID, op, payload := handler(s, req)
	logger.Debug("Simulator: control",
		logger.Opcode(req.Opcode.String()), logger.ClientID(clientID), "reply", op.String())
	reply := wire.EncodeControl(wire.Magic, clientID, op, payload)
	if s.config.KeepRequestLength {
		wire.SetControlLength(reply, req.Length)
	}
	return reply
}

// controlHandler returns the reply client id, opcode and payload.
type controlHandler func(s *Server, req *wire.Control) (uint32, wire.Opcode, []byte)

var controlHandlers = map[wire.Opcode]controlHandler{
	wire.OpConnect:     (*Server).handleConnect,
	wire.OpDisconnect:  (*Server).handleDisconnect,
	wire.OpGetNodeInfo: (*Server).handleGetNodeInfo,
	wire.OpGetPortInfo: (*Server).handleGetPortInfo,
	wire.OpGetPKeys:    (*Server).handleGetPKeys,
	wire.OpSetIsSM:     (*Server).handleSetIsSM,
	wire.OpGetGUID:     (*Server).handleGetGUID,
}

func (s *Server) handleConnect(req *wire.Control) (uint32, wire.Opcode, []byte) {
	info, err := wire.DecodeClientInfo(req.Payload())
	if err != nil {
		logger.Debug("Simulator: bad client info", logger.Err(err))
		return req.ClientID, wire.OpError, nil
	}

	id := info.ClientID
	if s.config.ClientID != 0 {
		id = s.config.ClientID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.clients[id]; ok {
		s.closeClientLocked(id, old)
	}

	dataPort := s.Port() + int(id) + 1
	addr := &net.UDPAddr{IP: s.Addr().IP, Port: dataPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		logger.Warn("Simulator: cannot open client data port",
			logger.ClientID(id), "data_port", dataPort, logger.Err(err))
		return req.ClientID, wire.OpError, nil
	}

	info.ClientID = id
	c := &client{id: id, info: info, conn: conn, closed: make(chan struct{})}
	s.clients[id] = c
	if s.config.Metrics != nil {
		s.config.Metrics.SetClients(len(s.clients))
	}

	s.wg.Add(1)
	go s.serveData(c)

	logger.Info("Simulator: client connected",
		logger.ClientID(id), logger.KeyNodeID, info.NodeID, "is_sm", info.IsSM, "data_port", dataPort)
	return id, wire.OpConnect, wire.EncodeClientInfo(info)
}

func (s *Server) handleDisconnect(req *wire.Control) (uint32, wire.Opcode, []byte) {
	s.mu.Lock()
	if c, ok := s.clients[req.ClientID]; ok {
		s.closeClientLocked(req.ClientID, c)
		logger.Info("Simulator: client disconnected", logger.ClientID(req.ClientID))
	}
	s.mu.Unlock()
	return req.ClientID, wire.OpDisconnect, nil
}

func (s *Server) handleGetNodeInfo(req *wire.Control) (uint32, wire.Opcode, []byte) {
	info := s.nodeInfo()
	return req.ClientID, wire.OpGetNodeInfo, info.Encode()
}

func (s *Server) handleGetPortInfo(req *wire.Control) (uint32, wire.Opcode, []byte) {
	var num uint8
	if p := req.Payload(); len(p) > 0 {
		num = p[0]
	}
	pi, ok := s.portInfo(num)
	if !ok {
		return req.ClientID, wire.OpError, nil
	}
	return req.ClientID, wire.OpGetPortInfo, pi.Encode()
}

func (s *Server) handleGetPKeys(req *wire.Control) (uint32, wire.Opcode, []byte) {
	pkeys := s.pkeys()
	if len(pkeys) == 0 {
		return req.ClientID, wire.OpError, nil
	}
	if len(pkeys) > wire.ControlDataSize/2 {
		pkeys = pkeys[:wire.ControlDataSize/2]
	}
	return req.ClientID, wire.OpGetPKeys, iba.EncodePKeyTable(pkeys)
}

func (s *Server) handleSetIsSM(req *wire.Control) (uint32, wire.Opcode, []byte) {
	isSM := false
	if p := req.Payload(); len(p) > 0 {
		isSM = p[0] != 0
	}
	s.mu.Lock()
	if c, ok := s.clients[req.ClientID]; ok {
		c.info.IsSM = isSM
	}
	s.mu.Unlock()
	return req.ClientID, wire.OpSetIsSM, req.Payload()
}

func (s *Server) handleGetGUID(req *wire.Control) (uint32, wire.Opcode, []byte) {
	guid := s.nodeInfo().NodeGUID.Bytes()
	return req.ClientID, wire.OpGetGUID, guid[:]
}

// closeClientLocked must be called with s.mu held.
func (s *Server) closeClientLocked(id uint32, c *client) {
	close(c.closed)
	_ = c.conn.Close()
	delete(s.clients, id)
	if s.config.Metrics != nil {
		s.config.Metrics.SetClients(len(s.clients))
	}
}

func (s *Server) serveData(c *client) {
	defer s.wg.Done()

	buf := bufpool.Get(2 * wire.RequestSize)
	defer bufpool.Put(buf)
	for {
		select {
		case <-c.closed:
			return
		default:
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return
		}

		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}

		for _, out := range s.handleData(c, buf[:n]) {
			if _, err := c.conn.WriteToUDP(out, from); err != nil {
				logger.Debug("Simulator: data write error", logger.ClientID(c.id), logger.Err(err))
			}
		}
	}
}

// handleData returns the encoded envelopes to send back for one request.
func (s *Server) handleData(c *client, data []byte) [][]byte {
	req, err := wire.DecodeRequest(data)
	if err != nil {
		logger.Debug("Simulator: bad data envelope", logger.ClientID(c.id), logger.Err(err))
		return nil
	}
	mad, err := req.Payload()
	if err != nil {
		logger.Debug("Simulator: bad data payload", logger.ClientID(c.id), logger.Err(err))
		return nil
	}

	s.mu.Lock()
	s.received++
	drop := s.dropLeft > 0
	if drop {
		s.dropLeft--
	}
	responder := s.responder
	s.mu.Unlock()

	if s.config.Metrics != nil {
		s.config.Metrics.RecordDatagram(drop)
	}
	if drop {
		logger.Debug("Simulator: dropping request", logger.ClientID(c.id), logger.LID(req.DLID))
		return nil
	}

	replies := responder.Respond(req, mad)
	out := make([][]byte, 0, len(replies))
	for _, r := range replies {
		env := &wire.Request{
			DLID:   req.SLID,
			SLID:   req.DLID,
			DQP:    req.SQP,
			SQP:    req.DQP,
			Status: r.Status,
		}
		out = append(out, wire.EncodeRequest(env, r.Payload))
	}
	return out
}
