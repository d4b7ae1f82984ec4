package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/internal/telemetry"
	"github.com/marmos91/ibsim/internal/wire"
	simerrors "github.com/marmos91/ibsim/pkg/errors"
	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/path"
)

// PortInfoTTL is how long a PortInfo snapshot is served from the cache.
const PortInfoTTL = time.Second

var linkWidths = map[uint8]string{1: "1X", 2: "4X", 4: "8X", 8: "12X"}

var linkSpeeds = map[uint8]string{1: "2.5 Gb/sec", 2: "5 Gb/sec", 4: "10 Gb/sec"}

// RateString renders an active link width and speed as "4X (10 Gb/sec)".
// Unknown codes render as "??".
func RateString(width, speed uint8) string {
	w, ok := linkWidths[width]
	if !ok {
		w = "??"
	}
	s, ok := linkSpeeds[speed]
	if !ok {
		s = "??"
	}
	return w + " (" + s + ")"
}

// EndPort is one port of a Device. PortInfo is fetched with GET_PORTINFO
// and cached for PortInfoTTL; values derived from it (GIDs, the SA path)
// are computed once.
type EndPort struct {
	dev *Device
	num uint8

	mu       sync.Mutex
	info     iba.PortInfo
	stamp    time.Time
	fetched  bool
	pkeys    []uint16
	gids     []iba.GID
	saPath   *path.IBPath
	subnetTO uint8
	hasTO    bool
}

func newEndPort(d *Device, num uint8) *EndPort {
	e := &EndPort{dev: d, num: num}
	if to := d.session.opts.SubnetTimeout; to != 0 {
		e.subnetTO, e.hasTO = to, true
	}
	return e
}

// Device returns the device the port belongs to.
func (e *EndPort) Device() *Device { return e.dev }

// Num returns the port number.
func (e *EndPort) Num() uint8 { return e.num }

// String renders the port as "<device>/<port>".
func (e *EndPort) String() string {
	return fmt.Sprintf("%s/%d", e.dev.name, e.num)
}

func (e *EndPort) logContext(ctx context.Context) context.Context {
	ctx = e.dev.session.logContext(ctx)
	return logger.WithContext(ctx, logger.FromContext(ctx).WithPort(e.dev.name, e.num))
}

// PortInfo returns the cached PortInfo, refreshing it first when the
// snapshot is older than PortInfoTTL.
func (e *EndPort) PortInfo(ctx context.Context) (iba.PortInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portInfoLocked(ctx)
}

func (e *EndPort) portInfoLocked(ctx context.Context) (iba.PortInfo, error) {
	now := e.dev.now()
	hit := e.fetched && !now.After(e.stamp.Add(PortInfoTTL))
	if m := e.dev.session.opts.Metrics; m != nil {
		m.RecordPortQuery(hit)
	}
	if hit {
		return e.info, nil
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanPortQuery)
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.Device(e.dev.name), telemetry.Port(e.num), telemetry.CacheHit(false))

	reply, err := e.dev.session.ControlCall(ctx, wire.OpGetPortInfo, []byte{e.num})
	if err != nil {
		return iba.PortInfo{}, err
	}
	info, err := iba.DecodePortInfo(reply.Data[:])
	if err != nil {
		telemetry.RecordError(ctx, err)
		return iba.PortInfo{}, err
	}

	e.info = *info
	e.stamp = now
	e.fetched = true
	logger.DebugCtx(e.logContext(ctx), "Port state refreshed",
		logger.LID(info.LID), "state", iba.PortStateString(info.PortState))
	return e.info, nil
}

// LID returns the base LID of the port.
func (e *EndPort) LID(ctx context.Context) (uint16, error) {
	pi, err := e.PortInfo(ctx)
	return pi.LID, err
}

// LMC returns the LID mask control.
func (e *EndPort) LMC(ctx context.Context) (uint8, error) {
	pi, err := e.PortInfo(ctx)
	return pi.LMC, err
}

// State returns the logical port state.
func (e *EndPort) State(ctx context.Context) (uint8, error) {
	pi, err := e.PortInfo(ctx)
	return pi.PortState, err
}

// PhysState returns the physical port state.
func (e *EndPort) PhysState(ctx context.Context) (uint8, error) {
	pi, err := e.PortInfo(ctx)
	return pi.PortPhysicalState, err
}

// Rate returns the active link rate, see RateString.
func (e *EndPort) Rate(ctx context.Context) (string, error) {
	pi, err := e.PortInfo(ctx)
	if err != nil {
		return "", err
	}
	return RateString(pi.LinkWidthActive, pi.LinkSpeedActive), nil
}

// CapMask returns the capability mask.
func (e *EndPort) CapMask(ctx context.Context) (uint32, error) {
	pi, err := e.PortInfo(ctx)
	return pi.CapabilityMask, err
}

// SMLID returns the LID of the master subnet manager.
func (e *EndPort) SMLID(ctx context.Context) (uint16, error) {
	pi, err := e.PortInfo(ctx)
	return pi.MasterSMLID, err
}

// SMSL returns the service level to reach the master subnet manager.
func (e *EndPort) SMSL(ctx context.Context) (uint8, error) {
	pi, err := e.PortInfo(ctx)
	return pi.MasterSMSL, err
}

// GIDPrefix returns the subnet prefix.
func (e *EndPort) GIDPrefix(ctx context.Context) (uint64, error) {
	pi, err := e.PortInfo(ctx)
	return pi.GIDPrefix, err
}

// portGUIDBytes derives the port GUID from the node GUID. The simulator
// reports the node GUID only; by convention the last byte carries the
// port number.
func (e *EndPort) portGUIDBytes() [8]byte {
	guid := e.dev.info.NodeGUID.Bytes()
	guid[7] = e.num
	return guid
}

// GIDs returns the port GIDs. The first entry is the GID under the subnet
// prefix; when that prefix is not the link-local default the link-local
// GID follows it. The result is computed once.
func (e *EndPort) GIDs(ctx context.Context) ([]iba.GID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gidsLocked(ctx)
}

func (e *EndPort) gidsLocked(ctx context.Context) ([]iba.GID, error) {
	if e.gids != nil {
		return slices.Clone(e.gids), nil
	}
	pi, err := e.portInfoLocked(ctx)
	if err != nil {
		return nil, err
	}

	guid := e.portGUIDBytes()
	def := iba.NewGID(iba.GIDDefaultPrefix, guid)
	if pi.GIDPrefix == iba.GIDDefaultPrefix {
		e.gids = []iba.GID{def}
	} else {
		e.gids = []iba.GID{iba.NewGID(pi.GIDPrefix, guid), def}
	}
	return slices.Clone(e.gids), nil
}

// DefaultGID returns the first GID.
func (e *EndPort) DefaultGID(ctx context.Context) (iba.GID, error) {
	gids, err := e.GIDs(ctx)
	if err != nil {
		return iba.GID{}, err
	}
	return gids[0], nil
}

// PortGUID returns the interface identifier of the default GID.
func (e *EndPort) PortGUID(ctx context.Context) (iba.GUID, error) {
	gid, err := e.DefaultGID(ctx)
	if err != nil {
		return 0, err
	}
	return gid.GUID(), nil
}

// PKeys returns the partition table. It is fetched once with GET_PKEYS; a
// simulator that rejects the request is treated as having the default
// table [0xffff].
func (e *EndPort) PKeys(ctx context.Context) ([]uint16, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pkeysLocked(ctx)
}

func (e *EndPort) pkeysLocked(ctx context.Context) ([]uint16, error) {
	if e.pkeys != nil {
		return slices.Clone(e.pkeys), nil
	}

	reply, err := e.dev.session.ControlCall(ctx, wire.OpGetPKeys, []byte{e.num})
	switch {
	case errors.Is(err, ErrRejected):
		logger.DebugCtx(e.logContext(ctx), "Simulator has no partition table, using default")
		e.pkeys = []uint16{iba.PKeyDefault}
	case err != nil:
		return nil, err
	default:
		e.pkeys = iba.DecodePKeyTable(reply.Data[:])
		if len(e.pkeys) == 0 {
			e.pkeys = []uint16{iba.PKeyDefault}
		}
	}
	return slices.Clone(e.pkeys), nil
}

// PKeyIndex returns the index of pkey in the partition table. ok is false
// when the table does not hold it.
func (e *EndPort) PKeyIndex(ctx context.Context, pkey uint16) (idx int, ok bool, err error) {
	pkeys, err := e.PKeys(ctx)
	if err != nil {
		return 0, false, err
	}
	idx = slices.Index(pkeys, pkey)
	return idx, idx >= 0, nil
}

// SubnetTimeout returns the subnet timeout exponent: the override set with
// SetSubnetTimeout, or iba.DefaultSubnetTimeout.
func (e *EndPort) SubnetTimeout() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subnetTimeoutLocked()
}

func (e *EndPort) subnetTimeoutLocked() uint8 {
	if e.hasTO {
		return e.subnetTO
	}
	return iba.DefaultSubnetTimeout
}

// SetSubnetTimeout overrides the subnet timeout. An SA path already built
// keeps the value it was built with.
func (e *EndPort) SetSubnetTimeout(exp uint8) {
	e.mu.Lock()
	e.subnetTO, e.hasTO = exp, true
	e.mu.Unlock()
}

// SAPath returns the path to the subnet administrator. It is built on first
// use and never changes afterwards; callers get a copy.
//
// The path uses the partition key 0xffff, or 0x7fff when only the limited
// member key is present. A port holding neither returns a configuration
// error.
func (e *EndPort) SAPath(ctx context.Context) (*path.IBPath, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.saPath != nil {
		return e.saPath.Clone(), nil
	}

	pkeys, err := e.pkeysLocked(ctx)
	if err != nil {
		return nil, err
	}
	idx := slices.Index(pkeys, iba.PKeyDefault)
	if idx < 0 {
		idx = slices.Index(pkeys, iba.PKeyPartialDefault)
	}
	if idx < 0 {
		return nil, simerrors.NewConfigurationError("sa path "+e.String(), "no administrative partition key")
	}

	pi, err := e.portInfoLocked(ctx)
	if err != nil {
		return nil, err
	}

	opts := e.dev.session.opts
	e.saPath = &path.IBPath{
		EndPort:        e.String(),
		DLID:           pi.MasterSMLID,
		SLID:           pi.LID,
		SL:             pi.MasterSMSL,
		DQPN:           1,
		SQPN:           1,
		QKey:           iba.DefaultQP1QKey,
		PKeyIndex:      idx,
		PacketLifeTime: e.subnetTimeoutLocked(),
		Timeout:        opts.Timeout,
		Retries:        opts.Retries,
	}
	logger.DebugCtx(e.logContext(ctx), "SA path built", "path", e.saPath.String())
	return e.saPath.Clone(), nil
}

// UMAD opens a MAD transactor addressing through this port. Transactors
// share the session's data socket.
func (e *EndPort) UMAD() *UMAD {
	return newUMAD(e)
}
