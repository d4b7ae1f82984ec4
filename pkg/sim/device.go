package sim

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/ibsim/internal/logger"
	"github.com/marmos91/ibsim/internal/telemetry"
	"github.com/marmos91/ibsim/internal/wire"
	"github.com/marmos91/ibsim/pkg/iba"
)

// Device is a snapshot of the simulated node taken when it was opened. Port
// state is not part of the snapshot; it lives in each EndPort's cache.
type Device struct {
	name    string
	session *Session
	info    iba.NodeInfo
	ports   []*EndPort
	now     func() time.Time
}

// DeviceOption customizes OpenDevice.
type DeviceOption func(*Device)

// WithClock replaces the clock the port caches use to judge staleness.
func WithClock(now func() time.Time) DeviceOption {
	return func(d *Device) {
		d.now = now
	}
}

// OpenDevice queries the node information of the simulated node and builds
// its end ports. A switch exposes only its management port 0; other nodes
// expose ports 1 to NumPorts.
func OpenDevice(ctx context.Context, s *Session, name string, opts ...DeviceOption) (*Device, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanOpenDevice,
		trace.WithAttributes(telemetry.Device(name), telemetry.ClientID(s.clientID)))
	defer span.End()

	reply, err := s.ControlCall(ctx, wire.OpGetNodeInfo, nil)
	if err != nil {
		return nil, err
	}
	info, err := iba.DecodeNodeInfo(reply.Data[:])
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	d := &Device{name: name, session: s, info: *info, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}

	first, last := 1, int(info.NumPorts)
	if info.NodeType == iba.NodeSwitch {
		first, last = 0, 0
	}
	for p := first; p <= last; p++ {
		d.ports = append(d.ports, newEndPort(d, uint8(p)))
	}

	telemetry.SetAttributes(ctx, telemetry.NodeGUID(uint64(info.NodeGUID)))
	logger.DebugCtx(s.logContext(ctx), "Opened device",
		logger.KeyDevice, name,
		logger.NodeGUID(uint64(info.NodeGUID)),
		logger.KeyNodeType, iba.NodeTypeString(info.NodeType),
		"ports", len(d.ports))
	return d, nil
}

// Name returns the device name given to OpenDevice.
func (d *Device) Name() string { return d.name }

// String returns the device name.
func (d *Device) String() string { return d.name }

// Session returns the session the device was opened from.
func (d *Device) Session() *Session { return d.session }

// NodeInfo returns the node information snapshot.
func (d *Device) NodeInfo() iba.NodeInfo { return d.info }

// HCAType is always "Simulator".
func (d *Device) HCAType() string { return "Simulator" }

// NodeType returns the IBA node type (iba.NodeCA, iba.NodeSwitch, ...).
func (d *Device) NodeType() uint8 { return d.info.NodeType }

// NodeGUID returns the node GUID.
func (d *Device) NodeGUID() iba.GUID { return d.info.NodeGUID }

// SystemImageGUID returns the system image GUID.
func (d *Device) SystemImageGUID() iba.GUID { return d.info.SystemImageGUID }

// BoardID returns the NodeInfo device id.
func (d *Device) BoardID() uint16 { return d.info.DeviceID }

// HWVersion returns the NodeInfo revision.
func (d *Device) HWVersion() uint32 { return d.info.Revision }

// VendorID returns the 24-bit vendor id.
func (d *Device) VendorID() uint32 { return d.info.VendorID }

// FWVersion is always 0; the simulator reports no firmware.
func (d *Device) FWVersion() uint32 { return 0 }

// NodeDesc is always empty.
func (d *Device) NodeDesc() string { return "" }

// EndPorts returns the ports in ascending order.
func (d *Device) EndPorts() []*EndPort { return d.ports }

// EndPort returns the end port with the given number.
func (d *Device) EndPort(num uint8) (*EndPort, bool) {
	for _, p := range d.ports {
		if p.num == num {
			return p, true
		}
	}
	return nil, false
}
