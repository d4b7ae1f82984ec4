package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/ibsim/internal/wire"
	simerrors "github.com/marmos91/ibsim/pkg/errors"
	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/simulator"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestPort(t *testing.T, srv *simulator.Server, opts Options, num uint8) (*EndPort, *fakeClock) {
	t.Helper()
	s := connectTo(t, srv, opts)
	clock := newFakeClock()
	dev, err := OpenDevice(context.Background(), s, "ibsim0", WithClock(clock.Now))
	require.NoError(t, err)
	port, ok := dev.EndPort(num)
	require.True(t, ok)
	return port, clock
}

func TestOpenDevice(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	s := connectTo(t, srv, testOptions(srv))

	dev, err := OpenDevice(context.Background(), s, "ibsim0")
	require.NoError(t, err)

	assert.Equal(t, "ibsim0", dev.String())
	assert.Equal(t, "Simulator", dev.HCAType())
	assert.Equal(t, iba.NodeCA, dev.NodeType())
	assert.Equal(t, iba.GUID(0x0002c90300001234), dev.NodeGUID())
	assert.Equal(t, iba.GUID(0x0002c90300001234), dev.SystemImageGUID())
	assert.Equal(t, uint16(0x1003), dev.BoardID())
	assert.Equal(t, uint32(0xa0), dev.HWVersion())
	assert.Equal(t, uint32(0), dev.FWVersion())
	assert.Empty(t, dev.NodeDesc())
	assert.Same(t, s, dev.Session())

	ports := dev.EndPorts()
	require.Len(t, ports, 2)
	assert.Equal(t, "ibsim0/1", ports[0].String())
	assert.Equal(t, "ibsim0/2", ports[1].String())
	_, ok := dev.EndPort(0)
	assert.False(t, ok)
}

func TestOpenDevice_ReplyLengthIgnored(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode(), KeepRequestLength: true})
	s := connectTo(t, srv, testOptions(srv))
	assert.Equal(t, uint32(testClientID), s.ClientID())

	ctx := context.Background()
	dev, err := OpenDevice(ctx, s, "ibsim0")
	require.NoError(t, err)
	assert.Equal(t, iba.GUID(0x0002c90300001234), dev.NodeGUID())
	require.Len(t, dev.EndPorts(), 2)

	port, ok := dev.EndPort(2)
	require.True(t, ok)
	lid, err := port.LID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(8), lid)

	pkeys, err := port.PKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint16{iba.PKeyDefault}, pkeys)
}

func TestOpenDevice_Switch(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: simulator.NodeSpec{
		NodeType: iba.NodeSwitch,
		NumPorts: 36,
		NodeGUID: 0x0002c90300005678,
		BaseLID:  3,
		PKeys:    []uint16{iba.PKeyDefault},
	}})
	s := connectTo(t, srv, testOptions(srv))

	dev, err := OpenDevice(context.Background(), s, "sw0")
	require.NoError(t, err)
	require.Len(t, dev.EndPorts(), 1)

	port, ok := dev.EndPort(0)
	require.True(t, ok)
	lid, err := port.LID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(3), lid)
}

func TestEndPort_CacheTTL(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	port, clock := openTestPort(t, srv, testOptions(srv), 1)
	ctx := context.Background()

	queries := func() int { return srv.ControlRequests(wire.OpGetPortInfo) }

	lid, err := port.LID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), lid)
	assert.Equal(t, 1, queries())

	srv.UpdatePort(1, func(pi *iba.PortInfo) { pi.LID = 99 })

	clock.Advance(500 * time.Millisecond)
	lid, err = port.LID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), lid)

	clock.Advance(500 * time.Millisecond)
	_, err = port.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queries(), "a read exactly one TTL later is still cached")

	clock.Advance(time.Nanosecond)
	lid, err = port.LID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(99), lid)
	assert.Equal(t, 2, queries())

	clock.Advance(2 * time.Second)
	_, err = port.SMLID(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, queries())
}

func TestEndPort_Accessors(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	port, _ := openTestPort(t, srv, testOptions(srv), 2)
	ctx := context.Background()

	lid, err := port.LID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(8), lid)

	state, err := port.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, iba.PortStateActive, state)

	phys, err := port.PhysState(ctx)
	require.NoError(t, err)
	assert.Equal(t, iba.PhysStateLinkUp, phys)

	rate, err := port.Rate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "4X (10 Gb/sec)", rate)

	smLID, err := port.SMLID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), smLID)

	smSL, err := port.SMSL(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(3), smSL)

	prefix, err := port.GIDPrefix(ctx)
	require.NoError(t, err)
	assert.Equal(t, iba.GIDDefaultPrefix, prefix)

	_, err = port.LMC(ctx)
	require.NoError(t, err)
	_, err = port.CapMask(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, srv.ControlRequests(wire.OpGetPortInfo))
}

func TestRateString(t *testing.T) {
	tests := []struct {
		width, speed uint8
		want         string
	}{
		{1, 1, "1X (2.5 Gb/sec)"},
		{2, 4, "4X (10 Gb/sec)"},
		{4, 2, "8X (5 Gb/sec)"},
		{8, 4, "12X (10 Gb/sec)"},
		{3, 4, "?? (10 Gb/sec)"},
		{2, 9, "4X (??)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RateString(tt.width, tt.speed))
	}
}

func TestEndPort_GIDs(t *testing.T) {
	t.Run("DefaultPrefix", func(t *testing.T) {
		srv := startSimulator(t, simulator.Config{Node: testNode()})
		port, _ := openTestPort(t, srv, testOptions(srv), 2)

		gids, err := port.GIDs(context.Background())
		require.NoError(t, err)
		require.Len(t, gids, 1)
		assert.Equal(t, "fe80::2:c903:0:1202", gids[0].String())

		guid, err := port.PortGUID(context.Background())
		require.NoError(t, err)
		assert.Equal(t, iba.GUID(0x0002c90300001202), guid)
	})

	t.Run("CustomPrefix", func(t *testing.T) {
		node := testNode()
		node.GIDPrefix = 0xfec0000000000001
		srv := startSimulator(t, simulator.Config{Node: node})
		port, clock := openTestPort(t, srv, testOptions(srv), 1)
		ctx := context.Background()

		gids, err := port.GIDs(ctx)
		require.NoError(t, err)
		require.Len(t, gids, 2)
		assert.Equal(t, uint64(0xfec0000000000001), gids[0].Prefix())
		assert.Equal(t, iba.GIDDefaultPrefix, gids[1].Prefix())
		assert.Equal(t, gids[0].GUID(), gids[1].GUID())
		assert.Equal(t, iba.GUID(0x0002c90300001201), gids[0].GUID())

		// Computed once: a later prefix change is not reflected.
		srv.UpdatePort(1, func(pi *iba.PortInfo) { pi.GIDPrefix = iba.GIDDefaultPrefix })
		clock.Advance(2 * time.Second)
		again, err := port.GIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, gids, again)

		def, err := port.DefaultGID(ctx)
		require.NoError(t, err)
		assert.Equal(t, gids[0], def)
	})
}

func TestEndPort_PKeys(t *testing.T) {
	t.Run("FromSimulator", func(t *testing.T) {
		node := testNode()
		node.PKeys = []uint16{0x8001, iba.PKeyDefault}
		srv := startSimulator(t, simulator.Config{Node: node})
		port, _ := openTestPort(t, srv, testOptions(srv), 1)

		pkeys, err := port.PKeys(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []uint16{0x8001, iba.PKeyDefault}, pkeys)

		idx, ok, err := port.PKeyIndex(context.Background(), iba.PKeyDefault)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, idx)

		_, ok, err = port.PKeyIndex(context.Background(), 0x1234)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 1, srv.ControlRequests(wire.OpGetPKeys))
	})

	t.Run("RejectedFallsBackToDefault", func(t *testing.T) {
		node := testNode()
		node.PKeys = nil
		srv := startSimulator(t, simulator.Config{Node: node})
		port, _ := openTestPort(t, srv, testOptions(srv), 1)

		pkeys, err := port.PKeys(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []uint16{iba.PKeyDefault}, pkeys)
	})
}

func TestEndPort_SubnetTimeout(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	port, _ := openTestPort(t, srv, testOptions(srv), 1)
	assert.Equal(t, iba.DefaultSubnetTimeout, port.SubnetTimeout())

	port.SetSubnetTimeout(12)
	assert.Equal(t, uint8(12), port.SubnetTimeout())

	opts := testOptions(srv)
	opts.SubnetTimeout = 9
	other, _ := openTestPort(t, srv, opts, 1)
	assert.Equal(t, uint8(9), other.SubnetTimeout())
}

func TestEndPort_SAPath(t *testing.T) {
	srv := startSimulator(t, simulator.Config{Node: testNode()})
	port, clock := openTestPort(t, srv, testOptions(srv), 1)
	ctx := context.Background()
	port.SetSubnetTimeout(16)

	p, err := port.SAPath(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ibsim0/1", p.EndPort)
	assert.Equal(t, uint16(1), p.DLID)
	assert.Equal(t, uint16(7), p.SLID)
	assert.Equal(t, uint8(3), p.SL)
	assert.Equal(t, uint32(1), p.DQPN)
	assert.Equal(t, uint32(1), p.SQPN)
	assert.Equal(t, iba.DefaultQP1QKey, p.QKey)
	assert.Equal(t, 0, p.PKeyIndex)
	assert.Equal(t, uint8(16), p.PacketLifeTime)
	assert.Equal(t, 200*time.Millisecond, p.Timeout)
	assert.Equal(t, 1, p.Retries)

	queries := srv.ControlRequests(wire.OpGetPortInfo)

	// Memoized: later port changes and overrides are not picked up, and
	// callers cannot alter the stored path.
	p.DLID = 1000
	srv.UpdatePort(1, func(pi *iba.PortInfo) { pi.MasterSMLID = 5 })
	clock.Advance(5 * time.Second)
	port.SetSubnetTimeout(20)

	again, err := port.SAPath(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), again.DLID)
	assert.Equal(t, uint8(16), again.PacketLifeTime)
	assert.Equal(t, queries, srv.ControlRequests(wire.OpGetPortInfo))
}

func TestEndPort_SAPathPartialDefault(t *testing.T) {
	node := testNode()
	node.PKeys = []uint16{0x8001, iba.PKeyPartialDefault}
	srv := startSimulator(t, simulator.Config{Node: node})
	port, _ := openTestPort(t, srv, testOptions(srv), 1)

	p, err := port.SAPath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, p.PKeyIndex)
}

func TestEndPort_SAPathNoAdminPKey(t *testing.T) {
	node := testNode()
	node.PKeys = []uint16{0x8001, 0x0002}
	srv := startSimulator(t, simulator.Config{Node: node})
	port, _ := openTestPort(t, srv, testOptions(srv), 1)

	_, err := port.SAPath(context.Background())
	require.Error(t, err)
	assert.True(t, simerrors.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "no administrative partition key")

	_, err = port.SAPath(context.Background())
	assert.True(t, simerrors.IsConfigurationError(err))
}
