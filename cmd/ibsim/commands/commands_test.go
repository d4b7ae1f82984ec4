package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configcmd "github.com/marmos91/ibsim/cmd/ibsim/commands/config"
	"github.com/marmos91/ibsim/pkg/config"
	"github.com/marmos91/ibsim/pkg/iba"
	"github.com/marmos91/ibsim/pkg/madtransactor"
	"github.com/marmos91/ibsim/pkg/sim"
	"github.com/marmos91/ibsim/pkg/simulator"
)

func startSimulator(t *testing.T) *simulator.Server {
	t.Helper()
	srv := simulator.NewServer(simulator.Config{
		ClientID: 3,
		Node: simulator.NodeSpec{
			NodeType: iba.NodeCA,
			NumPorts: 2,
			NodeGUID: 0x0002c90300005678,
			DeviceID: 0x1003,
			BaseLID:  9,
			SMLID:    1,
			PKeys:    []uint16{iba.PKeyDefault},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	select {
	case <-srv.WaitReady():
	case err := <-done:
		cancel()
		t.Fatalf("simulator failed to start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func openPort(t *testing.T, srv *simulator.Server, num uint8) *sim.EndPort {
	t.Helper()
	ctx := context.Background()
	s, err := sim.Connect(ctx, sim.Options{
		Host:    "127.0.0.1",
		Port:    srv.Port(),
		Timeout: 200 * time.Millisecond,
		Retries: 1,
	})
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)

	dev, err := sim.OpenDevice(ctx, s, defaultDevice)
	require.NoError(t, err)
	ep, ok := dev.EndPort(num)
	require.True(t, ok)
	return ep
}

func isolateEnv(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{config.EnvServerName, config.EnvServerPort, config.EnvNodeID} {
		t.Setenv(k, "")
	}
}

func TestDescribeDevice(t *testing.T) {
	srv := startSimulator(t)
	ep := openPort(t, srv, 1)

	r, err := describeDevice(context.Background(), ep.Device())
	require.NoError(t, err)

	assert.Equal(t, "CA", r.NodeType)
	assert.Equal(t, "Simulator", r.HCAType)
	assert.Equal(t, 2, r.NumPorts)
	assert.Equal(t, iba.GUID(0x0002c90300005678), r.NodeGUID)
	require.Len(t, r.Ports, 2)
	assert.Equal(t, uint16(9), r.Ports[0].BaseLID)
	assert.Equal(t, uint16(10), r.Ports[1].BaseLID)
	assert.Equal(t, "ACTIVE", r.Ports[0].State)
	assert.Equal(t, "4X (10 Gb/sec)", r.Ports[0].Rate)
	assert.Equal(t, []uint16{iba.PKeyDefault}, r.Ports[0].PKeys)
	assert.Equal(t, []string{"fe80::2:c903:0:5601"}, r.Ports[0].GIDs)
}

func TestQuerySMP(t *testing.T) {
	srv := startSimulator(t)
	ep := openPort(t, srv, 1)
	ctx := context.Background()

	t.Run("NodeInfo", func(t *testing.T) {
		r, err := querySMP(ctx, ep, 0, madtransactor.AttrNodeInfo, 0, false)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, uint16(9), r.LID)
		require.NotNil(t, r.NodeInfo)
		assert.Equal(t, iba.GUID(0x0002c90300005678), r.NodeInfo.NodeGUID)
	})

	t.Run("PortInfo", func(t *testing.T) {
		r, err := querySMP(ctx, ep, 1, madtransactor.AttrPortInfo, 2, false)
		require.NoError(t, err)
		require.NotNil(t, r.PortInfo)
		assert.Equal(t, uint16(10), r.PortInfo.LID)
	})

	t.Run("BadPort", func(t *testing.T) {
		r, err := querySMP(ctx, ep, 1, madtransactor.AttrPortInfo, 9, false)
		require.NoError(t, err)
		assert.NotZero(t, r.Status)
		assert.Nil(t, r.PortInfo)
	})

	t.Run("SendOnly", func(t *testing.T) {
		r, err := querySMP(ctx, ep, 0, madtransactor.AttrNodeInfo, 0, true)
		require.NoError(t, err)
		assert.Nil(t, r)
	})
}

func TestWatchPortState(t *testing.T) {
	srv := startSimulator(t)
	ep := openPort(t, srv, 1)

	var seen []portSnapshot
	err := watchPortState(context.Background(), ep, 10*time.Millisecond, 3, func(_ time.Time, s portSnapshot) {
		seen = append(seen, s)
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, iba.PortStateActive, seen[0].State)
	assert.Contains(t, seen[0].String(), "lid=9")

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := watchPortState(ctx, ep, time.Hour, 0, func(time.Time, portSnapshot) {
			calls++
			cancel()
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestNewPathReport(t *testing.T) {
	srv := startSimulator(t)
	ep := openPort(t, srv, 2)

	p, err := ep.SAPath(context.Background())
	require.NoError(t, err)

	r := newPathReport(p)
	assert.Equal(t, "ibsim0/2", r.EndPort)
	assert.Equal(t, uint16(1), r.DLID)
	assert.Equal(t, uint16(10), r.SLID)
	assert.Equal(t, iba.DefaultQP1QKey, r.QKey)
	assert.Equal(t, "200ms", r.Timeout)
	assert.Equal(t, 1, r.Retries)
}

func TestSchema(t *testing.T) {
	data, err := configcmd.Schema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "simulator")
	assert.Contains(t, props, "transport")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	t.Cleanup(func() { root.SetOut(nil); root.SetArgs(nil) })

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "ibsim "+Version)
}

func TestInfoCommand(t *testing.T) {
	isolateEnv(t)
	srv := startSimulator(t)

	var buf bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"info", "--host", "127.0.0.1", "--port", fmt.Sprint(srv.Port()), "-o", "json"})
	t.Cleanup(func() { root.SetOut(nil); root.SetArgs(nil) })

	require.NoError(t, root.ExecuteContext(context.Background()))

	var r deviceReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
	assert.Equal(t, defaultDevice, r.Name)
	assert.Len(t, r.Ports, 2)
	assert.Eventually(t, func() bool { return len(srv.Clients()) == 0 },
		time.Second, 10*time.Millisecond, "session is closed when the command returns")
}
