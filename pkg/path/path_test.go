package path

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIBPath_Defaults(t *testing.T) {
	p := &IBPath{}
	assert.Equal(t, DefaultTimeout, p.MADTimeout())
	assert.Equal(t, 0, p.RetryCount())

	p.Retries = -1
	assert.Equal(t, 0, p.RetryCount())

	p.Retries = 2
	p.Timeout = 250 * time.Millisecond
	assert.Equal(t, 2, p.RetryCount())
	assert.Equal(t, 250*time.Millisecond, p.MADTimeout())
}

func TestIBPath_Clone(t *testing.T) {
	p := &IBPath{DLID: 1, SLID: 2, DQPN: 1, SQPN: 1}
	c := p.Clone()
	c.DLID = 9
	assert.Equal(t, uint16(1), p.DLID)
	assert.Equal(t, "Path to LID 9 (SLID=2 SL=0 DQPN=1 SQPN=1 PKeyIdx=0)", c.String())
}

func TestPacketLifeTimeDuration(t *testing.T) {
	assert.Equal(t, 4096*time.Nanosecond, PacketLifeTimeDuration(0))
	// 18 is the default subnet timeout: 4.096us * 2^18 ~= 1.07s
	assert.Equal(t, time.Duration(4096<<18), PacketLifeTimeDuration(18))
	assert.Equal(t, PacketLifeTimeDuration(31), PacketLifeTimeDuration(40))
}
