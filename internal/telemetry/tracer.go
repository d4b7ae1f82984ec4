package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names
const (
	SpanConnect    = "sim.connect"
	SpanDisconnect = "sim.disconnect"
	SpanControl    = "sim.control"
	SpanOpenDevice = "sim.open_device"
	SpanExecute    = "sim.execute"
	SpanPortQuery  = "sim.port_query"
)

// Attribute keys
const (
	AttrServer    = "sim.server"
	AttrClientID  = "sim.client_id"
	AttrOpcode    = "sim.opcode"
	AttrDevice    = "ib.device"
	AttrPort      = "ib.port"
	AttrLID       = "ib.lid"
	AttrDLID      = "ib.dlid"
	AttrNodeGUID  = "ib.node_guid"
	AttrMgmtClass = "mad.mgmt_class"
	AttrAttrID    = "mad.attr_id"
	AttrTID       = "mad.tid"
	AttrSendOnly  = "mad.send_only"
	AttrRetries   = "mad.retries"
	AttrAttempts  = "mad.attempts"
	AttrReplied   = "mad.replied"
	AttrCacheHit  = "cache.hit"
)

func Server(addr string) attribute.KeyValue {
	return attribute.String(AttrServer, addr)
}

func ClientID(id uint32) attribute.KeyValue {
	return attribute.Int64(AttrClientID, int64(id))
}

func Opcode(name string) attribute.KeyValue {
	return attribute.String(AttrOpcode, name)
}

func Device(name string) attribute.KeyValue {
	return attribute.String(AttrDevice, name)
}

func Port(n uint8) attribute.KeyValue {
	return attribute.Int(AttrPort, int(n))
}

func LID(lid uint16) attribute.KeyValue {
	return attribute.Int(AttrLID, int(lid))
}

func DLID(lid uint16) attribute.KeyValue {
	return attribute.Int(AttrDLID, int(lid))
}

func NodeGUID(guid uint64) attribute.KeyValue {
	return attribute.String(AttrNodeGUID, fmt.Sprintf("0x%016x", guid))
}

func MgmtClass(class uint8) attribute.KeyValue {
	return attribute.Int(AttrMgmtClass, int(class))
}

func AttrID(id uint16) attribute.KeyValue {
	return attribute.String(AttrAttrID, fmt.Sprintf("0x%04x", id))
}

func TID(tid uint32) attribute.KeyValue {
	return attribute.String(AttrTID, fmt.Sprintf("0x%08x", tid))
}

func SendOnly(v bool) attribute.KeyValue {
	return attribute.Bool(AttrSendOnly, v)
}

func Retries(n int) attribute.KeyValue {
	return attribute.Int(AttrRetries, n)
}

func Attempts(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempts, n)
}

func Replied(v bool) attribute.KeyValue {
	return attribute.Bool(AttrReplied, v)
}

func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

// StartControlSpan starts a client span for one control round trip.
func StartControlSpan(ctx context.Context, opcode string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{Opcode(opcode)}, attrs...)
	return StartSpan(ctx, SpanControl,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(all...),
	)
}

// StartExecuteSpan starts a client span covering every attempt of one MAD
// transaction.
func StartExecuteSpan(ctx context.Context, dlid uint16, sendOnly bool, retries int) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanExecute,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(DLID(dlid), SendOnly(sendOnly), Retries(retries)),
	)
}
