package proto_test

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/twinleaf/tio/proto"
)

func TestCodec(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "proto/codec")
}

var _ = Describe("wire codec", func() {
	It("round-trips every payload kind", func() {
		route, err := proto.NewRoute(0, 1)
		Expect(err).NotTo(HaveOccurred())

		packets := []proto.Packet{
			{Payload: proto.RpcRequest{ID: 7, MethodName: "dev.stop", Args: nil}, Routing: route},
			{Payload: proto.RpcRequest{ID: 42, MethodHash: 0xBEEF, Args: []byte{1, 2, 3}}, Routing: proto.RootRoute()},
			{Payload: proto.RpcReply{ID: 7, Result: []byte{9, 9}}, Routing: route},
			{Payload: proto.RpcError{ID: 7, ErrorCode: 2, Message: "invalid args"}, Routing: route},
			{Payload: proto.Heartbeat{}, Routing: proto.RootRoute()},
			{Payload: proto.StreamData{StreamID: 1, FirstSampleN: 100, Payload: []byte{1, 2, 3, 4}}, Routing: route, TTL: 3},
			{Payload: proto.DeviceMetadataPayload{proto.DeviceMetadata{Serial: "TL-1", Firmware: "1.2.3", SessionID: 5, NStreams: 2}}, Routing: route},
			{Payload: proto.StreamMetadataPayload{proto.StreamMetadata{StreamID: 1, Name: "vector", SampleSize: 12, NColumns: 3, TotalSamples: 99}}, Routing: route},
			{Payload: proto.ColumnMetadataPayload{proto.ColumnMetadata{Index: 0, Name: "x", Units: "m/s^2", Description: "x axis", DataType: proto.DTypeF32}}, Routing: route},
			{Payload: proto.SegmentMetadataPayload{proto.SegmentMetadata{StreamID: 1, SamplingRate: 1000, Decimation: 2, FilterCutoff: 50, FilterType: proto.FilterIIRButterworth, TimeRefEpoch: proto.EpochUnixUTC, TimeRefSerial: "TL-1", StartTime: 12.5, SampleNOffset: 3}}, Routing: route},
			{Payload: proto.Timebase{Raw: []byte{1, 2}}, Routing: route},
			{Payload: proto.LogMessage{Text: "hello"}, Routing: route},
			{Payload: proto.Other{TypeID: 0x77, Bytes: []byte{1, 2, 3}}, Routing: proto.RootRoute()},
		}

		for _, p := range packets {
			wire := proto.Serialize(p)
			got, n, err := proto.Deserialize(wire)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(len(wire)))
			Expect(got.Payload).To(Equal(p.Payload))
			Expect(got.Routing.Equal(p.Routing)).To(BeTrue())
			Expect(got.TTL).To(Equal(p.TTL))
		}
	})

	It("reports NeedMore on a truncated frame", func() {
		p := proto.Packet{Payload: proto.Heartbeat{}, Routing: proto.RootRoute()}
		wire := proto.Serialize(p)
		_, _, err := proto.Deserialize(wire[:len(wire)-1])
		Expect(err).To(Equal(proto.ErrNeedMore))
	})

	It("rejects a routing size above the protocol maximum", func() {
		// routing_len=9 > MaxRouteDepth, with all 9 routing bytes present so
		// the frame is complete and the size check itself rejects it
		buf := []byte{0x10, 0x09, 0x00, 0x00, 0, 1, 2, 3, 4, 5, 6, 7, 8}
		_, _, err := proto.Deserialize(buf)
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(Equal(proto.ErrNeedMore))
	})

	It("decodes an unrecognized type byte as Other and propagates it", func() {
		p := proto.Packet{Payload: proto.Other{TypeID: 0x55, Bytes: []byte("abc")}, Routing: proto.RootRoute()}
		wire := proto.Serialize(p)
		got, _, err := proto.Deserialize(wire)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Payload).To(Equal(p.Payload))
	})

	It("preserves the reserved high bits of the routing-size byte on round trip", func() {
		p := proto.Packet{Payload: proto.Heartbeat{}, Routing: proto.RootRoute(), TTL: 5}
		wire := proto.Serialize(p)
		got, _, err := proto.Deserialize(wire)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.TTL).To(Equal(uint8(5)))
	})
})
