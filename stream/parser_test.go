package stream_test

import (
	"math"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/stream"
)

func TestParser(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "stream/parser")
}

var _ = Describe("DeviceDataParser", func() {
	route := mustRoute()

	It("gates StreamData until all metadata is present, then emits Initial (§8 scenario 2)", func() {
		p := stream.NewDeviceDataParser(false)

		emit(p, route, proto.DeviceMetadataPayload{proto.DeviceMetadata{SessionID: 0xA}})
		emit(p, route, proto.StreamMetadataPayload{proto.StreamMetadata{StreamID: 1, NColumns: 1, SampleSize: 4}})
		emit(p, route, proto.SegmentMetadataPayload{proto.SegmentMetadata{StreamID: 1, SamplingRate: 1000, Decimation: 1, StartTime: 0, SampleNOffset: 0}})

		// before ColumnMetadata arrives, the stream is not hot: StreamData yields nothing.
		gated, err := p.Handle(proto.Packet{Routing: route, Payload: proto.StreamData{StreamID: 1, FirstSampleN: 0, Payload: f32bytes(1.0)}})
		Expect(err).NotTo(HaveOccurred())
		Expect(gated).To(BeEmpty())

		emit(p, route, proto.ColumnMetadataPayload{proto.ColumnMetadata{Index: 0, Name: "x", DataType: proto.DTypeF32}})

		samples, err := p.Handle(proto.Packet{Routing: route, Payload: proto.StreamData{
			StreamID: 1, FirstSampleN: 0, Payload: append(f32bytes(1.0), f32bytes(2.0)...),
		}})
		Expect(err).NotTo(HaveOccurred())
		Expect(samples).To(HaveLen(2))

		Expect(samples[0].N).To(Equal(uint32(0)))
		Expect(samples[0].Boundary).NotTo(BeNil())
		Expect(samples[0].Boundary.Reason).To(Equal(stream.BoundaryInitial))
		Expect(samples[0].Columns[0].Float).To(Equal(float64(1.0)))

		Expect(samples[1].N).To(Equal(uint32(1)))
		Expect(samples[1].Boundary).To(BeNil())
		Expect(samples[1].Columns[0].Float).To(Equal(float64(2.0)))
	})

	It("marks SessionChanged on the first sample after a device session change (§8 scenario 3)", func() {
		p := stream.NewDeviceDataParser(false)
		emit(p, route, proto.DeviceMetadataPayload{proto.DeviceMetadata{SessionID: 0xA}})
		emit(p, route, proto.StreamMetadataPayload{proto.StreamMetadata{StreamID: 1, NColumns: 1, SampleSize: 4}})
		emit(p, route, proto.SegmentMetadataPayload{proto.SegmentMetadata{StreamID: 1, SamplingRate: 1000, Decimation: 1}})
		emit(p, route, proto.ColumnMetadataPayload{proto.ColumnMetadata{Index: 0, Name: "x", DataType: proto.DTypeF32}})
		_, err := p.Handle(proto.Packet{Routing: route, Payload: proto.StreamData{StreamID: 1, FirstSampleN: 0, Payload: f32bytes(1.0)}})
		Expect(err).NotTo(HaveOccurred())

		emit(p, route, proto.DeviceMetadataPayload{proto.DeviceMetadata{SessionID: 0xB}})
		samples, err := p.Handle(proto.Packet{Routing: route, Payload: proto.StreamData{StreamID: 1, FirstSampleN: 2, Payload: f32bytes(3.0)}})
		Expect(err).NotTo(HaveOccurred())
		Expect(samples).To(HaveLen(1))
		Expect(samples[0].N).To(Equal(uint32(2)))
		Expect(samples[0].Boundary).NotTo(BeNil())
		Expect(samples[0].Boundary.Reason).To(Equal(stream.BoundarySessionChanged))
	})

	It("suppresses SessionChanged when ignore_session is set", func() {
		p := stream.NewDeviceDataParser(true)
		emit(p, route, proto.DeviceMetadataPayload{proto.DeviceMetadata{SessionID: 0xA}})
		emit(p, route, proto.StreamMetadataPayload{proto.StreamMetadata{StreamID: 1, NColumns: 1, SampleSize: 4}})
		emit(p, route, proto.SegmentMetadataPayload{proto.SegmentMetadata{StreamID: 1, SamplingRate: 1000, Decimation: 1}})
		emit(p, route, proto.ColumnMetadataPayload{proto.ColumnMetadata{Index: 0, Name: "x", DataType: proto.DTypeF32}})
		_, err := p.Handle(proto.Packet{Routing: route, Payload: proto.StreamData{StreamID: 1, FirstSampleN: 0, Payload: f32bytes(1.0)}})
		Expect(err).NotTo(HaveOccurred())

		emit(p, route, proto.DeviceMetadataPayload{proto.DeviceMetadata{SessionID: 0xB}})
		samples, err := p.Handle(proto.Packet{Routing: route, Payload: proto.StreamData{StreamID: 1, FirstSampleN: 1, Payload: f32bytes(3.0)}})
		Expect(err).NotTo(HaveOccurred())
		Expect(samples).To(HaveLen(1))
		Expect(samples[0].Boundary).To(BeNil())
	})

	It("attaches SampleGap when n skips ahead across packets", func() {
		p := stream.NewDeviceDataParser(false)
		emit(p, route, proto.DeviceMetadataPayload{proto.DeviceMetadata{SessionID: 0xA}})
		emit(p, route, proto.StreamMetadataPayload{proto.StreamMetadata{StreamID: 1, NColumns: 1, SampleSize: 4}})
		emit(p, route, proto.SegmentMetadataPayload{proto.SegmentMetadata{StreamID: 1, SamplingRate: 1000, Decimation: 1}})
		emit(p, route, proto.ColumnMetadataPayload{proto.ColumnMetadata{Index: 0, Name: "x", DataType: proto.DTypeF32}})
		_, err := p.Handle(proto.Packet{Routing: route, Payload: proto.StreamData{StreamID: 1, FirstSampleN: 0, Payload: f32bytes(1.0)}})
		Expect(err).NotTo(HaveOccurred())

		samples, err := p.Handle(proto.Packet{Routing: route, Payload: proto.StreamData{StreamID: 1, FirstSampleN: 5, Payload: f32bytes(9.0)}})
		Expect(err).NotTo(HaveOccurred())
		Expect(samples).To(HaveLen(1))
		Expect(samples[0].Boundary).NotTo(BeNil())
		Expect(samples[0].Boundary.Reason).To(Equal(stream.BoundarySampleGap))
	})
})

func mustRoute() proto.Route {
	r, err := proto.NewRoute(0, 1)
	if err != nil {
		panic(err)
	}
	return r
}

func emit(p *stream.DeviceDataParser, route proto.Route, payload proto.Payload) {
	_, err := p.Handle(proto.Packet{Routing: route, Payload: payload})
	Expect(err).NotTo(HaveOccurred())
}

func f32bytes(v float32) []byte {
	b := make([]byte, 4)
	bits := math.Float32bits(v)
	b[0] = byte(bits)
	b[1] = byte(bits >> 8)
	b[2] = byte(bits >> 16)
	b[3] = byte(bits >> 24)
	return b
}
