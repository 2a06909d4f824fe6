// Package device discovers one sensor's metadata and walks a sensor tree,
// layering the stream parser over a Proxy (§4.5).
package device

import (
	"context"
	"time"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/proxy"
	"github.com/twinleaf/tio/stream"
)

// discoveryTimeout bounds how long Open waits for the metadata packets a
// fresh connection replays on attach before giving up (§4.5).
const discoveryTimeout = 5 * time.Second

// Device is a single node's fully-discovered metadata: DeviceMetadata plus
// every stream's StreamMetadata/SegmentMetadata/ColumnMetadata (§4.5).
type Device struct {
	Route   proto.Route
	Meta    proto.DeviceMetadata
	Streams []stream.StreamSnapshot

	port   *proxy.Port
	parser *stream.DeviceDataParser
}

// Open discovers a single device at route: it opens a data Port scoped to
// route and consumes emitted metadata packets until DeviceMetadata plus
// every declared stream's {StreamMetadata, SegmentMetadata, N
// ColumnMetadata} have all arrived (§4.5). Devices advertise their own
// metadata on attach without an explicit request in this protocol, so Open
// only waits - it does not issue an RPC to trigger the replay.
func Open(ctx context.Context, p *proxy.Proxy, route proto.Route) (*Device, error) {
	port := p.OpenPort(route, false)
	parser := stream.NewDeviceDataParser(false)

	dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	d := &Device{Route: route, port: port, parser: parser}
	for !d.discovered() {
		pkt, err := port.Recv(dctx)
		if err != nil {
			port.Close()
			return nil, cmn.WrapError(cmn.ErrMetadata, err, "device %s: discovery", route)
		}
		if _, err := parser.Handle(pkt); err != nil {
			port.Close()
			return nil, err
		}
		d.sync()
	}
	return d, nil
}

// discovered reports whether every stream the device's own metadata
// declares has completed metadata discovery (§4.5).
func (d *Device) discovered() bool {
	if d.Meta.NStreams == 0 {
		return false
	}
	return len(d.Streams) == int(d.Meta.NStreams)
}

// sync refreshes Meta/Streams from the parser's internal state after each
// Handle call, using the parser's exported snapshot accessor.
func (d *Device) sync() {
	meta, streams := d.parser.Snapshot()
	if meta != nil {
		d.Meta = *meta
	}
	d.Streams = streams
}

// Port returns the underlying data Port, so a caller (DeviceTree) can keep
// reading samples after discovery completes.
func (d *Device) Port() *proxy.Port { return d.port }

// Parser returns the parser backing this device, so DeviceTree can keep
// feeding it packets after Open returns.
func (d *Device) Parser() *stream.DeviceDataParser { return d.parser }

func (d *Device) Close() { d.port.Close() }
