package device

import (
	"context"
	"strings"
	"sync"

	"github.com/twinleaf/tio/cmn"
	"github.com/twinleaf/tio/cmn/nlog"
	"github.com/twinleaf/tio/proto"
	"github.com/twinleaf/tio/proxy"
	"github.com/twinleaf/tio/stream"
)

// childStreamName is the convention this tooling relies on to discover a
// device's children: a stream named "children" whose sample columns are
// one non-zero-means-present flag per child index. The retrieved materials
// don't carry the original wire convention for root-stream child
// enumeration (§4.5 names it only as "a root-stream field"), so this is a
// reconstruction - see DESIGN.md.
const childStreamName = "children"

// Timestamped is one sample tagged with the route of the device that
// produced it, DeviceTree's unit of output (§4.5).
type Timestamped struct {
	Sample *stream.Sample
	Route  proto.Route
}

// DeviceTree walks a sensor tree depth-first from a root route, reopening
// any subtree whose parser reports SessionChanged before it resumes
// emitting samples (§4.5).
type DeviceTree struct {
	p   *proxy.Proxy
	ctx context.Context

	out chan Timestamped

	mu    sync.Mutex
	nodes map[string]*treeNode
}

type treeNode struct {
	route  proto.Route
	dev    *Device
	cancel context.CancelFunc
	done   chan struct{}
}

// OpenTree discovers the device at route and every descendant reachable
// via childStreamName, starting a reader goroutine per device that feeds
// decoded samples to Next/Drain (§4.5).
func OpenTree(ctx context.Context, p *proxy.Proxy, route proto.Route) (*DeviceTree, error) {
	t := &DeviceTree{
		p:     p,
		ctx:   ctx,
		out:   make(chan Timestamped, 1024),
		nodes: map[string]*treeNode{},
	}
	if err := t.openSubtree(route); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

func (t *DeviceTree) openSubtree(route proto.Route) error {
	dev, err := Open(t.ctx, t.p, route)
	if err != nil {
		return err
	}
	nctx, cancel := context.WithCancel(t.ctx)
	node := &treeNode{route: route, dev: dev, cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	t.nodes[route.String()] = node
	t.mu.Unlock()

	// Resolve children from whatever the children-stream has buffered so
	// far before pump starts draining the port, to avoid racing it.
	children := childIndices(dev)
	go t.pump(nctx, node)

	for _, idx := range children {
		childRoute, err := route.Child(idx)
		if err != nil {
			return cmn.WrapError(cmn.ErrRouting, err, "child route at %s/%d", route, idx)
		}
		if err := t.openSubtree(childRoute); err != nil {
			return cmn.WrapError(cmn.ErrMetadata, err, "opening child %s", childRoute)
		}
	}
	return nil
}

// childIndices decodes the most recent children-stream sample buffered at
// discovery time, if the device declares such a stream; a device with no
// such stream is a leaf.
func childIndices(dev *Device) []uint8 {
	for _, s := range dev.Streams {
		if !strings.EqualFold(s.Meta.Name, childStreamName) {
			continue
		}
		var latest []uint8
		for _, pkt := range dev.port.Drain() {
			sd, ok := pkt.Payload.(proto.StreamData)
			if !ok || sd.StreamID != s.Meta.StreamID {
				continue
			}
			latest = presentChildren(sd.Payload)
		}
		return latest
	}
	return nil
}

func presentChildren(payload []byte) []uint8 {
	var out []uint8
	for i, b := range payload {
		if b != 0 {
			out = append(out, uint8(i))
		}
	}
	return out
}

// pump feeds node's port through its parser until ctx is done or the port
// reports the transport gone, reopening the subtree on SessionChanged
// before forwarding any sample that follows it (§4.5).
func (t *DeviceTree) pump(ctx context.Context, node *treeNode) {
	defer close(node.done)
	for {
		pkt, err := node.dev.port.Recv(ctx)
		if err != nil {
			return
		}
		samples, err := node.dev.parser.Handle(pkt)
		if err != nil {
			continue // a malformed packet on this stream; keep pumping
		}
		for _, s := range samples {
			if s.Boundary != nil && s.Boundary.Reason == stream.BoundarySessionChanged {
				go t.reopen(node.route)
				return
			}
			select {
			case t.out <- Timestamped{Sample: s, Route: node.route}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// reopen tears down node's subtree and rediscovers it from scratch, used
// when the device's session_id changes mid-stream (§4.5).
func (t *DeviceTree) reopen(route proto.Route) {
	t.closeSubtree(route)
	if err := t.openSubtree(route); err != nil {
		nlog.Errorf("device tree: reopening %s after session change: %v", route, err)
	}
}

func (t *DeviceTree) closeSubtree(route proto.Route) {
	t.mu.Lock()
	var toClose []*treeNode
	for key, node := range t.nodes {
		if node.route.Equal(route) || node.route.HasPrefix(route) {
			toClose = append(toClose, node)
			delete(t.nodes, key)
		}
	}
	t.mu.Unlock()

	for _, node := range toClose {
		node.cancel()
		<-node.done
		node.dev.Close()
	}
}

// Next blocks until the next sample from any device in the tree arrives,
// in arrival order (§4.5).
func (t *DeviceTree) Next(ctx context.Context) (Timestamped, error) {
	select {
	case v := <-t.out:
		return v, nil
	case <-ctx.Done():
		return Timestamped{}, ctx.Err()
	}
}

// Drain returns every sample currently buffered, without blocking - for
// batched logging consumers (§4.5).
func (t *DeviceTree) Drain() []Timestamped {
	var out []Timestamped
	for {
		select {
		case v := <-t.out:
			out = append(out, v)
		default:
			return out
		}
	}
}

// Close tears down every device in the tree.
func (t *DeviceTree) Close() {
	t.mu.Lock()
	nodes := make([]*treeNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, n)
	}
	t.nodes = map[string]*treeNode{}
	t.mu.Unlock()

	for _, n := range nodes {
		n.cancel()
		<-n.done
		n.dev.Close()
	}
}
