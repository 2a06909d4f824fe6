// Package proto implements the TIO wire protocol: routed, tagged-union
// packets over a framed little-endian byte stream (§3, §4.1).
package proto

import (
	"strconv"
	"strings"

	"github.com/twinleaf/tio/cmn"
)

// MaxRouteDepth is the protocol constant bounding a Route's length (§3).
const MaxRouteDepth = 8

// RouteTerminator is the wire-format terminator byte; route indices are
// restricted to 0..254 so it never collides with a real index (§3).
const RouteTerminator = 255

// Route is an ordered sequence of routing indices identifying a node in
// the sensor tree. The zero value is the empty route, i.e. "root".
//
// idx is a fixed-size array rather than a slice so that Route stays
// comparable with == and usable as a map key - stream.StreamKey embeds
// Route and is keyed on directly by export/hdf5's batch map (§4.7).
type Route struct {
	idx [MaxRouteDepth]uint8
	n   uint8
}

func RootRoute() Route { return Route{} }

// NewRoute validates indices are all < RouteTerminator and within
// MaxRouteDepth before constructing a Route.
func NewRoute(idx ...uint8) (Route, error) {
	if len(idx) > MaxRouteDepth {
		return Route{}, cmn.NewError(cmn.ErrRouting, "route depth %d exceeds max %d", len(idx), MaxRouteDepth)
	}
	var r Route
	for i, b := range idx {
		if b >= RouteTerminator {
			return Route{}, cmn.NewError(cmn.ErrRouting, "route index %d >= terminator %d", b, RouteTerminator)
		}
		r.idx[i] = b
	}
	r.n = uint8(len(idx))
	return r, nil
}

// ParseRoute parses a "/0/1/2" style string; "" and "/" both denote root.
func ParseRoute(s string) (Route, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return RootRoute(), nil
	}
	parts := strings.Split(s, "/")
	idx := make([]uint8, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n >= RouteTerminator {
			return Route{}, cmn.NewError(cmn.ErrRouting, "invalid route segment %q", p)
		}
		idx = append(idx, uint8(n))
	}
	return NewRoute(idx...)
}

func (r Route) Len() int       { return int(r.n) }
func (r Route) IsRoot() bool   { return r.n == 0 }
func (r Route) At(i int) uint8 { return r.idx[i] }

func (r Route) Indices() []uint8 {
	cp := make([]uint8, r.n)
	copy(cp, r.idx[:r.n])
	return cp
}

// Child returns a new Route with idx appended, used when OpenTree's
// openSubtree descends into a child device (§4.5).
func (r Route) Child(idx uint8) (Route, error) {
	return NewRoute(append(r.Indices(), idx)...)
}

// String renders "/0/1/2"; root renders as "/".
func (r Route) String() string {
	if r.IsRoot() {
		return "/"
	}
	var b strings.Builder
	for _, i := range r.idx[:r.n] {
		b.WriteByte('/')
		b.WriteString(strconv.Itoa(int(i)))
	}
	return b.String()
}

// PathString renders the route without a leading slash, used when
// building HDF5 group paths and filter path strings (§4.7, §4.9).
func (r Route) PathString() string {
	if r.IsRoot() {
		return ""
	}
	return strings.TrimPrefix(r.String(), "/")
}

// HasPrefix reports whether r's indices start with prefix's, used by the
// Proxy's per-Port subtree filter (§4.3).
func (r Route) HasPrefix(prefix Route) bool {
	if prefix.n > r.n {
		return false
	}
	for i := uint8(0); i < prefix.n; i++ {
		if r.idx[i] != prefix.idx[i] {
			return false
		}
	}
	return true
}

// RelativeRoute returns the suffix of r after prefix, failing if prefix is
// not actually a prefix of r (§8 Routing property).
func (r Route) RelativeRoute(prefix Route) (Route, error) {
	if !r.HasPrefix(prefix) {
		return Route{}, cmn.NewError(cmn.ErrRouting, "%s is not a prefix of %s", prefix, r)
	}
	return NewRoute(r.idx[prefix.n:r.n]...)
}

// Compare implements lexicographic ordering over routes (§3).
func (r Route) Compare(o Route) int {
	n := r.n
	if o.n < n {
		n = o.n
	}
	for i := uint8(0); i < n; i++ {
		if r.idx[i] != o.idx[i] {
			if r.idx[i] < o.idx[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case r.n < o.n:
		return -1
	case r.n > o.n:
		return 1
	default:
		return 0
	}
}

// Equal reports whether r and o are the same route. Route is comparable
// with == directly (both fields are fixed-size/value types), but Equal is
// kept as the spelling the rest of the tree already uses.
func (r Route) Equal(o Route) bool { return r == o }
