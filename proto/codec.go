package proto

import (
	"encoding/binary"

	"github.com/twinleaf/tio/cmn"
)

const (
	headerSize    = 4
	maxPayloadLen = 32 * 1024 // 32 KiB, per §4.1 Invalid contract
	maxRpcName    = 0x7f      // 7 bits of the name-length/flag byte
)

// ErrNeedMore signals the buffer holds fewer bytes than one full frame;
// it is not a parse failure, the caller should read more and retry (§4.1).
var ErrNeedMore = cmn.NewError(cmn.ErrParse, "need more bytes")

// Deserialize parses one frame from buf, returning the packet and the
// number of bytes consumed.
//
// On success, or on any malformed-frame error once the frame's total
// length is known from the header, the returned int is that frame's full
// byte length, so a caller can always skip exactly the bad frame and
// resync on the next one instead of discarding the whole buffer (§4.1,
// the "parse errors skip the frame" propagation policy in cmn.ErrParse).
// It returns ErrNeedMore (n == 0) if buf holds less than a full frame, or
// if the header's own length fields can't yet be trusted to bound a skip
// (payloadLen/routingLen still unvalidated against buf's length).
func Deserialize(buf []byte) (Packet, int, error) {
	if len(buf) < headerSize {
		return Packet{}, 0, ErrNeedMore
	}
	typeID := PacketType(buf[0])
	sizeFlags := buf[1]
	routingLen := int(sizeFlags & 0x0f)
	ttl := sizeFlags >> 4
	payloadLen := int(binary.LittleEndian.Uint16(buf[2:4]))

	// total is computable from the header alone (routingLen is always 4
	// bits, payloadLen always fits the protocol's uint16 length field), so
	// it bounds a skip even when a content check below rejects the frame.
	total := headerSize + payloadLen + routingLen
	if len(buf) < total {
		return Packet{}, 0, ErrNeedMore
	}

	if routingLen > MaxRouteDepth {
		return Packet{}, total, cmn.NewError(cmn.ErrParse, "routing size %d exceeds max %d", routingLen, MaxRouteDepth)
	}
	if payloadLen > maxPayloadLen {
		return Packet{}, total, cmn.NewError(cmn.ErrParse, "payload length %d exceeds max %d", payloadLen, maxPayloadLen)
	}

	payloadBytes := buf[headerSize : headerSize+payloadLen]
	routingBytes := buf[headerSize+payloadLen : total]

	idx := make([]uint8, routingLen)
	for i, b := range routingBytes {
		if b >= RouteTerminator {
			return Packet{}, total, cmn.NewError(cmn.ErrParse, "invalid routing byte %d", b)
		}
		idx[i] = b
	}
	route, err := NewRoute(idx...)
	if err != nil {
		return Packet{}, total, err
	}

	payload, err := decodePayload(typeID, payloadBytes)
	if err != nil {
		return Packet{}, total, err
	}

	return Packet{Payload: payload, Routing: route, TTL: ttl}, total, nil
}

// Serialize renders p to wire bytes; Deserialize(Serialize(p)) always
// round-trips (§4.1, §8).
func Serialize(p Packet) []byte {
	payloadBytes := encodePayload(p.Payload)
	routingIdx := p.Routing.Indices()

	out := make([]byte, headerSize+len(payloadBytes)+len(routingIdx))
	out[0] = byte(p.Payload.Type())
	out[1] = byte(len(routingIdx)&0x0f) | (p.TTL << 4)
	binary.LittleEndian.PutUint16(out[2:4], uint16(len(payloadBytes)))
	copy(out[headerSize:], payloadBytes)
	copy(out[headerSize+len(payloadBytes):], routingIdx)
	return out
}

func decodePayload(t PacketType, b []byte) (Payload, error) {
	switch t {
	case TypeRpcRequest:
		return decodeRpcRequest(b)
	case TypeRpcReply:
		return decodeRpcReply(b)
	case TypeRpcError:
		return decodeRpcError(b)
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case TypeTimebase:
		return Timebase{Raw: append([]byte{}, b...)}, nil
	case TypeLogMessage:
		return LogMessage{Text: string(b)}, nil
	case TypeStreamMetadata:
		return decodeStreamMetadata(b)
	case TypeSegmentMetadata:
		return decodeSegmentMetadata(b)
	case TypeColumnMetadata:
		return decodeColumnMetadata(b)
	case TypeDeviceMetadata:
		return decodeDeviceMetadata(b)
	case TypeStreamData:
		return decodeStreamData(b)
	default:
		return Other{TypeID: t, Bytes: append([]byte{}, b...)}, nil
	}
}

func encodePayload(p Payload) []byte {
	switch v := p.(type) {
	case RpcRequest:
		return encodeRpcRequest(v)
	case RpcReply:
		return encodeRpcReply(v)
	case RpcError:
		return encodeRpcError(v)
	case Heartbeat:
		return nil
	case Timebase:
		return v.Raw
	case LogMessage:
		return []byte(v.Text)
	case StreamMetadataPayload:
		return encodeStreamMetadata(v.StreamMetadata)
	case SegmentMetadataPayload:
		return encodeSegmentMetadata(v.SegmentMetadata)
	case ColumnMetadataPayload:
		return encodeColumnMetadata(v.ColumnMetadata)
	case DeviceMetadataPayload:
		return encodeDeviceMetadata(v.DeviceMetadata)
	case StreamData:
		return encodeStreamData(v)
	case Other:
		return v.Bytes
	default:
		return nil
	}
}

//
// StreamData
//

func encodeStreamData(s StreamData) []byte {
	out := make([]byte, 1+4+len(s.Payload))
	out[0] = s.StreamID
	binary.LittleEndian.PutUint32(out[1:5], s.FirstSampleN)
	copy(out[5:], s.Payload)
	return out
}

func decodeStreamData(b []byte) (Payload, error) {
	if len(b) < 5 {
		return nil, cmn.NewError(cmn.ErrParse, "stream data payload too short")
	}
	return StreamData{
		StreamID:     b[0],
		FirstSampleN: binary.LittleEndian.Uint32(b[1:5]),
		Payload:      append([]byte{}, b[5:]...),
	}, nil
}

//
// RPC
//

func encodeRpcRequest(r RpcRequest) []byte {
	var out []byte
	idBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(idBuf, r.ID)
	out = append(out, idBuf...)

	if r.Named() {
		n := len(r.MethodName)
		if n > maxRpcName {
			n = maxRpcName
		}
		out = append(out, 0x80|byte(n))
		out = append(out, r.MethodName[:n]...)
	} else {
		out = append(out, 0x00)
		hashBuf := make([]byte, 2)
		binary.LittleEndian.PutUint16(hashBuf, r.MethodHash)
		out = append(out, hashBuf...)
	}
	out = append(out, r.Args...)
	return out
}

func decodeRpcRequest(b []byte) (Payload, error) {
	if len(b) < 3 {
		return nil, cmn.NewError(cmn.ErrParse, "rpc request payload too short")
	}
	id := binary.LittleEndian.Uint16(b[0:2])
	flagByte := b[2]
	rest := b[3:]

	if flagByte&0x80 != 0 {
		n := int(flagByte & 0x7f)
		if len(rest) < n {
			return nil, cmn.NewError(cmn.ErrParse, "rpc request name truncated")
		}
		return RpcRequest{ID: id, MethodName: string(rest[:n]), Args: append([]byte(nil), rest[n:]...)}, nil
	}
	if len(rest) < 2 {
		return nil, cmn.NewError(cmn.ErrParse, "rpc request hash truncated")
	}
	hash := binary.LittleEndian.Uint16(rest[0:2])
	return RpcRequest{ID: id, MethodHash: hash, Args: append([]byte(nil), rest[2:]...)}, nil
}

func encodeRpcReply(r RpcReply) []byte {
	out := make([]byte, 2+len(r.Result))
	binary.LittleEndian.PutUint16(out[0:2], r.ID)
	copy(out[2:], r.Result)
	return out
}

func decodeRpcReply(b []byte) (Payload, error) {
	if len(b) < 2 {
		return nil, cmn.NewError(cmn.ErrParse, "rpc reply payload too short")
	}
	return RpcReply{ID: binary.LittleEndian.Uint16(b[0:2]), Result: append([]byte{}, b[2:]...)}, nil
}

func encodeRpcError(r RpcError) []byte {
	out := make([]byte, 4+len(r.Message))
	binary.LittleEndian.PutUint16(out[0:2], r.ID)
	binary.LittleEndian.PutUint16(out[2:4], r.ErrorCode)
	copy(out[4:], r.Message)
	return out
}

func decodeRpcError(b []byte) (Payload, error) {
	if len(b) < 4 {
		return nil, cmn.NewError(cmn.ErrParse, "rpc error payload too short")
	}
	return RpcError{
		ID:        binary.LittleEndian.Uint16(b[0:2]),
		ErrorCode: binary.LittleEndian.Uint16(b[2:4]),
		Message:   string(b[4:]),
	}, nil
}

//
// Metadata
//

func encodeStreamMetadata(s StreamMetadata) []byte {
	name := []byte(s.Name)
	out := make([]byte, 1+2+1+8+1+len(name))
	i := 0
	out[i] = s.StreamID
	i++
	binary.LittleEndian.PutUint16(out[i:], s.SampleSize)
	i += 2
	out[i] = s.NColumns
	i++
	binary.LittleEndian.PutUint64(out[i:], s.TotalSamples)
	i += 8
	out[i] = byte(len(name))
	i++
	copy(out[i:], name)
	return out
}

func decodeStreamMetadata(b []byte) (Payload, error) {
	if len(b) < 13 {
		return nil, cmn.NewError(cmn.ErrParse, "stream metadata payload too short")
	}
	streamID := b[0]
	sampleSize := binary.LittleEndian.Uint16(b[1:3])
	nColumns := b[3]
	totalSamples := binary.LittleEndian.Uint64(b[4:12])
	nameLen := int(b[12])
	if len(b) < 13+nameLen {
		return nil, cmn.NewError(cmn.ErrParse, "stream metadata name truncated")
	}
	name := string(b[13 : 13+nameLen])
	return StreamMetadataPayload{StreamMetadata{
		StreamID: streamID, Name: name, SampleSize: sampleSize,
		NColumns: nColumns, TotalSamples: totalSamples,
	}}, nil
}

func encodeSegmentMetadata(s SegmentMetadata) []byte {
	serial := []byte(s.TimeRefSerial)
	out := make([]byte, 1+8+4+8+1+1+4+8+1+len(serial))
	i := 0
	out[i] = s.StreamID
	i++
	binary.LittleEndian.PutUint64(out[i:], floatBits(s.SamplingRate))
	i += 8
	binary.LittleEndian.PutUint32(out[i:], s.Decimation)
	i += 4
	binary.LittleEndian.PutUint64(out[i:], floatBits(s.FilterCutoff))
	i += 8
	out[i] = byte(s.FilterType)
	i++
	out[i] = byte(s.TimeRefEpoch)
	i++
	binary.LittleEndian.PutUint32(out[i:], s.SampleNOffset)
	i += 4
	binary.LittleEndian.PutUint64(out[i:], floatBits(s.StartTime))
	i += 8
	out[i] = byte(len(serial))
	i++
	copy(out[i:], serial)
	return out
}

func decodeSegmentMetadata(b []byte) (Payload, error) {
	const fixed = 1 + 8 + 4 + 8 + 1 + 1 + 4 + 8 + 1
	if len(b) < fixed {
		return nil, cmn.NewError(cmn.ErrParse, "segment metadata payload too short")
	}
	i := 0
	streamID := b[i]
	i++
	samplingRate := bitsFloat(binary.LittleEndian.Uint64(b[i:]))
	i += 8
	decimation := binary.LittleEndian.Uint32(b[i:])
	i += 4
	filterCutoff := bitsFloat(binary.LittleEndian.Uint64(b[i:]))
	i += 8
	filterType := FilterType(b[i])
	i++
	timeRefEpoch := TimeRefEpoch(b[i])
	i++
	sampleNOffset := binary.LittleEndian.Uint32(b[i:])
	i += 4
	startTime := bitsFloat(binary.LittleEndian.Uint64(b[i:]))
	i += 8
	serialLen := int(b[i])
	i++
	if len(b) < i+serialLen {
		return nil, cmn.NewError(cmn.ErrParse, "segment metadata serial truncated")
	}
	serial := string(b[i : i+serialLen])
	return SegmentMetadataPayload{SegmentMetadata{
		StreamID: streamID, SamplingRate: samplingRate, Decimation: decimation,
		FilterCutoff: filterCutoff, FilterType: filterType, TimeRefEpoch: timeRefEpoch,
		TimeRefSerial: serial, StartTime: startTime, SampleNOffset: sampleNOffset,
	}}, nil
}

func encodeColumnMetadata(c ColumnMetadata) []byte {
	units := []byte(c.Units)
	desc := []byte(c.Description)
	name := []byte(c.Name)
	out := make([]byte, 0, 1+1+1+len(name)+1+len(units)+2+len(desc))
	out = append(out, c.Index, byte(c.DataType), byte(len(name)))
	out = append(out, name...)
	out = append(out, byte(len(units)))
	out = append(out, units...)
	descLenBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(descLenBuf, uint16(len(desc)))
	out = append(out, descLenBuf...)
	out = append(out, desc...)
	return out
}

func decodeColumnMetadata(b []byte) (Payload, error) {
	if len(b) < 3 {
		return nil, cmn.NewError(cmn.ErrParse, "column metadata payload too short")
	}
	idx := b[0]
	dtype := DataType(b[1])
	nameLen := int(b[2])
	p := 3
	if len(b) < p+nameLen+1 {
		return nil, cmn.NewError(cmn.ErrParse, "column metadata name truncated")
	}
	name := string(b[p : p+nameLen])
	p += nameLen
	unitsLen := int(b[p])
	p++
	if len(b) < p+unitsLen+2 {
		return nil, cmn.NewError(cmn.ErrParse, "column metadata units truncated")
	}
	units := string(b[p : p+unitsLen])
	p += unitsLen
	descLen := int(binary.LittleEndian.Uint16(b[p : p+2]))
	p += 2
	if len(b) < p+descLen {
		return nil, cmn.NewError(cmn.ErrParse, "column metadata description truncated")
	}
	desc := string(b[p : p+descLen])
	return ColumnMetadataPayload{ColumnMetadata{
		Index: idx, Name: name, Units: units, Description: desc, DataType: dtype,
	}}, nil
}

func encodeDeviceMetadata(d DeviceMetadata) []byte {
	serial := []byte(d.Serial)
	fw := []byte(d.Firmware)
	out := make([]byte, 0, 4+1+1+1+len(serial)+1+len(fw))
	sidBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sidBuf, d.SessionID)
	out = append(out, sidBuf...)
	out = append(out, d.NStreams, byte(len(serial)))
	out = append(out, serial...)
	out = append(out, byte(len(fw)))
	out = append(out, fw...)
	return out
}

func decodeDeviceMetadata(b []byte) (Payload, error) {
	if len(b) < 6 {
		return nil, cmn.NewError(cmn.ErrParse, "device metadata payload too short")
	}
	sessionID := binary.LittleEndian.Uint32(b[0:4])
	nStreams := b[4]
	serialLen := int(b[5])
	p := 6
	if len(b) < p+serialLen+1 {
		return nil, cmn.NewError(cmn.ErrParse, "device metadata serial truncated")
	}
	serial := string(b[p : p+serialLen])
	p += serialLen
	fwLen := int(b[p])
	p++
	if len(b) < p+fwLen {
		return nil, cmn.NewError(cmn.ErrParse, "device metadata firmware truncated")
	}
	fw := string(b[p : p+fwLen])
	return DeviceMetadataPayload{DeviceMetadata{
		Serial: serial, Firmware: fw, SessionID: sessionID, NStreams: nStreams,
	}}, nil
}
