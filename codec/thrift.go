package codec

import (
	"context"
	"fmt"

	"github.com/apache/thrift/lib/go/thrift"

	"spanhub/span"
)

// zipkincore.thrift field ids.
const (
	spanTraceID      = 1
	spanName         = 3
	spanID           = 4
	spanParentID     = 5
	spanAnnotations  = 6
	spanBinaryAnnots = 8
	spanDebug        = 9
	spanTimestamp    = 10
	spanDuration     = 11
	spanTraceIDHigh  = 12

	annotTimestamp = 1
	annotValue     = 2
	annotHost      = 3

	binAnnotKey   = 1
	binAnnotValue = 2
	binAnnotType  = 3
	binAnnotHost  = 4

	endpointIPv4        = 1
	endpointPort        = 2
	endpointServiceName = 3
	endpointIPv6        = 4

	annotationTypeBool   = 0
	annotationTypeString = 6
)

type thriftDecoder struct {
	list bool
}

func (d thriftDecoder) Name() string {
	if d.list {
		return "THRIFT"
	}
	return "THRIFT_SINGLE"
}

func (d thriftDecoder) DecodeList(b []byte) ([]span.Span, error) {
	ctx := context.Background()
	buf := thrift.NewTMemoryBufferLen(len(b))
	if _, err := buf.Write(b); err != nil {
		return nil, err
	}
	p := thrift.NewTBinaryProtocolConf(buf, nil)

	if !d.list {
		s, err := readSpan(ctx, p)
		if err != nil {
			return nil, err
		}
		return []span.Span{s}, nil
	}

	elem, size, err := p.ReadListBegin(ctx)
	if err != nil {
		return nil, err
	}
	if elem != thrift.STRUCT {
		return nil, fmt.Errorf("expected list of structs, got element type %v", elem)
	}
	out := make([]span.Span, 0, size)
	for i := 0; i < size; i++ {
		s, err := readSpan(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("span %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, p.ReadListEnd(ctx)
}

type v1Annotation struct {
	timestamp int64
	value     string
	host      *span.Endpoint
}

type v1BinaryAnnotation struct {
	key   string
	value []byte
	typ   int32
	host  *span.Endpoint
}

type v1Span struct {
	traceIDHigh, traceID, id, parentID uint64
	name                               string
	timestamp, duration                int64
	debug                              bool
	annotations                        []v1Annotation
	binaryAnnotations                  []v1BinaryAnnotation
}

func readSpan(ctx context.Context, p thrift.TProtocol) (span.Span, error) {
	var v v1Span
	err := readStruct(ctx, p, func(id int16, typ thrift.TType) (bool, error) {
		var err error
		switch {
		case id == spanTraceID && typ == thrift.I64:
			v.traceID, err = readU64(ctx, p)
		case id == spanTraceIDHigh && typ == thrift.I64:
			v.traceIDHigh, err = readU64(ctx, p)
		case id == spanName && typ == thrift.STRING:
			v.name, err = p.ReadString(ctx)
		case id == spanID && typ == thrift.I64:
			v.id, err = readU64(ctx, p)
		case id == spanParentID && typ == thrift.I64:
			v.parentID, err = readU64(ctx, p)
		case id == spanDebug && typ == thrift.BOOL:
			v.debug, err = p.ReadBool(ctx)
		case id == spanTimestamp && typ == thrift.I64:
			v.timestamp, err = p.ReadI64(ctx)
		case id == spanDuration && typ == thrift.I64:
			v.duration, err = p.ReadI64(ctx)
		case id == spanAnnotations && typ == thrift.LIST:
			err = readStructList(ctx, p, func() error {
				a, err := readAnnotation(ctx, p)
				v.annotations = append(v.annotations, a)
				return err
			})
		case id == spanBinaryAnnots && typ == thrift.LIST:
			err = readStructList(ctx, p, func() error {
				a, err := readBinaryAnnotation(ctx, p)
				v.binaryAnnotations = append(v.binaryAnnotations, a)
				return err
			})
		default:
			return false, nil
		}
		return true, err
	})
	if err != nil {
		return span.Span{}, err
	}
	if v.traceID == 0 || v.id == 0 {
		return span.Span{}, fmt.Errorf("trace_id and id are required")
	}
	return v.toV2(), nil
}

func readAnnotation(ctx context.Context, p thrift.TProtocol) (v1Annotation, error) {
	var a v1Annotation
	err := readStruct(ctx, p, func(id int16, typ thrift.TType) (bool, error) {
		var err error
		switch {
		case id == annotTimestamp && typ == thrift.I64:
			a.timestamp, err = p.ReadI64(ctx)
		case id == annotValue && typ == thrift.STRING:
			a.value, err = p.ReadString(ctx)
		case id == annotHost && typ == thrift.STRUCT:
			a.host, err = readEndpoint(ctx, p)
		default:
			return false, nil
		}
		return true, err
	})
	return a, err
}

func readBinaryAnnotation(ctx context.Context, p thrift.TProtocol) (v1BinaryAnnotation, error) {
	var a v1BinaryAnnotation
	err := readStruct(ctx, p, func(id int16, typ thrift.TType) (bool, error) {
		var err error
		switch {
		case id == binAnnotKey && typ == thrift.STRING:
			a.key, err = p.ReadString(ctx)
		case id == binAnnotValue && typ == thrift.STRING:
			a.value, err = p.ReadBinary(ctx)
		case id == binAnnotType && typ == thrift.I32:
			a.typ, err = p.ReadI32(ctx)
		case id == binAnnotHost && typ == thrift.STRUCT:
			a.host, err = readEndpoint(ctx, p)
		default:
			return false, nil
		}
		return true, err
	})
	return a, err
}

func readEndpoint(ctx context.Context, p thrift.TProtocol) (*span.Endpoint, error) {
	var e span.Endpoint
	err := readStruct(ctx, p, func(id int16, typ thrift.TType) (bool, error) {
		switch {
		case id == endpointIPv4 && typ == thrift.I32:
			v, err := p.ReadI32(ctx)
			e.IPv4 = span.IPv4FromInt32(v)
			return true, err
		case id == endpointPort && typ == thrift.I16:
			v, err := p.ReadI16(ctx)
			e.Port = int(uint16(v))
			return true, err
		case id == endpointServiceName && typ == thrift.STRING:
			v, err := p.ReadString(ctx)
			e.ServiceName = v
			return true, err
		case id == endpointIPv6 && typ == thrift.STRING:
			v, err := p.ReadBinary(ctx)
			e.IPv6 = span.IPFromBytes(v)
			return true, err
		}
		return false, nil
	})
	return &e, err
}

// readStruct walks the fields of one struct. field reports whether it consumed
// the value; unconsumed fields are skipped.
func readStruct(ctx context.Context, p thrift.TProtocol, field func(id int16, typ thrift.TType) (bool, error)) error {
	if _, err := p.ReadStructBegin(ctx); err != nil {
		return err
	}
	for {
		_, typ, id, err := p.ReadFieldBegin(ctx)
		if err != nil {
			return err
		}
		if typ == thrift.STOP {
			break
		}
		ok, err := field(id, typ)
		if err != nil {
			return err
		}
		if !ok {
			if err := p.Skip(ctx, typ); err != nil {
				return err
			}
		}
		if err := p.ReadFieldEnd(ctx); err != nil {
			return err
		}
	}
	return p.ReadStructEnd(ctx)
}

func readStructList(ctx context.Context, p thrift.TProtocol, elem func() error) error {
	typ, size, err := p.ReadListBegin(ctx)
	if err != nil {
		return err
	}
	if typ != thrift.STRUCT {
		return fmt.Errorf("expected list of structs, got element type %v", typ)
	}
	for i := 0; i < size; i++ {
		if err := elem(); err != nil {
			return err
		}
	}
	return p.ReadListEnd(ctx)
}

func readU64(ctx context.Context, p thrift.TProtocol) (uint64, error) {
	v, err := p.ReadI64(ctx)
	return uint64(v), err
}

// toV2 converts the v1 model: core annotations become the span kind and local
// endpoint, address annotations the remote endpoint, string binary
// annotations the tags.
func (v *v1Span) toV2() span.Span {
	s := span.Span{
		TraceID:   span.TraceID(v.traceIDHigh, v.traceID),
		ID:        span.IDFromUint64(v.id),
		Name:      v.name,
		Timestamp: v.timestamp,
		Duration:  v.duration,
		Debug:     v.debug,
	}
	if v.parentID != 0 {
		s.ParentID = span.IDFromUint64(v.parentID)
	}

	var begin, end *v1Annotation
	for i := range v.annotations {
		a := &v.annotations[i]
		kind, isBegin, core := coreAnnotation(a.value)
		if !core {
			if s.LocalEndpoint == nil && a.host != nil {
				s.LocalEndpoint = a.host
			}
			s.Annotations = append(s.Annotations, span.Annotation{Timestamp: a.timestamp, Value: a.value})
			continue
		}
		s.Kind = kind
		if a.host != nil {
			s.LocalEndpoint = a.host
		}
		if isBegin {
			begin = a
		} else {
			end = a
		}
	}
	if s.Timestamp == 0 && begin != nil {
		s.Timestamp = begin.timestamp
	}
	if s.Duration == 0 && begin != nil && end != nil {
		s.Duration = end.timestamp - begin.timestamp
	}
	if s.Kind == span.KindServer && begin == nil && end != nil {
		s.Shared = true
	}

	for _, b := range v.binaryAnnotations {
		switch {
		case b.typ == annotationTypeBool && (b.key == "ca" || b.key == "sa" || b.key == "ma"):
			if b.host != nil {
				s.RemoteEndpoint = b.host
			}
		case b.typ == annotationTypeString:
			if s.Tags == nil {
				s.Tags = make(map[string]string)
			}
			s.Tags[b.key] = string(b.value)
			if s.LocalEndpoint == nil && b.host != nil {
				s.LocalEndpoint = b.host
			}
		}
	}
	s.Normalize()
	return s
}

func coreAnnotation(value string) (kind span.Kind, begin, ok bool) {
	switch value {
	case "cs":
		return span.KindClient, true, true
	case "cr":
		return span.KindClient, false, true
	case "sr":
		return span.KindServer, true, true
	case "ss":
		return span.KindServer, false, true
	case "ms":
		return span.KindProducer, true, true
	case "mr":
		return span.KindConsumer, true, true
	}
	return span.KindUnset, false, false
}
