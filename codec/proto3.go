package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"spanhub/span"
)

// zipkin2 proto3 field numbers.
const (
	listSpans protowire.Number = 1

	pbTraceID        protowire.Number = 1
	pbParentID       protowire.Number = 2
	pbID             protowire.Number = 3
	pbKind           protowire.Number = 4
	pbName           protowire.Number = 5
	pbTimestamp      protowire.Number = 6
	pbDuration       protowire.Number = 7
	pbLocalEndpoint  protowire.Number = 8
	pbRemoteEndpoint protowire.Number = 9
	pbAnnotations    protowire.Number = 10
	pbTags           protowire.Number = 11
	pbDebug          protowire.Number = 12
	pbShared         protowire.Number = 13

	pbEndpointServiceName protowire.Number = 1
	pbEndpointIPv4        protowire.Number = 2
	pbEndpointIPv6        protowire.Number = 3
	pbEndpointPort        protowire.Number = 4

	pbAnnotationTimestamp protowire.Number = 1
	pbAnnotationValue     protowire.Number = 2
)

var pbKinds = map[uint64]span.Kind{
	1: span.KindClient,
	2: span.KindServer,
	3: span.KindProducer,
	4: span.KindConsumer,
}

type proto3Decoder struct{}

func (proto3Decoder) Name() string { return "PROTO3" }

func (proto3Decoder) DecodeList(b []byte) ([]span.Span, error) {
	var out []span.Span
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != listSpans || typ != protowire.BytesType {
			return skip(num, typ, v)
		}
		msg, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n, nil
		}
		s, err := decodeProtoSpan(msg)
		if err != nil {
			return 0, fmt.Errorf("span %d: %w", len(out), err)
		}
		out = append(out, s)
		return n, nil
	})
	return out, err
}

func decodeProtoSpan(b []byte) (span.Span, error) {
	var s span.Span
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case typ == protowire.BytesType && (num == pbTraceID || num == pbParentID || num == pbID):
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			id, err := span.IDFromBytes(raw)
			if err != nil {
				return 0, err
			}
			switch num {
			case pbTraceID:
				s.TraceID = id
			case pbParentID:
				s.ParentID = id
			default:
				s.ID = id
			}
			return n, nil
		case num == pbKind && typ == protowire.VarintType:
			k, n := protowire.ConsumeVarint(v)
			s.Kind = pbKinds[k]
			return n, nil
		case num == pbName && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			s.Name = string(raw)
			return n, nil
		case num == pbTimestamp && typ == protowire.Fixed64Type:
			ts, n := protowire.ConsumeFixed64(v)
			s.Timestamp = int64(ts)
			return n, nil
		case num == pbDuration && typ == protowire.VarintType:
			d, n := protowire.ConsumeVarint(v)
			s.Duration = int64(d)
			return n, nil
		case (num == pbLocalEndpoint || num == pbRemoteEndpoint) && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			e, err := decodeProtoEndpoint(raw)
			if err != nil {
				return 0, err
			}
			if num == pbLocalEndpoint {
				s.LocalEndpoint = e
			} else {
				s.RemoteEndpoint = e
			}
			return n, nil
		case num == pbAnnotations && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			a, err := decodeProtoAnnotation(raw)
			if err != nil {
				return 0, err
			}
			s.Annotations = append(s.Annotations, a)
			return n, nil
		case num == pbTags && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			k, val, err := decodeMapEntry(raw)
			if err != nil {
				return 0, err
			}
			if s.Tags == nil {
				s.Tags = make(map[string]string)
			}
			s.Tags[k] = val
			return n, nil
		case (num == pbDebug || num == pbShared) && typ == protowire.VarintType:
			flag, n := protowire.ConsumeVarint(v)
			if num == pbDebug {
				s.Debug = flag != 0
			} else {
				s.Shared = flag != 0
			}
			return n, nil
		}
		return skip(num, typ, v)
	})
	if err != nil {
		return span.Span{}, err
	}
	if s.TraceID == "" || s.ID == "" {
		return span.Span{}, errors.New("trace_id and id are required")
	}
	s.Normalize()
	return s, nil
}

func decodeProtoEndpoint(b []byte) (*span.Endpoint, error) {
	var e span.Endpoint
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == pbEndpointServiceName && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			e.ServiceName = string(raw)
			return n, nil
		case (num == pbEndpointIPv4 || num == pbEndpointIPv6) && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if num == pbEndpointIPv4 {
				e.IPv4 = span.IPFromBytes(raw)
			} else {
				e.IPv6 = span.IPFromBytes(raw)
			}
			return n, nil
		case num == pbEndpointPort && typ == protowire.VarintType:
			p, n := protowire.ConsumeVarint(v)
			e.Port = int(p)
			return n, nil
		}
		return skip(num, typ, v)
	})
	return &e, err
}

func decodeProtoAnnotation(b []byte) (span.Annotation, error) {
	var a span.Annotation
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == pbAnnotationTimestamp && typ == protowire.Fixed64Type:
			ts, n := protowire.ConsumeFixed64(v)
			a.Timestamp = int64(ts)
			return n, nil
		case num == pbAnnotationValue && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			a.Value = string(raw)
			return n, nil
		}
		return skip(num, typ, v)
	})
	return a, err
}

func decodeMapEntry(b []byte) (key, value string, err error) {
	err = eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.BytesType || (num != 1 && num != 2) {
			return skip(num, typ, v)
		}
		raw, n := protowire.ConsumeBytes(v)
		if num == 1 {
			key = string(raw)
		} else {
			value = string(raw)
		}
		return n, nil
	})
	return key, value, err
}

// eachField calls fn with the remainder of b positioned at each field value.
// fn returns how many bytes it consumed, or a negative protowire error code.
func eachField(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
	return protowire.ConsumeFieldValue(num, typ, v), nil
}
