package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"spanhub/span"
)

// Field names that only one of the two JSON models carries.
var (
	v1OnlyFields = [][]byte{[]byte(`"binaryAnnotations"`), []byte(`"endpoint"`)}
	v2OnlyFields = [][]byte{[]byte(`"localEndpoint"`), []byte(`"remoteEndpoint"`), []byte(`"kind"`), []byte(`"tags"`), []byte(`"shared"`)}
)

// isJSONv1 tells a zipkin v1 list from a v2 one. Lists that carry neither
// model's marker decode the same either way and are read as v2.
func isJSONv1(b []byte) bool {
	if bytes.Contains(b, v1OnlyFields[0]) {
		return true
	}
	for _, f := range v2OnlyFields {
		if bytes.Contains(b, f) {
			return false
		}
	}
	return bytes.Contains(b, v1OnlyFields[1])
}

type jsonV1Annotation struct {
	Timestamp int64          `json:"timestamp"`
	Value     string         `json:"value"`
	Endpoint  *span.Endpoint `json:"endpoint"`
}

type jsonV1BinaryAnnotation struct {
	Key      string              `json:"key"`
	Value    jsoniter.RawMessage `json:"value"`
	Endpoint *span.Endpoint      `json:"endpoint"`
}

type jsonV1Span struct {
	TraceID           string                   `json:"traceId"`
	ID                string                   `json:"id"`
	ParentID          string                   `json:"parentId"`
	Name              string                   `json:"name"`
	Timestamp         int64                    `json:"timestamp"`
	Duration          int64                    `json:"duration"`
	Debug             bool                     `json:"debug"`
	Annotations       []jsonV1Annotation       `json:"annotations"`
	BinaryAnnotations []jsonV1BinaryAnnotation `json:"binaryAnnotations"`
}

type jsonV1Decoder struct{}

func (jsonV1Decoder) Name() string { return "JSON_V1" }

func (jsonV1Decoder) DecodeList(b []byte) ([]span.Span, error) {
	var in []jsonV1Span
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	out := make([]span.Span, 0, len(in))
	for i := range in {
		v, err := in[i].toV1()
		if err != nil {
			return nil, fmt.Errorf("span %d: %w", i, err)
		}
		out = append(out, v.toV2())
	}
	return out, nil
}

func (s *jsonV1Span) toV1() (*v1Span, error) {
	if s.TraceID == "" || s.ID == "" {
		return nil, errors.New("traceId and id are required")
	}
	v := &v1Span{
		name:      s.Name,
		timestamp: s.Timestamp,
		duration:  s.Duration,
		debug:     s.Debug,
	}
	var err error
	if v.traceIDHigh, v.traceID, err = parseTraceID(s.TraceID); err != nil {
		return nil, err
	}
	if v.id, err = parseID(s.ID); err != nil {
		return nil, err
	}
	if s.ParentID != "" {
		if v.parentID, err = parseID(s.ParentID); err != nil {
			return nil, err
		}
	}
	for _, a := range s.Annotations {
		v.annotations = append(v.annotations, v1Annotation{timestamp: a.Timestamp, value: a.Value, host: a.Endpoint})
	}
	for _, a := range s.BinaryAnnotations {
		ba := v1BinaryAnnotation{key: a.Key, host: a.Endpoint}
		switch raw := bytes.TrimSpace(a.Value); {
		case bytes.Equal(raw, []byte("true")):
			ba.typ = annotationTypeBool
			ba.value = []byte{1}
		case bytes.Equal(raw, []byte("false")):
			continue
		case len(raw) > 0 && raw[0] == '"':
			var str string
			if err := json.Unmarshal(raw, &str); err != nil {
				return nil, fmt.Errorf("binary annotation %q: %w", a.Key, err)
			}
			ba.typ, ba.value = annotationTypeString, []byte(str)
		default:
			// numbers keep their literal text as the tag value
			ba.typ, ba.value = annotationTypeString, raw
		}
		v.binaryAnnotations = append(v.binaryAnnotations, ba)
	}
	return v, nil
}

func parseTraceID(s string) (high, low uint64, err error) {
	if len(s) > 16 {
		if high, err = parseID(s[:len(s)-16]); err != nil {
			return 0, 0, err
		}
		s = s[len(s)-16:]
	}
	low, err = parseID(s)
	return high, low, err
}

func parseID(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return v, nil
}
