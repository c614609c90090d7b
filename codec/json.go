package codec

import (
	"errors"

	jsoniter "github.com/json-iterator/go"

	"spanhub/span"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonDecoder struct{}

func (jsonDecoder) Name() string { return "JSON_V2" }

func (jsonDecoder) DecodeList(b []byte) ([]span.Span, error) {
	var spans []span.Span
	if err := json.Unmarshal(b, &spans); err != nil {
		return nil, err
	}
	for i := range spans {
		if spans[i].TraceID == "" || spans[i].ID == "" {
			return nil, errors.New("traceId and id are required")
		}
		spans[i].Normalize()
	}
	return spans, nil
}

// EncodeJSON writes spans as a JSON v2 list, the format sinks forward.
func EncodeJSON(spans []span.Span) ([]byte, error) {
	if spans == nil {
		spans = []span.Span{}
	}
	return json.Marshal(spans)
}
