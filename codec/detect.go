// Package codec decodes span payloads read from the hub. The wire format is
// sniffed from the first byte of each message, so producers can mix formats
// on the same partition.
package codec

import (
	"fmt"

	"github.com/zeebo/errs"

	"spanhub/span"
)

// Error is the class of all decode failures.
var Error = errs.Class("span decode")

const (
	jsonListOpen    = '['
	thriftStructTag = 0x0c // TType.STRUCT: header byte of a thrift list of spans
	proto3ListTag   = 0x0a // field 1, length-delimited: ListOfSpans.spans
)

// Decoder turns one message payload into zero or more spans.
type Decoder interface {
	Name() string
	DecodeList(b []byte) ([]span.Span, error)
}

var (
	JSONv1       Decoder = jsonV1Decoder{}
	JSONv2       Decoder = jsonDecoder{}
	ThriftList   Decoder = thriftDecoder{list: true}
	ThriftSingle Decoder = thriftDecoder{}
	Proto3       Decoder = proto3Decoder{}
)

// DetectList picks the decoder for a message that may hold a list of spans.
//
// A thrift span struct also starts with 0x0a (its i64 trace_id field), but the
// next byte is the high byte of the field id and so always zero, while in a
// proto3 list it is the non-zero length of the first span.
func DetectList(b []byte) (Decoder, error) {
	if len(b) == 0 {
		return nil, Error.New("empty message")
	}
	switch b[0] {
	case jsonListOpen:
		if isJSONv1(b) {
			return JSONv1, nil
		}
		return JSONv2, nil
	case thriftStructTag:
		return ThriftList, nil
	case proto3ListTag:
		if len(b) > 1 && b[1] != 0 {
			return Proto3, nil
		}
	}
	return ThriftSingle, nil
}

// DecodeList detects the format of b and decodes it.
func DecodeList(b []byte) ([]span.Span, error) {
	d, err := DetectList(b)
	if err != nil {
		return nil, err
	}
	spans, err := d.DecodeList(b)
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("%s: %w", d.Name(), err))
	}
	return spans, nil
}
