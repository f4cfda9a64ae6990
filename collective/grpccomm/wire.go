package grpccomm

import (
	"bytes"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ExchangeRequest is the contribution of one rank to a collective call.
//
// Protobuf wire format:
//
//	message ExchangeRequest {
//	  int64 rank = 1;
//	  string op = 2;               // optypes.OpType.WireName()
//	  int32 dtype = 3;             // dtypes.DType
//	  repeated int64 counts = 4;   // packed, bytes
//	  repeated int64 offsets = 5;  // packed, bytes
//	  bytes data = 6;
//	}
type ExchangeRequest struct {
	Rank            int
	Op              string
	DType           int
	Counts, Offsets []int
	Data            []byte
}

// ExchangeResponse is the result of a collective call, the same for every rank.
//
//	message ExchangeResponse {
//	  bytes data = 1;
//	  string session = 2;  // Coordinator.Session()
//	}
type ExchangeResponse struct {
	Data    []byte
	Session string
}

// message is implemented by the types exchanged with the coordinator.
// Decoded byte fields are copied: the rendezvous holds on to them beyond the decoding buffer's lifetime.
type message interface {
	marshal() []byte
	unmarshal(b []byte) error
}

func appendPacked(b []byte, num protowire.Number, values []int) []byte {
	if len(values) == 0 {
		return b
	}
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// consumeRepeated decodes one occurrence of a repeated int64 field, packed or not.
func consumeRepeated(b []byte, typ protowire.Type, values []int) ([]int, int, error) {
	if typ == protowire.VarintType {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, 0, protowire.ParseError(n)
		}
		return append(values, int(int64(v))), n, nil
	}
	if typ != protowire.BytesType {
		return nil, 0, errors.Errorf("invalid wire type %d for a repeated int64", typ)
	}
	packed, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	for len(packed) > 0 {
		v, m := protowire.ConsumeVarint(packed)
		if m < 0 {
			return nil, 0, protowire.ParseError(m)
		}
		values = append(values, int(int64(v)))
		packed = packed[m:]
	}
	return values, n, nil
}

func (r *ExchangeRequest) marshal() []byte {
	b := make([]byte, 0, len(r.Data)+16*(len(r.Counts)+2))
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Rank))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, r.Op)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.DType))
	b = appendPacked(b, 4, r.Counts)
	b = appendPacked(b, 5, r.Offsets)
	if len(r.Data) > 0 {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Data)
	}
	return b
}

func (r *ExchangeRequest) unmarshal(b []byte) error {
	*r = ExchangeRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "ExchangeRequest")
		}
		b = b[n:]
		var err error
		switch {
		case num == 1 && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.Rank = int(int64(v))
		case num == 2 && typ == protowire.BytesType:
			r.Op, n = protowire.ConsumeString(b)
		case num == 3 && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			r.DType = int(int64(v))
		case num == 4:
			r.Counts, n, err = consumeRepeated(b, typ, r.Counts)
		case num == 5:
			r.Offsets, n, err = consumeRepeated(b, typ, r.Offsets)
		case num == 6 && typ == protowire.BytesType:
			var data []byte
			data, n = protowire.ConsumeBytes(b)
			r.Data = bytes.Clone(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if err != nil {
			return errors.Wrapf(err, "ExchangeRequest field %d", num)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "ExchangeRequest field %d", num)
		}
		b = b[n:]
	}
	return nil
}

func (r *ExchangeResponse) marshal() []byte {
	b := make([]byte, 0, len(r.Data)+len(r.Session)+16)
	if len(r.Data) > 0 {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Data)
	}
	if r.Session != "" {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendString(b, r.Session)
	}
	return b
}

func (r *ExchangeResponse) unmarshal(b []byte) error {
	*r = ExchangeResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "ExchangeResponse")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			var data []byte
			data, n = protowire.ConsumeBytes(b)
			r.Data = bytes.Clone(data)
		case num == 2 && typ == protowire.BytesType:
			r.Session, n = protowire.ConsumeString(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return errors.Wrapf(protowire.ParseError(n), "ExchangeResponse field %d", num)
		}
		b = b[n:]
	}
	return nil
}

// codec implements the gRPC encoding.Codec for the coordinator messages.
type codec struct{}

// Name implements encoding.Codec.
func (codec) Name() string { return "distop-proto" }

// Marshal implements encoding.Codec.
func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(message)
	if !ok {
		return nil, errors.Errorf("grpccomm codec cannot marshal %T", v)
	}
	return m.marshal(), nil
}

// Unmarshal implements encoding.Codec.
func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(message)
	if !ok {
		return errors.Errorf("grpccomm codec cannot unmarshal into %T", v)
	}
	return m.unmarshal(data)
}
