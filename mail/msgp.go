package mail

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/synqronlabs/courier/wire"
)

var (
	_ msgp.Marshaler   = (*Message)(nil)
	_ msgp.Unmarshaler = (*Message)(nil)
	_ msgp.Sizer       = (*Message)(nil)
)

// MarshalMsg appends the MessagePack encoding of m to b. Header order is
// preserved; the codec is stored by name.
func (m *Message) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, m.Msgsize())
	o = msgp.AppendMapHeader(o, 4)
	o = msgp.AppendString(o, "id")
	o = msgp.AppendString(o, m.ID)
	o = msgp.AppendString(o, "h")
	o = msgp.AppendArrayHeader(o, uint32(len(m.Header)))
	for _, f := range m.Header {
		o = msgp.AppendArrayHeader(o, 2)
		o = msgp.AppendString(o, f.Key)
		o = msgp.AppendString(o, f.Value)
	}
	o = msgp.AppendString(o, "b")
	o = msgp.AppendBytes(o, m.Body)
	o = msgp.AppendString(o, "c")
	o = msgp.AppendString(o, m.codec().Name())
	return o, nil
}

// UnmarshalMsg decodes m from b and returns the remaining bytes. Unknown
// keys are skipped.
func (m *Message) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return b, msgp.WrapError(err)
	}
	var key []byte
	for ; n > 0; n-- {
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return b, msgp.WrapError(err)
		}
		switch string(key) {
		case "id":
			m.ID, b, err = msgp.ReadStringBytes(b)
			if err != nil {
				return b, msgp.WrapError(err, "ID")
			}
		case "h":
			var count uint32
			count, b, err = msgp.ReadArrayHeaderBytes(b)
			if err != nil {
				return b, msgp.WrapError(err, "Header")
			}
			m.Header = make(Header, count)
			for i := range m.Header {
				b, err = readField(b, &m.Header[i])
				if err != nil {
					return b, msgp.WrapError(err, "Header", i)
				}
			}
		case "b":
			m.Body, b, err = msgp.ReadBytesBytes(b, m.Body[:0])
			if err != nil {
				return b, msgp.WrapError(err, "Body")
			}
		case "c":
			var name string
			name, b, err = msgp.ReadStringBytes(b)
			if err != nil {
				return b, msgp.WrapError(err, "Codec")
			}
			codec, ok := LookupCodec(name)
			if !ok {
				return b, msgp.WrapError(ErrUnknownCodec, "Codec")
			}
			m.Codec = codec
		default:
			b, err = msgp.Skip(b)
			if err != nil {
				return b, msgp.WrapError(err)
			}
		}
	}
	return b, nil
}

func readField(b []byte, f *wire.Field) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if n != 2 {
		return b, msgp.ArrayError{Wanted: 2, Got: n}
	}
	if f.Key, b, err = msgp.ReadStringBytes(b); err != nil {
		return b, err
	}
	f.Value, b, err = msgp.ReadStringBytes(b)
	return b, err
}

// Msgsize returns an upper bound on the encoded size of m.
func (m *Message) Msgsize() int {
	s := msgp.MapHeaderSize +
		msgp.StringPrefixSize + 2 + msgp.StringPrefixSize + len(m.ID) +
		msgp.StringPrefixSize + 1 + msgp.ArrayHeaderSize +
		msgp.StringPrefixSize + 1 + msgp.BytesPrefixSize + len(m.Body) +
		msgp.StringPrefixSize + 1 + msgp.StringPrefixSize + len(m.codec().Name())
	for _, f := range m.Header {
		s += msgp.ArrayHeaderSize + 2*msgp.StringPrefixSize + len(f.Key) + len(f.Value)
	}
	return s
}
