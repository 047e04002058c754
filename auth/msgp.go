package auth

import "github.com/tinylib/msgp/msgp"

var (
	_ msgp.Marshaler   = (*Verdict)(nil)
	_ msgp.Unmarshaler = (*Verdict)(nil)
	_ msgp.Sizer       = (*Verdict)(nil)
)

// MarshalMsg appends the MessagePack encoding of v to b.
func (v *Verdict) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, v.Msgsize())
	o = msgp.AppendMapHeader(o, 8)
	o = msgp.AppendString(o, "dkim")
	o = msgp.AppendString(o, v.DKIM)
	o = msgp.AppendString(o, "spf")
	o = msgp.AppendString(o, v.SPF)
	o = msgp.AppendString(o, "dmarc_used")
	o = msgp.AppendBool(o, v.DMARCUsed)
	o = msgp.AppendString(o, "dmarc_policy")
	o = msgp.AppendString(o, v.DMARCPolicy)
	o = msgp.AppendString(o, "blocklisted")
	o = msgp.AppendBool(o, v.Blocklisted)
	o = msgp.AppendString(o, "block_reason")
	o = msgp.AppendString(o, v.BlockReason)
	o = msgp.AppendString(o, "passes")
	o = msgp.AppendInt(o, v.Passes)
	o = msgp.AppendString(o, "decision")
	o = msgp.AppendString(o, string(v.Decision))
	return o, nil
}

// UnmarshalMsg decodes v from b and returns the remaining bytes. Unknown
// keys are skipped.
func (v *Verdict) UnmarshalMsg(b []byte) ([]byte, error) {
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
		case "dkim":
			v.DKIM, b, err = msgp.ReadStringBytes(b)
		case "spf":
			v.SPF, b, err = msgp.ReadStringBytes(b)
		case "dmarc_used":
			v.DMARCUsed, b, err = msgp.ReadBoolBytes(b)
		case "dmarc_policy":
			v.DMARCPolicy, b, err = msgp.ReadStringBytes(b)
		case "blocklisted":
			v.Blocklisted, b, err = msgp.ReadBoolBytes(b)
		case "block_reason":
			v.BlockReason, b, err = msgp.ReadStringBytes(b)
		case "passes":
			v.Passes, b, err = msgp.ReadIntBytes(b)
		case "decision":
			var d string
			d, b, err = msgp.ReadStringBytes(b)
			v.Decision = Decision(d)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return b, msgp.WrapError(err, string(key))
		}
	}
	return b, nil
}

// Msgsize returns an upper bound on the encoded size of v.
func (v *Verdict) Msgsize() int {
	return msgp.MapHeaderSize +
		8*msgp.StringPrefixSize + len("dkimspfdmarc_useddmarc_policyblocklistedblock_reasonpassesdecision") +
		4*msgp.StringPrefixSize + len(v.DKIM) + len(v.SPF) + len(v.DMARCPolicy) + len(v.BlockReason) +
		msgp.StringPrefixSize + len(v.Decision) +
		2*msgp.BoolSize + msgp.IntSize
}
