package mail

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/Ambier/parameter-server/lib/node"
)

// --------------------------------------------------------------------------
// Flag Definition
// --------------------------------------------------------------------------

// Flag is a bit set describing the kind of a mail. A mail is either a push or
// a pull, and either a request or a reply. Replies additionally carry FlagOK
// unless the remote handler failed.
type Flag uint8

const (
	// FlagPush marks a mail as belonging to a push exchange.
	FlagPush Flag = 1 << iota
	// FlagPull marks a mail as belonging to a pull exchange.
	FlagPull
	// FlagReply marks a mail as the answer to a request.
	FlagReply
	// FlagOK marks a reply as successful.
	FlagOK
)

// Has returns true if all bits of f2 are set in f.
func (f Flag) Has(f2 Flag) bool {
	return f&f2 == f2
}

// IsRequest returns true if the mail is a request.
func (f Flag) IsRequest() bool {
	return !f.Has(FlagReply)
}

// IsReply returns true if the mail is a reply.
func (f Flag) IsReply() bool {
	return f.Has(FlagReply)
}

// String returns the string representation of a Flag, e.g. "push|reply|ok".
func (f Flag) String() string {
	if f == 0 {
		return "none"
	}

	var parts []string
	if f.Has(FlagPush) {
		parts = append(parts, "push")
	}
	if f.Has(FlagPull) {
		parts = append(parts, "pull")
	}
	if f.Has(FlagReply) {
		parts = append(parts, "reply")
	}
	if f.Has(FlagOK) {
		parts = append(parts, "ok")
	}
	return strings.Join(parts, "|")
}

// MarshalJSON implements the json.Marshaller interface for Flag.
// This allows Flag to be serialized as a string in JSON.
func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Flag.
// This allows Flag to be deserialized from a string in JSON.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	*f = 0
	if s == "none" {
		return nil
	}

	for _, part := range strings.Split(s, "|") {
		switch part {
		case "push":
			*f |= FlagPush
		case "pull":
			*f |= FlagPull
		case "reply":
			*f |= FlagReply
		case "ok":
			*f |= FlagOK
		default:
			return fmt.Errorf("unknown flag: %s", part)
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Key Range
// --------------------------------------------------------------------------

// KeyRange is a half-open interval [Begin, End) over the key space.
type KeyRange struct {
	Begin uint64 `json:"begin"`
	End   uint64 `json:"end"`
}

// WholeRange returns the range covering the entire key space.
func WholeRange() KeyRange {
	return KeyRange{Begin: 0, End: math.MaxUint64}
}

// Valid returns true if the range is well formed. The empty range is valid.
func (r KeyRange) Valid() bool {
	return r.Begin <= r.End
}

// Contains returns true if key k lies within the range.
func (r KeyRange) Contains(k uint64) bool {
	return k >= r.Begin && k < r.End
}

// Size returns the number of keys covered by the range.
func (r KeyRange) Size() uint64 {
	if !r.Valid() {
		return 0
	}
	return r.End - r.Begin
}

func (r KeyRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Begin, r.End)
}

// EvenDivide splits the range into n consecutive parts of near-equal size.
// Part i is assigned to the i-th member of the owning group, so every node
// must call this with the same range and n to agree on the assignment.
func (r KeyRange) EvenDivide(n int) []KeyRange {
	if n <= 0 || !r.Valid() {
		return nil
	}

	parts := make([]KeyRange, n)
	size := r.Size()
	begin := r.Begin
	for i := 0; i < n; i++ {
		// distribute the remainder over the first size%n parts
		step := size / uint64(n)
		if uint64(i) < size%uint64(n) {
			step++
		}
		parts[i] = KeyRange{Begin: begin, End: begin + step}
		begin += step
	}
	return parts
}

// CoveringRange returns the smallest range containing every key in keys.
// The keys must be sorted in ascending order.
func CoveringRange(keys []uint64) KeyRange {
	if len(keys) == 0 {
		return KeyRange{}
	}
	return KeyRange{Begin: keys[0], End: keys[len(keys)-1] + 1}
}

// --------------------------------------------------------------------------
// Mail Definition
// --------------------------------------------------------------------------

// Header carries the routing and bookkeeping metadata of a mail.
type Header struct {
	// Container identifies the container (and thereby the key/value shard)
	// this mail belongs to.
	Container uint64 `json:"container"`
	// Time is the logical timestamp the issuing container assigned to the
	// exchange. Replies echo the timestamp of their request.
	Time uint64 `json:"time"`
	// Sender is the node the mail originates from.
	Sender node.ID `json:"sender"`
	// Flags describe the kind of the mail.
	Flags Flag `json:"flags"`
	// Range is the key range the mail covers. Requests carry the covering
	// range of their keys, replies the range owned by the answering server.
	Range KeyRange `json:"range,omitempty"`
}

// Mail is the unit of exchange between containers. Keys and Vals hold the
// payload, where Vals is the opaque encoding of the typed values and its
// length is a multiple of len(Keys).
type Mail struct {
	Head Header   `json:"head"`
	Keys []uint64 `json:"keys,omitempty"`
	Vals []byte   `json:"vals,omitempty"`
	// Err transports a remote handler failure back to the issuer. It is only
	// set on replies that do not carry FlagOK.
	Err string `json:"err,omitempty"`
}

func (m *Mail) String() string {
	return fmt.Sprintf("mail{container=%d time=%d sender=%d flags=%s keys=%d vals=%dB}",
		m.Head.Container, m.Head.Time, m.Head.Sender, m.Head.Flags, len(m.Keys), len(m.Vals))
}

// --------------------------------------------------------------------------
// Mail Factories
// --------------------------------------------------------------------------

// NewPushRequest creates the mail a worker sends to deliver key/value pairs.
func NewPushRequest(container uint64, time uint64, sender node.ID, keys []uint64, vals []byte) *Mail {
	return &Mail{
		Head: Header{
			Container: container,
			Time:      time,
			Sender:    sender,
			Flags:     FlagPush,
			Range:     CoveringRange(keys),
		},
		Keys: keys,
		Vals: vals,
	}
}

// NewPullRequest creates the mail a worker sends to request values for keys.
func NewPullRequest(container uint64, time uint64, sender node.ID, keys []uint64) *Mail {
	return &Mail{
		Head: Header{
			Container: container,
			Time:      time,
			Sender:    sender,
			Flags:     FlagPull,
			Range:     CoveringRange(keys),
		},
		Keys: keys,
	}
}

// NewPushAck creates the reply a server sends after merging a push request.
func NewPushAck(req *Header, sender node.ID, owned KeyRange) *Mail {
	return &Mail{
		Head: Header{
			Container: req.Container,
			Time:      req.Time,
			Sender:    sender,
			Flags:     FlagPush | FlagReply | FlagOK,
			Range:     owned,
		},
	}
}

// NewPullReply creates the reply a server sends to answer a pull request.
// Keys must be the subset of the requested keys the server owns, and vals
// their encoded values.
func NewPullReply(req *Header, sender node.ID, owned KeyRange, keys []uint64, vals []byte) *Mail {
	return &Mail{
		Head: Header{
			Container: req.Container,
			Time:      req.Time,
			Sender:    sender,
			Flags:     FlagPull | FlagReply | FlagOK,
			Range:     owned,
		},
		Keys: keys,
		Vals: vals,
	}
}

// NewErrorReply creates the reply a server sends when processing a request
// failed. The reply keeps the direction flag of the request but not FlagOK.
func NewErrorReply(req *Header, sender node.ID, err error) *Mail {
	m := &Mail{
		Head: Header{
			Container: req.Container,
			Time:      req.Time,
			Sender:    sender,
			Flags:     (req.Flags & (FlagPush | FlagPull)) | FlagReply,
		},
	}
	if err != nil {
		m.Err = err.Error()
	}
	return m
}
