package serializer

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Ambier/parameter-server/lib/mail"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"GOB":    NewGOBSerializer,
	"Binary": NewBinarySerializer,
}

// testMails creates a set of test mails with different fields filled
func testMails() []*mail.Mail {
	pushReq := mail.NewPushRequest(3, 7, 11, []uint64{1, 42},
		[]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})
	pullReq := mail.NewPullRequest(3, 8, 11, []uint64{5, 9})

	return []*mail.Mail{
		// Basic mail with just a header
		{Head: mail.Header{Container: 1, Time: 4, Sender: 2, Flags: mail.FlagPush}},

		// Push request
		pushReq,

		// Pull request
		pullReq,

		// Push acknowledgement
		mail.NewPushAck(&pushReq.Head, 20, mail.KeyRange{Begin: 0, End: 100}),

		// Pull reply with values
		mail.NewPullReply(&pullReq.Head, 20, mail.KeyRange{Begin: 0, End: 100},
			[]uint64{5}, []byte{9, 9, 9, 9, 9, 9, 9, 9}),

		// Error reply
		mail.NewErrorReply(&pullReq.Head, 20, errors.New("test error message")),
	}
}

// TestSerializerRoundTrip tests that mails can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	mails := testMails()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, m := range mails {
				// Serialize
				data, err := serializer.Serialize(m)
				if err != nil {
					t.Errorf("Failed to serialize mail %d: %v", i, err)
					continue
				}

				// Deserialize
				var result mail.Mail
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize mail %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(*m, result) {
					t.Errorf("Mail %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, *m, result)
				}
			}
		})
	}
}

// TestMailFlags tests the canonical flag combinations with each serializer
func TestMailFlags(t *testing.T) {
	flagSets := []mail.Flag{
		mail.FlagPush,
		mail.FlagPull,
		mail.FlagPush | mail.FlagReply | mail.FlagOK,
		mail.FlagPull | mail.FlagReply | mail.FlagOK,
		mail.FlagPush | mail.FlagReply,
		mail.FlagPull | mail.FlagReply,
	}

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for _, flags := range flagSets {
				m := &mail.Mail{Head: mail.Header{Container: 1, Time: 1, Sender: 1, Flags: flags}}

				// Serialize
				data, err := serializer.Serialize(m)
				if err != nil {
					t.Errorf("Failed to serialize flags %s: %v", flags, err)
					continue
				}

				// Deserialize
				var result mail.Mail
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize flags %s: %v", flags, err)
					continue
				}

				// Check flags
				if result.Head.Flags != flags {
					t.Errorf("Flags don't match after round trip: Expected %s, got %s",
						flags, result.Head.Flags)
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	// Test cases for empty or zero values
	testCases := []struct {
		name string
		m    mail.Mail
	}{
		{
			name: "Empty mail",
			m:    mail.Mail{},
		},
		{
			name: "Empty key slice but not nil",
			m: mail.Mail{
				Head: mail.Header{Container: 1, Time: 2, Sender: 3, Flags: mail.FlagPull},
				Keys: []uint64{},
			},
		},
		{
			name: "Empty value slice but not nil",
			m: mail.Mail{
				Head: mail.Header{Container: 1, Time: 2, Sender: 3, Flags: mail.FlagPush},
				Keys: []uint64{4},
				Vals: []byte{},
			},
		},
		{
			name: "Whole key range",
			m: mail.Mail{
				Head: mail.Header{
					Container: 1, Time: 2, Sender: 3,
					Flags: mail.FlagPull | mail.FlagReply | mail.FlagOK,
					Range: mail.WholeRange(),
				},
			},
		},
		{
			name: "Error without payload",
			m: mail.Mail{
				Head: mail.Header{Container: 1, Time: 2, Sender: 3, Flags: mail.FlagPush | mail.FlagReply},
				Err:  "merge failed",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Serialize
			data, err := serializer.Serialize(&tc.m)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			// Deserialize
			var result mail.Mail
			err = serializer.Deserialize(data, &result)
			if err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// Verify header
			if tc.m.Head != result.Head {
				t.Errorf("Header mismatch: expected %+v, got %+v", tc.m.Head, result.Head)
			}

			// Verify Err
			if tc.m.Err != result.Err {
				t.Errorf("Err mismatch: expected %q, got %q", tc.m.Err, result.Err)
			}

			// Keys must keep their nil/non-nil distinction
			if (tc.m.Keys == nil) != (result.Keys == nil) {
				t.Errorf("Keys nil/non-nil mismatch: expected %v, got %v", tc.m.Keys, result.Keys)
			} else if !reflect.DeepEqual(tc.m.Keys, result.Keys) {
				t.Errorf("Keys mismatch: expected %v, got %v", tc.m.Keys, result.Keys)
			}

			// Same for Vals
			if (tc.m.Vals == nil) != (result.Vals == nil) {
				t.Errorf("Vals nil/non-nil mismatch: expected %v, got %v", tc.m.Vals, result.Vals)
			} else if !reflect.DeepEqual(tc.m.Vals, result.Vals) {
				t.Errorf("Vals mismatch: expected %v, got %v", tc.m.Vals, result.Vals)
			}
		})
	}
}

// TestBinaryDeserializeReset tests that deserializing into a reused mail
// clears the fields the data does not carry
func TestBinaryDeserializeReset(t *testing.T) {
	serializer := NewBinarySerializer()

	// Serialize a bare mail
	data, err := serializer.Serialize(&mail.Mail{
		Head: mail.Header{Container: 9, Time: 1, Sender: 2, Flags: mail.FlagPush | mail.FlagReply | mail.FlagOK},
	})
	if err != nil {
		t.Fatalf("Failed to serialize: %v", err)
	}

	// Deserialize into a mail that has every field set
	reused := mail.Mail{
		Head: mail.Header{Container: 1, Time: 1, Sender: 1, Flags: mail.FlagPull, Range: mail.WholeRange()},
		Keys: []uint64{1, 2, 3},
		Vals: []byte{1, 2, 3},
		Err:  "stale",
	}
	if err := serializer.Deserialize(data, &reused); err != nil {
		t.Fatalf("Failed to deserialize: %v", err)
	}

	if reused.Head.Range != (mail.KeyRange{}) {
		t.Errorf("Range not reset: %v", reused.Head.Range)
	}
	if reused.Keys != nil {
		t.Errorf("Keys not reset: %v", reused.Keys)
	}
	if reused.Vals != nil {
		t.Errorf("Vals not reset: %v", reused.Vals)
	}
	if reused.Err != "" {
		t.Errorf("Err not reset: %q", reused.Err)
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	// helper to build a fixed header with the given presence flags
	header := func(presence byte) []byte {
		data := make([]byte, 26)
		data[25] = presence
		return data
	}

	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        make([]byte, 25),
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        header(0),
			expectError: false,
		},
		{
			name:        "Range flag without range data",
			data:        header(1),
			expectError: true,
		},
		{
			name:        "Key flag without key count",
			data:        header(2),
			expectError: true,
		},
		{
			name:        "Key count larger than data",
			data:        append(header(2), 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 0),
			expectError: true,
		},
		{
			name:        "Value length larger than data",
			data:        append(header(4), 0, 0, 0, 10),
			expectError: true,
		},
		{
			name:        "Error length larger than data",
			data:        append(header(8), 0, 0, 0, 5, 'a', 'b'),
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var m mail.Mail
			err := serializer.Deserialize(tc.data, &m)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tc.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
