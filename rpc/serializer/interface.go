package serializer

import "github.com/Ambier/parameter-server/lib/mail"

// IRPCSerializer is the interface for all mail serializers
type IRPCSerializer interface {
	// Serialize serializes a Mail into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(m *mail.Mail) ([]byte, error)
	// Deserialize deserializes a byte array into a Mail
	// It takes a byte array and a pointer to a Mail as parameters
	// It returns an error if any
	Deserialize(b []byte, m *mail.Mail) error
}
