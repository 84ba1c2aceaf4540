package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/Ambier/parameter-server/lib/mail"
	"github.com/Ambier/parameter-server/lib/node"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Size of the fixed header: container, time and sender (8 bytes each),
// one byte of mail flags and one byte of presence flags
const headerSize = 26

// Bit flags to indicate which optional fields are present
const (
	hasRange byte = 1 << 0
	hasKeys  byte = 1 << 1
	hasVals  byte = 1 << 2
	hasErr   byte = 1 << 3
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(m *mail.Mail) ([]byte, error) {
	// Calculate total size needed
	totalSize := b.sizeBytes(m)
	result := make([]byte, totalSize)

	// Write the fixed header
	binary.BigEndian.PutUint64(result[0:8], m.Head.Container)
	binary.BigEndian.PutUint64(result[8:16], m.Head.Time)
	binary.BigEndian.PutUint64(result[16:24], uint64(m.Head.Sender))
	result[24] = byte(m.Head.Flags)

	// Initialize presence flags byte
	var flags byte = 0

	// Set position for writing
	pos := headerSize // Start after the fixed header

	// Handle Range
	if m.Head.Range != (mail.KeyRange{}) {
		flags |= hasRange
		binary.BigEndian.PutUint64(result[pos:pos+8], m.Head.Range.Begin)
		binary.BigEndian.PutUint64(result[pos+8:pos+16], m.Head.Range.End)
		pos += 16
	}

	// Handle Keys
	if m.Keys != nil {
		flags |= hasKeys
		keyCount := len(m.Keys)

		// Write key count
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(keyCount))
		pos += 4

		// Write key data
		for _, k := range m.Keys {
			binary.BigEndian.PutUint64(result[pos:pos+8], k)
			pos += 8
		}
	}

	// Handle Vals
	if m.Vals != nil {
		flags |= hasVals
		valLen := len(m.Vals)

		// Write value length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(valLen))
		pos += 4

		// Write value data
		if valLen > 0 {
			copy(result[pos:pos+valLen], m.Vals)
			pos += valLen
		}
	}

	// Handle Err
	if m.Err != "" {
		flags |= hasErr
		errBytes := []byte(m.Err)
		errLen := len(errBytes)

		// Write error length
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(errLen))
		pos += 4

		// Write error data
		copy(result[pos:pos+errLen], errBytes)
		pos += errLen
	}

	// Set presence flags after knowing which fields are present
	result[25] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, m *mail.Mail) error {
	// Check minimum size
	if len(data) < headerSize {
		return fmt.Errorf("data too short for mail header")
	}

	// Read the fixed header
	m.Head.Container = binary.BigEndian.Uint64(data[0:8])
	m.Head.Time = binary.BigEndian.Uint64(data[8:16])
	m.Head.Sender = node.ID(binary.BigEndian.Uint64(data[16:24]))
	m.Head.Flags = mail.Flag(data[24])

	// Read presence flags
	flags := data[25]

	// Initialize read position
	pos := headerSize

	// Read Range if present
	if flags&hasRange != 0 {
		if pos+16 > len(data) {
			return fmt.Errorf("data too short for range")
		}

		m.Head.Range.Begin = binary.BigEndian.Uint64(data[pos : pos+8])
		m.Head.Range.End = binary.BigEndian.Uint64(data[pos+8 : pos+16])
		pos += 16
	} else {
		m.Head.Range = mail.KeyRange{}
	}

	// Read Keys if present
	if flags&hasKeys != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for key count")
		}

		// Read key count
		keyCount := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(keyCount)*8 > len(data) {
			return fmt.Errorf("data too short for key data")
		}

		// Read key data - reuse the existing slice if it is large enough
		if m.Keys == nil || cap(m.Keys) < int(keyCount) {
			m.Keys = make([]uint64, keyCount)
		} else {
			m.Keys = m.Keys[:keyCount]
		}

		for i := range m.Keys {
			m.Keys[i] = binary.BigEndian.Uint64(data[pos : pos+8])
			pos += 8
		}
	} else {
		m.Keys = nil
	}

	// Read Vals if present
	if flags&hasVals != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for value length")
		}

		// Read value length
		valLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(valLen) > len(data) {
			return fmt.Errorf("data too short for value data")
		}

		// Read value data - create an empty slice (not nil) if length is 0
		// Allocate only if needed
		if m.Vals == nil || cap(m.Vals) < int(valLen) {
			m.Vals = make([]byte, valLen)
		} else {
			m.Vals = m.Vals[:valLen]
		}

		if valLen > 0 {
			copy(m.Vals, data[pos:pos+int(valLen)])
		}
		pos += int(valLen)
	} else {
		m.Vals = nil
	}

	// Read Err if present
	if flags&hasErr != 0 {
		if pos+4 > len(data) {
			return fmt.Errorf("data too short for error length")
		}

		// Read error length
		errLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if pos+int(errLen) > len(data) {
			return fmt.Errorf("data too short for error data")
		}

		// Read error data
		m.Err = string(data[pos : pos+int(errLen)])
		pos += int(errLen)
	} else {
		m.Err = ""
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(m *mail.Mail) int {
	size := headerSize

	// Add sizes for the optional sections
	if m.Head.Range != (mail.KeyRange{}) {
		size += 16 // two uint64
	}
	if m.Keys != nil {
		size += 4 + len(m.Keys)*8 // 4 bytes for count + keys
	}
	if m.Vals != nil {
		size += 4 + len(m.Vals) // 4 bytes for length + value bytes
	}
	if m.Err != "" {
		size += 4 + len(m.Err) // 4 bytes for length + error string
	}

	return size
}
