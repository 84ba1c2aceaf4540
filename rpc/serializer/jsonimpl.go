package serializer

import (
	"encoding/json"

	"github.com/Ambier/parameter-server/lib/mail"
)

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(m *mail.Mail) ([]byte, error) {
	return json.Marshal(m)
}

func (j jsonSerializerImpl) Deserialize(b []byte, m *mail.Mail) error {
	return json.Unmarshal(b, m)
}
