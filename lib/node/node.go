package node

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Node Identity
// --------------------------------------------------------------------------

// ID uniquely identifies a node within a deployment. IDs are either assigned
// explicitly or derived from a node name via HashName.
type ID uint64

// Node describes a single process participating in the deployment.
type Node struct {
	ID   ID     `json:"id"`
	Role Role   `json:"role"`
	Addr string `json:"addr,omitempty"`
}

func (n Node) String() string {
	if n.Addr == "" {
		return fmt.Sprintf("%s(%d)", n.Role, n.ID)
	}
	return fmt.Sprintf("%s(%d)@%s", n.Role, n.ID, n.Addr)
}

// --------------------------------------------------------------------------
// Role Definition
// --------------------------------------------------------------------------

// Role defines the function of a node in the deployment.
type Role uint8

const (
	RoleUnknown Role = iota
	// RoleWorker nodes issue push/pull requests against the server group.
	RoleWorker
	// RoleServer nodes own a slice of the key space and answer requests.
	RoleServer
	// RoleScheduler is reserved for coordination duties. Membership is static
	// in this implementation, so the role carries no protocol.
	RoleScheduler
)

// String returns the string representation of a Role.
func (r Role) String() string {
	switch r {
	case RoleWorker:
		return "worker"
	case RoleServer:
		return "server"
	case RoleScheduler:
		return "scheduler"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for Role.
// This allows Role to be serialized as a string in JSON.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Role.
// This allows Role to be deserialized from a string in JSON.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "worker":
		*r = RoleWorker
	case "server":
		*r = RoleServer
	case "scheduler":
		*r = RoleScheduler
	default:
		return fmt.Errorf("unknown role: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Group Definition
// --------------------------------------------------------------------------

// Group names a fixed set of nodes used as the expected-responder set for
// request aggregation.
type Group uint8

const (
	GroupUnknown Group = iota
	// GroupServers addresses every server node.
	GroupServers
	// GroupWorkers addresses every worker node.
	GroupWorkers
	// GroupAll addresses every node regardless of role.
	GroupAll
)

// String returns the string representation of a Group.
func (g Group) String() string {
	switch g {
	case GroupServers:
		return "servers"
	case GroupWorkers:
		return "workers"
	case GroupAll:
		return "all"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for Group.
func (g Group) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Group.
func (g *Group) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "servers":
		*g = GroupServers
	case "workers":
		*g = GroupWorkers
	case "all":
		*g = GroupAll
	default:
		return fmt.Errorf("unknown group: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Name Hashing
// --------------------------------------------------------------------------

// HashName derives a stable node ID from a human-readable name.
// Every process in a deployment must derive the same ID for the same name,
// so the hash is deterministic (no per-instance seed).
func HashName(name string) ID {
	return ID(hashString(name, 0))
}

// hashString generates a hash value for a string with a seed.
// This function uses the FNV-1a hash algorithm, which is fast and has good distribution.
func hashString(s string, seed uint64) uint64 {

	// FNV-1a hash with seed incorporation
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	// Start with the offset combined with the seed for uniqueness
	hash := uint64(offset64) ^ seed

	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return hash
}
