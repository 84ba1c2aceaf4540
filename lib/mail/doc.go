// Package mail defines the messages exchanged between containers: typed
// request and reply mails carrying key/value payloads, and the key range
// arithmetic used to partition the key space across servers.
//
// A Mail is transport-agnostic. The rpc layer serializes mails for the wire,
// while in-process deployments pass them by pointer.
package mail
