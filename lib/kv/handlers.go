package kv

import (
	"github.com/Ambier/parameter-server/lib/sync"
)

// --------------------------------------------------------------------------
// Built-in Handlers
// --------------------------------------------------------------------------

// SumHandle is the canonical aggregation handler: keys start at zero, pushes
// add element-wise, pulls return the accumulated values.
type SumHandle[V Value] struct{}

func (SumHandle[V]) HandleInit(keys []uint64, vals []V) error {
	for i := range vals {
		vals[i] = 0
	}
	return nil
}

func (SumHandle[V]) HandlePush(recvKeys []uint64, recvVals []V, myVals []V) error {
	if len(recvVals) != len(myVals) {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"received %d values for %d stored", len(recvVals), len(myVals))
	}
	for i := range recvVals {
		myVals[i] += recvVals[i]
	}
	return nil
}

func (SumHandle[V]) HandlePull(sendKeys []uint64, myVals []V, sendVals []V) error {
	if len(myVals) != len(sendVals) {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"pull buffer of %d values for %d stored", len(sendVals), len(myVals))
	}
	copy(sendVals, myVals)
	return nil
}

// AssignHandle overwrites stored values on push (last write wins) and
// returns them on pull.
type AssignHandle[V Value] struct{}

func (AssignHandle[V]) HandleInit(keys []uint64, vals []V) error {
	for i := range vals {
		vals[i] = 0
	}
	return nil
}

func (AssignHandle[V]) HandlePush(recvKeys []uint64, recvVals []V, myVals []V) error {
	if len(recvVals) != len(myVals) {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"received %d values for %d stored", len(recvVals), len(myVals))
	}
	copy(myVals, recvVals)
	return nil
}

func (AssignHandle[V]) HandlePull(sendKeys []uint64, myVals []V, sendVals []V) error {
	if len(myVals) != len(sendVals) {
		return sync.NewError(sync.RetCodeInvalidRequest,
			"pull buffer of %d values for %d stored", len(sendVals), len(myVals))
	}
	copy(sendVals, myVals)
	return nil
}
