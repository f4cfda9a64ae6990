// Package optypes defines OpType: the collective operations exchanged between the workers of a group.
package optypes

import (
	"github.com/gomlx/distop/internal/utils"
)

// OpType is an enum of the collective operations a rendezvous can match.
type OpType int

//go:generate go tool enumer -type=OpType -output=gen_optype_enumer.go optypes.go

const (
	Invalid OpType = iota

	// GatherVariable concatenates each worker's variable-length contribution at its offset.
	GatherVariable

	// AllReduceSum sums, element-wise, the contributions of all workers.
	AllReduceSum

	// Last should always be kept the last, it is used as a counter/marker.
	Last
)

// WireName returns the name of the operation used in logs and on the wire, e.g.: "all_reduce_sum".
func (op OpType) WireName() string {
	return utils.ToSnakeCase(op.String())
}

// FromWireName is the inverse of WireName. It returns Invalid for unknown names.
func FromWireName(name string) OpType {
	for op := Invalid + 1; op < Last; op++ {
		if op.WireName() == name {
			return op
		}
	}
	return Invalid
}
