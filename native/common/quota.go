package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaUnitCapExceeded  = errors.New("quota unit cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures a source's usage counters inside one epoch.
type QuotaNow struct {
	ReqCount  uint32
	UnitsUsed uint64
	EpochID   uint64
}

// Quota bounds what a single source may do per epoch. The request axis
// throttles call volume while the unit axis caps the settlement units a
// source may move. A zero limit disables that axis.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxUnitsPerEpoch  uint64
	EpochSeconds      uint32
}

// CheckQuota charges addReq requests and addUnits settlement units against
// prev and returns the updated counters. Counters reset when nowEpoch moves
// past prev's epoch. On denial prev is returned untouched so callers can
// store the result back unconditionally.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addUnits uint64) (QuotaNow, error) {
	next := prev
	if next.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	reqs, ok := addCapped32(next.ReqCount, addReq)
	if !ok {
		return prev, ErrQuotaCounterOverflow
	}
	units, ok := addCapped64(next.UnitsUsed, addUnits)
	if !ok {
		return prev, ErrQuotaCounterOverflow
	}
	if q.MaxRequestsPerMin > 0 && reqs > q.MaxRequestsPerMin {
		return prev, ErrQuotaRequestsExceeded
	}
	if q.MaxUnitsPerEpoch > 0 && units > q.MaxUnitsPerEpoch {
		return prev, ErrQuotaUnitCapExceeded
	}
	next.ReqCount = reqs
	next.UnitsUsed = units
	return next, nil
}

func addCapped32(a, b uint32) (uint32, bool) {
	if b > math.MaxUint32-a {
		return 0, false
	}
	return a + b, true
}

func addCapped64(a, b uint64) (uint64, bool) {
	if b > math.MaxUint64-a {
		return 0, false
	}
	return a + b, true
}
