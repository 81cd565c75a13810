// Package conflict decides whether an already accepted observation affects a
// candidate observation touching the same cell or bike.
package conflict

import (
	"fmt"

	"github.com/Apian-Framework/BeamGameCode-sub000/internal/protocol"
)

type Result int

const (
	Unaffected Result = iota
	Validated
	Invalidated
)

func (r Result) String() string {
	switch r {
	case Unaffected:
		return "unaffected"
	case Validated:
		return "validated"
	case Invalidated:
		return "invalidated"
	}
	return fmt.Sprintf("result(%d)", int(r))
}

type pair struct {
	prev protocol.Kind
	cand protocol.Kind
}

type rule func(prev, cand protocol.Msg) (Result, string)

// rules is keyed by (prior kind, candidate kind). Order matters: the first
// element has already been accepted.
var rules = map[pair]rule{
	{protocol.KindCellClaim, protocol.KindCellClaim}:   claimAfterClaim,
	{protocol.KindCellHit, protocol.KindCellClaim}:     claimAfterHit,
	{protocol.KindBikeRemove, protocol.KindCellClaim}:  claimAfterBikeRemove,
	{protocol.KindCellRemoved, protocol.KindCellClaim}: claimAfterCellRemoved,
	{protocol.KindCellRemoved, protocol.KindCellHit}:   hitAfterCellRemoved,
	{protocol.KindBikeRemove, protocol.KindCellHit}:    hitAfterBikeRemove,
	{protocol.KindCellClaim, protocol.KindCellHit}:     hitAfterClaim,
}

// Validate evaluates cand against prev. Pairs with no rule are Unaffected.
func Validate(prev, cand protocol.Msg) (Result, string) {
	if prev == nil || cand == nil {
		return Unaffected, ""
	}
	r, ok := rules[pair{prev.Kind(), cand.Kind()}]
	if !ok {
		return Unaffected, ""
	}
	return r(prev, cand)
}

// HasRule reports whether the pair (prev, cand) is covered by the table.
func HasRule(prev, cand protocol.Kind) bool {
	_, ok := rules[pair{prev, cand}]
	return ok
}

type cell struct{ x, z int }

// cellOf returns the cell a cell-scoped message refers to.
func cellOf(m protocol.Msg) (cell, bool) {
	switch v := m.(type) {
	case protocol.CellClaim:
		return cell{v.X, v.Z}, true
	case protocol.CellHit:
		return cell{v.X, v.Z}, true
	case protocol.CellRemoved:
		return cell{v.X, v.Z}, true
	}
	return cell{}, false
}

// bikeOf returns the bike a bike-scoped message refers to.
func bikeOf(m protocol.Msg) (string, bool) {
	switch v := m.(type) {
	case protocol.CellClaim:
		return v.BikeID, true
	case protocol.CellHit:
		return v.BikeID, true
	case protocol.BikeRemove:
		return v.BikeID, true
	}
	return "", false
}

func sameCell(a, b protocol.Msg) bool {
	ca, ok1 := cellOf(a)
	cb, ok2 := cellOf(b)
	return ok1 && ok2 && ca == cb
}

func sameBike(a, b protocol.Msg) bool {
	ba, ok1 := bikeOf(a)
	bb, ok2 := bikeOf(b)
	return ok1 && ok2 && ba == bb
}

func claimAfterClaim(prev, cand protocol.Msg) (Result, string) {
	if !sameCell(prev, cand) {
		return Unaffected, ""
	}
	return Invalidated, "cell already claimed"
}

func claimAfterHit(prev, cand protocol.Msg) (Result, string) {
	if !sameCell(prev, cand) {
		return Unaffected, ""
	}
	return Invalidated, "cell was hit, so it is already claimed"
}

func claimAfterBikeRemove(prev, cand protocol.Msg) (Result, string) {
	if !sameBike(prev, cand) {
		return Unaffected, ""
	}
	return Invalidated, "claiming bike was removed"
}

func claimAfterCellRemoved(prev, cand protocol.Msg) (Result, string) {
	if !sameCell(prev, cand) {
		return Unaffected, ""
	}
	return Validated, "cell was freed"
}

func hitAfterCellRemoved(prev, cand protocol.Msg) (Result, string) {
	if !sameCell(prev, cand) {
		return Unaffected, ""
	}
	return Invalidated, "hit cell was freed"
}

func hitAfterBikeRemove(prev, cand protocol.Msg) (Result, string) {
	if !sameBike(prev, cand) {
		return Unaffected, ""
	}
	return Invalidated, "hitting bike was removed"
}

func hitAfterClaim(prev, cand protocol.Msg) (Result, string) {
	if !sameCell(prev, cand) {
		return Unaffected, ""
	}
	return Validated, "cell is claimed"
}
