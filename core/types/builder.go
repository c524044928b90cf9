package types

import (
	"fmt"
)

// PartialBlockBuildingMode selects which party releases the block. It is
// fixed for the lifetime of a deployment.
type PartialBlockBuildingMode uint8

const (
	BuilderProposes PartialBlockBuildingMode = iota
	ProposerProposes
	ProposerChooses
)

func (m PartialBlockBuildingMode) String() string {
	switch m {
	case BuilderProposes:
		return "BuilderProposes"
	case ProposerProposes:
		return "ProposerProposes"
	case ProposerChooses:
		return "ProposerChooses"
	default:
		return fmt.Sprintf("PartialBlockBuildingMode(%d)", uint8(m))
	}
}

func ParsePartialBlockBuildingMode(s string) (PartialBlockBuildingMode, error) {
	var m PartialBlockBuildingMode
	err := m.UnmarshalText([]byte(s))
	return m, err
}

func (m PartialBlockBuildingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *PartialBlockBuildingMode) UnmarshalText(input []byte) error {
	switch string(input) {
	case "BuilderProposes":
		*m = BuilderProposes
	case "ProposerProposes":
		*m = ProposerProposes
	case "ProposerChooses", "ProposerChoosesWhoProposes":
		*m = ProposerChooses
	default:
		return fmt.Errorf("unknown partial block building mode %q", input)
	}
	return nil
}

// HeaderSubmissionEnabled reports whether proposers may return a signed header.
func (m PartialBlockBuildingMode) HeaderSubmissionEnabled() bool {
	return m == BuilderProposes || m == ProposerChooses
}

// PartialBlockCommitEnabled reports whether proposers may commit to a partial block.
func (m PartialBlockBuildingMode) PartialBlockCommitEnabled() bool {
	return m == ProposerProposes || m == ProposerChooses
}

// BlockDraft is the current outcome of bundle selection: the ids of the
// accepted bundles in block order, followed by the inclusion list
// transactions no accepted bundle already carries.
type BlockDraft struct {
	Bundles       []BundleId
	InclusionList []*Transaction
}

// Copy returns a draft that shares no slices with d.
func (d BlockDraft) Copy() BlockDraft {
	cpy := BlockDraft{
		Bundles:       make([]BundleId, len(d.Bundles)),
		InclusionList: make([]*Transaction, len(d.InclusionList)),
	}
	copy(cpy.Bundles, d.Bundles)
	copy(cpy.InclusionList, d.InclusionList)
	return cpy
}

// Body returns the candidate block body. lookup resolves accepted bundle ids.
func (d BlockDraft) Body(lookup func(BundleId) (*Bundle, bool)) []*Transaction {
	var body []*Transaction
	for _, id := range d.Bundles {
		if bundle, ok := lookup(id); ok {
			body = append(body, bundle.Txs...)
		}
	}
	return append(body, d.InclusionList...)
}
