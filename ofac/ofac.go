package ofac

import (
	"encoding/json"
	"fmt"
	"os"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
)

// ComplianceList is a set of addresses transactions must not touch. A nil
// list is empty.
type ComplianceList struct {
	addrs mapset.Set[common.Address]
}

// NewComplianceList builds a list from addrs.
func NewComplianceList(addrs ...common.Address) *ComplianceList {
	return &ComplianceList{addrs: mapset.NewSet[common.Address](addrs...)}
}

// LoadComplianceList reads a JSON array of hex addresses.
func LoadComplianceList(path string) (*ComplianceList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var addrs []common.Address
	if err := json.Unmarshal(data, &addrs); err != nil {
		return nil, fmt.Errorf("invalid compliance list %s: %w", path, err)
	}
	return NewComplianceList(addrs...), nil
}

func (l *ComplianceList) Contains(addr common.Address) bool {
	return l != nil && l.addrs.Contains(addr)
}

func (l *ComplianceList) Len() int {
	if l == nil {
		return 0
	}
	return l.addrs.Cardinality()
}

// CheckCompliance returns false if any of addrs is on the list. An empty or
// nil list accepts everything.
func CheckCompliance(list *ComplianceList, addrs []common.Address) bool {
	if list.Len() == 0 {
		return true
	}
	for _, addr := range addrs {
		if list.Contains(addr) {
			return false
		}
	}
	return true
}
