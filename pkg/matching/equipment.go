package matching

import (
	_ "embed"
	"os"
	"strings"

	"github.com/Gobusters/ectolinq"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed equipment.yaml
var defaultEquipmentMatrix []byte

// EquipmentMatrix answers whether a truck's equipment can haul a posting's equipment type.
type EquipmentMatrix struct {
	Aliases map[string]string `yaml:"aliases"`
	// Rules maps a posting equipment type to the truck types that can also haul it.
	Rules map[string][]string `yaml:"compatible"`
}

// LoadEquipmentMatrix reads the matrix from path, or the built-in matrix when path is empty.
func LoadEquipmentMatrix(path string) (*EquipmentMatrix, error) {
	raw := defaultEquipmentMatrix
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read equipment matrix %s", path)
		}
	}
	return ParseEquipmentMatrix(raw)
}

func ParseEquipmentMatrix(raw []byte) (*EquipmentMatrix, error) {
	var m EquipmentMatrix
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse equipment matrix")
	}

	normalized := &EquipmentMatrix{
		Aliases: make(map[string]string, len(m.Aliases)),
		Rules:   make(map[string][]string, len(m.Rules)),
	}
	for alias, canonical := range m.Aliases {
		normalized.Aliases[normalizeEquipment(alias)] = normalizeEquipment(canonical)
	}
	for posting, trucks := range m.Rules {
		normalized.Rules[normalized.Canonical(posting)] = ectolinq.Map(trucks, normalized.Canonical)
	}
	return normalized, nil
}

// Canonical lowercases, trims and resolves aliases.
func (m *EquipmentMatrix) Canonical(equipment string) string {
	key := normalizeEquipment(equipment)
	if canonical, ok := m.Aliases[key]; ok {
		return canonical
	}
	return key
}

// Compatible reports whether any of truckTypes can haul postingType. An unspecified posting
// type or an unspecified truck matches everything.
func (m *EquipmentMatrix) Compatible(truckTypes []string, postingType string) bool {
	want := m.Canonical(postingType)
	if want == "" {
		return true
	}
	trucks := ectolinq.Filter(ectolinq.Map(truckTypes, m.Canonical), func(t string) bool { return t != "" })
	if len(trucks) == 0 {
		return true
	}

	accepted := m.Rules[want]
	for _, t := range trucks {
		if t == want || ectolinq.Contains(accepted, t) {
			return true
		}
	}
	return false
}

func normalizeEquipment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}
