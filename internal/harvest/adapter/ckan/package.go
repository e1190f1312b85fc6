package ckan

import (
	"encoding/json"

	"catalog-harvester/internal/harvest/domain/model"
)

// Strings decodes a field that instances return either as a string or as
// a list of strings.
type Strings []string

// UnmarshalJSON implements json.Unmarshaler.
func (s *Strings) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = Strings{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// packageWire reads a package as returned by package_show and friends.
// The outer Source field shadows the embedded one.
type packageWire struct {
	model.CanonicalDataset
	Source Strings `json:"source,omitempty"`
}

func (p *packageWire) canonical() *model.CanonicalDataset {
	d := p.CanonicalDataset
	d.Source = []string(p.Source)
	return &d
}

type updatePayload struct {
	model.CanonicalDataset
	ID string `json:"id"`
}
