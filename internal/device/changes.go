package device

import "strings"

// Changes is a partial edit of a device's registry fields. Nil fields are
// left alone. Set ClearPosition to remove the position.
type Changes struct {
	Name          *string
	Description   *string
	Position      *Position
	ClearPosition bool
	UnitType      *UnitType
}

// Apply copies the changes onto d and returns the JSON names of the fields
// whose value actually differed, in a fixed order.
func (c Changes) Apply(d *Device) []string {
	var changed []string

	if c.Name != nil {
		if name := strings.TrimSpace(*c.Name); name != d.Name {
			d.Name = name
			changed = append(changed, "name")
		}
	}
	if c.Description != nil && *c.Description != d.Description {
		d.Description = *c.Description
		changed = append(changed, "description")
	}

	switch {
	case c.ClearPosition:
		if d.Position != nil {
			d.Position = nil
			changed = append(changed, "position")
		}
	case c.Position != nil:
		if d.Position == nil || *d.Position != *c.Position {
			p := *c.Position
			d.Position = &p
			changed = append(changed, "position")
		}
	}

	if c.UnitType != nil && *c.UnitType != d.UnitType {
		d.UnitType = *c.UnitType
		changed = append(changed, "unit_type")
	}
	return changed
}
