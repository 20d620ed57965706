package goindi

import (
	"fmt"
	"time"
)

// Property is a live, role-tagged replica of one INDI property: either the
// device-side source of truth or the client-side cached copy, per the
// spec's "single role-tagged Property type rather than two parallel
// ClientProperty/DeviceProperty types" design choice.
type Property struct {
	Kind   PropertyKind
	Role   Role
	Device string
	Name   string
	Label  string
	Group  string
	State  PropertyState
	Perm   PropertyPerm
	Rule   SwitchRule // meaningful only when Kind == PropertyKindSwitch

	// Timeout is the worst-case number of seconds a client should expect
	// before this property settles out of PropertyStateBusy, or nil if the
	// device hasn't advertised one.
	Timeout *int

	Numbers  []NumberElement
	Texts    []TextElement
	Switches []SwitchElement
	Lights   []LightElement
}

// Tag names the defXxxVector message this property was, or would be,
// defined by.
func (p Property) Tag() string {
	return "def" + string(p.Kind) + "Vector"
}

// FromDefinition builds a Property replica from a received defXxxVector
// message, as a client does on first sight of a device's property.
func FromDefinition(d DefVector, role Role) Property {
	meta := d.meta()
	p := Property{
		Role:   role,
		Kind:   kindOf(d),
		Device: meta.Device,
		Name:   meta.Name,
		Label:  meta.Label,
		Group:  meta.Group,
		State:  meta.State,
		Timeout: meta.Timeout,
	}
	switch v := d.(type) {
	case DefNumberVector:
		p.Perm = v.Perm
		p.Numbers = append([]NumberElement(nil), v.Elements...)
	case DefTextVector:
		p.Perm = v.Perm
		p.Texts = append([]TextElement(nil), v.Elements...)
	case DefSwitchVector:
		p.Perm = v.Perm
		p.Rule = v.Rule
		p.Switches = append([]SwitchElement(nil), v.Elements...)
	case DefLightVector:
		p.Perm = PropertyPermReadOnly
		p.Lights = append([]LightElement(nil), v.Elements...)
	}
	return p
}

// Definition reconstructs the defXxxVector message that describes p's
// current shape, used to answer a getProperties request or replay state
// after a reconnect.
func (p Property) Definition() DefVector {
	meta := DefMeta{
		VectorMeta: VectorMeta{Device: p.Device, Name: p.Name},
		Label:      p.Label,
		Group:      p.Group,
		State:      p.State,
		Timeout:    p.Timeout,
	}
	switch p.Kind {
	case PropertyKindNumber:
		return DefNumberVector{DefMeta: meta, Perm: p.Perm, Elements: p.Numbers}
	case PropertyKindText:
		return DefTextVector{DefMeta: meta, Perm: p.Perm, Elements: p.Texts}
	case PropertyKindSwitch:
		return DefSwitchVector{DefMeta: meta, Perm: p.Perm, Rule: p.Rule, Elements: p.Switches}
	case PropertyKindLight:
		return DefLightVector{DefMeta: meta, Elements: p.Lights}
	default:
		return nil
	}
}

func (p Property) findNumber(name string) (int, bool) {
	for i, e := range p.Numbers {
		if e.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (p Property) findText(name string) (int, bool) {
	for i, e := range p.Texts {
		if e.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (p Property) findSwitch(name string) (int, bool) {
	for i, e := range p.Switches {
		if e.Name == name {
			return i, true
		}
	}
	return 0, false
}

func (p Property) findLight(name string) (int, bool) {
	for i, e := range p.Lights {
		if e.Name == name {
			return i, true
		}
	}
	return 0, false
}

// MakeSetProperty builds the setXxxVector message a device sends to
// broadcast its current state. Every element's current value is sent
// as-is: per spec, an out-of-range number is a warning for the caller to
// log, never a reason to reject or clamp the value.
func (p Property) MakeSetProperty(timestamp *time.Time) (Message, error) {
	meta := SetMeta{
		VectorMeta: VectorMeta{Device: p.Device, Name: p.Name},
		State:      statePtr(p.State),
		Timeout:    p.Timeout,
		Timestamp:  timestamp,
	}
	switch p.Kind {
	case PropertyKindNumber:
		return SetNumberVector{SetMeta: meta, Elements: p.Numbers}, nil
	case PropertyKindText:
		return SetTextVector{SetMeta: meta, Elements: p.Texts}, nil
	case PropertyKindSwitch:
		return SetSwitchVector{SetMeta: meta, Elements: p.Switches}, nil
	case PropertyKindLight:
		return SetLightVector{SetMeta: meta, Elements: p.Lights}, nil
	default:
		return nil, fmt.Errorf("goindi: property %s.%s has no kind", p.Device, p.Name)
	}
}

// MakeNewProperty builds the newXxxVector message a client sends to request
// a value change. values maps element name to the desired value (float64,
// string, or SwitchState depending on Kind). Per the INDI whitepaper a
// client should send every element of a Number or Text vector and may send
// only the changed elements of a Switch vector, but goindi does not enforce
// completeness: a device that can make sense of a partial update is free
// to do so.
func (p Property) MakeNewProperty(values map[string]interface{}) (Message, error) {
	if p.Kind == PropertyKindLight {
		return nil, ErrNoLightNewVector
	}
	meta := NewMeta{VectorMeta: VectorMeta{Device: p.Device, Name: p.Name}}
	switch p.Kind {
	case PropertyKindNumber:
		msg := NewNumberVector{NewMeta: meta}
		for name, raw := range values {
			idx, ok := p.findNumber(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s.%s", ErrElementNotFound, p.Device, p.Name, name)
			}
			v, ok := raw.(float64)
			if !ok {
				return nil, fmt.Errorf("goindi: element %s requires a float64 value", name)
			}
			e := p.Numbers[idx]
			e.Value = floatPtr(v)
			msg.Elements = append(msg.Elements, NumberElement{Name: name, Value: e.Value})
		}
		return msg, nil
	case PropertyKindText:
		msg := NewTextVector{NewMeta: meta}
		for name, raw := range values {
			if _, ok := p.findText(name); !ok {
				return nil, fmt.Errorf("%w: %s.%s.%s", ErrElementNotFound, p.Device, p.Name, name)
			}
			v, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("goindi: element %s requires a string value", name)
			}
			msg.Elements = append(msg.Elements, TextElement{Name: name, Value: stringPtr(v)})
		}
		return msg, nil
	case PropertyKindSwitch:
		msg := NewSwitchVector{NewMeta: meta}
		for name, raw := range values {
			if _, ok := p.findSwitch(name); !ok {
				return nil, fmt.Errorf("%w: %s.%s.%s", ErrElementNotFound, p.Device, p.Name, name)
			}
			v, ok := raw.(SwitchState)
			if !ok {
				return nil, fmt.Errorf("goindi: element %s requires a SwitchState value", name)
			}
			msg.Elements = append(msg.Elements, SwitchElement{Name: name, Value: switchPtr(v)})
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("goindi: property %s.%s has no kind", p.Device, p.Name)
	}
}

// ApplySwitchUpdate enforces p.Rule against an incoming newSwitchVector,
// exactly mirroring the source runtime's switch_callback transaction:
//
//   - OneOfMany: rejected (apply not called) if the message turns off the
//     active switch without turning another on, or turns on more than one.
//     Otherwise every currently-On switch other than the one being turned
//     on is folded into turnedOff, so a single-element message still
//     clears the old selection.
//   - AtMostOne: same multi-on rejection and implicit-turn-off folding as
//     OneOfMany, but turning the active switch off with nothing turned on
//     is allowed (the vector may end up with nothing selected).
//   - AnyOfMany: rejected only when nothing actually changes.
//
// apply is called with the sets of element names turning on and off. If it
// returns true the changes are committed to p; if false, or if the update
// was rejected by the rule before apply was ever called, p is left
// unchanged. ApplySwitchUpdate always returns (possibly empty) turnedOn and
// turnedOff sets describing what was requested, for caller logging.
func (p *Property) ApplySwitchUpdate(msg NewSwitchVector, apply func(turnedOn, turnedOff map[string]struct{}) bool) (turnedOn, turnedOff map[string]struct{}, applied bool) {
	turnedOn = map[string]struct{}{}
	turnedOff = map[string]struct{}{}
	on := map[string]struct{}{}

	requested := make(map[string]SwitchState, len(msg.Elements))
	for _, e := range msg.Elements {
		if e.Value != nil {
			requested[e.Name] = *e.Value
		}
	}

	for _, e := range p.Switches {
		if e.On() {
			on[e.Name] = struct{}{}
		}
		newVal, present := requested[e.Name]
		if !present {
			continue
		}
		oldVal := SwitchStateOff
		if e.Value != nil {
			oldVal = *e.Value
		}
		if newVal == oldVal {
			continue
		}
		if newVal == SwitchStateOn {
			turnedOn[e.Name] = struct{}{}
		} else {
			turnedOff[e.Name] = struct{}{}
		}
	}

	if len(turnedOn) == 0 && len(turnedOff) == 0 {
		return turnedOn, turnedOff, false
	}

	switch p.Rule {
	case SwitchRuleOneOfMany:
		if (len(turnedOff) > 0 && len(turnedOn) == 0) || len(turnedOn) > 1 {
			return turnedOn, turnedOff, false
		}
		turnedOff = subtract(on, turnedOn)
	case SwitchRuleAtMostOne:
		if len(turnedOn) > 1 {
			return turnedOn, turnedOff, false
		}
		turnedOff = subtract(on, turnedOn)
	case SwitchRuleAnyOfMany:
		// no extra restriction beyond "something changed", already checked above
	}

	if !apply(turnedOn, turnedOff) {
		return turnedOn, turnedOff, false
	}

	for name := range turnedOff {
		if idx, ok := p.findSwitch(name); ok {
			p.Switches[idx].Value = switchPtr(SwitchStateOff)
		}
	}
	for name := range turnedOn {
		if idx, ok := p.findSwitch(name); ok {
			p.Switches[idx].Value = switchPtr(SwitchStateOn)
		}
	}
	return turnedOn, turnedOff, true
}

func subtract(a, b map[string]struct{}) map[string]struct{} {
	out := map[string]struct{}{}
	for k := range a {
		if _, ok := b[k]; !ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func statePtr(s PropertyState) *PropertyState { return &s }
