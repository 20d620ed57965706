package goindi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneOfManyProperty() Property {
	return Property{
		Kind:   PropertyKindSwitch,
		Device: "Camera",
		Name:   "Binning",
		Perm:   PropertyPermReadWrite,
		Rule:   SwitchRuleOneOfMany,
		Switches: []SwitchElement{
			{Name: "One", Value: switchPtr(SwitchStateOn)},
			{Name: "Two", Value: switchPtr(SwitchStateOff)},
			{Name: "Three", Value: switchPtr(SwitchStateOff)},
		},
	}
}

func newSwitchRequest(device, name string, values map[string]SwitchState) NewSwitchVector {
	m := NewSwitchVector{NewMeta: NewMeta{VectorMeta: VectorMeta{Device: device, Name: name}}}
	for k, v := range values {
		v := v
		m.Elements = append(m.Elements, SwitchElement{Name: k, Value: &v})
	}
	return m
}

func TestApplySwitchUpdateOneOfManySwitchesSelection(t *testing.T) {
	p := oneOfManyProperty()
	req := newSwitchRequest("Camera", "Binning", map[string]SwitchState{"Two": SwitchStateOn})

	on, off, applied := p.ApplySwitchUpdate(req, func(turnedOn, turnedOff map[string]struct{}) bool {
		_, onTwo := turnedOn["Two"]
		_, offOne := turnedOff["One"]
		return onTwo && offOne
	})

	require.True(t, applied)
	assert.Contains(t, on, "Two")
	assert.Contains(t, off, "One")
	assert.True(t, p.Switches[0].On() == false)
	assert.True(t, p.Switches[1].On())
}

func TestApplySwitchUpdateOneOfManyRejectsMultipleOn(t *testing.T) {
	p := oneOfManyProperty()
	req := newSwitchRequest("Camera", "Binning", map[string]SwitchState{"Two": SwitchStateOn, "Three": SwitchStateOn})

	called := false
	_, _, applied := p.ApplySwitchUpdate(req, func(map[string]struct{}, map[string]struct{}) bool {
		called = true
		return true
	})

	assert.False(t, applied)
	assert.False(t, called, "handler must not be invoked on a rejected request")
	assert.True(t, p.Switches[0].On(), "original selection must be unchanged after rejection")
}

func TestApplySwitchUpdateOneOfManyRejectsTurningOffWithoutReplacement(t *testing.T) {
	p := oneOfManyProperty()
	req := newSwitchRequest("Camera", "Binning", map[string]SwitchState{"One": SwitchStateOff})

	_, _, applied := p.ApplySwitchUpdate(req, func(map[string]struct{}, map[string]struct{}) bool {
		return true
	})

	assert.False(t, applied)
	assert.True(t, p.Switches[0].On())
}

func TestApplySwitchUpdateAtMostOneAllowsClearingSelection(t *testing.T) {
	p := oneOfManyProperty()
	p.Rule = SwitchRuleAtMostOne
	req := newSwitchRequest("Camera", "Binning", map[string]SwitchState{"One": SwitchStateOff})

	_, off, applied := p.ApplySwitchUpdate(req, func(map[string]struct{}, map[string]struct{}) bool {
		return true
	})

	require.True(t, applied)
	assert.Contains(t, off, "One")
	assert.False(t, p.Switches[0].On())
}

func TestApplySwitchUpdateRejectedWhenHandlerReturnsFalse(t *testing.T) {
	p := oneOfManyProperty()
	req := newSwitchRequest("Camera", "Binning", map[string]SwitchState{"Two": SwitchStateOn})

	_, _, applied := p.ApplySwitchUpdate(req, func(map[string]struct{}, map[string]struct{}) bool {
		return false
	})

	assert.False(t, applied)
	assert.True(t, p.Switches[0].On(), "rollback must leave state untouched when the handler vetoes")
}

func TestApplySwitchUpdateNoOpWhenNothingChanges(t *testing.T) {
	p := oneOfManyProperty()
	req := newSwitchRequest("Camera", "Binning", map[string]SwitchState{"One": SwitchStateOn})

	called := false
	_, _, applied := p.ApplySwitchUpdate(req, func(map[string]struct{}, map[string]struct{}) bool {
		called = true
		return true
	})

	assert.False(t, applied)
	assert.False(t, called)
}

func TestMakeNewPropertyRejectsUnknownElement(t *testing.T) {
	p := oneOfManyProperty()
	_, err := p.MakeNewProperty(map[string]interface{}{"Unknown": SwitchStateOn})
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestMakeNewPropertyLightsUnsupported(t *testing.T) {
	p := Property{Kind: PropertyKindLight, Device: "Camera", Name: "Status"}
	_, err := p.MakeNewProperty(map[string]interface{}{})
	assert.ErrorIs(t, err, ErrNoLightNewVector)
}

func TestMakeSetPropertyDoesNotRejectOutOfRangeNumber(t *testing.T) {
	p := Property{
		Kind:   PropertyKindNumber,
		Device: "Focuser",
		Name:   "Position",
		Numbers: []NumberElement{
			{Name: "POS", Min: 0, Max: 100, Value: floatPtr(9999)},
		},
	}
	msg, err := p.MakeSetProperty(nil)
	require.NoError(t, err, "out-of-range numbers are a warning, never a rejection")
	set, ok := msg.(SetNumberVector)
	require.True(t, ok)
	assert.Equal(t, float64(9999), *set.Elements[0].Value)
}

func TestDefinitionRoundTrip(t *testing.T) {
	def := DefSwitchVector{
		DefMeta: DefMeta{
			VectorMeta: VectorMeta{Device: "Camera", Name: "Binning"},
			Label:      "Binning",
			State:      PropertyStateOk,
		},
		Perm: PropertyPermReadWrite,
		Rule: SwitchRuleOneOfMany,
		Elements: []SwitchElement{
			{Name: "One", Value: switchPtr(SwitchStateOn)},
		},
	}

	p := FromDefinition(def, RoleClient)
	rebuilt := p.Definition()

	assert.Equal(t, def, rebuilt)
}
