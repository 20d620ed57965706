package goindi

import (
	"encoding/xml"
	"fmt"
	"time"
)

// Serialize renders m to its wire XML form: "<tag attr=\"...\" ...>...</tag>"
// with no XML declaration, matching spec section 4.2. Unset attributes are
// omitted; enum attributes use their wire-value string.
func Serialize(m Message) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}
	return xml.Marshal(w)
}

func toWire(m Message) (interface{}, error) {
	switch v := m.(type) {
	case DefNumberVector:
		return buildWireDefNumberVector(v), nil
	case DefTextVector:
		return buildWireDefTextVector(v), nil
	case DefSwitchVector:
		return buildWireDefSwitchVector(v), nil
	case DefLightVector:
		return buildWireDefLightVector(v), nil
	case SetNumberVector:
		return buildWireSetNumberVector(v), nil
	case SetTextVector:
		return buildWireSetTextVector(v), nil
	case SetSwitchVector:
		return buildWireSetSwitchVector(v), nil
	case SetLightVector:
		return buildWireSetLightVector(v), nil
	case NewNumberVector:
		return buildWireNewNumberVector(v), nil
	case NewTextVector:
		return buildWireNewTextVector(v), nil
	case NewSwitchVector:
		return buildWireNewSwitchVector(v), nil
	case GetProperties:
		return buildWireGetProperties(v), nil
	case DelProperty:
		return buildWireDelProperty(v), nil
	case Notice:
		return buildWireNotice(v), nil
	default:
		return nil, fmt.Errorf("goindi: unknown message type %T", m)
	}
}

// --- wire shapes: one encoding/xml struct per wire tag, mirroring the
// teacher's xmlmodels.go convention of one struct per element. ---

type wireOneNumber struct {
	XMLName xml.Name `xml:"oneNumber"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:",chardata"`
}

type wireDefNumber struct {
	XMLName xml.Name `xml:"defNumber"`
	Name    string   `xml:"name,attr"`
	Label   string   `xml:"label,attr,omitempty"`
	Format  string   `xml:"format,attr"`
	Min     string   `xml:"min,attr"`
	Max     string   `xml:"max,attr"`
	Step    string   `xml:"step,attr"`
	Value   string   `xml:",chardata"`
}

type wireOneText struct {
	XMLName xml.Name `xml:"oneText"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:",chardata"`
}

type wireDefText struct {
	XMLName xml.Name `xml:"defText"`
	Name    string   `xml:"name,attr"`
	Label   string   `xml:"label,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

type wireOneSwitch struct {
	XMLName xml.Name `xml:"oneSwitch"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:",chardata"`
}

type wireDefSwitch struct {
	XMLName xml.Name `xml:"defSwitch"`
	Name    string   `xml:"name,attr"`
	Label   string   `xml:"label,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

type wireOneLight struct {
	XMLName xml.Name `xml:"oneLight"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:",chardata"`
}

type wireDefLight struct {
	XMLName xml.Name `xml:"defLight"`
	Name    string   `xml:"name,attr"`
	Label   string   `xml:"label,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

type wireDefNumberVector struct {
	XMLName   xml.Name        `xml:"defNumberVector"`
	Device    string          `xml:"device,attr"`
	Name      string          `xml:"name,attr"`
	Label     string          `xml:"label,attr,omitempty"`
	Group     string          `xml:"group,attr,omitempty"`
	State     string          `xml:"state,attr"`
	Perm      string          `xml:"perm,attr"`
	Timeout   string          `xml:"timeout,attr,omitempty"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Message   string          `xml:"message,attr,omitempty"`
	Numbers   []wireDefNumber `xml:"defNumber"`
}

type wireDefTextVector struct {
	XMLName   xml.Name      `xml:"defTextVector"`
	Device    string        `xml:"device,attr"`
	Name      string        `xml:"name,attr"`
	Label     string        `xml:"label,attr,omitempty"`
	Group     string        `xml:"group,attr,omitempty"`
	State     string        `xml:"state,attr"`
	Perm      string        `xml:"perm,attr"`
	Timeout   string        `xml:"timeout,attr,omitempty"`
	Timestamp string        `xml:"timestamp,attr,omitempty"`
	Message   string        `xml:"message,attr,omitempty"`
	Texts     []wireDefText `xml:"defText"`
}

type wireDefSwitchVector struct {
	XMLName   xml.Name        `xml:"defSwitchVector"`
	Device    string          `xml:"device,attr"`
	Name      string          `xml:"name,attr"`
	Label     string          `xml:"label,attr,omitempty"`
	Group     string          `xml:"group,attr,omitempty"`
	State     string          `xml:"state,attr"`
	Perm      string          `xml:"perm,attr"`
	Rule      string          `xml:"rule,attr"`
	Timeout   string          `xml:"timeout,attr,omitempty"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Message   string          `xml:"message,attr,omitempty"`
	Switches  []wireDefSwitch `xml:"defSwitch"`
}

type wireDefLightVector struct {
	XMLName   xml.Name       `xml:"defLightVector"`
	Device    string         `xml:"device,attr"`
	Name      string         `xml:"name,attr"`
	Label     string         `xml:"label,attr,omitempty"`
	Group     string         `xml:"group,attr,omitempty"`
	State     string         `xml:"state,attr"`
	Timestamp string         `xml:"timestamp,attr,omitempty"`
	Message   string         `xml:"message,attr,omitempty"`
	Lights    []wireDefLight `xml:"defLight"`
}

type wireSetNumberVector struct {
	XMLName   xml.Name        `xml:"setNumberVector"`
	Device    string          `xml:"device,attr"`
	Name      string          `xml:"name,attr"`
	State     string          `xml:"state,attr,omitempty"`
	Timeout   string          `xml:"timeout,attr,omitempty"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Message   string          `xml:"message,attr,omitempty"`
	Numbers   []wireOneNumber `xml:"oneNumber"`
}

type wireSetTextVector struct {
	XMLName   xml.Name      `xml:"setTextVector"`
	Device    string        `xml:"device,attr"`
	Name      string        `xml:"name,attr"`
	State     string        `xml:"state,attr,omitempty"`
	Timeout   string        `xml:"timeout,attr,omitempty"`
	Timestamp string        `xml:"timestamp,attr,omitempty"`
	Message   string        `xml:"message,attr,omitempty"`
	Texts     []wireOneText `xml:"oneText"`
}

type wireSetSwitchVector struct {
	XMLName   xml.Name        `xml:"setSwitchVector"`
	Device    string          `xml:"device,attr"`
	Name      string          `xml:"name,attr"`
	State     string          `xml:"state,attr,omitempty"`
	Timeout   string          `xml:"timeout,attr,omitempty"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Message   string          `xml:"message,attr,omitempty"`
	Switches  []wireOneSwitch `xml:"oneSwitch"`
}

type wireSetLightVector struct {
	XMLName   xml.Name       `xml:"setLightVector"`
	Device    string         `xml:"device,attr"`
	Name      string         `xml:"name,attr"`
	State     string         `xml:"state,attr,omitempty"`
	Timestamp string         `xml:"timestamp,attr,omitempty"`
	Message   string         `xml:"message,attr,omitempty"`
	Lights    []wireOneLight `xml:"oneLight"`
}

type wireNewNumberVector struct {
	XMLName   xml.Name        `xml:"newNumberVector"`
	Device    string          `xml:"device,attr"`
	Name      string          `xml:"name,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Numbers   []wireOneNumber `xml:"oneNumber"`
}

type wireNewTextVector struct {
	XMLName   xml.Name      `xml:"newTextVector"`
	Device    string        `xml:"device,attr"`
	Name      string        `xml:"name,attr"`
	Timestamp string        `xml:"timestamp,attr,omitempty"`
	Texts     []wireOneText `xml:"oneText"`
}

type wireNewSwitchVector struct {
	XMLName   xml.Name        `xml:"newSwitchVector"`
	Device    string          `xml:"device,attr"`
	Name      string          `xml:"name,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Switches  []wireOneSwitch `xml:"oneSwitch"`
}

type wireGetProperties struct {
	XMLName xml.Name `xml:"getProperties"`
	Version string   `xml:"version,attr,omitempty"`
	Device  string   `xml:"device,attr,omitempty"`
	Name    string   `xml:"name,attr,omitempty"`
}

type wireDelProperty struct {
	XMLName   xml.Name `xml:"delProperty"`
	Device    string   `xml:"device,attr,omitempty"`
	Name      string   `xml:"name,attr,omitempty"`
	Timestamp string   `xml:"timestamp,attr,omitempty"`
	Message   string   `xml:"message,attr,omitempty"`
}

type wireNotice struct {
	XMLName   xml.Name `xml:"message"`
	Device    string   `xml:"device,attr,omitempty"`
	Timestamp string   `xml:"timestamp,attr,omitempty"`
	Message   string   `xml:"message,attr,omitempty"`
}

func optTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTimestamp(*t)
}

func optInt(i *int) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%d", *i)
}

func optState(s *PropertyState) string {
	if s == nil {
		return ""
	}
	return string(*s)
}

func numberValueText(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}

func switchValueText(v *SwitchState) string {
	if v == nil {
		return ""
	}
	return string(*v)
}

func lightValueText(v *PropertyState) string {
	if v == nil {
		return ""
	}
	return string(*v)
}

func textValueText(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func buildWireDefNumberVector(m DefNumberVector) *wireDefNumberVector {
	w := &wireDefNumberVector{
		Device:    m.Device,
		Name:      m.Name,
		Label:     m.Label,
		Group:     m.Group,
		State:     string(m.State),
		Perm:      string(m.Perm),
		Timeout:   optInt(m.Timeout),
		Timestamp: optTimestamp(m.Timestamp),
		Message:   m.Message,
	}
	for _, e := range m.Elements {
		w.Numbers = append(w.Numbers, wireDefNumber{
			Name:   e.Name,
			Label:  e.Label,
			Format: e.Format,
			Min:    fmt.Sprintf("%g", e.Min),
			Max:    fmt.Sprintf("%g", e.Max),
			Step:   fmt.Sprintf("%g", e.Step),
			Value:  numberValueText(e.Value),
		})
	}
	return w
}

func buildWireDefTextVector(m DefTextVector) *wireDefTextVector {
	w := &wireDefTextVector{
		Device:    m.Device,
		Name:      m.Name,
		Label:     m.Label,
		Group:     m.Group,
		State:     string(m.State),
		Perm:      string(m.Perm),
		Timeout:   optInt(m.Timeout),
		Timestamp: optTimestamp(m.Timestamp),
		Message:   m.Message,
	}
	for _, e := range m.Elements {
		w.Texts = append(w.Texts, wireDefText{Name: e.Name, Label: e.Label, Value: textValueText(e.Value)})
	}
	return w
}

func buildWireDefSwitchVector(m DefSwitchVector) *wireDefSwitchVector {
	w := &wireDefSwitchVector{
		Device:    m.Device,
		Name:      m.Name,
		Label:     m.Label,
		Group:     m.Group,
		State:     string(m.State),
		Perm:      string(m.Perm),
		Rule:      string(m.Rule),
		Timeout:   optInt(m.Timeout),
		Timestamp: optTimestamp(m.Timestamp),
		Message:   m.Message,
	}
	for _, e := range m.Elements {
		w.Switches = append(w.Switches, wireDefSwitch{Name: e.Name, Label: e.Label, Value: switchValueText(e.Value)})
	}
	return w
}

func buildWireDefLightVector(m DefLightVector) *wireDefLightVector {
	w := &wireDefLightVector{
		Device:    m.Device,
		Name:      m.Name,
		Label:     m.Label,
		Group:     m.Group,
		State:     string(m.State),
		Timestamp: optTimestamp(m.Timestamp),
		Message:   m.Message,
	}
	for _, e := range m.Elements {
		w.Lights = append(w.Lights, wireDefLight{Name: e.Name, Label: e.Label, Value: lightValueText(e.Value)})
	}
	return w
}

func buildWireSetNumberVector(m SetNumberVector) *wireSetNumberVector {
	w := &wireSetNumberVector{
		Device:    m.Device,
		Name:      m.Name,
		State:     optState(m.State),
		Timeout:   optInt(m.Timeout),
		Timestamp: optTimestamp(m.Timestamp),
		Message:   m.Message,
	}
	for _, e := range m.Elements {
		w.Numbers = append(w.Numbers, wireOneNumber{Name: e.Name, Value: numberValueText(e.Value)})
	}
	return w
}

func buildWireSetTextVector(m SetTextVector) *wireSetTextVector {
	w := &wireSetTextVector{
		Device:    m.Device,
		Name:      m.Name,
		State:     optState(m.State),
		Timeout:   optInt(m.Timeout),
		Timestamp: optTimestamp(m.Timestamp),
		Message:   m.Message,
	}
	for _, e := range m.Elements {
		w.Texts = append(w.Texts, wireOneText{Name: e.Name, Value: textValueText(e.Value)})
	}
	return w
}

func buildWireSetSwitchVector(m SetSwitchVector) *wireSetSwitchVector {
	w := &wireSetSwitchVector{
		Device:    m.Device,
		Name:      m.Name,
		State:     optState(m.State),
		Timeout:   optInt(m.Timeout),
		Timestamp: optTimestamp(m.Timestamp),
		Message:   m.Message,
	}
	for _, e := range m.Elements {
		w.Switches = append(w.Switches, wireOneSwitch{Name: e.Name, Value: switchValueText(e.Value)})
	}
	return w
}

func buildWireSetLightVector(m SetLightVector) *wireSetLightVector {
	w := &wireSetLightVector{
		Device:    m.Device,
		Name:      m.Name,
		State:     optState(m.State),
		Timestamp: optTimestamp(m.Timestamp),
		Message:   m.Message,
	}
	for _, e := range m.Elements {
		w.Lights = append(w.Lights, wireOneLight{Name: e.Name, Value: lightValueText(e.Value)})
	}
	return w
}

func buildWireNewNumberVector(m NewNumberVector) *wireNewNumberVector {
	w := &wireNewNumberVector{Device: m.Device, Name: m.Name, Timestamp: optTimestamp(m.Timestamp)}
	for _, e := range m.Elements {
		w.Numbers = append(w.Numbers, wireOneNumber{Name: e.Name, Value: numberValueText(e.Value)})
	}
	return w
}

func buildWireNewTextVector(m NewTextVector) *wireNewTextVector {
	w := &wireNewTextVector{Device: m.Device, Name: m.Name, Timestamp: optTimestamp(m.Timestamp)}
	for _, e := range m.Elements {
		w.Texts = append(w.Texts, wireOneText{Name: e.Name, Value: textValueText(e.Value)})
	}
	return w
}

func buildWireNewSwitchVector(m NewSwitchVector) *wireNewSwitchVector {
	w := &wireNewSwitchVector{Device: m.Device, Name: m.Name, Timestamp: optTimestamp(m.Timestamp)}
	for _, e := range m.Elements {
		w.Switches = append(w.Switches, wireOneSwitch{Name: e.Name, Value: switchValueText(e.Value)})
	}
	return w
}

func buildWireGetProperties(m GetProperties) *wireGetProperties {
	w := &wireGetProperties{Version: m.Version}
	if m.Device != nil {
		w.Device = *m.Device
	}
	if m.Name != nil {
		w.Name = *m.Name
	}
	return w
}

func buildWireDelProperty(m DelProperty) *wireDelProperty {
	w := &wireDelProperty{Message: m.Message, Timestamp: optTimestamp(m.Timestamp)}
	if m.Device != nil {
		w.Device = *m.Device
	}
	if m.Name != nil {
		w.Name = *m.Name
	}
	return w
}

func buildWireNotice(m Notice) *wireNotice {
	return &wireNotice{Device: m.Device, Timestamp: optTimestamp(m.Timestamp), Message: m.Message}
}
