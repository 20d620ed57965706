package goindi

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rickbassham/logging"
)

// Parser is an incremental, resynchronizing XML parser for the INDI wire
// protocol. It consumes raw bytes fed via Feed and produces completed
// Messages on an internal queue, matching the expat-based incremental
// parser's contract: a single top-level element is one message, and a
// malformed element tears down and rebuilds the parser state without
// dropping the underlying connection (spec section 5.2).
//
// Unlike the expat parser it descends from, Parser does not need a
// synthetic wrapping root element: encoding/xml's Decoder.Token tokenizes a
// stream of concatenated sibling root elements without requiring a single
// enclosing document element.
type Parser struct {
	log   logging.Logger
	pw    *io.PipeWriter
	pr    *io.PipeReader
	queue *unboundedQueue[Message]
}

// NewParser starts the parser's background decode loop. Callers feed bytes
// with Feed and consume messages with Next.
func NewParser(log logging.Logger) *Parser {
	pr, pw := io.Pipe()
	p := &Parser{
		log:   log,
		pw:    pw,
		pr:    pr,
		queue: newUnboundedQueue[Message](),
	}
	go p.run()
	return p
}

// Feed appends raw bytes read from the transport to the parser's input.
func (p *Parser) Feed(data []byte) error {
	_, err := p.pw.Write(data)
	return err
}

// Next blocks until a Message is available, ctx is done, or the parser is
// closed.
func (p *Parser) Next(ctx context.Context) (Message, bool) {
	return p.queue.Pop(ctx)
}

// Close tears down the parser. Any blocked Next call returns (nil, false).
func (p *Parser) Close() error {
	err := p.pw.Close()
	p.queue.Close()
	return err
}

func (p *Parser) run() {
	for {
		dec := xml.NewDecoder(p.pr)
		err := p.decodeStream(dec)
		if err == nil || err == io.EOF {
			return
		}
		if p.log != nil {
			p.log.WithField("error", err.Error()).Warn("resynchronizing indi parser after malformed xml")
		}
		// Loop around: a fresh *xml.Decoder over the same pipe reader
		// discards whatever partial token state the failed decoder held,
		// matching the "give up on this message, keep the connection"
		// semantics of the original parser's resync-on-error path.
	}
}

type childElement struct {
	Tag      string
	Attrs    map[string]string
	CharData string
}

// decodeStream runs until the underlying reader returns an error (including
// io.EOF on a closed pipe) or a malformed token is encountered.
func (p *Parser) decodeStream(dec *xml.Decoder) error {
	depth := 0
	var curTag string
	var attrs map[string]string
	var children []childElement
	var curChildIdx int = -1

	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				curTag = t.Name.Local
				attrs = attrsToMap(t.Attr)
				children = nil
				curChildIdx = -1
			case 2:
				children = append(children, childElement{Tag: t.Name.Local, Attrs: attrsToMap(t.Attr)})
				curChildIdx = len(children) - 1
			}
		case xml.CharData:
			if depth == 2 && curChildIdx >= 0 {
				children[curChildIdx].CharData += string(t)
			}
		case xml.EndElement:
			switch depth {
			case 1:
				msg, buildErr := parseMessage(curTag, attrs, children)
				if buildErr != nil {
					if p.log != nil {
						p.log.WithField("tag", curTag).WithField("error", buildErr.Error()).Warn("dropping malformed indi element")
					}
				} else if msg != nil {
					p.queue.Push(msg)
				}
				curTag = ""
				attrs = nil
				children = nil
			case 2:
				curChildIdx = -1
			}
			depth--
		}
	}
}

func attrsToMap(attrs []xml.Attr) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Name.Local] = a.Value
	}
	return m
}

// parseMessage builds a concrete Message from one fully-read top-level
// element. A nil Message with a nil error means the tag is unrecognized and
// was silently ignored, matching the original parser's handling of unknown
// elements.
func parseMessage(tag string, attrs map[string]string, children []childElement) (Message, error) {
	switch tag {
	case "defNumberVector":
		return parseDefNumberVector(attrs, children)
	case "defTextVector":
		return parseDefTextVector(attrs, children)
	case "defSwitchVector":
		return parseDefSwitchVector(attrs, children)
	case "defLightVector":
		return parseDefLightVector(attrs, children)
	case "setNumberVector":
		return parseSetNumberVector(attrs, children)
	case "setTextVector":
		return parseSetTextVector(attrs, children)
	case "setSwitchVector":
		return parseSetSwitchVector(attrs, children)
	case "setLightVector":
		return parseSetLightVector(attrs, children)
	case "newNumberVector":
		return parseNewNumberVector(attrs, children)
	case "newTextVector":
		return parseNewTextVector(attrs, children)
	case "newSwitchVector":
		return parseNewSwitchVector(attrs, children)
	case "getProperties":
		return parseGetProperties(attrs), nil
	case "delProperty":
		return parseDelProperty(attrs), nil
	case "message":
		return parseNotice(attrs), nil
	default:
		return nil, nil
	}
}

func attrOptString(attrs map[string]string, key string) *string {
	v, ok := attrs[key]
	if !ok {
		return nil
	}
	return &v
}

func attrOptTimestamp(attrs map[string]string) (*time.Time, error) {
	v, ok := attrs["timestamp"]
	if !ok || v == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func attrOptInt(attrs map[string]string, key string) (*int, error) {
	v, ok := attrs[key]
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parsePropertyState(v string) (PropertyState, error) {
	switch PropertyState(v) {
	case PropertyStateIdle, PropertyStateOk, PropertyStateBusy, PropertyStateAlert:
		return PropertyState(v), nil
	default:
		return "", fmt.Errorf("%w: state %q", ErrInvalidEnumValue, v)
	}
}

func parsePropertyPerm(v string) (PropertyPerm, error) {
	switch PropertyPerm(v) {
	case PropertyPermReadOnly, PropertyPermWriteOnly, PropertyPermReadWrite:
		return PropertyPerm(v), nil
	default:
		return "", fmt.Errorf("%w: perm %q", ErrInvalidEnumValue, v)
	}
}

func parseSwitchRule(v string) (SwitchRule, error) {
	switch SwitchRule(v) {
	case SwitchRuleOneOfMany, SwitchRuleAtMostOne, SwitchRuleAnyOfMany:
		return SwitchRule(v), nil
	default:
		return "", fmt.Errorf("%w: rule %q", ErrInvalidEnumValue, v)
	}
}

func parseSwitchState(v string) (SwitchState, error) {
	switch SwitchState(v) {
	case SwitchStateOff, SwitchStateOn:
		return SwitchState(v), nil
	default:
		return "", fmt.Errorf("%w: switch value %q", ErrInvalidEnumValue, v)
	}
}

func parseNumberValue(raw string) (*float64, error) {
	raw = trimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return floatPtr(f), nil
}

func parseDefNumberVector(attrs map[string]string, children []childElement) (Message, error) {
	state, err := parsePropertyState(attrs["state"])
	if err != nil {
		return nil, err
	}
	perm, err := parsePropertyPerm(attrs["perm"])
	if err != nil {
		return nil, err
	}
	timeout, err := attrOptInt(attrs, "timeout")
	if err != nil {
		return nil, err
	}
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := DefNumberVector{
		DefMeta: DefMeta{
			VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]},
			Label:      attrs["label"],
			Group:      attrs["group"],
			State:      state,
			Timeout:    timeout,
			Timestamp:  ts,
			Message:    attrs["message"],
		},
		Perm: perm,
	}
	for _, c := range children {
		if c.Tag != "defNumber" {
			continue
		}
		v, err := parseNumberValue(c.CharData)
		if err != nil {
			return nil, err
		}
		min, _ := strconv.ParseFloat(c.Attrs["min"], 64)
		max, _ := strconv.ParseFloat(c.Attrs["max"], 64)
		step, _ := strconv.ParseFloat(c.Attrs["step"], 64)
		m.Elements = append(m.Elements, NumberElement{
			Name:   c.Attrs["name"],
			Label:  c.Attrs["label"],
			Format: c.Attrs["format"],
			Min:    min,
			Max:    max,
			Step:   step,
			Value:  v,
		})
	}
	return m, nil
}

func parseDefTextVector(attrs map[string]string, children []childElement) (Message, error) {
	state, err := parsePropertyState(attrs["state"])
	if err != nil {
		return nil, err
	}
	perm, err := parsePropertyPerm(attrs["perm"])
	if err != nil {
		return nil, err
	}
	timeout, err := attrOptInt(attrs, "timeout")
	if err != nil {
		return nil, err
	}
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := DefTextVector{
		DefMeta: DefMeta{
			VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]},
			Label:      attrs["label"],
			Group:      attrs["group"],
			State:      state,
			Timeout:    timeout,
			Timestamp:  ts,
			Message:    attrs["message"],
		},
		Perm: perm,
	}
	for _, c := range children {
		if c.Tag != "defText" {
			continue
		}
		m.Elements = append(m.Elements, TextElement{Name: c.Attrs["name"], Label: c.Attrs["label"], Value: emptyToNil(trimSpace(c.CharData))})
	}
	return m, nil
}

func parseDefSwitchVector(attrs map[string]string, children []childElement) (Message, error) {
	state, err := parsePropertyState(attrs["state"])
	if err != nil {
		return nil, err
	}
	perm, err := parsePropertyPerm(attrs["perm"])
	if err != nil {
		return nil, err
	}
	rule, err := parseSwitchRule(attrs["rule"])
	if err != nil {
		return nil, err
	}
	timeout, err := attrOptInt(attrs, "timeout")
	if err != nil {
		return nil, err
	}
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := DefSwitchVector{
		DefMeta: DefMeta{
			VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]},
			Label:      attrs["label"],
			Group:      attrs["group"],
			State:      state,
			Timeout:    timeout,
			Timestamp:  ts,
			Message:    attrs["message"],
		},
		Perm: perm,
		Rule: rule,
	}
	for _, c := range children {
		if c.Tag != "defSwitch" {
			continue
		}
		sv, err := parseSwitchState(trimSpace(c.CharData))
		if err != nil {
			return nil, err
		}
		m.Elements = append(m.Elements, SwitchElement{Name: c.Attrs["name"], Label: c.Attrs["label"], Value: switchPtr(sv)})
	}
	return m, nil
}

func parseDefLightVector(attrs map[string]string, children []childElement) (Message, error) {
	state, err := parsePropertyState(attrs["state"])
	if err != nil {
		return nil, err
	}
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := DefLightVector{
		DefMeta: DefMeta{
			VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]},
			Label:      attrs["label"],
			Group:      attrs["group"],
			State:      state,
			Timestamp:  ts,
			Message:    attrs["message"],
		},
	}
	for _, c := range children {
		if c.Tag != "defLight" {
			continue
		}
		lv, err := parsePropertyState(trimSpace(c.CharData))
		if err != nil {
			return nil, err
		}
		m.Elements = append(m.Elements, LightElement{Name: c.Attrs["name"], Label: c.Attrs["label"], Value: lightPtr(lv)})
	}
	return m, nil
}

func parseSetNumberVector(attrs map[string]string, children []childElement) (Message, error) {
	state, err := attrOptPropertyState(attrs)
	if err != nil {
		return nil, err
	}
	timeout, err := attrOptInt(attrs, "timeout")
	if err != nil {
		return nil, err
	}
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := SetNumberVector{
		SetMeta: SetMeta{
			VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]},
			State:      state,
			Timeout:    timeout,
			Timestamp:  ts,
			Message:    attrs["message"],
		},
	}
	for _, c := range children {
		if c.Tag != "oneNumber" {
			continue
		}
		v, err := parseNumberValue(c.CharData)
		if err != nil {
			return nil, err
		}
		m.Elements = append(m.Elements, NumberElement{Name: c.Attrs["name"], Value: v})
	}
	return m, nil
}

func parseSetTextVector(attrs map[string]string, children []childElement) (Message, error) {
	state, err := attrOptPropertyState(attrs)
	if err != nil {
		return nil, err
	}
	timeout, err := attrOptInt(attrs, "timeout")
	if err != nil {
		return nil, err
	}
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := SetTextVector{
		SetMeta: SetMeta{
			VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]},
			State:      state,
			Timeout:    timeout,
			Timestamp:  ts,
			Message:    attrs["message"],
		},
	}
	for _, c := range children {
		if c.Tag != "oneText" {
			continue
		}
		m.Elements = append(m.Elements, TextElement{Name: c.Attrs["name"], Value: emptyToNil(trimSpace(c.CharData))})
	}
	return m, nil
}

func parseSetSwitchVector(attrs map[string]string, children []childElement) (Message, error) {
	state, err := attrOptPropertyState(attrs)
	if err != nil {
		return nil, err
	}
	timeout, err := attrOptInt(attrs, "timeout")
	if err != nil {
		return nil, err
	}
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := SetSwitchVector{
		SetMeta: SetMeta{
			VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]},
			State:      state,
			Timeout:    timeout,
			Timestamp:  ts,
			Message:    attrs["message"],
		},
	}
	for _, c := range children {
		if c.Tag != "oneSwitch" {
			continue
		}
		sv, err := parseSwitchState(trimSpace(c.CharData))
		if err != nil {
			return nil, err
		}
		m.Elements = append(m.Elements, SwitchElement{Name: c.Attrs["name"], Value: switchPtr(sv)})
	}
	return m, nil
}

func parseSetLightVector(attrs map[string]string, children []childElement) (Message, error) {
	state, err := attrOptPropertyState(attrs)
	if err != nil {
		return nil, err
	}
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := SetLightVector{
		SetMeta: SetMeta{
			VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]},
			State:      state,
			Timestamp:  ts,
			Message:    attrs["message"],
		},
	}
	for _, c := range children {
		if c.Tag != "oneLight" {
			continue
		}
		lv, err := parsePropertyState(trimSpace(c.CharData))
		if err != nil {
			return nil, err
		}
		m.Elements = append(m.Elements, LightElement{Name: c.Attrs["name"], Value: lightPtr(lv)})
	}
	return m, nil
}

func parseNewNumberVector(attrs map[string]string, children []childElement) (Message, error) {
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := NewNumberVector{NewMeta: NewMeta{VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]}, Timestamp: ts}}
	for _, c := range children {
		if c.Tag != "oneNumber" {
			continue
		}
		v, err := parseNumberValue(c.CharData)
		if err != nil {
			return nil, err
		}
		m.Elements = append(m.Elements, NumberElement{Name: c.Attrs["name"], Value: v})
	}
	return m, nil
}

func parseNewTextVector(attrs map[string]string, children []childElement) (Message, error) {
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := NewTextVector{NewMeta: NewMeta{VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]}, Timestamp: ts}}
	for _, c := range children {
		if c.Tag != "oneText" {
			continue
		}
		m.Elements = append(m.Elements, TextElement{Name: c.Attrs["name"], Value: emptyToNil(trimSpace(c.CharData))})
	}
	return m, nil
}

func parseNewSwitchVector(attrs map[string]string, children []childElement) (Message, error) {
	ts, err := attrOptTimestamp(attrs)
	if err != nil {
		return nil, err
	}
	m := NewSwitchVector{NewMeta: NewMeta{VectorMeta: VectorMeta{Device: attrs["device"], Name: attrs["name"]}, Timestamp: ts}}
	for _, c := range children {
		if c.Tag != "oneSwitch" {
			continue
		}
		sv, err := parseSwitchState(trimSpace(c.CharData))
		if err != nil {
			return nil, err
		}
		m.Elements = append(m.Elements, SwitchElement{Name: c.Attrs["name"], Value: switchPtr(sv)})
	}
	return m, nil
}

func parseGetProperties(attrs map[string]string) Message {
	return GetProperties{
		Device:  attrOptString(attrs, "device"),
		Name:    attrOptString(attrs, "name"),
		Version: attrs["version"],
	}
}

func parseDelProperty(attrs map[string]string) Message {
	ts, _ := attrOptTimestamp(attrs)
	return DelProperty{
		Device:    attrOptString(attrs, "device"),
		Name:      attrOptString(attrs, "name"),
		Timestamp: ts,
		Message:   attrs["message"],
	}
}

func parseNotice(attrs map[string]string) Message {
	ts, _ := attrOptTimestamp(attrs)
	return Notice{
		Device:    attrs["device"],
		Timestamp: ts,
		Message:   attrs["message"],
	}
}

func attrOptPropertyState(attrs map[string]string) (*PropertyState, error) {
	v, ok := attrs["state"]
	if !ok || v == "" {
		return nil, nil
	}
	s, err := parsePropertyState(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// emptyToNil maps a trimmed-empty text body to an unset value: an empty
// string is a first-class null for a text element, not the empty string.
func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
