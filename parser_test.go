package goindi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParserRoundTripDefSwitchVector(t *testing.T) {
	p := NewParser(nil)
	defer p.Close()

	raw := `<defSwitchVector device="Camera" name="Binning" rule="OneOfMany" state="Ok" perm="wo" timeout="0" label="Binning">
	<defSwitch name="One" label="1:1">Off</defSwitch>
	<defSwitch name="Two" label="2:1">On </defSwitch>
	<defSwitch name="Three" label="3:1">Off</defSwitch>
	</defSwitchVector>`

	require.NoError(t, p.Feed([]byte(raw)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := p.Next(ctx)
	require.True(t, ok)

	def, ok := msg.(DefSwitchVector)
	require.True(t, ok)
	require.Equal(t, "Camera", def.Device)
	require.Equal(t, "Binning", def.Name)
	require.Equal(t, SwitchRuleOneOfMany, def.Rule)
	require.Len(t, def.Elements, 3)
	require.Equal(t, SwitchStateOn, *def.Elements[1].Value)
}

func TestParserSiblingMessagesWithoutWrappingRoot(t *testing.T) {
	p := NewParser(nil)
	defer p.Close()

	raw := `<getProperties version="1.7"/><delProperty device="Camera"/>`
	require.NoError(t, p.Feed([]byte(raw)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, ok := p.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "getProperties", first.Tag())

	second, ok := p.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "delProperty", second.Tag())
}

func TestParserResyncsAfterMalformedXML(t *testing.T) {
	p := NewParser(nil)
	defer p.Close()

	// A self-contained mismatched-tag element: decodeStream must fail,
	// run must rebuild a fresh decoder over the same pipe, and the
	// well-formed message fed afterward must still come through.
	require.NoError(t, p.Feed([]byte(`<foo></bar>`)))
	require.NoError(t, p.Feed([]byte(`<getProperties version="1.7"/>`)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := p.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "getProperties", msg.Tag())
}

func TestParserTextElementEmptyBodyIsUnsetNotEmptyString(t *testing.T) {
	p := NewParser(nil)
	defer p.Close()

	raw := `<defTextVector device="Rotator" name="Status" state="Ok" perm="ro" timeout="0" label="Status">
	<defText name="Phase">  </defText>
	<defText name="Note">hello </defText>
	</defTextVector>`
	require.NoError(t, p.Feed([]byte(raw)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := p.Next(ctx)
	require.True(t, ok)

	def, ok := msg.(DefTextVector)
	require.True(t, ok)
	require.Len(t, def.Elements, 2)
	require.Nil(t, def.Elements[0].Value, "a whitespace-only body must parse as unset, not an empty string")
	require.NotNil(t, def.Elements[1].Value)
	require.Equal(t, "hello", *def.Elements[1].Value)
}

func TestParserIgnoresUnknownTag(t *testing.T) {
	p := NewParser(nil)
	defer p.Close()

	require.NoError(t, p.Feed([]byte(`<oneBLOB name="x" size="0" format=".fits"/><getProperties version="1.7"/>`)))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, ok := p.Next(ctx)
	require.True(t, ok)
	require.Equal(t, "getProperties", msg.Tag())
}
