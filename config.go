package goindi

import (
	"io"

	"gopkg.in/yaml.v3"
)

// DeviceVisibility controls whether a Proxy forwards a device to
// downstream peers at all, and if so whether those peers may write to it.
type DeviceVisibility struct {
	Visible  bool `yaml:"visible"`
	Settable bool `yaml:"settable"`
}

// VisibilityConfig is a Proxy's per-device allowlist, loaded from YAML. A
// nil *VisibilityConfig (the zero value for a Proxy that was never given
// one) means forward everything, settable by everyone: the MagAO-X runtime
// this is modeled on has no concept of a "forward nothing by default"
// proxy, since its whole purpose is to aggregate every local indiserver for
// remote operators.
type VisibilityConfig struct {
	Default DeviceVisibility            `yaml:"default"`
	Devices map[string]DeviceVisibility `yaml:"devices"`
}

// LoadVisibilityConfig reads a VisibilityConfig from YAML.
func LoadVisibilityConfig(r io.Reader) (*VisibilityConfig, error) {
	var cfg VisibilityConfig
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *VisibilityConfig) visibilityFor(device string) DeviceVisibility {
	if c == nil {
		return DeviceVisibility{Visible: true, Settable: true}
	}
	if v, ok := c.Devices[device]; ok {
		return v
	}
	if len(c.Devices) == 0 {
		return DeviceVisibility{Visible: true, Settable: true}
	}
	return c.Default
}
