// Package catalog maps the control-system feed onto store channels.
//
// The catalog is built once at startup and never changes afterwards. It
// answers two questions: which Channel a logical name refers to, and which
// physical device a feed event came from, so that the event's positional
// value array can be read against that device's field layout.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/storage/types"
)

// Catalog is the immutable channel and device lookup.
// Catalog is safe for concurrent use.
type Catalog struct {
	channels []types.Channel
	byName   map[string]types.Channel

	devices      []*Device
	byParameter  map[string]*Device
	byDeviceName map[string]*Device
}

// Device is one physical device group of the feed, e.g. the HV power
// supply crate. Its events carry one value per field, by position.
type Device struct {
	Name      string
	Parameter string
	Match     string
	Group     string

	fields []field
	width  int
}

type field struct {
	index   int
	channel types.Channel
}

// New builds a catalog from configuration.
func New(cfg Config) (*Catalog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		byName:       make(map[string]types.Channel),
		byParameter:  make(map[string]*Device),
		byDeviceName: make(map[string]*Device),
	}

	for _, dc := range cfg.Devices {
		d := &Device{
			Name:      dc.Name,
			Parameter: dc.Parameter,
			Match:     dc.Match,
			Group:     dc.Group,
		}
		for _, fc := range dc.Channels {
			ch := types.Channel{Name: fc.Name, Group: dc.Group}
			d.fields = append(d.fields, field{index: fc.Index, channel: ch})
			if fc.Index+1 > d.width {
				d.width = fc.Index + 1
			}
			c.channels = append(c.channels, ch)
			c.byName[ch.Name] = ch
		}
		sort.SliceStable(d.fields, func(i, j int) bool { return d.fields[i].index < d.fields[j].index })

		c.devices = append(c.devices, d)
		c.byDeviceName[d.Name] = d
		if d.Parameter != "" {
			c.byParameter[d.Parameter] = d
		}
	}

	return c, nil
}

// MustDefault returns the catalog of the default deployment.
func MustDefault() *Catalog {
	c, err := New(DefaultConfig())
	if err != nil {
		panic(fmt.Sprintf("default catalog: %v", err))
	}
	return c
}

// Resolve returns the channel with the given name.
func (c *Catalog) Resolve(name string) (types.Channel, error) {
	ch, ok := c.byName[name]
	if !ok {
		return types.Channel{}, errors.NewUnknownChannel(name)
	}
	return ch, nil
}

// ResolveAll resolves every name, failing on the first unknown one.
func (c *Catalog) ResolveAll(names []string) ([]types.Channel, error) {
	out := make([]types.Channel, 0, len(names))
	for _, n := range names {
		ch, err := c.Resolve(n)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// Contains reports whether ch is a declared channel.
func (c *Catalog) Contains(ch types.Channel) bool {
	known, ok := c.byName[ch.Name]
	return ok && known == ch
}

// Channels returns all channels in declaration order.
func (c *Catalog) Channels() []types.Channel {
	out := make([]types.Channel, len(c.channels))
	copy(out, c.channels)
	return out
}

// Names returns all channel names in declaration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.channels))
	for i, ch := range c.channels {
		out[i] = ch.Name
	}
	return out
}

// Devices returns all devices in declaration order.
func (c *Catalog) Devices() []*Device {
	out := make([]*Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// Device classifies a feed event by its parameter (or device) name.
//
// An exact parameter or device name wins. Otherwise the first device, in
// declaration order, whose Match substring occurs in parameter is chosen.
func (c *Catalog) Device(parameter string) (*Device, error) {
	if d, ok := c.byParameter[parameter]; ok {
		return d, nil
	}
	if d, ok := c.byDeviceName[parameter]; ok {
		return d, nil
	}
	for _, d := range c.devices {
		if d.Match != "" && strings.Contains(parameter, d.Match) {
			return d, nil
		}
	}
	return nil, errors.NewUnknownDevice(parameter)
}

// Width is the minimum length of a value array for this device.
func (d *Device) Width() int {
	return d.width
}

// Channels returns the device's channels ordered by field index.
func (d *Device) Channels() []types.Channel {
	out := make([]types.Channel, len(d.fields))
	for i, f := range d.fields {
		out[i] = f.channel
	}
	return out
}

// Map reads a positional value array into a batch stamped with ts.
// Values beyond the highest field index are ignored.
func (d *Device) Map(values []float64, ts time.Time) (*types.Batch, error) {
	if len(values) < d.width {
		return nil, errors.NewInvalidBatch(fmt.Sprintf(
			"device %s: got %d values, need %d", d.Name, len(values), d.width))
	}

	b := types.NewBatch(d.Name, len(d.fields))
	for _, f := range d.fields {
		b.Add(f.channel, types.NewSample(ts, values[f.index]))
	}
	return b, nil
}
