package catalog

import (
	"fmt"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/validation"
)

// Config is the catalog section of the configuration file.
type Config struct {
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig declares one device and its positional fields.
type DeviceConfig struct {
	// Name identifies the device in logs and in the feed configuration.
	Name string `yaml:"name"`

	// Parameter is the exact control-system parameter of the device.
	Parameter string `yaml:"parameter"`

	// Match classifies parameters that contain this substring.
	Match string `yaml:"match"`

	// Group is the key namespace of the device's channels.
	Group string `yaml:"group"`

	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig maps one field index to a channel name.
type ChannelConfig struct {
	Name  string `yaml:"name"`
	Index int    `yaml:"index"`
}

// DefaultConfig returns the TwinEBIS catalog: the HV and Gun power supply
// crates and the two Penning gauges.
func DefaultConfig() Config {
	return Config{
		Devices: []DeviceConfig{
			{
				Name:      "hv",
				Parameter: "TwinEBIS_cRIO_HV/PSU_all_values#I_read",
				Match:     "_HV",
				Group:     "psu",
				Channels: []ChannelConfig{
					{Name: "HV_GunBias", Index: 0},
					{Name: "HV_AnodeDt", Index: 1},
					{Name: "HV_InnerBarrier", Index: 2},
					{Name: "HV_Extractor", Index: 3},
				},
			},
			{
				Name:      "gun",
				Parameter: "TwinEBIS_cRIO_Gun/PSU_all_values#I_read",
				Match:     "Gun",
				Group:     "psu",
				Channels: []ChannelConfig{
					{Name: "GUN_CathodeHeating", Index: 0},
					{Name: "GUN_Wehnelt", Index: 1},
					{Name: "GUN_Anode", Index: 2},
					{Name: "GUN_Suppressor", Index: 3},
					{Name: "GUN_Collector", Index: 4},
					{Name: "GUN_Extractor", Index: 5},
				},
			},
			{
				Name:      "gauges",
				Parameter: "TwinEBIS_Vacuum/Penning_all_values#P_read",
				Match:     "Penning",
				Group:     "gauge",
				Channels: []ChannelConfig{
					{Name: "EBIS_Gun_Penning", Index: 0},
					{Name: "EBIS_Collector_Penning", Index: 1},
				},
			},
		},
	}
}

// Validate checks names, groups and field indices.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Devices) == 0 {
		errs = append(errs, errors.NewValidation("catalog.devices", "at least one device required"))
	}

	devices := make(map[string]bool)
	parameters := make(map[string]bool)
	channels := make(map[string]string)

	for i, d := range c.Devices {
		path := fmt.Sprintf("catalog.devices[%d]", i)

		if err := validation.ValidateDeviceName(d.Name); err != nil {
			errs = append(errs, errors.NewValidation(path+".name", err.Error()))
		} else if devices[d.Name] {
			errs = append(errs, errors.NewValidation(path+".name", fmt.Sprintf("duplicate device %q", d.Name)))
		}
		devices[d.Name] = true

		if d.Parameter != "" {
			if parameters[d.Parameter] {
				errs = append(errs, errors.NewValidation(path+".parameter", fmt.Sprintf("duplicate parameter %q", d.Parameter)))
			}
			parameters[d.Parameter] = true
		}

		if err := validation.ValidateKeyPart(d.Group); err != nil {
			errs = append(errs, errors.NewValidation(path+".group", fmt.Sprintf("invalid group %q: %v", d.Group, err)))
		}

		if len(d.Channels) == 0 {
			errs = append(errs, errors.NewValidation(path+".channels", "at least one channel required"))
		}

		indices := make(map[int]bool)
		for j, ch := range d.Channels {
			cpath := fmt.Sprintf("%s.channels[%d]", path, j)

			if err := validation.ValidateKeyPart(ch.Name); err != nil {
				errs = append(errs, errors.NewValidation(cpath+".name", fmt.Sprintf("invalid channel name %q: %v", ch.Name, err)))
			} else if owner, dup := channels[ch.Name]; dup {
				errs = append(errs, errors.NewValidation(cpath+".name",
					fmt.Sprintf("channel %q already declared by device %q", ch.Name, owner)))
			}
			channels[ch.Name] = d.Name

			if ch.Index < 0 {
				errs = append(errs, errors.NewValidation(cpath+".index", "must be >= 0"))
			} else if indices[ch.Index] {
				errs = append(errs, errors.NewValidation(cpath+".index", fmt.Sprintf("duplicate index %d", ch.Index)))
			}
			indices[ch.Index] = true
		}
	}

	return errors.Join(errs...)
}
