package dashboard

import (
	"fmt"
	"time"

	// Chart timezones must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"

	defaults "github.com/xtxerr/ebismon/config"
	"github.com/xtxerr/ebismon/internal/errors"
)

// Config configures the HTTP API.
type Config struct {
	Listen        string        `yaml:"listen"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	WindowMinutes int           `yaml:"window_minutes"`
	Timezone      string        `yaml:"timezone"`
	Categories    []Category    `yaml:"categories"`
}

// Category is one selectable chart: all channels of a catalog group.
type Category struct {
	Name  string `yaml:"name"`
	Group string `yaml:"group"`

	// YTitle labels the y-axis.
	YTitle     string `yaml:"y_title"`
	Log        bool   `yaml:"log"`
	TickFormat string `yaml:"tick_format"`
}

// DefaultConfig returns the dashboard of the TwinEBIS deployment.
func DefaultConfig() Config {
	return Config{
		Listen:        defaults.DefaultListenAddress,
		PollInterval:  defaults.DefaultPollInterval,
		WindowMinutes: defaults.DefaultWindowMinutes,
		Timezone:      defaults.DefaultTimezone,
		Categories: []Category{
			{Name: "Currents", Group: "psu", YTitle: "Current (A)"},
			{Name: "Pressures", Group: "gauge", YTitle: "Pressure (mbar)", Log: true, TickFormat: ".2e"},
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.NewValidation("dashboard.listen", "must not be empty"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.NewValidation("dashboard.poll_interval", "must be positive"))
	}
	if c.WindowMinutes <= 0 {
		errs = append(errs, errors.NewValidation("dashboard.window_minutes", "must be positive"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, errors.NewValidation("dashboard.timezone", err.Error()))
	}
	if len(c.Categories) == 0 {
		errs = append(errs, errors.NewValidation("dashboard.categories", "at least one category is required"))
	}

	seen := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		path := fmt.Sprintf("dashboard.categories[%d]", i)
		if cat.Name == "" {
			errs = append(errs, errors.NewValidation(path+".name", "must not be empty"))
		} else if seen[cat.Name] {
			errs = append(errs, errors.NewValidation(path+".name", fmt.Sprintf("duplicate category %q", cat.Name)))
		}
		seen[cat.Name] = true
		if cat.Group == "" {
			errs = append(errs, errors.NewValidation(path+".group", "must not be empty"))
		}
	}

	return errors.Join(errs...)
}

// category returns the category called name.
func (c *Config) category(name string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.Name == name {
			return cat, true
		}
	}
	return Category{}, false
}
