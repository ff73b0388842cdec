package sweep

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML strings like "600s" into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}

	*d = Duration(v)

	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config controls one sweep run. There are no process-wide defaults; the
// CLI builds a Config and hands it to NewController.
type Config struct {
	Sizes   []uint64 `yaml:"sizes"`
	Threads []int    `yaml:"threads"`

	// Repeats is the number of independent trials per cell.
	Repeats int `yaml:"repeats"`

	// Timeout is the per-trial wall-clock limit.
	Timeout Duration `yaml:"timeout"`

	SafetyFraction  float64 `yaml:"safety_fraction"`
	BytesPerElement uint64  `yaml:"bytes_per_element"`
	MemMultiplier   float64 `yaml:"mem_multiplier"`

	// RetryOnFailure re-runs failed trials with exponential backoff,
	// up to MaxRetries attempts beyond the first.
	RetryOnFailure bool `yaml:"retry_on_failure"`
	MaxRetries     int  `yaml:"max_retries"`
}

// DefaultConfig mirrors the historical experiment setup: powers of two
// from 2^2 through 2^30, thread counts 1 through 16, one trial per cell.
func DefaultConfig() Config {
	return Config{
		Sizes:           PowersOfTwo(2, 30),
		Threads:         []int{1, 2, 4, 8, 16},
		Repeats:         1,
		Timeout:         Duration(600 * time.Second),
		SafetyFraction:  0.4,
		BytesPerElement: 8,
		MemMultiplier:   1.0,
		MaxRetries:      2,
	}
}

// PowersOfTwo returns 2^minPower through 2^maxPower inclusive.
func PowersOfTwo(minPower, maxPower int) []uint64 {
	if minPower < 0 || maxPower > 62 || minPower > maxPower {
		return nil
	}

	sizes := make([]uint64, 0, maxPower-minPower+1)
	for p := minPower; p <= maxPower; p++ {
		sizes = append(sizes, uint64(1)<<p)
	}

	return sizes
}

// LoadConfig reads a YAML sweep file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects configurations the controller cannot run.
func (c Config) Validate() error {
	if len(c.Sizes) == 0 {
		return fmt.Errorf("no problem sizes configured")
	}

	for _, n := range c.Sizes {
		if n == 0 {
			return fmt.Errorf("problem sizes must be positive")
		}
	}

	if len(c.Threads) == 0 {
		return fmt.Errorf("no thread counts configured")
	}

	for _, t := range c.Threads {
		if t < 1 {
			return fmt.Errorf("thread counts must be positive, got %d", t)
		}
	}

	if c.Repeats < 1 {
		return fmt.Errorf("repeats must be at least 1, got %d", c.Repeats)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", time.Duration(c.Timeout))
	}

	if c.SafetyFraction <= 0 || c.SafetyFraction > 1 {
		return fmt.Errorf(
			"safety fraction must be in (0, 1], got %g", c.SafetyFraction,
		)
	}

	if c.BytesPerElement == 0 {
		return fmt.Errorf("bytes per element must be positive")
	}

	if c.MemMultiplier <= 0 {
		return fmt.Errorf("memory multiplier must be positive, got %g", c.MemMultiplier)
	}

	if c.RetryOnFailure && c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1 when retry is enabled")
	}

	return nil
}
