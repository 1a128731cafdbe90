// Package topology reads cluster definition files and expands them into the
// hosts, power sources and batteries of a simulation run.
//
// Files are YAML (.yaml, .yml) or TOML (.toml). Both formats share the same
// field names and are decoded strictly: unknown fields are errors.
package topology

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/dcsim/dcsim/sim/power"
)

// File is the on-disk form of a topology.
type File struct {
	Clusters []ClusterSpec `yaml:"clusters" toml:"clusters"`

	// dir resolves relative carbon trace paths.
	dir string
}

// ClusterSpec describes Count identical clusters.
type ClusterSpec struct {
	Name        string          `yaml:"name" toml:"name"`
	Count       int             `yaml:"count" toml:"count"`
	Hosts       []HostSpec      `yaml:"hosts" toml:"hosts"`
	PowerSource PowerSourceSpec `yaml:"power_source" toml:"power_source"`
	Battery     *BatterySpec    `yaml:"battery,omitempty" toml:"battery,omitempty"`
}

// HostSpec describes Count identical hosts.
type HostSpec struct {
	Name       string         `yaml:"name" toml:"name"`
	Count      int            `yaml:"count" toml:"count"`
	CPU        CPUSpec        `yaml:"cpu" toml:"cpu"`
	Memory     MemorySpec     `yaml:"memory" toml:"memory"`
	PowerModel PowerModelSpec `yaml:"power_model" toml:"power_model"`
}

// CPUSpec describes the processing units of a host.
type CPUSpec struct {
	Count        int     `yaml:"count" toml:"count"`
	CoreCount    int     `yaml:"core_count" toml:"core_count"`
	CoreSpeed    float64 `yaml:"core_speed" toml:"core_speed"`         // MHz
	MinCoreSpeed float64 `yaml:"min_core_speed" toml:"min_core_speed"` // MHz, 0 = default ratio
	Vendor       string  `yaml:"vendor" toml:"vendor"`
	Arch         string  `yaml:"arch" toml:"arch"`
}

// MemorySpec describes the memory of a host.
type MemorySpec struct {
	Size   int64   `yaml:"size" toml:"size"`   // MiB
	Speed  float64 `yaml:"speed" toml:"speed"` // MHz
	Vendor string  `yaml:"vendor" toml:"vendor"`
	Model  string  `yaml:"model" toml:"model"`
}

// PowerModelSpec selects how a host's power draw follows its utilization.
type PowerModelSpec struct {
	Model string  `yaml:"model" toml:"model"`
	Idle  float64 `yaml:"idle" toml:"idle"` // W
	Max   float64 `yaml:"max" toml:"max"`   // W
}

// PowerSourceSpec describes the grid connection of a cluster.
type PowerSourceSpec struct {
	Capacity    float64 `yaml:"capacity" toml:"capacity"` // W, 0 = unbounded
	CarbonTrace string  `yaml:"carbon_trace" toml:"carbon_trace"`
}

// BatterySpec describes the optional battery of a cluster.
type BatterySpec struct {
	Capacity        float64 `yaml:"capacity" toml:"capacity"`             // Wh
	ChargingSpeed   float64 `yaml:"charging_speed" toml:"charging_speed"` // W
	CarbonThreshold float64 `yaml:"carbon_threshold" toml:"carbon_threshold"`
}

// Load reads and validates a topology file. The format follows the file
// extension; anything other than .toml is read as YAML.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading topology: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	f, err := Parse(bytes.NewReader(data), format)
	if err != nil {
		return nil, fmt.Errorf("topology %s: %w", path, err)
	}
	f.dir = filepath.Dir(path)
	return f, nil
}

// Parse decodes and validates a topology in the given format ("yaml" or
// "toml"). Relative carbon trace paths resolve against the working directory.
func Parse(r io.Reader, format string) (*File, error) {
	var f File
	switch format {
	case "toml":
		md, err := toml.NewDecoder(r).Decode(&f)
		if err != nil {
			return nil, fmt.Errorf("parsing toml: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing toml: unknown fields %v", undecoded)
		}
	case "yaml", "yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("parsing yaml: empty topology")
			}
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown topology format %q", format)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports every problem of the topology at once.
func (f *File) Validate() error {
	var result *multierror.Error
	if len(f.Clusters) == 0 {
		result = multierror.Append(result, fmt.Errorf("no clusters defined"))
	}
	for i, c := range f.Clusters {
		where := fmt.Sprintf("clusters[%d]", i)
		if c.Name != "" {
			where = fmt.Sprintf("cluster %q", c.Name)
		}
		if c.Count < 0 {
			result = multierror.Append(result, fmt.Errorf("%s: count must be >= 0, got %d", where, c.Count))
		}
		if len(c.Hosts) == 0 {
			result = multierror.Append(result, fmt.Errorf("%s: no hosts defined", where))
		}
		for j, h := range c.Hosts {
			result = multierror.Append(result, h.validate(fmt.Sprintf("%s: hosts[%d]", where, j)))
		}
		if c.PowerSource.Capacity < 0 {
			result = multierror.Append(result, fmt.Errorf("%s: power source capacity must be >= 0, got %g", where, c.PowerSource.Capacity))
		}
		if b := c.Battery; b != nil {
			if b.Capacity <= 0 {
				result = multierror.Append(result, fmt.Errorf("%s: battery capacity must be > 0, got %g", where, b.Capacity))
			}
			if b.ChargingSpeed <= 0 {
				result = multierror.Append(result, fmt.Errorf("%s: battery charging speed must be > 0, got %g", where, b.ChargingSpeed))
			}
			if b.CarbonThreshold < 0 {
				result = multierror.Append(result, fmt.Errorf("%s: battery carbon threshold must be >= 0, got %g", where, b.CarbonThreshold))
			}
		}
	}
	return result.ErrorOrNil()
}

func (h HostSpec) validate(where string) error {
	var result *multierror.Error
	if h.Count < 0 {
		result = multierror.Append(result, fmt.Errorf("%s: count must be >= 0, got %d", where, h.Count))
	}
	if h.CPU.Count < 1 {
		result = multierror.Append(result, fmt.Errorf("%s: cpu count must be >= 1, got %d", where, h.CPU.Count))
	}
	if h.CPU.CoreCount < 1 {
		result = multierror.Append(result, fmt.Errorf("%s: cpu core count must be >= 1, got %d", where, h.CPU.CoreCount))
	}
	if h.CPU.CoreSpeed <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: cpu core speed must be > 0, got %g", where, h.CPU.CoreSpeed))
	}
	if h.CPU.MinCoreSpeed < 0 || h.CPU.MinCoreSpeed > h.CPU.CoreSpeed {
		result = multierror.Append(result, fmt.Errorf("%s: cpu min core speed must be in [0, %g], got %g", where, h.CPU.CoreSpeed, h.CPU.MinCoreSpeed))
	}
	if h.Memory.Size < 0 {
		result = multierror.Append(result, fmt.Errorf("%s: memory size must be >= 0, got %d", where, h.Memory.Size))
	}
	if !power.ValidModels[h.PowerModel.Model] {
		result = multierror.Append(result, fmt.Errorf("%s: unknown power model %q", where, h.PowerModel.Model))
	}
	if h.PowerModel.Idle < 0 || h.PowerModel.Max < h.PowerModel.Idle {
		result = multierror.Append(result, fmt.Errorf("%s: power model needs 0 <= idle <= max, got idle=%g max=%g", where, h.PowerModel.Idle, h.PowerModel.Max))
	}
	return result.ErrorOrNil()
}
