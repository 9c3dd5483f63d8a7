// Package config holds the rover's JSON configuration document.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/rover/internal/actuate"
	"github.com/banshee-data/rover/internal/depth"
	"github.com/banshee-data/rover/internal/fft"
	"github.com/banshee-data/rover/internal/frames"
	"github.com/banshee-data/rover/internal/hlac"
	"github.com/banshee-data/rover/internal/selftest"
	"github.com/banshee-data/rover/internal/xmem"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/rover.defaults.json"

// Config is the root configuration document. Every field is optional; the
// Get* accessors supply the default for anything left out, so partial
// files are safe.
type Config struct {
	// Camera frames
	FrameWidth      *int    `json:"frame_width,omitempty"`
	FrameHeight     *int    `json:"frame_height,omitempty"`
	FrameSlots      *int    `json:"frame_slots,omitempty"`
	CaptureInterval *string `json:"capture_interval,omitempty"` // duration string like "100ms"

	// External memory
	StoreSize    *int `json:"store_size,omitempty"`
	FrameBase    *int `json:"frame_base,omitempty"`
	GradientBase *int `json:"gradient_base,omitempty"`
	FFTBase      *int `json:"fft_base,omitempty"`

	// Feature extraction and transform
	HLACMaxWidth      *int `json:"hlac_max_width,omitempty"`
	HLACYieldRows     *int `json:"hlac_yield_rows,omitempty"`
	FFTMaxSize        *int `json:"fft_max_size,omitempty"`
	TransposeCapacity *int `json:"transpose_capacity,omitempty"`

	// Depth reconstruction; depth_size 0 disables it
	DepthSize    *int  `json:"depth_size,omitempty"`
	DepthPadding *bool `json:"depth_padding,omitempty"`

	// Actuation
	MotorHold         *string        `json:"motor_hold,omitempty"`
	MotorUpdatePeriod *string        `json:"motor_update_period,omitempty"`
	DefaultSpeed      *int           `json:"default_speed,omitempty"`
	Rules             []actuate.Rule `json:"rules,omitempty"`
	MotorPort         *string        `json:"motor_port,omitempty"`
	MotorBaudRate     *int           `json:"motor_baud_rate,omitempty"`
	MotorPeriodCounts *int           `json:"motor_period_counts,omitempty"`
	RepeatBelowScore  *float64       `json:"repeat_below_score,omitempty"`

	// Model, storage and listeners
	ModelPath  *string `json:"model_path,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	HTTPListen *string `json:"http_listen,omitempty"`
	GRPCListen *string `json:"grpc_listen,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Default returns a Config with every field set to its default value.
func Default() *Config {
	return &Config{
		FrameWidth:        ptrInt(320),
		FrameHeight:       ptrInt(240),
		FrameSlots:        ptrInt(2),
		CaptureInterval:   ptrString("100ms"),
		StoreSize:         ptrInt(xmem.DefaultSize),
		FrameBase:         ptrInt(0),
		GradientBase:      ptrInt(0x100000),
		FFTBase:           ptrInt(0x200000),
		HLACMaxWidth:      ptrInt(hlac.MaxWidth),
		HLACYieldRows:     ptrInt(hlac.DefaultYieldRows),
		FFTMaxSize:        ptrInt(fft.MaxSize),
		TransposeCapacity: ptrInt(fft.DefaultTransposeCapacity),
		DepthSize:         ptrInt(depth.DefaultSize),
		DepthPadding:      ptrBool(false),
		MotorHold:         ptrString(actuate.DefaultHold.String()),
		MotorUpdatePeriod: ptrString(actuate.DefaultUpdatePeriod.String()),
		DefaultSpeed:      ptrInt(actuate.DefaultSpeed),
		Rules:             actuate.DefaultRules(),
		MotorPort:         ptrString(""),
		MotorBaudRate:     ptrInt(115200),
		MotorPeriodCounts: ptrInt(2400),
		ModelPath:         ptrString(""),
		DBPath:            ptrString("rover.db"),
		HTTPListen:        ptrString(":8080"),
		GRPCListen:        ptrString(":8081"),
	}
}

// Load reads a Config from a JSON file. The file must have a .json
// extension and be at most 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefault loads DefaultConfigPath, searching upwards from the
// working directory. It panics when the file cannot be loaded and is
// meant for test setup.
func MustLoadDefault() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	positive := map[string]*int{
		"frame_width":  c.FrameWidth,
		"frame_height": c.FrameHeight,
		"frame_slots":  c.FrameSlots,
		"store_size":   c.StoreSize,
		"fft_max_size": c.FFTMaxSize,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	if c.FrameSlots != nil && *c.FrameSlots < frames.MinSlots {
		return fmt.Errorf("frame_slots must be at least %d, got %d", frames.MinSlots, *c.FrameSlots)
	}
	if c.FrameWidth != nil && *c.FrameWidth%2 != 0 {
		return fmt.Errorf("frame_width must be even for UYVY frames, got %d", *c.FrameWidth)
	}
	if c.HLACMaxWidth != nil && (*c.HLACMaxWidth < 1 || *c.HLACMaxWidth > hlac.MaxWidth) {
		return fmt.Errorf("hlac_max_width must be between 1 and %d, got %d", hlac.MaxWidth, *c.HLACMaxWidth)
	}
	if c.FrameWidth != nil && *c.FrameWidth > c.GetHLACMaxWidth() {
		return fmt.Errorf("frame_width %d exceeds hlac_max_width %d", *c.FrameWidth, c.GetHLACMaxWidth())
	}
	if c.HLACYieldRows != nil && *c.HLACYieldRows < 0 {
		return fmt.Errorf("hlac_yield_rows must be non-negative, got %d", *c.HLACYieldRows)
	}
	if c.FFTMaxSize != nil && *c.FFTMaxSize&(*c.FFTMaxSize-1) != 0 {
		return fmt.Errorf("fft_max_size must be a power of two, got %d", *c.FFTMaxSize)
	}
	// The quick self-test checks stage a whole small matrix locally.
	if minCap := selftest.SmallSize * selftest.SmallSize; c.TransposeCapacity != nil && *c.TransposeCapacity < minCap {
		return fmt.Errorf("transpose_capacity must be at least %d, got %d", minCap, *c.TransposeCapacity)
	}
	if c.DepthSize != nil {
		n := *c.DepthSize
		if n != 0 && (n < 2 || n&(n-1) != 0) {
			return fmt.Errorf("depth_size must be 0 or a power of two, got %d", n)
		}
		if grid := c.DepthGrid(); grid > c.GetFFTMaxSize() {
			return fmt.Errorf("depth grid %d exceeds fft_max_size %d", grid, c.GetFFTMaxSize())
		}
	}
	for _, base := range []*int{c.FrameBase, c.GradientBase, c.FFTBase} {
		if base != nil && *base < 0 {
			return fmt.Errorf("region base must be non-negative, got %d", *base)
		}
	}

	durations := map[string]*string{
		"capture_interval":    c.CaptureInterval,
		"motor_hold":          c.MotorHold,
		"motor_update_period": c.MotorUpdatePeriod,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	if c.DefaultSpeed != nil && (*c.DefaultSpeed < 0 || *c.DefaultSpeed > actuate.MaxSpeed) {
		return fmt.Errorf("default_speed must be between 0 and %d, got %d", actuate.MaxSpeed, *c.DefaultSpeed)
	}
	if err := actuate.ValidateRules(c.Rules); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	if c.MotorPeriodCounts != nil && *c.MotorPeriodCounts <= 0 {
		return fmt.Errorf("motor_period_counts must be positive, got %d", *c.MotorPeriodCounts)
	}
	if c.ModelPath != nil && *c.ModelPath != "" && filepath.Ext(*c.ModelPath) != ".json" {
		return fmt.Errorf("model_path must be a .json file, got %q", *c.ModelPath)
	}
	return nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetFrameWidth returns the frame width in pixels.
func (c *Config) GetFrameWidth() int { return intOr(c.FrameWidth, 320) }

// GetFrameHeight returns the frame height in pixels.
func (c *Config) GetFrameHeight() int { return intOr(c.FrameHeight, 240) }

// GetFrameSlots returns how many frame slots the publisher rotates through.
func (c *Config) GetFrameSlots() int { return intOr(c.FrameSlots, 2) }

// GetCaptureInterval returns the simulated camera frame interval.
func (c *Config) GetCaptureInterval() time.Duration {
	return durationOr(c.CaptureInterval, 100*time.Millisecond)
}

// GetStoreSize returns the external memory size in bytes.
func (c *Config) GetStoreSize() int { return intOr(c.StoreSize, xmem.DefaultSize) }

// GetFrameBase returns the base address of the frame slots.
func (c *Config) GetFrameBase() uint32 { return uint32(intOr(c.FrameBase, 0)) }

// GetGradientBase returns the base address of the gradient image.
func (c *Config) GetGradientBase() uint32 { return uint32(intOr(c.GradientBase, 0x100000)) }

// GetFFTBase returns the base address of the transform scratch area.
func (c *Config) GetFFTBase() uint32 { return uint32(intOr(c.FFTBase, 0x200000)) }

// GetHLACMaxWidth returns the widest image the feature extractor accepts.
func (c *Config) GetHLACMaxWidth() int { return intOr(c.HLACMaxWidth, hlac.MaxWidth) }

// GetHLACYieldRows returns how many rows the extractor processes between yields.
func (c *Config) GetHLACYieldRows() int { return intOr(c.HLACYieldRows, hlac.DefaultYieldRows) }

// GetFFTMaxSize returns the largest transform length.
func (c *Config) GetFFTMaxSize() int { return intOr(c.FFTMaxSize, fft.MaxSize) }

// GetTransposeCapacity returns the transpose buffer capacity in complex elements.
func (c *Config) GetTransposeCapacity() int {
	return intOr(c.TransposeCapacity, fft.DefaultTransposeCapacity)
}

// GetDepthSize returns the edge of the depth map; 0 disables depth
// reconstruction.
func (c *Config) GetDepthSize() int { return intOr(c.DepthSize, depth.DefaultSize) }

// GetDepthPadding reports whether depth is integrated on a zero-padded grid
// twice the map size.
func (c *Config) GetDepthPadding() bool { return c.DepthPadding != nil && *c.DepthPadding }

// DepthGrid returns the edge of the depth transform grid.
func (c *Config) DepthGrid() int {
	if c.GetDepthPadding() {
		return 2 * c.GetDepthSize()
	}
	return c.GetDepthSize()
}

// GetMotorHold returns the minimum dwell of an applied motor output.
func (c *Config) GetMotorHold() time.Duration { return durationOr(c.MotorHold, actuate.DefaultHold) }

// GetMotorUpdatePeriod returns the motor task's wake-up period.
func (c *Config) GetMotorUpdatePeriod() time.Duration {
	return durationOr(c.MotorUpdatePeriod, actuate.DefaultUpdatePeriod)
}

// GetDefaultSpeed returns the speed used by the default rule table.
func (c *Config) GetDefaultSpeed() int { return intOr(c.DefaultSpeed, actuate.DefaultSpeed) }

// GetRules returns the configured rule table, or the default table at
// GetDefaultSpeed when none is configured.
func (c *Config) GetRules() []actuate.Rule {
	if len(c.Rules) > 0 {
		return append([]actuate.Rule(nil), c.Rules...)
	}
	rules := actuate.DefaultRules()
	for i := range rules {
		rules[i].Speed = c.GetDefaultSpeed()
	}
	return rules
}

// GetMotorPort returns the motor board serial device; empty means no board.
func (c *Config) GetMotorPort() string { return stringOr(c.MotorPort, "") }

// GetMotorPortOptions returns the serial options for the motor board.
func (c *Config) GetMotorPortOptions() actuate.PortOptions {
	return actuate.PortOptions{BaudRate: intOr(c.MotorBaudRate, 115200)}
}

// GetMotorPeriodCounts returns the PWM period in timer counts.
func (c *Config) GetMotorPeriodCounts() uint32 { return uint32(intOr(c.MotorPeriodCounts, 2400)) }

// GetRepeatBelowScore returns the score under which the previous action is
// repeated instead of the predicted one. nil disables repeating.
func (c *Config) GetRepeatBelowScore() *float64 { return c.RepeatBelowScore }

// GetModelPath returns the classifier model file; empty selects the stub model.
func (c *Config) GetModelPath() string { return stringOr(c.ModelPath, "") }

// GetDBPath returns the sqlite database path.
func (c *Config) GetDBPath() string { return stringOr(c.DBPath, "rover.db") }

// GetHTTPListen returns the HTTP listen address.
func (c *Config) GetHTTPListen() string { return stringOr(c.HTTPListen, ":8080") }

// GetGRPCListen returns the gRPC listen address.
func (c *Config) GetGRPCListen() string { return stringOr(c.GRPCListen, ":8081") }
