package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/actuate"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsFileMatchesDefault(t *testing.T) {
	cfg, err := Load("../../" + DefaultConfigPath)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("defaults file differs from Default() (-want +got):\n%s", diff)
	}
}

func TestGetterDefaults(t *testing.T) {
	empty := Empty()
	def := Default()

	assert.Equal(t, def.GetFrameWidth(), empty.GetFrameWidth())
	assert.Equal(t, def.GetFrameHeight(), empty.GetFrameHeight())
	assert.Equal(t, def.GetFrameSlots(), empty.GetFrameSlots())
	assert.Equal(t, 100*time.Millisecond, empty.GetCaptureInterval())
	assert.Equal(t, def.GetStoreSize(), empty.GetStoreSize())
	assert.Equal(t, uint32(0), empty.GetFrameBase())
	assert.Equal(t, uint32(0x100000), empty.GetGradientBase())
	assert.Equal(t, uint32(0x200000), empty.GetFFTBase())
	assert.Equal(t, 320, empty.GetHLACMaxWidth())
	assert.Equal(t, 10, empty.GetHLACYieldRows())
	assert.Equal(t, 256, empty.GetFFTMaxSize())
	assert.Equal(t, 256, empty.GetTransposeCapacity())
	assert.Equal(t, 128, empty.GetDepthSize())
	assert.False(t, empty.GetDepthPadding())
	assert.Equal(t, 128, empty.DepthGrid())
	assert.Equal(t, 500*time.Millisecond, empty.GetMotorHold())
	assert.Equal(t, 20*time.Millisecond, empty.GetMotorUpdatePeriod())
	assert.Equal(t, 600, empty.GetDefaultSpeed())
	assert.Equal(t, actuate.DefaultRules(), empty.GetRules())
	assert.Equal(t, "", empty.GetMotorPort())
	assert.Equal(t, 115200, empty.GetMotorPortOptions().BaudRate)
	assert.Equal(t, uint32(2400), empty.GetMotorPeriodCounts())
	assert.Equal(t, "", empty.GetModelPath())
	assert.Equal(t, "rover.db", empty.GetDBPath())
	assert.Equal(t, ":8080", empty.GetHTTPListen())
	assert.Equal(t, ":8081", empty.GetGRPCListen())
	assert.Nil(t, empty.GetRepeatBelowScore())
}

func TestLoadPartial(t *testing.T) {
	path := writeConfig(t, "partial.json", `{"frame_width": 160, "motor_hold": "750ms", "default_speed": 400, "repeat_below_score": 0.25}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 160, cfg.GetFrameWidth())
	assert.Equal(t, 240, cfg.GetFrameHeight(), "unset fields fall back to defaults")
	assert.Equal(t, 750*time.Millisecond, cfg.GetMotorHold())
	require.NotNil(t, cfg.GetRepeatBelowScore())
	assert.Equal(t, 0.25, *cfg.GetRepeatBelowScore())
	for _, r := range cfg.GetRules() {
		assert.Equal(t, 400, r.Speed, "default rules follow default_speed")
	}
}

func TestLoadRules(t *testing.T) {
	path := writeConfig(t, "rules.json", `{"rules": [{"lo": 0, "hi": 4, "action": "turn_left", "speed": 300}]}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []actuate.Rule{{Lo: 0, Hi: 4, Action: actuate.TurnLeft, Speed: 300}}, cfg.GetRules())
}

func TestLoadRejects(t *testing.T) {
	t.Run("extension", func(t *testing.T) {
		_, err := Load(writeConfig(t, "cfg.yaml", `{}`))
		assert.ErrorContains(t, err, ".json extension")
	})
	t.Run("missing", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "none.json"))
		assert.Error(t, err)
	})
	t.Run("malformed", func(t *testing.T) {
		_, err := Load(writeConfig(t, "bad.json", `{"frame_width": "wide"}`))
		assert.ErrorContains(t, err, "parse")
	})
	t.Run("too large", func(t *testing.T) {
		body := `{"model_path": "` + strings.Repeat("a", 1<<20) + `.json"}`
		_, err := Load(writeConfig(t, "big.json", body))
		assert.ErrorContains(t, err, "too large")
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"zero width", Config{FrameWidth: ptrInt(0)}, "frame_width must be positive"},
		{"odd width", Config{FrameWidth: ptrInt(321)}, "even"},
		{"too wide", Config{FrameWidth: ptrInt(640)}, "exceeds hlac_max_width"},
		{"hlac width", Config{HLACMaxWidth: ptrInt(400)}, "hlac_max_width"},
		{"fft size", Config{FFTMaxSize: ptrInt(200)}, "power of two"},
		{"bad hold", Config{MotorHold: ptrString("soon")}, "invalid motor_hold"},
		{"negative period", Config{MotorUpdatePeriod: ptrString("-1s")}, "motor_update_period must be positive"},
		{"speed", Config{DefaultSpeed: ptrInt(1200)}, "default_speed"},
		{"rules", Config{Rules: []actuate.Rule{{Lo: 2, Hi: 1}}}, "rules"},
		{"model ext", Config{ModelPath: ptrString("model.bin")}, "model_path"},
		{"negative base", Config{FFTBase: ptrInt(-16)}, "region base"},
		{"single frame slot", Config{FrameSlots: ptrInt(1)}, "frame_slots must be at least 2"},
		{"zero transpose capacity", Config{TransposeCapacity: ptrInt(0)}, "transpose_capacity must be at least 256"},
		{"small transpose capacity", Config{TransposeCapacity: ptrInt(255)}, "transpose_capacity must be at least 256"},
		{"depth size", Config{DepthSize: ptrInt(100)}, "depth_size must be 0 or a power of two"},
		{"padded depth grid", Config{DepthSize: ptrInt(256), DepthPadding: ptrBool(true)}, "depth grid 512 exceeds fft_max_size 256"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorContains(t, tc.cfg.Validate(), tc.want)
		})
	}
	assert.NoError(t, Default().Validate())
	assert.NoError(t, Empty().Validate())
	assert.NoError(t, (&Config{FrameSlots: ptrInt(2), TransposeCapacity: ptrInt(256)}).Validate())
	assert.NoError(t, (&Config{DepthSize: ptrInt(0)}).Validate(), "depth disabled")
	assert.NoError(t, (&Config{DepthSize: ptrInt(128), DepthPadding: ptrBool(true)}).Validate())
}

func TestMustLoadDefault(t *testing.T) {
	cfg := MustLoadDefault()
	assert.Equal(t, 320, cfg.GetFrameWidth())
}
