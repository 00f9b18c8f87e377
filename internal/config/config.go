// Package config loads the renderer settings from a TOML file.
package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type Window struct {
	Title  string `toml:"title"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`
}

type Graphics struct {
	Validation     bool    `toml:"validation"`
	PresentMode    string  `toml:"present_mode"`
	Multisample    bool    `toml:"multisample"`
	SampleShading  bool    `toml:"sample_shading"`
	MinSampleShade float32 `toml:"min_sample_shading"`
}

type Assets struct {
	Model          string `toml:"model"`
	Material       string `toml:"material"`
	Texture        string `toml:"texture"`
	VertexShader   string `toml:"vertex_shader"`
	FragmentShader string `toml:"fragment_shader"`
	WatchShaders   bool   `toml:"watch_shaders"`
}

type Scene struct {
	Models int `toml:"models"`
}

type Log struct {
	Level string `toml:"level"`
}

type Config struct {
	Window   Window   `toml:"window"`
	Graphics Graphics `toml:"graphics"`
	Assets   Assets   `toml:"assets"`
	Scene    Scene    `toml:"scene"`
	Log      Log      `toml:"log"`
}

var presentModes = []string{"mailbox", "fifo", "fifo_relaxed", "immediate"}

var logLevels = []string{"debug", "info", "warn", "error", "fatal"}

func Default() Config {
	return Config{
		Window: Window{
			Title:  "Vulkan",
			Width:  800,
			Height: 600,
		},
		Graphics: Graphics{
			Validation:     true,
			PresentMode:    "mailbox",
			Multisample:    true,
			SampleShading:  true,
			MinSampleShade: 0.2,
		},
		Assets: Assets{
			Model:          "assets/meshes/viking_room.obj",
			Material:       "assets/meshes/viking_room.mtl",
			Texture:        "assets/images/viking_room.png",
			VertexShader:   "assets/shaders/vert.spv",
			FragmentShader: "assets/shaders/frag.spv",
			WatchShaders:   true,
		},
		Scene: Scene{
			Models: 1,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Parse overlays TOML data on the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}

	return cfg, cfg.Validate()
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	} else if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	cfg, err := Parse(data)
	if err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height)
	}

	c.Graphics.PresentMode = strings.ToLower(c.Graphics.PresentMode)
	if !contains(presentModes, c.Graphics.PresentMode) {
		return errors.Errorf("unknown present mode %q, want one of %s", c.Graphics.PresentMode, strings.Join(presentModes, ", "))
	}

	if c.Graphics.MinSampleShade < 0 || c.Graphics.MinSampleShade > 1 {
		return errors.Errorf("min_sample_shading %v outside [0,1]", c.Graphics.MinSampleShade)
	}

	if c.Assets.Model == "" || c.Assets.Texture == "" {
		return errors.New("model and texture paths are required")
	}
	if c.Assets.VertexShader == "" || c.Assets.FragmentShader == "" {
		return errors.New("vertex and fragment shader paths are required")
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	if !contains(logLevels, c.Log.Level) {
		return errors.Errorf("unknown log level %q", c.Log.Level)
	}

	return nil
}
