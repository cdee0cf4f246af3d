// Package config layers defaults, an optional YAML file, SIGNALERT_* environment
// variables and command-line flags into one Config.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/dj-oyu/traffic-sign-alert/internal/detect"
	"github.com/dj-oyu/traffic-sign-alert/internal/pipeline"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
	"github.com/dj-oyu/traffic-sign-alert/internal/webmonitor"
)

// EnvPrefix is prepended to every environment override, e.g. SIGNALERT_PIPELINE_THRESHOLD
const EnvPrefix = "SIGNALERT"

// ErrInvalid wraps every validation failure
var ErrInvalid = errors.New("invalid configuration")

// Log selects logger output settings
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
	Color  bool   `mapstructure:"color"`
}

// HTTP configures the web monitor listener and streams
type HTTP struct {
	Addr        string        `mapstructure:"addr"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
	HistorySize int           `mapstructure:"history_size"`
	KeepAlive   time.Duration `mapstructure:"keepalive"`
}

// Detector points at the model server
type Detector struct {
	URL         string        `mapstructure:"url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
}

// Source configures camera capture and frame skipping
type Source struct {
	CameraDevice    string `mapstructure:"camera_device"`
	CameraFormat    string `mapstructure:"camera_format"`
	CameraWidth     int    `mapstructure:"camera_width"`
	CameraHeight    int    `mapstructure:"camera_height"`
	CameraFrameRate int    `mapstructure:"camera_framerate"`
	FrameSkip       int    `mapstructure:"frame_skip"`
	SkipVideo       bool   `mapstructure:"skip_video"`
}

// Pipeline tunes per-session processing
type Pipeline struct {
	Threshold         float64       `mapstructure:"threshold"`
	DisplayWidth      int           `mapstructure:"display_width"`
	DisplayHeight     int           `mapstructure:"display_height"`
	AlertWindow       time.Duration `mapstructure:"alert_window"`
	MaxDetectFailures int           `mapstructure:"max_detect_failures"`
	Prefetch          int           `mapstructure:"prefetch"` // 0 = single loop
}

// Speech selects the speech backend
type Speech struct {
	Command string `mapstructure:"command"` // empty = log only
	Queue   int    `mapstructure:"queue"`   // 0 = speak inside the tick
}

// Config is the full runtime configuration
type Config struct {
	Log      Log      `mapstructure:"log"`
	HTTP     HTTP     `mapstructure:"http"`
	Detector Detector `mapstructure:"detector"`
	Catalog  string   `mapstructure:"catalog"` // YAML class table, empty = built-in
	Source   Source   `mapstructure:"source"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Speech   Speech   `mapstructure:"speech"`
}

// New returns a viper instance carrying the defaults and environment bindings
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func setDefaults(v *viper.Viper) {
	mon := webmonitor.DefaultConfig()
	drv := pipeline.DefaultDriverConfig()
	src := source.DefaultOptions()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)

	v.SetDefault("http.addr", mon.Addr)
	v.SetDefault("http.jpeg_quality", mon.JPEGQuality)
	v.SetDefault("http.history_size", mon.HistorySize)
	v.SetDefault("http.keepalive", mon.KeepAlive)

	v.SetDefault("detector.url", "http://127.0.0.1:8000")
	v.SetDefault("detector.timeout", 10*time.Second)
	v.SetDefault("detector.jpeg_quality", 90)

	v.SetDefault("catalog", "")

	v.SetDefault("source.camera_device", src.CameraDevice)
	v.SetDefault("source.camera_format", src.CameraFormat)
	v.SetDefault("source.camera_width", src.CameraWidth)
	v.SetDefault("source.camera_height", src.CameraHeight)
	v.SetDefault("source.camera_framerate", src.CameraFrameRate)
	v.SetDefault("source.frame_skip", src.FrameSkip)
	v.SetDefault("source.skip_video", src.SkipVideo)

	v.SetDefault("pipeline.threshold", drv.Threshold)
	v.SetDefault("pipeline.display_width", drv.DisplayWidth)
	v.SetDefault("pipeline.display_height", drv.DisplayHeight)
	v.SetDefault("pipeline.alert_window", drv.AlertWindow)
	v.SetDefault("pipeline.max_detect_failures", drv.MaxDetectFailures)
	v.SetDefault("pipeline.prefetch", 0)

	v.SetDefault("speech.command", "")
	v.SetDefault("speech.queue", 0)
}

// Load reads the optional config file into v and decodes the merged result.
// A named file that cannot be read is an error; an empty path skips the file layer.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decoding config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting at once
func (c Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, errors.Wrapf(ErrInvalid, format, args...))
		}
	}

	check(c.Pipeline.Threshold >= 0 && c.Pipeline.Threshold <= 100,
		"pipeline.threshold %v outside [0,100]", c.Pipeline.Threshold)
	check(c.Source.FrameSkip >= 1, "source.frame_skip %d < 1", c.Source.FrameSkip)
	check(c.Pipeline.DisplayWidth > 0 && c.Pipeline.DisplayHeight > 0,
		"pipeline display size %dx%d", c.Pipeline.DisplayWidth, c.Pipeline.DisplayHeight)
	check(c.Pipeline.AlertWindow > 0, "pipeline.alert_window %s must be positive", c.Pipeline.AlertWindow)
	check(c.Pipeline.MaxDetectFailures >= 1, "pipeline.max_detect_failures %d < 1", c.Pipeline.MaxDetectFailures)
	check(c.Pipeline.Prefetch >= 0, "pipeline.prefetch %d < 0", c.Pipeline.Prefetch)
	check(c.Speech.Queue >= 0, "speech.queue %d < 0", c.Speech.Queue)
	check(c.Source.CameraWidth > 0 && c.Source.CameraHeight > 0,
		"camera size %dx%d", c.Source.CameraWidth, c.Source.CameraHeight)
	return err
}

// DriverConfig maps the pipeline section onto the driver settings
func (c Config) DriverConfig() pipeline.DriverConfig {
	return pipeline.DriverConfig{
		Threshold:         c.Pipeline.Threshold,
		DisplayWidth:      c.Pipeline.DisplayWidth,
		DisplayHeight:     c.Pipeline.DisplayHeight,
		AlertWindow:       c.Pipeline.AlertWindow,
		MaxDetectFailures: c.Pipeline.MaxDetectFailures,
	}
}

// SourceOptions maps the source section onto source.Options
func (c Config) SourceOptions() source.Options {
	return source.Options{
		CameraDevice:    c.Source.CameraDevice,
		CameraFormat:    c.Source.CameraFormat,
		CameraWidth:     c.Source.CameraWidth,
		CameraHeight:    c.Source.CameraHeight,
		CameraFrameRate: c.Source.CameraFrameRate,
		FrameSkip:       c.Source.FrameSkip,
		SkipVideo:       c.Source.SkipVideo,
	}
}

// DetectorConfig maps the detector section onto the HTTP adapter settings
func (c Config) DetectorConfig() detect.HTTPConfig {
	return detect.HTTPConfig{
		URL:         c.Detector.URL,
		Timeout:     c.Detector.Timeout,
		JPEGQuality: c.Detector.JPEGQuality,
	}
}

// MonitorConfig maps the http section onto the web monitor settings
func (c Config) MonitorConfig() webmonitor.Config {
	cfg := webmonitor.DefaultConfig()
	cfg.Addr = c.HTTP.Addr
	cfg.JPEGQuality = c.HTTP.JPEGQuality
	cfg.HistorySize = c.HTTP.HistorySize
	cfg.KeepAlive = c.HTTP.KeepAlive
	cfg.IdleWidth = c.Pipeline.DisplayWidth
	cfg.IdleHeight = c.Pipeline.DisplayHeight
	return cfg
}
