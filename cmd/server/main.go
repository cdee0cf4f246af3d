package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dj-oyu/traffic-sign-alert/internal/config"
	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
)

type app struct {
	v          *viper.Viper
	configPath string
	cfg        config.Config
}

func newApp() *app {
	return &app{v: config.New()}
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "signalert",
		Short:         "Traffic-sign detection with spoken alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "YAML config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.Bool("log-color", true, "Enable colored log output")
	flags.String("detector-url", "http://127.0.0.1:8000", "Model server base URL")
	flags.String("catalog", "", "YAML class table (built-in table when empty)")
	flags.Float64("threshold", 80, "Confidence threshold in percent")
	flags.Duration("alert-window", 5*time.Second, "Suppress repeats of the same sign set within this window")
	flags.Int("frame-skip", 10, "Process every Nth camera frame")
	flags.Bool("skip-video", false, "Apply frame skipping to video files")
	flags.String("camera-device", "/dev/video0", "Camera device")
	flags.String("speech-cmd", "", "Speech command, text is appended as the last argument (log only when empty)")
	flags.Int("speech-queue", 0, "Queue utterances on a background worker (0 speaks inside the tick)")
	flags.Int("prefetch", 0, "Frames read ahead of detection (0 disables)")

	a.bind(root, map[string]string{
		"log.level":             "log-level",
		"log.format":            "log-format",
		"log.color":             "log-color",
		"detector.url":          "detector-url",
		"catalog":               "catalog",
		"pipeline.threshold":    "threshold",
		"pipeline.alert_window": "alert-window",
		"source.frame_skip":     "frame-skip",
		"source.skip_video":     "skip-video",
		"source.camera_device":  "camera-device",
		"speech.command":        "speech-cmd",
		"speech.queue":          "speech-queue",
		"pipeline.prefetch":     "prefetch",
	})

	root.AddCommand(newServeCommand(a), newDetectCommand(a))
	return root
}

// bind maps viper keys to persistent flags. Unchanged flags fall through to env, file and defaults.
func (a *app) bind(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	format, err := logger.ParseFormat(cfg.Log.Format)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, cfg.Log.Color, format)
	logger.Debug("Main", "Log level: %s", level)
	return nil
}

func main() {
	if err := newRootCommand(newApp()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "signalert: %v\n", err)
		os.Exit(1)
	}
}
