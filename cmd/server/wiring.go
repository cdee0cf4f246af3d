package main

import (
	"context"

	"github.com/dj-oyu/traffic-sign-alert/internal/alert"
	"github.com/dj-oyu/traffic-sign-alert/internal/catalog"
	"github.com/dj-oyu/traffic-sign-alert/internal/config"
	"github.com/dj-oyu/traffic-sign-alert/internal/detect"
	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/internal/metrics"
	"github.com/dj-oyu/traffic-sign-alert/internal/pipeline"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
)

// newSpeaker builds the configured speech backend. The returned close func drains a queued speaker.
// A missing speech program degrades to log-only speech.
func newSpeaker(cfg config.Config, m *metrics.Metrics) (alert.Speaker, func() error) {
	var sp alert.Speaker = alert.LogSpeaker{}
	if cfg.Speech.Command != "" {
		cmdSpeaker, err := alert.NewCommandSpeaker(cfg.Speech.Command)
		if err != nil {
			logger.Warn("Main", "Speech disabled: %v", err)
		} else {
			sp = cmdSpeaker
		}
	}

	if cfg.Speech.Queue <= 0 {
		return sp, func() error { return nil }
	}
	q := alert.NewQueuedSpeaker(sp, cfg.Speech.Queue, func(error) { m.SpeechErrors.Add(1) })
	return q, q.Close
}

func newController(ctx context.Context, cfg config.Config, m *metrics.Metrics, sp alert.Speaker, p pipeline.Presenter) *pipeline.Controller {
	srcOpts := cfg.SourceOptions()
	srcOpts.Metrics = m

	return pipeline.NewController(ctx, pipeline.ControllerConfig{
		Factories: pipeline.Factories{
			Catalog: func() (*catalog.Catalog, error) {
				return catalog.LoadOrDefault(cfg.Catalog)
			},
			Detector: func(ctx context.Context) (detect.Detector, error) {
				d, err := detect.NewHTTP(ctx, cfg.DetectorConfig())
				if err != nil {
					return nil, err
				}
				return d, nil
			},
			Source: func(ctx context.Context, spec source.Spec) (source.Source, error) {
				return source.Open(ctx, spec, srcOpts)
			},
		},
		Driver:    cfg.DriverConfig(),
		Prefetch:  cfg.Pipeline.Prefetch,
		Speaker:   sp,
		Presenter: p,
		Metrics:   m,
	})
}
