package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	JPEGQuality    int
	HistorySize    int
	StatusInterval time.Duration
	KeepAlive      time.Duration // Idle frame / SSE keepalive period
	IdleWidth      int
	IdleHeight     int
}

// DefaultConfig returns the stock monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		JPEGQuality:    80,
		HistorySize:    8,
		StatusInterval: 2 * time.Second,
		KeepAlive:      5 * time.Second,
		IdleWidth:      640,
		IdleHeight:     480,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.IdleWidth <= 0 || c.IdleHeight <= 0 {
		c.IdleWidth, c.IdleHeight = def.IdleWidth, def.IdleHeight
	}
	return c
}
