package main

import (
	"fmt"
	"time"
)

// Config holds parameters for the traffic simulator.
type Config struct {
	Broker      string
	TopicPrefix string
	Drivers     int
	RidesPerMin float64
	CancelRate  float64
	Interval    time.Duration
	Duration    time.Duration
	ZonesFile   string
	Seed        int64
	Verbose     bool
}

// Validate checks flag combinations before the simulator starts.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.Drivers <= 0 {
		return fmt.Errorf("drivers must be positive")
	}
	if c.RidesPerMin < 0 {
		return fmt.Errorf("rides-per-min must not be negative")
	}
	if c.CancelRate < 0 || c.CancelRate > 1 {
		return fmt.Errorf("cancel-rate must be within [0,1]")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	return nil
}
