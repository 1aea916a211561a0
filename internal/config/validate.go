package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	return c.validateWorkers()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= 0 {
		return errors.New("workflow.heartbeat_timeout must be positive")
	}
	if c.Workflow.HeartbeatInterval >= c.Workflow.HeartbeatTimeout {
		return errors.New("workflow.heartbeat_interval must be shorter than workflow.heartbeat_timeout")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.BackoffSeconds <= 0 {
		return errors.New("retry.backoff_seconds must be positive")
	}
	if c.Retry.MaxBackoffSeconds < c.Retry.BackoffSeconds {
		return errors.New("retry.max_backoff_seconds must not be below retry.backoff_seconds")
	}
	return nil
}

func (c *Config) validateProviders() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("providers entry is missing a name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Endpoint == "" {
			return fmt.Errorf("provider %q is missing an endpoint", p.Name)
		}
		if len(p.Capabilities) == 0 {
			return fmt.Errorf("provider %q declares no capabilities", p.Name)
		}
	}
	return nil
}

func (c *Config) validateWorkers() error {
	seen := make(map[string]struct{}, len(c.Workers))
	for _, w := range c.Workers {
		if w.JobType == "" {
			return errors.New("workers entry is missing a job_type")
		}
		if _, dup := seen[w.JobType]; dup {
			return fmt.Errorf("duplicate worker pool for job type %q", w.JobType)
		}
		seen[w.JobType] = struct{}{}
		if len(w.Providers) == 0 {
			return fmt.Errorf("worker pool %q has an empty provider chain", w.JobType)
		}
		for _, name := range w.Providers {
			p, ok := c.ProviderByName(name)
			if !ok {
				return fmt.Errorf("worker pool %q references unknown provider %q", w.JobType, name)
			}
			if !slices.Contains(p.Capabilities, w.JobType) {
				return fmt.Errorf("provider %q cannot produce %q jobs", name, w.JobType)
			}
		}
	}
	return nil
}
