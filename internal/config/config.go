package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Harnesses []Harness `yaml:"harnesses"`
	Tasks     []Task    `yaml:"tasks"`
	Limits    Limits    `yaml:"limits"`
	Workers   int       `yaml:"workers"`
	Secrets   Secrets   `yaml:"secrets"`
	Results   Results   `yaml:"results"`
	Pricing   Pricing   `yaml:"pricing"`
	Sandbox   Sandbox   `yaml:"sandbox"`
}

// Harness describes one agent CLI under benchmark.
type Harness struct {
	ID         string            `yaml:"id"`
	Command    []string          `yaml:"command"`
	Transport  string            `yaml:"transport"`
	PromptFlag string            `yaml:"prompt_flag"`
	Version    string            `yaml:"version"`
	Vendor     string            `yaml:"vendor"`
	Model      string            `yaml:"model"`
	Provider   string            `yaml:"provider"`
	UsageLog   string            `yaml:"usage_log"`
	Env        map[string]string `yaml:"env"`
}

type Task struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Domain        string `yaml:"domain"`
	Repo          string `yaml:"repo"`
	Tag           string `yaml:"tag"`
	Prompt        string `yaml:"prompt"`
	PromptFile    string `yaml:"prompt_file"`
	VerifyCmd     string `yaml:"verify_cmd"`
	VerifierImage string `yaml:"verifier_image"`
	AssetsDir     string `yaml:"assets_dir"`
}

// Limits bounds each run.
type Limits struct {
	MaxIterations        int     `yaml:"max_iterations"`
	TotalTimeoutSecs     int     `yaml:"total_timeout_secs"`
	IterationTimeoutSecs int     `yaml:"iteration_timeout_secs"`
	VerifyTimeoutSecs    int     `yaml:"verify_timeout_secs"`
	StagnationWindow     int     `yaml:"stagnation_window"`
	BudgetUSD            float64 `yaml:"budget_usd"`
}

type Secrets struct {
	EnvFile string `yaml:"env_file"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type Pricing struct {
	File string `yaml:"file"`
}

// Sandbox selects containerized verification. When Image is empty the
// verifier command runs directly on the host.
type Sandbox struct {
	Image string `yaml:"image"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if len(cfg.Harnesses) == 0 {
		return fmt.Errorf("no harnesses defined")
	}
	for i, h := range cfg.Harnesses {
		if h.ID == "" {
			return fmt.Errorf("harness %d: id is required", i)
		}
		if len(h.Command) == 0 {
			return fmt.Errorf("harness %q: command is required", h.ID)
		}
	}
	if len(cfg.Tasks) == 0 {
		return fmt.Errorf("no tasks defined")
	}
	for i, t := range cfg.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task %d: id is required", i)
		}
		if t.Prompt == "" && t.PromptFile == "" {
			return fmt.Errorf("task %q: prompt or prompt_file is required", t.ID)
		}
	}

	// Zero means unset and takes the default. Negative values are
	// configuration errors, never silently corrected.
	l := &cfg.Limits
	switch {
	case l.MaxIterations < 0:
		return fmt.Errorf("limits: max_iterations must not be negative")
	case l.TotalTimeoutSecs < 0:
		return fmt.Errorf("limits: total_timeout_secs must not be negative")
	case l.IterationTimeoutSecs < 0:
		return fmt.Errorf("limits: iteration_timeout_secs must not be negative")
	case l.VerifyTimeoutSecs < 0:
		return fmt.Errorf("limits: verify_timeout_secs must not be negative")
	case l.StagnationWindow < 0:
		return fmt.Errorf("limits: stagnation_window must not be negative")
	case l.BudgetUSD < 0:
		return fmt.Errorf("limits: budget_usd must not be negative")
	case cfg.Workers < 0:
		return fmt.Errorf("workers must not be negative")
	}
	if l.MaxIterations == 0 {
		l.MaxIterations = 10
	}
	if l.TotalTimeoutSecs == 0 {
		l.TotalTimeoutSecs = 600
	}
	if l.IterationTimeoutSecs == 0 {
		l.IterationTimeoutSecs = 300
	}
	if l.VerifyTimeoutSecs == 0 {
		l.VerifyTimeoutSecs = 120
	}
	if l.StagnationWindow == 0 {
		l.StagnationWindow = 3
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}

// FindHarness returns the harness with the given id, or nil.
func (c *Config) FindHarness(id string) *Harness {
	for i := range c.Harnesses {
		if c.Harnesses[i].ID == id {
			return &c.Harnesses[i]
		}
	}
	return nil
}

// FindTask returns the task with the given id, or nil.
func (c *Config) FindTask(id string) *Task {
	for i := range c.Tasks {
		if c.Tasks[i].ID == id {
			return &c.Tasks[i]
		}
	}
	return nil
}
