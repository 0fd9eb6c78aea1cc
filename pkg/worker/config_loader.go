package worker

import (
	"os"

	"asanahooks/internal"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Watermill SubscriberConfig `yaml:"watermill"`
}

// LoadSubscriberConfig reads the watermill section of the relay config file
// as subscriber settings.
func LoadSubscriberConfig(path string) (SubscriberConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg.Watermill, err
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg.Watermill, err
	}
	applySubscriberDefaults(&cfg.Watermill)
	return cfg.Watermill, nil
}

// LoadTopicsFromConfig returns every topic the relay rules can emit, in rule
// order without duplicates.
func LoadTopicsFromConfig(path string) ([]string, error) {
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	var topics []string
	for _, rule := range cfg.Rules {
		topics = append(topics, rule.Emit...)
	}
	return unique(topics), nil
}

func applySubscriberDefaults(cfg *SubscriberConfig) {
	if cfg.Driver == "" && len(cfg.Drivers) == 0 {
		cfg.Driver = "gochannel"
	}
	if cfg.GoChannel.OutputChannelBuffer == 0 {
		cfg.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Consumer.ClientIDSuffix == "" {
		cfg.Consumer.ClientIDSuffix = "-worker"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "asanahooks-worker"
	}
}
