package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:        "info",
			LogFormat:       "text",
			DefaultProvider: "claude",
		},
		Providers: map[string]ProviderConfig{
			"claude": {
				Enabled:      true,
				APIBase:      "https://api.anthropic.com/v1",
				DefaultModel: "claude-3-sonnet-20240229",
				MaxTokens:    512,
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
				MaxTokens:    512,
			},
		},
		Transport: TransportConfig{
			Kind: TransportSignalCLI,
			Signal: SignalConfig{
				Binary:                "signal-cli",
				ReceiveTimeoutSeconds: 5,
			},
			Webhook: WebhookConfig{
				Path:       "/transport/webhook",
				BufferSize: 100,
			},
		},
		Relay: RelayConfig{
			Enabled:             true,
			PollIntervalSeconds: 10,
		},
		Store: StoreConfig{
			DBPath:       "~/.relaybot/relay.db",
			MaxOpenConns: 10,
		},
		API: APIConfig{
			Enabled:          true,
			Host:             "0.0.0.0",
			Port:             3000,
			MaxMessageLength: 4000,
			MaxSendLength:    1000,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
