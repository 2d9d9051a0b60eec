package config

type HttpConfig struct {
	// Port serving /health and /metrics
	Port uint16 `validate:"required"`
}
