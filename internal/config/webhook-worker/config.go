package webhook_worker_config

import (
	"time"

	"github.com/farmflow/notify/internal/obs"
	pginfra "github.com/farmflow/notify/internal/repository/postgres"
	"github.com/farmflow/notify/internal/services/webhookworker"
)

type HTTP struct {
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type Queue struct {
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
}

func (o OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      o.Enable,
		Endpoint:    o.OTLPEndpoint,
		ServiceName: o.ServiceName,
		SampleRatio: o.SampleRatio,
	}
}

type Config struct {
	DB       pginfra.Config                 `mapstructure:"db"`
	Worker   webhookworker.RunnerConfig     `mapstructure:"worker"`
	Dispatch webhookworker.DispatcherConfig `mapstructure:"dispatch"`
	Queue    Queue                          `mapstructure:"queue"`
	HTTP     HTTP                           `mapstructure:"http"`
	OTEL     OTEL                           `mapstructure:"otel"`
	Server   Server                         `mapstructure:"server"`
	LogLevel string                         `mapstructure:"log_level"`
}
