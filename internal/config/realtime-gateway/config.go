package realtime_gateway_config

import (
	"time"

	"github.com/farmflow/notify/internal/obs"
	pginfra "github.com/farmflow/notify/internal/repository/postgres"
	"github.com/farmflow/notify/internal/services/trigger"
)

type HTTP struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type Realtime struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolWorkers  int           `mapstructure:"pool_workers"`
	PoolQueue    int           `mapstructure:"pool_queue"`
}

type Dispatch struct {
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
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
	DB       pginfra.Config `mapstructure:"db"`
	HTTP     HTTP           `mapstructure:"http"`
	Realtime Realtime       `mapstructure:"realtime"`
	Trigger  trigger.Config `mapstructure:"trigger"`
	Dispatch Dispatch       `mapstructure:"dispatch"`
	OTEL     OTEL           `mapstructure:"otel"`
	Server   Server         `mapstructure:"server"`
	LogLevel string         `mapstructure:"log_level"`
}
