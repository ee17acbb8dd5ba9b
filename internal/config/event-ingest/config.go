package event_ingest_config

import (
	"github.com/farmflow/notify/internal/obs"
	"github.com/farmflow/notify/internal/repository/kafka"
	pginfra "github.com/farmflow/notify/internal/repository/postgres"
	"github.com/farmflow/notify/internal/services/trigger"
)

type KafkaIn struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	FromBeginning bool     `mapstructure:"from_beginning"`
}

func (k KafkaIn) AsConsumerConfig() *kafka.ConsumerConfig {
	return &kafka.ConsumerConfig{
		Brokers:       k.Brokers,
		Topic:         k.Topic,
		GroupID:       k.GroupID,
		FromBeginning: k.FromBeginning,
	}
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
	In       KafkaIn        `mapstructure:"kafka_in"`
	Trigger  trigger.Config `mapstructure:"trigger"`
	OTEL     OTEL           `mapstructure:"otel"`
	Server   Server         `mapstructure:"server"`
	LogLevel string         `mapstructure:"log_level"`
}
