package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appevents/internal/broker"
	"appevents/internal/config"
	"appevents/internal/logger"
)

func TestBaseWithoutBroker(t *testing.T) {
	cfg := &config.Config{Broker: config.BrokerConfig{Type: broker.TypeNone}}
	b := NewBase(cfg, logger.NopLogger())

	require.NoError(t, b.InitBroker())
	assert.IsType(t, &broker.LogSink{}, b.Publisher)
	assert.Nil(t, b.Consumer)

	var order []string
	err := b.Shutdown(context.Background(), func(context.Context) []error {
		order = append(order, "additional")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"additional"}, order)
}

func TestBaseUnknownBroker(t *testing.T) {
	b := NewBase(&config.Config{Broker: config.BrokerConfig{Type: "amqp"}}, logger.NopLogger())
	assert.Error(t, b.InitBroker())
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(config.PostgresConfig{
		Host: "db", Port: 5432, User: "u", Password: "p", DBName: "appevents", SSLMode: "disable",
	})
	assert.Equal(t, "postgres://u:p@db:5432/appevents?sslmode=disable", dsn)
}
