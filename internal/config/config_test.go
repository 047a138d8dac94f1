package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		BMS: BMSConfig{
			Variant:            "antra",
			Transport:          TRANSPORT_SERIAL,
			SerialPort:         "/dev/ttyUSB0",
			BaudRate:           9600,
			ReadTimeoutMillis:  2000,
			CommandDelayMillis: 900,
		},
		Accounting: AccountingConfig{ControlTimeoutMillis: 2000},
		Store:      StoreConfig{Type: STORE_FILE, Path: "antra_state.json", PersistCron: "0 * * * * *"},
		Sink:       SinkConfig{Type: SINK_NONE},
	}
}

func TestValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(Validate(validConfig()))

	cases := map[string]func(*Config){
		"transport":     func(c *Config) { c.BMS.Transport = "can" },
		"baud rate":     func(c *Config) { c.BMS.BaudRate = 300 },
		"command delay": func(c *Config) { c.BMS.CommandDelayMillis = 500 },
		"group":         func(c *Config) { c.BMS.Group = 8 },
		"modbus url":    func(c *Config) { c.BMS.Transport = TRANSPORT_MODBUS; c.BMS.Modbus.URL = "" },
		"store type":    func(c *Config) { c.Store.Type = "sqlite" },
		"redis addr":    func(c *Config) { c.Store.Type = STORE_REDIS },
		"cron":          func(c *Config) { c.Store.PersistCron = "" },
		"kafka":         func(c *Config) { c.Sink.Type = SINK_KAFKA },
		"rabbitmq":      func(c *Config) { c.Sink.Type = SINK_RABBITMQ },
		"sink type":     func(c *Config) { c.Sink.Type = "nats" },
		"control":       func(c *Config) { c.Accounting.ControlTimeoutMillis = 0 },
	}
	for name, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		assert.Error(Validate(cfg), name)
	}

	// the baud rate only matters on the serial line
	cfg := validConfig()
	cfg.BMS.Transport = TRANSPORT_TEST
	cfg.BMS.BaudRate = 0
	assert.NoError(Validate(cfg))
}

func TestCheckMQTTTopic(t *testing.T) {
	assert := assert.New(t)

	topic, err := CheckMQTTTopic("Antra_1")
	assert.NoError(err)
	assert.Equal("antra_1", topic)

	_, err = CheckMQTTTopic("antra/bms")
	assert.Error(err)
}

func TestDurations(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(int64(10), int64(SinkConfig{}.FlushInterval().Seconds()))
	assert.Equal(int64(30), int64(AccountingConfig{PollIntervalSeconds: 30}.PollInterval().Seconds()))
}
