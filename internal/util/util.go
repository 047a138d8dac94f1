package util

import (
	"github.com/berfenger/antra2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		BMS: config.BMSConfig{
			Variant:            "antra",
			Transport:          config.TRANSPORT_TEST,
			BaudRate:           9600,
			ReadTimeoutMillis:  2000,
			CommandDelayMillis: 900,
		},
		Accounting: config.AccountingConfig{
			BatteryCount:         2,
			BatteryCapacityWh:    2400,
			ChargingRateWatts:    1500,
			StartupDelaySeconds:  0,
			ScaleFactor:          1,
			PollIntervalSeconds:  30,
			MaxGapIntervals:      5,
			DeadbandWatts:        50,
			FullTolerance:        0.02,
			CounterMax:           65535,
			MaxPowerWatts:        10000,
			UseRawCounters:       false,
			ControlTimeoutMillis: 2000,
		},
		Store: config.StoreConfig{
			Type:        config.STORE_NONE,
			PersistCron: "0 * * * * *",
		},
		Sink: config.SinkConfig{
			Type: config.SINK_NONE,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "antra",
		},
		Port: 8080,
	}
}
