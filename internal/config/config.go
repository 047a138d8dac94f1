package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel   zapcore.Level
	Log        LogConfig        `mapstructure:"log"`
	BMS        BMSConfig        `mapstructure:"bms"`
	Accounting AccountingConfig `mapstructure:"accounting"`
	Store      StoreConfig      `mapstructure:"store"`
	Sink       SinkConfig       `mapstructure:"sink"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Port       uint             `mapstructure:"port"`
	HttpLog    bool             `mapstructure:"http_log"`
}

type LogConfig struct {
	File       string
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

const (
	TRANSPORT_SERIAL = "serial"
	TRANSPORT_MODBUS = "modbus"
	TRANSPORT_TEST   = "test"
)

type BMSConfig struct {
	Variant            string
	Transport          string
	SerialPort         string `mapstructure:"serial_port"`
	BaudRate           int    `mapstructure:"baud_rate"`
	Group              int
	ReadTimeoutMillis  uint32 `mapstructure:"read_timeout_millis"`
	CommandDelayMillis uint32 `mapstructure:"command_delay_millis"`
	LayoutFile         string `mapstructure:"layout_file"`
	Modbus             BMSModbusConfig
}

type BMSModbusConfig struct {
	URL     string
	UnitId  uint8  `mapstructure:"unit_id"`
	Address uint16 `mapstructure:"address"`
}

type AccountingConfig struct {
	BatteryCount         int     `mapstructure:"battery_count"`
	BatteryCapacityWh    float64 `mapstructure:"battery_capacity_wh"`
	ChargingRateWatts    float64 `mapstructure:"charging_rate_watts"`
	StartupDelaySeconds  uint32  `mapstructure:"startup_delay_seconds"`
	ScaleFactor          float64 `mapstructure:"scale_factor"`
	PollIntervalSeconds  uint32  `mapstructure:"poll_interval_seconds"`
	MaxGapIntervals      uint32  `mapstructure:"max_gap_intervals"`
	DeadbandWatts        float64 `mapstructure:"deadband_watts"`
	FullTolerance        float64 `mapstructure:"full_tolerance"`
	CounterMax           uint64  `mapstructure:"counter_max"`
	MaxPowerWatts        float64 `mapstructure:"max_power_watts"`
	UseRawCounters       bool    `mapstructure:"use_raw_counters"`
	ControlTimeoutMillis uint32  `mapstructure:"control_timeout_millis"`
}

func (c AccountingConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c AccountingConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelaySeconds) * time.Second
}

func (c AccountingConfig) ControlTimeout() time.Duration {
	return time.Duration(c.ControlTimeoutMillis) * time.Millisecond
}

const (
	STORE_FILE  = "file"
	STORE_REDIS = "redis"
	STORE_NONE  = "none"
)

type StoreConfig struct {
	Type        string
	Path        string
	Redis       RedisConfig
	PersistCron string `mapstructure:"persist_cron"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

const (
	SINK_NONE     = "none"
	SINK_KAFKA    = "kafka"
	SINK_RABBITMQ = "rabbitmq"
)

type SinkConfig struct {
	Type                 string
	Brokers              []string
	Topic                string
	URL                  string
	Exchange             string
	FlushIntervalSeconds uint32 `mapstructure:"flush_interval_seconds"`
}

func (c SinkConfig) FlushInterval() time.Duration {
	if c.FlushIntervalSeconds == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.FlushIntervalSeconds) * time.Second
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate checks the bounds of the BMS, store and sink settings. Accounting
// settings are validated by the engine configuration.
func Validate(cfg Config) error {
	switch cfg.BMS.Transport {
	case TRANSPORT_SERIAL, TRANSPORT_MODBUS, TRANSPORT_TEST:
	default:
		return fmt.Errorf("config param bms.transport must be one of serial, modbus, test (got %q)", cfg.BMS.Transport)
	}
	if cfg.BMS.Transport == TRANSPORT_SERIAL {
		if cfg.BMS.BaudRate < 1200 || cfg.BMS.BaudRate > 115200 {
			return errors.New("config param bms.baud_rate should be in [1200, 115200]")
		}
		if cfg.BMS.SerialPort == "" {
			return errors.New("config param bms.serial_port is required")
		}
		if cfg.BMS.CommandDelayMillis < 850 {
			return errors.New("config param bms.command_delay_millis should be >= 850")
		}
	}
	if cfg.BMS.Transport == TRANSPORT_MODBUS && cfg.BMS.Modbus.URL == "" {
		return errors.New("config param bms.modbus.url is required")
	}
	if cfg.BMS.Group < 0 || cfg.BMS.Group > 7 {
		return errors.New("config param bms.group should be in [0, 7]")
	}
	if cfg.BMS.ReadTimeoutMillis < 100 {
		return errors.New("config param bms.read_timeout_millis should be >= 100")
	}
	if cfg.Accounting.ControlTimeoutMillis == 0 {
		return errors.New("config param accounting.control_timeout_millis should be > 0")
	}

	switch cfg.Store.Type {
	case STORE_NONE, "":
	case STORE_FILE:
		if cfg.Store.Path == "" {
			return errors.New("config param store.path is required for the file store")
		}
	case STORE_REDIS:
		if cfg.Store.Redis.Addr == "" {
			return errors.New("config param store.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("config param store.type must be one of file, redis, none (got %q)", cfg.Store.Type)
	}
	if cfg.Store.PersistCron == "" {
		return errors.New("config param store.persist_cron is required")
	}

	switch cfg.Sink.Type {
	case SINK_NONE, "":
	case SINK_KAFKA:
		if len(cfg.Sink.Brokers) == 0 || cfg.Sink.Topic == "" {
			return errors.New("config params sink.brokers and sink.topic are required for the kafka sink")
		}
	case SINK_RABBITMQ:
		if cfg.Sink.URL == "" {
			return errors.New("config param sink.url is required for the rabbitmq sink")
		}
	default:
		return fmt.Errorf("config param sink.type must be one of none, kafka, rabbitmq (got %q)", cfg.Sink.Type)
	}
	return nil
}
