package main

import (
	"errors"
	"fancoil2mqtt/fancoil"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel           zapcore.Level  `mapstructure:"-"`
	PollIntervalMillis uint32         `mapstructure:"poll_interval_millis"`
	Modbus             ModbusConfig   `mapstructure:"modbus"`
	MQTT               MQTTConfig     `mapstructure:"mqtt"`
	HTTP               HTTPConfig     `mapstructure:"http"`
	Devices            []DeviceConfig `mapstructure:"devices"`
	SlaveIDs           string         `mapstructure:"slave_ids"`   // comma-separated, used when no devices are listed
	SlaveNames         string         `mapstructure:"slave_names"` // comma-separated, optional
}

type ModbusConfig struct {
	Port          string
	BaudRate      int    `mapstructure:"baud_rate"`
	DataBits      int    `mapstructure:"data_bits"`
	Parity        string `mapstructure:"parity"`
	StopBits      int    `mapstructure:"stop_bits"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
	DelayMillis   uint32 `mapstructure:"delay_millis"`
	Retries       int
}

type MQTTConfig struct {
	Server           string
	ClientID         string `mapstructure:"client_id"`
	Username         string
	Password         string
	BaseTopic        string `mapstructure:"base_topic"`
	HADiscoveryTopic string `mapstructure:"ha_discovery_topic"`
}

type HTTPConfig struct {
	Port uint
	Log  bool
}

type DeviceConfig struct {
	Slave   int
	Name    string
	MinTemp float64 `mapstructure:"min_temp"`
	MaxTemp float64 `mapstructure:"max_temp"`
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("poll_interval_millis", 10000)
	v.SetDefault("modbus.port", "/dev/ttyUSB0")
	v.SetDefault("modbus.baud_rate", 9600)
	v.SetDefault("modbus.data_bits", 8)
	v.SetDefault("modbus.parity", "E")
	v.SetDefault("modbus.stop_bits", 1)
	v.SetDefault("modbus.timeout_millis", 500)
	v.SetDefault("modbus.delay_millis", 0)
	v.SetDefault("modbus.retries", 2)
	v.SetDefault("mqtt.server", "tcp://127.0.0.1:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", "fancoil2mqtt")
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.log", false)
	v.SetDefault("slave_ids", "49")
	v.SetDefault("slave_names", "")
}

func loadConfig(v *viper.Viper) (*Config, error) {
	setConfigDefaults(v)

	v.SetEnvPrefix("fancoil")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch v.GetString("log_level") {
	case "trace", "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = fmt.Sprintf("fancoil2mqtt_%d", rand.Intn(1000))
	}

	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if cfg.PollIntervalMillis < 1000 {
		return nil, errors.New("config param poll_interval_millis should be >= 1000")
	}

	if len(cfg.Devices) == 0 {
		cfg.Devices, err = parseModbusSlaveInfo(cfg.SlaveIDs, cfg.SlaveNames)
		if err != nil {
			return nil, err
		}
	}
	err = checkDevices(cfg.Devices, cfg.Modbus.Port)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// checkDevices validates the device list and fills in default names and bounds
func checkDevices(devices []DeviceConfig, modbusPort string) error {
	if len(devices) == 0 {
		return errors.New("no devices configured")
	}
	slaves := make(map[int]bool)
	names := make(map[string]bool)
	for i := range devices {
		d := &devices[i]
		if d.Slave < 0 || d.Slave > 254 {
			return fmt.Errorf("device slave ID %d out of range [0, 254]", d.Slave)
		}
		if slaves[d.Slave] {
			return fmt.Errorf("slave ID %d configured twice", d.Slave)
		}
		slaves[d.Slave] = true

		if d.Name == "" {
			d.Name = generateNodeName(strconv.Itoa(d.Slave), modbusPort)
		}
		name, err := CheckMQTTTopic(d.Name)
		if err != nil {
			return fmt.Errorf("invalid device name %q. can only contain letters, numbers and underscores", d.Name)
		}
		if names[name] {
			return fmt.Errorf("device name %q configured twice", name)
		}
		names[name] = true
		d.Name = name

		if d.MinTemp == 0 {
			d.MinTemp = fancoil.MIN_TEMP
		}
		if d.MaxTemp == 0 {
			d.MaxTemp = fancoil.MAX_TEMP
		}
		if d.MinTemp < fancoil.MIN_TEMP || d.MinTemp > fancoil.MAX_TEMP ||
			d.MaxTemp < fancoil.MIN_TEMP || d.MaxTemp > fancoil.MAX_TEMP {
			return fmt.Errorf("device %s: min_temp and max_temp must be within [%d, %d]", d.Name, fancoil.MIN_TEMP, fancoil.MAX_TEMP)
		}
		if d.MinTemp > d.MaxTemp {
			return fmt.Errorf("device %s: min_temp must not exceed max_temp", d.Name)
		}
	}
	return nil
}

func parseModbusSlaveInfo(slaveIDs, slaveNames string) ([]DeviceConfig, error) {
	slaveIDStrList := strings.Split(slaveIDs, ",")
	var slaveNameList []string
	if slaveNames != "" {
		slaveNameList = strings.Split(slaveNames, ",")
		if len(slaveIDStrList) != len(slaveNameList) {
			return nil, errors.New("slave_ids and slave_names lists must have the same length")
		}
	}

	var devices []DeviceConfig
	for i, slaveIDStr := range slaveIDStrList {
		slaveID, err := strconv.Atoi(strings.TrimSpace(slaveIDStr))
		if err != nil {
			return nil, fmt.Errorf("error parsing slave ID %q", slaveIDStr)
		}
		d := DeviceConfig{Slave: slaveID}
		if slaveNameList != nil {
			d.Name = strings.TrimSpace(slaveNameList[i])
		}
		devices = append(devices, d)
	}
	return devices, nil
}

var nonAlphanumeric = regexp.MustCompile("[^a-zA-Z0-9]+")

func generateNodeName(slaveID string, port string) string {
	hostname, _ := os.Hostname()

	port = strings.Replace(port, "/dev/", "", -1)
	port = nonAlphanumeric.ReplaceAllString(port, "")
	hostname = nonAlphanumeric.ReplaceAllString(hostname, "")
	return strings.ToLower(fmt.Sprintf("%s_%s_%s", hostname, port, slaveID))
}

var topicRegexp = regexp.MustCompile("^[a-z0-9_]+$")

func CheckMQTTTopic(topic string) (string, error) {
	lowerTopic := strings.ToLower(topic)
	if !topicRegexp.MatchString(lowerTopic) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerTopic, nil
}

func safePrintConfig(logger *zap.Logger, cfg Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	logger.Info("Using", zap.Any("config", cfg))
}
