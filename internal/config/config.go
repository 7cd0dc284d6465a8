package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	CTI       CTIConfig       `mapstructure:"cti"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Behavior  BehaviorConfig  `mapstructure:"behavior"`
	Softphone SoftphoneConfig `mapstructure:"softphone"`
	Status    StatusConfig    `mapstructure:"status"`
	Service   ServiceConfig   `mapstructure:"service"`
}

type CTIConfig struct {
	WSURL             string        `mapstructure:"ws_url"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	LoginTimeout      time.Duration `mapstructure:"login_timeout"`
	MaxLines          int           `mapstructure:"max_lines"`
}

type AgentConfig struct {
	TID          string   `mapstructure:"tid"`
	ThisDN       string   `mapstructure:"this_dn"`
	PSTNDN       string   `mapstructure:"pstn_dn"`
	AgentID      string   `mapstructure:"agent_id"`
	ThisQueues   []string `mapstructure:"this_queues"`
	DefaultQueue string   `mapstructure:"default_queue"`
}

type BehaviorConfig struct {
	AutoReadyOnLogin bool `mapstructure:"auto_ready_on_login"`
	AutoAnswer       bool `mapstructure:"auto_answer"`
	PhoneTakeAlong   bool `mapstructure:"phone_take_along"`
	// WorkPhone is the number calls follow while take-along is active.
	WorkPhone string `mapstructure:"work_phone"`
	// TipTimeMinutes is the long-state reminder interval; 0 disables.
	TipTimeMinutes int `mapstructure:"tip_time_minutes"`
	// MaxAfterWorkSeconds bounds wrap-up before an automatic ready; 0 disables.
	MaxAfterWorkSeconds int `mapstructure:"max_after_work_seconds"`
}

type SoftphoneConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Endpoints []string `mapstructure:"endpoints"`
	ServerURL string   `mapstructure:"server_url"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
}

type StatusConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type ServiceConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("cti.ws_url", "ws://127.0.0.1:8089/ws/ts")
	viper.SetDefault("cti.keep_alive_interval", "20s")
	viper.SetDefault("cti.login_timeout", "20s")
	viper.SetDefault("cti.max_lines", 2)
	viper.SetDefault("agent.tid", "0")
	viper.SetDefault("behavior.auto_ready_on_login", false)
	viper.SetDefault("behavior.auto_answer", false)
	viper.SetDefault("behavior.phone_take_along", false)
	viper.SetDefault("behavior.tip_time_minutes", 0)
	viper.SetDefault("behavior.max_after_work_seconds", 0)
	viper.SetDefault("softphone.enabled", false)
	viper.SetDefault("softphone.endpoints", []string{"ws://127.0.0.1:57712", "ws://127.0.0.1:58823"})
	viper.SetDefault("status.base_url", "")
	viper.SetDefault("service.log_level", "info")

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
