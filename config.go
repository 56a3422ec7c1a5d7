package qsvm

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Device     DeviceConfig     `mapstructure:"device"`
	Dataset    DatasetConfig    `mapstructure:"dataset"`
	Split      SplitConfig      `mapstructure:"split"`
	SVM        SVMConfig        `mapstructure:"svm"`
	Log        LogConfig        `mapstructure:"log"`
}

type DispatcherConfig struct {
	MinWorkers        int           `mapstructure:"min_workers"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	SchedulingTimeout time.Duration `mapstructure:"scheduling_timeout"`
	ElectronTimeout   time.Duration `mapstructure:"electron_timeout"`
	MaxQueue          int           `mapstructure:"max_queue"`
	ResultTTL         time.Duration `mapstructure:"result_ttl"`
	// MaxHeap and MaxGoroutines bound the resource governor; zero disables.
	MaxHeap       uint64 `mapstructure:"max_heap"`
	MaxGoroutines int    `mapstructure:"max_goroutines"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Initial     time.Duration `mapstructure:"initial"`
}

type BreakerConfig struct {
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMax  int           `mapstructure:"half_open_max"`
}

type DeviceConfig struct {
	// Name is "simulator" or "remote".
	Name      string       `mapstructure:"name"`
	Shots     int          `mapstructure:"shots"`
	Seed      uint64       `mapstructure:"seed"`
	Embedding string       `mapstructure:"embedding"`
	Layers    int          `mapstructure:"layers"`
	Remote    RemoteConfig `mapstructure:"remote"`
}

type RemoteConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	Token        string        `mapstructure:"token"`
	Backends     []string      `mapstructure:"backends"`
	Capacity     int           `mapstructure:"capacity"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RefillRate   time.Duration `mapstructure:"refill_rate"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type DatasetConfig struct {
	Path      string   `mapstructure:"path"`
	Features  []string `mapstructure:"features"`
	Classes   []int    `mapstructure:"classes"`
	ScaleLow  float64  `mapstructure:"scale_low"`
	ScaleHigh float64  `mapstructure:"scale_high"`
}

type SVMConfig struct {
	C       float64 `mapstructure:"c"`
	Tol     float64 `mapstructure:"tol"`
	MaxIter int     `mapstructure:"max_iter"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func NewConfig() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			MinWorkers:        2,
			MaxWorkers:        8,
			SchedulingTimeout: 10 * time.Second,
			ElectronTimeout:   30 * time.Second,
			MaxQueue:          1000,
			ResultTTL:         10 * time.Minute,
			MaxHeap:           2 << 30,
			MaxGoroutines:     100000,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			Initial:     100 * time.Millisecond,
		},
		Breaker: BreakerConfig{
			MaxFailures:  5,
			ResetTimeout: time.Minute,
			HalfOpenMax:  1,
		},
		Device: DeviceConfig{
			Name:      "simulator",
			Shots:     100,
			Seed:      42,
			Embedding: "angle",
			Layers:    2,
			Remote: RemoteConfig{
				BaseURL:      "http://localhost:8080",
				Capacity:     4,
				RateLimit:    10,
				RefillRate:   100 * time.Millisecond,
				PollInterval: 500 * time.Millisecond,
				Timeout:      30 * time.Second,
			},
		},
		Dataset: DatasetConfig{
			Features:  []string{"color_intensity", "hue"},
			Classes:   []int{0, 1},
			ScaleLow:  0,
			ScaleHigh: 2 * math.Pi,
		},
		Split: SplitConfig{
			TrainSize: 6,
			TestSize:  2,
			Seed:      42,
		},
		SVM: SVMConfig{
			C:       1.0,
			Tol:     1e-3,
			MaxIter: 10000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig layers an optional config file and QSVM_* environment
// variables over NewConfig's defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("qsvm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, NewConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("qsvm")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("dispatcher.min_workers", cfg.Dispatcher.MinWorkers)
	v.SetDefault("dispatcher.max_workers", cfg.Dispatcher.MaxWorkers)
	v.SetDefault("dispatcher.scheduling_timeout", cfg.Dispatcher.SchedulingTimeout)
	v.SetDefault("dispatcher.electron_timeout", cfg.Dispatcher.ElectronTimeout)
	v.SetDefault("dispatcher.max_queue", cfg.Dispatcher.MaxQueue)
	v.SetDefault("dispatcher.result_ttl", cfg.Dispatcher.ResultTTL)
	v.SetDefault("dispatcher.max_heap", cfg.Dispatcher.MaxHeap)
	v.SetDefault("dispatcher.max_goroutines", cfg.Dispatcher.MaxGoroutines)

	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.initial", cfg.Retry.Initial)

	v.SetDefault("breaker.max_failures", cfg.Breaker.MaxFailures)
	v.SetDefault("breaker.reset_timeout", cfg.Breaker.ResetTimeout)
	v.SetDefault("breaker.half_open_max", cfg.Breaker.HalfOpenMax)

	v.SetDefault("device.name", cfg.Device.Name)
	v.SetDefault("device.shots", cfg.Device.Shots)
	v.SetDefault("device.seed", cfg.Device.Seed)
	v.SetDefault("device.embedding", cfg.Device.Embedding)
	v.SetDefault("device.layers", cfg.Device.Layers)
	v.SetDefault("device.remote.base_url", cfg.Device.Remote.BaseURL)
	v.SetDefault("device.remote.token", cfg.Device.Remote.Token)
	v.SetDefault("device.remote.backends", cfg.Device.Remote.Backends)
	v.SetDefault("device.remote.capacity", cfg.Device.Remote.Capacity)
	v.SetDefault("device.remote.rate_limit", cfg.Device.Remote.RateLimit)
	v.SetDefault("device.remote.refill_rate", cfg.Device.Remote.RefillRate)
	v.SetDefault("device.remote.poll_interval", cfg.Device.Remote.PollInterval)
	v.SetDefault("device.remote.timeout", cfg.Device.Remote.Timeout)

	v.SetDefault("dataset.path", cfg.Dataset.Path)
	v.SetDefault("dataset.features", cfg.Dataset.Features)
	v.SetDefault("dataset.classes", cfg.Dataset.Classes)
	v.SetDefault("dataset.scale_low", cfg.Dataset.ScaleLow)
	v.SetDefault("dataset.scale_high", cfg.Dataset.ScaleHigh)

	v.SetDefault("split.train_size", cfg.Split.TrainSize)
	v.SetDefault("split.test_size", cfg.Split.TestSize)
	v.SetDefault("split.seed", cfg.Split.Seed)

	v.SetDefault("svm.c", cfg.SVM.C)
	v.SetDefault("svm.tol", cfg.SVM.Tol)
	v.SetDefault("svm.max_iter", cfg.SVM.MaxIter)

	v.SetDefault("log.level", cfg.Log.Level)
}
