package utils

import (
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

var EtcDir = "."
var DataDir = "."

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

const (
	DefaultGrpcPort         = 6000
	DefaultConcLimit        = 16
	DefaultDatasetCacheSize = 64
	DefaultResultTTL        = 5 * time.Minute
	DefaultRecvMsgSize      = 10 * 1024 * 1024
)

type ServiceConfig struct {
	GrpcPort           int       `yaml:"grpc_port" json:"grpc_port"`
	MetricsAddress     string    `yaml:"metrics_address" json:"metrics_address"`
	APIAddress         string    `yaml:"api_address" json:"api_address"`
	RedisAddress       string    `yaml:"redis_address" json:"redis_address"`
	RedisDB            int       `yaml:"redis_db" json:"redis_db"`
	MemcacheAddress    string    `yaml:"memcache_address" json:"memcache_address"`
	DataPath           string    `yaml:"data_path" json:"data_path"`
	ConcLimit          int       `yaml:"conc_limit" json:"conc_limit"`
	DatasetCacheSize   int       `yaml:"dataset_cache_size" json:"dataset_cache_size"`
	ResultTTLSeconds   int       `yaml:"result_ttl_secs" json:"result_ttl_secs"`
	MaxGrpcRecvMsgSize int       `yaml:"max_grpc_recv_msg_size" json:"max_grpc_recv_msg_size"`
	Log                LogConfig `yaml:"log" json:"log"`
}

// ResultTTL is how long a cached read result stays valid.
func (s ServiceConfig) ResultTTL() time.Duration {
	if s.ResultTTLSeconds <= 0 {
		return DefaultResultTTL
	}
	return time.Duration(s.ResultTTLSeconds) * time.Second
}

// SearchPath is the data search path for relative dataset paths: a
// -data_dir given on the command line wins over data_path, which wins
// over the flag's default.
func (s ServiceConfig) SearchPath(flagDir string, flagSet bool) string {
	if flagSet || s.DataPath == "" {
		return flagDir
	}
	return s.DataPath
}

// FlagPassed reports whether the named command line flag was set.
func FlagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}

// DatasetConfig describes one raster dataset that can be read. Path names
// a raster file read when no time slice applies. CatalogDSN, when set,
// points at the Postgres database holding the dataset's temporal catalog;
// GrassLocation is then the directory the catalog's slice paths are
// relative to.
type DatasetConfig struct {
	Name            string `yaml:"name" json:"name"`
	Title           string `yaml:"title" json:"title"`
	Path            string `yaml:"path" json:"path"`
	CatalogDSN      string `yaml:"catalog_dsn" json:"catalog_dsn"`
	GrassLocation   string `yaml:"grass_location" json:"grass_location"`
	DefaultSeries   string `yaml:"default_series" json:"default_series"`
	BandExpressions string `yaml:"band_expressions" json:"band_expressions"`
}

// Config is the configuration of a raster reader deployment: the service
// settings shared by the servers and the datasets they serve.
type Config struct {
	ServiceConfig ServiceConfig   `yaml:"service_config" json:"service_config"`
	Datasets      []DatasetConfig `yaml:"datasets" json:"datasets"`
}

// Dataset returns the named dataset's configuration.
func (config *Config) Dataset(name string) (DatasetConfig, bool) {
	for _, ds := range config.Datasets {
		if ds.Name == name {
			return ds, true
		}
	}
	return DatasetConfig{}, false
}

func LoadConfig(configFile string) (*Config, error) {
	config := &Config{}
	if err := config.LoadConfigFile(configFile); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadConfigFile parses a YAML config document, fills in defaults and
// validates the dataset list.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	if err := yaml.Unmarshal(cfg, config); err != nil {
		return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
	}

	return config.applyDefaults()
}

func (config *Config) applyDefaults() error {
	sc := &config.ServiceConfig
	if sc.GrpcPort <= 0 {
		sc.GrpcPort = DefaultGrpcPort
	}
	if sc.ConcLimit <= 0 {
		sc.ConcLimit = DefaultConcLimit
	}
	if sc.DatasetCacheSize <= 0 {
		sc.DatasetCacheSize = DefaultDatasetCacheSize
	}
	if sc.MaxGrpcRecvMsgSize <= 0 {
		sc.MaxGrpcRecvMsgSize = DefaultRecvMsgSize
	}

	seen := make(map[string]bool)
	for i, ds := range config.Datasets {
		if ds.Name == "" {
			return fmt.Errorf("dataset %d has no name", i)
		}
		if seen[ds.Name] {
			return fmt.Errorf("dataset %s is defined more than once", ds.Name)
		}
		seen[ds.Name] = true
		if ds.Path == "" && ds.CatalogDSN == "" {
			return fmt.Errorf("dataset %s needs a path or a catalog_dsn", ds.Name)
		}
		if ds.CatalogDSN != "" && ds.GrassLocation == "" {
			return fmt.Errorf("dataset %s: catalog_dsn requires grass_location", ds.Name)
		}
		if ds.BandExpressions != "" {
			if _, err := ParseBandExpressions(ds.BandExpressions); err != nil {
				return fmt.Errorf("dataset %s: %v", ds.Name, err)
			}
		}
	}
	return nil
}

// ConfigHolder holds the live configuration of a running server.
type ConfigHolder struct {
	mu     sync.RWMutex
	config *Config
}

func NewConfigHolder(config *Config) *ConfigHolder {
	return &ConfigHolder{config: config}
}

func (h *ConfigHolder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

func (h *ConfigHolder) Set(config *Config) {
	h.mu.Lock()
	h.config = config
	h.mu.Unlock()
}

// WatchConfig reloads configFile into holder on SIGHUP. onReload runs
// after each successful reload. The returned function stops watching.
func WatchConfig(log zerolog.Logger, configFile string, holder *ConfigHolder, onReload func(*Config)) func() {
	sighup := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-sighup:
				log.Info().Str("file", configFile).Msg("caught SIGHUP, reloading config")
				config, err := LoadConfig(configFile)
				if err != nil {
					log.Error().Err(err).Msg("reloading config")
					continue
				}
				holder.Set(config)
				if onReload != nil {
					onReload(config)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sighup)
		close(done)
	}
}
