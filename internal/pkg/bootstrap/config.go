// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/logger"
)

// Config 是整个应用的配置根结构，从 yaml 文件加载，环境变量可覆盖关键字段
type Config struct {
	Infra InfraConfig `yaml:"infra"`
	App   AppConfig   `yaml:"app"`
}

type InfraConfig struct {
	Jaeger struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"jaeger"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Mysql struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Kafka struct {
		Brokers []string `yaml:"brokers"`
	} `yaml:"kafka"`
	Zookeeper struct {
		Servers        []string      `yaml:"servers"`
		SessionTimeout time.Duration `yaml:"session_timeout"`
	} `yaml:"zookeeper"`
	Nacos struct {
		ServerAddrs string `yaml:"server_addrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
	} `yaml:"nacos"`
}

type AppConfig struct {
	// LockBackend 选择分布式锁实现: redis / zookeeper / local
	LockBackend string `yaml:"lock_backend"`
	Lock        struct {
		WaitTime  time.Duration `yaml:"wait_time"`
		LeaseTime time.Duration `yaml:"lease_time"`
	} `yaml:"lock"`
	Sweep struct {
		Interval    time.Duration `yaml:"interval"`
		BatchSize   int           `yaml:"batch_size"`
		Concurrency int           `yaml:"concurrency"`
	} `yaml:"sweep"`
	Reservation struct {
		DefaultTTL time.Duration `yaml:"default_ttl"`
	} `yaml:"reservation"`
	Policy struct {
		// ReserveRule 是一条 CEL 表达式，为空则不启用预占规则校验
		ReserveRule string `yaml:"reserve_rule"`
	} `yaml:"policy"`
}

var currentConfig atomic.Pointer[Config]

// Init 加载配置。优先读 CONFIG_PATH 指向的 yaml，读不到时退回默认值，
// 最后应用环境变量覆盖。必须在 GetCurrentConfig 之前调用。
func Init() {
	cfg := defaultConfig()

	path := getEnv("CONFIG_PATH", "configs/config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Logger.Warn().Err(err).Str("path", path).Msg("config file not readable, using defaults")
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		logger.Logger.Fatal().Err(err).Str("path", path).Msg("failed to parse config file")
	}

	applyEnvOverrides(cfg)
	currentConfig.Store(cfg)
}

// GetCurrentConfig 返回当前生效的配置
func GetCurrentConfig() *Config {
	cfg := currentConfig.Load()
	if cfg == nil {
		// 未显式 Init 时兜底，避免测试里拿到 nil
		cfg = defaultConfig()
		applyEnvOverrides(cfg)
		currentConfig.Store(cfg)
	}
	return cfg
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Infra.Redis.Addr = "localhost:6379"
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	cfg.Infra.Zookeeper.SessionTimeout = 5 * time.Second
	cfg.Infra.Nacos.ServerAddrs = "localhost:8848"
	cfg.Infra.Nacos.Group = "DEFAULT_GROUP"
	cfg.App.LockBackend = "redis"
	cfg.App.Lock.WaitTime = 5 * time.Second
	cfg.App.Lock.LeaseTime = 30 * time.Second
	cfg.App.Sweep.Interval = 30 * time.Second
	cfg.App.Sweep.BatchSize = 100
	cfg.App.Sweep.Concurrency = 8
	cfg.App.Reservation.DefaultTTL = 15 * time.Minute
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.Mysql.DSN = getEnv("MYSQL_DSN", cfg.Infra.Mysql.DSN)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("ZOOKEEPER_SERVERS"); ok {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.ServerAddrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)

	cfg.App.LockBackend = getEnv("LOCK_BACKEND", cfg.App.LockBackend)
	overrideDuration("LOCK_WAIT", &cfg.App.Lock.WaitTime)
	overrideDuration("LOCK_LEASE", &cfg.App.Lock.LeaseTime)
	overrideDuration("SWEEP_INTERVAL", &cfg.App.Sweep.Interval)
	overrideDuration("RESERVATION_TTL", &cfg.App.Reservation.DefaultTTL)
	cfg.App.Policy.ReserveRule = getEnv("RESERVE_RULE", cfg.App.Policy.ReserveRule)
}

func overrideDuration(key string, target *time.Duration) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration in env, ignored")
		return
	}
	*target = d
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
