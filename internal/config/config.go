package config

import (
	"log"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"` // `mapstructure` 标签用于Viper绑定结构体
	Redis     RedisConfig     `mapstructure:"redis"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	AliyunOSS AliyunOSSConfig `mapstructure:"aliyun_oss"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MySQLConfig 数据库配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// AliyunOSSConfig 阿里云OSS配置
type AliyunOSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"` // 例如: oss-cn-hangzhou.aliyuncs.com
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
}

// RabbitMQConfig RabbitMQ配置
type RabbitMQConfig struct {
	URL        string `mapstructure:"url"`
	EventQueue string `mapstructure:"event_queue"` // 事件流发布队列，空则不发布
}

// EngineConfig 上传引擎配置
type EngineConfig struct {
	MaxConcurrentUploads int    `mapstructure:"max_concurrent_uploads"` // 引擎级并发上限，clamp 到 [1,10]
	DefaultChunkSize     string `mapstructure:"default_chunk_size"`     // 如 "4MB"
	MaxConcurrentChunks  int    `mapstructure:"max_concurrent_chunks"`  // 单任务内分片并发上限
	ResumeBackend        string `mapstructure:"resume_backend"`         // redis | mysql | memory
	ResumeTTLHours       int    `mapstructure:"resume_ttl_hours"`       // redis 后端的记录过期时间
}

// ThrottleConfig 带宽限速配置
type ThrottleConfig struct {
	MaxBytesPerSecond string  `mapstructure:"max_bytes_per_second"` // 空表示不限速，如 "10MB"
	Adaptive          bool    `mapstructure:"adaptive"`
	QuietStartHour    int     `mapstructure:"quiet_start_hour"` // [start,end) 小时窗口
	QuietEndHour      int     `mapstructure:"quiet_end_hour"`
	QuietFactor       float64 `mapstructure:"quiet_factor"` // 静默时段限速折扣，0 表示暂停
}

// StorageConfig 传输后端配置
type StorageConfig struct {
	Type          string `mapstructure:"type"`            // minio | aliyun_oss | local
	LocalBasePath string `mapstructure:"local_base_path"` // local 后端的落盘目录
}

// LogConfig zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

// ParseByteSize 解析 "4MB" 这类人类可读的字节数，空串返回 0
func ParseByteSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return units.RAMInBytes(s)
}

var AppConfig *Config // 全局应用配置实例

// LoadConfig 加载配置
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")            // 配置文件名 (不带扩展名)
	viper.SetConfigType("yaml")              // 配置文件类型
	viper.AddConfigPath(".")                 // 在当前目录查找配置文件
	viper.AddConfigPath("./configs")         // 也可以添加其他路径
	viper.AddConfigPath("/etc/go-uploadhub") // 生产环境常见路径

	// 读取环境变量，例如 GO_UPLOAD_HUB_SERVER_PORT 对应 server.port
	viper.SetEnvPrefix("GO_UPLOAD_HUB")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 默认值，配置文件和环境变量都没有时生效
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("engine.max_concurrent_uploads", 3)
	viper.SetDefault("engine.default_chunk_size", "4MB")
	viper.SetDefault("engine.max_concurrent_chunks", 3)
	viper.SetDefault("engine.resume_backend", "memory")
	viper.SetDefault("engine.resume_ttl_hours", 24)
	viper.SetDefault("throttle.quiet_factor", 0.5)
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_base_path", "./uploads/data")
	viper.SetDefault("rabbitmq.event_queue", "")
	viper.SetDefault("log.output_path", "logs/uploadhub.log")
	viper.SetDefault("log.error_path", "logs/error.log")
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 配置文件未找到不是致命错误，依赖环境变量和默认值即可
			log.Println("Warning: config file not found, using environment variables or default values.")
		} else {
			log.Fatalf("Fatal error reading config file: %s \n", err)
			return nil, err
		}
	}

	AppConfig = &Config{}
	if err := viper.Unmarshal(AppConfig); err != nil {
		log.Fatalf("Fatal error unmarshaling config: %s \n", err)
		return nil, err
	}

	log.Println("Configuration loaded successfully with Viper.")
	return AppConfig, nil
}
