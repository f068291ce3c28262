package embedding

type ProviderDriver string

const (
	ProviderOpenAI ProviderDriver = "openai"
	ProviderOllama ProviderDriver = "ollama"
	ProviderHash   ProviderDriver = "hash"
)

type Config struct {
	Provider   ProviderDriver `yaml:"provider"`
	Model      string         `yaml:"model"`
	Dimensions int            `yaml:"dimensions"`
	BaseURL    string         `yaml:"baseURL"`
	APIKey     string         `yaml:"apiKey"`
}

type CacheDriver string

const (
	CacheMemory CacheDriver = "memory"
	CacheSQLite CacheDriver = "sqlite"
	CacheRedis  CacheDriver = "redis"
)

type CacheConfig struct {
	Driver CacheDriver       `yaml:"driver"`
	SQLite SQLiteCacheConfig `yaml:"sqlite"`
	Redis  RedisCacheConfig  `yaml:"redis"`
}

type SQLiteCacheConfig struct {
	Path string `yaml:"path"`
}

type RedisCacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}
