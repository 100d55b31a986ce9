package global

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig is the whole relay configuration, loaded from environment.
// Optional backends (Kafka, NATS, Redis mirror, Postgres profiles) are
// disabled when their endpoint is left empty.
type AppConfig struct {
	NodeID   string `envconfig:"NODE_ID" default:"relay-1"`
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	MongoURI string `envconfig:"MONGO_URI" default:"mongodb://127.0.0.1:27017"`
	MongoDB  string `envconfig:"MONGO_DB" default:"projchat"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	OnlineTTL     time.Duration `envconfig:"ONLINE_TTL" default:"2m"`

	ProfileCacheTTL time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"5m"`

	PostgresDSN string `envconfig:"POSTGRES_DSN"`

	NatsURL string `envconfig:"NATS_URL"`

	KafkaBrokers      []string `envconfig:"KAFKA_BROKERS"`
	KafkaArchiveTopic string   `envconfig:"KAFKA_ARCHIVE_TOPIC" default:"projchat.messages"`

	JWTSecret string `envconfig:"JWT_SECRET" default:"dev-secret-change-me"`

	PingInterval time.Duration `envconfig:"PING_INTERVAL" default:"25s"`
	PongWait     time.Duration `envconfig:"PONG_WAIT" default:"60s"`
	WriteWait    time.Duration `envconfig:"WRITE_WAIT" default:"10s"`
	UnauthTTL    time.Duration `envconfig:"UNAUTH_TTL" default:"30s"`
	SendTimeout  time.Duration `envconfig:"SEND_TIMEOUT" default:"5s"`

	SnowflakeNode int64 `envconfig:"SNOWFLAKE_NODE" default:"1"`
}

// Load reads AppConfig from the environment (PROJCHAT_ prefix).
func Load() (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("projchat", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
