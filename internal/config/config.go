package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/MikhailOznobikhin/moznods/internal/client"
	"github.com/MikhailOznobikhin/moznods/internal/hub"
	"github.com/MikhailOznobikhin/moznods/internal/presence"
	pkgconfig "github.com/MikhailOznobikhin/moznods/pkg/config"
	"github.com/MikhailOznobikhin/moznods/pkg/pubsub"
)

type Config struct {
	Server    ServerConfig
	WebSocket hub.Config `mapstructure:"websocket"`
	Auth      client.AuthConfig
	Room      RoomConfig
	Message   MessageConfig
	Presence  presence.Config
	PubSub    pubsub.Config
	Kafka     KafkaConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RoomConfig struct {
	HTTPAddress string        `mapstructure:"http_address"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type MessageConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
}

type KafkaConfig struct {
	Enabled    bool
	Brokers    string
	Topic      string
	Partitions int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("auth.driver", "jwt")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.http_address", "http://localhost:8081")
	v.SetDefault("room.http_address", "http://localhost:8082")
	v.SetDefault("room.cache_ttl", "5m")
	v.SetDefault("message.http_address", "http://localhost:8083")
	v.SetDefault("presence.driver", "redis")
	v.SetDefault("presence.ttl", "1h")
	v.SetDefault("presence.redis.address", "localhost:6379")
	v.SetDefault("presence.redis.password", "")
	v.SetDefault("presence.redis.db", 0)
	v.SetDefault("pubsub.driver", "none")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.password", "")
	v.SetDefault("pubsub.redis.db", 0)
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "moznods")
	v.SetDefault("pubsub.kafka.partitions", 4)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.topic", "call-events")
	v.SetDefault("kafka.partitions", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.driver", "AUTH_DRIVER")
	v.BindEnv("auth.jwt_secret", "AUTH_JWT_SECRET")
	v.BindEnv("auth.http_address", "AUTH_HTTP_ADDRESS")
	v.BindEnv("room.http_address", "ROOM_HTTP_ADDRESS")
	v.BindEnv("message.http_address", "MESSAGE_HTTP_ADDRESS")
	v.BindEnv("presence.driver", "PRESENCE_DRIVER")
	v.BindEnv("presence.redis.address", "REDIS_ADDRESS")
	v.BindEnv("presence.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_CALL_TOPIC")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Room.CacheTTL = parseDuration(v, "room.cache_ttl", 5*time.Minute)
	cfg.Presence.TTL = parseDuration(v, "presence.ttl", time.Hour)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	str := v.GetString(key)
	d, err := time.ParseDuration(str)
	if err != nil {
		return defaultVal
	}
	return d
}
