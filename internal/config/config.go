package config

import "github.com/caarlos0/env/v9"

type Config struct {
	Port       string `env:"PORT" envDefault:"8080"`
	DBUser     string `env:"DB_USER,required"`
	DBPassword string `env:"DB_PASSWORD,required"`
	DBHost     string `env:"DB_HOST,required"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName     string `env:"DB_NAME,required"`
	DBPort     string `env:"DB_PORT" envDefault:"3306"`

	// SessionSecret signs the HMAC session tokens issued by the identity
	// service; the API and the hub handshake verify against it.
	SessionSecret string `env:"SESSION_SECRET,required"`

	// ListingServiceURL is the base URL of the listing catalog service,
	// consulted only when seeding participants for a new conversation.
	ListingServiceURL string `env:"LISTING_SERVICE_URL,required"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
