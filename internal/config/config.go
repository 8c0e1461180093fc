package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-yaml/yaml"
)

type Config struct {
	Site     Site     `yaml:"site"`
	Server   Server   `yaml:"server"`
	Auth     Auth     `yaml:"auth"`
	Analysis Analysis `yaml:"analysis"`
}

type Site struct {
	// AdminEmail is the administrator address whose sessions are forced to
	// the admin role. Injected here so deployments can vary it.
	AdminEmail string `yaml:"adminEmail"`

	DefaultDivision string `yaml:"defaultDivision"`
}

type Server struct {
	Bind          string `yaml:"bind"`
	PostgresDsn   string `yaml:"postgresDsn"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Auth struct {
	JWTSecret string `yaml:"jwtSecret"`
	// TokenTTLMinutes defaults to a day when zero.
	TokenTTLMinutes int `yaml:"tokenTTLMinutes"`
}

type Analysis struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"apiKey"`
	Model    string `yaml:"model"`
}

func Load(path string) (Config, error) {

	file, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer file.Close()

	var config Config
	err = yaml.NewDecoder(file).Decode(&config)
	if err != nil {
		return Config{}, err
	}

	if config.Server.Bind == "" {
		config.Server.Bind = ":8000"
	}
	config.Site.AdminEmail = strings.ToLower(strings.TrimSpace(config.Site.AdminEmail))

	if config.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("auth.jwtSecret is required")
	}

	return config, nil
}
