package postgres

import (
	"fmt"
	"os"
	"strings"
)

type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string
}

// ConfigFromEnv fills the config from POSTGRES_* variables, keeping the given
// defaults for unset ones.
func ConfigFromEnv(defaults Config) Config {
	c := defaults
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.DBName = v
	}
	return c
}

func (c *Config) ConString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.User, c.Password, c.Host, c.Port, c.DBName)
}

func (c Config) String() string {
	c.Password = strings.Repeat("*", len([]rune(c.Password)))
	return fmt.Sprintf("%#v", c)
}

func (c *Config) IsValid() bool {
	if c.User == "" || c.Password == "" || c.Host == "" || c.Port == "" || c.DBName == "" {
		return false
	}
	return true
}
