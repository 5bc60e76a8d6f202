package config

import (
	"fmt"
	"strings"
)

// Environment is an isolated deployment target with its own state and
// its own external API endpoints.
type Environment string

// Supported environments.
const (
	EnvDev  Environment = "dev"
	EnvQA   Environment = "qa"
	EnvProd Environment = "prod"
)

// Environments returns all supported environments in promotion order.
func Environments() []Environment {
	return []Environment{EnvDev, EnvQA, EnvProd}
}

// Valid reports whether e is one of the supported environments.
func (e Environment) Valid() bool {
	switch e {
	case EnvDev, EnvQA, EnvProd:
		return true
	default:
		return false
	}
}

func (e Environment) String() string {
	return string(e)
}

// ParseEnvironment converts s into an Environment.
func ParseEnvironment(s string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(s)))
	if !env.Valid() {
		return "", fmt.Errorf("unknown environment %q (expected dev, qa or prod)", s)
	}

	return env, nil
}
