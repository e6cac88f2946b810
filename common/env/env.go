// Package env reads the deployment environment of the process from ENVIRONMENT.
package env

import (
	"os"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

const ApplicationEnvKey = "ENVIRONMENT"

// Environment represents the application deployment environment
type Environment string

const (
	EnvironmentLocal       Environment = "local"
	EnvironmentLocalDocker Environment = "local-docker"
	EnvironmentTest        Environment = "test"
	EnvironmentDevelopment Environment = "development"
	EnvironmentStaging     Environment = "staging"
	EnvironmentProduction  Environment = "production"
)

var supported = []Environment{
	EnvironmentLocal,
	EnvironmentLocalDocker,
	EnvironmentTest,
	EnvironmentDevelopment,
	EnvironmentStaging,
	EnvironmentProduction,
}

func (e Environment) String() string { return string(e) }

// IsLocal is true on a developer machine, where logs are read by humans.
func (e Environment) IsLocal() bool {
	return e == EnvironmentLocal || e == EnvironmentLocalDocker
}

func IsEnvironmentValid(environment string) error {
	if slices.Contains(supported, Environment(environment)) {
		return nil
	}
	names := make([]string, len(supported))
	for i, e := range supported {
		names[i] = e.String()
	}
	return errors.Newf("invalid environment %q: %s must be set to one of %s",
		environment, ApplicationEnvKey, strings.Join(names, ", "))
}

func FromString(environment string) (Environment, error) {
	if err := IsEnvironmentValid(environment); err != nil {
		return "", err
	}
	return Environment(environment), nil
}

// GetApplicationEnv returns the environment if found in env vars and is valid
func GetApplicationEnv() (Environment, error) {
	return FromString(os.Getenv(ApplicationEnvKey))
}

// GetApplicationEnvSafe returns the environment if found, else EnvironmentLocal
func GetApplicationEnvSafe() Environment {
	e, err := GetApplicationEnv()
	if err != nil {
		return EnvironmentLocal
	}
	return e
}

func IsLocalApplicationEnv() bool {
	return GetApplicationEnvSafe().IsLocal()
}
