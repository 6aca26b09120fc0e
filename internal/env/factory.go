package env

import (
	"fmt"

	"deploycheck/internal/config"
)

// ProfileFor returns the profile the configuration selects. The profile is
// immutable for the duration of the run.
func ProfileFor(cfg config.Config) (Profile, error) {
	switch cfg.Environment {
	case config.EnvironmentKubernetes:
		return NewKubernetesProfile(cfg.Kubernetes), nil
	case config.EnvironmentCompose:
		return NewComposeProfile(cfg.Compose), nil
	default:
		return nil, fmt.Errorf("unknown environment %q (expected %q or %q)",
			cfg.Environment, config.EnvironmentKubernetes, config.EnvironmentCompose)
	}
}
