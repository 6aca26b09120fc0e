package config

import "time"

// Defaults mirror the demo workload's contract: a JSON payload with a message
// and a version field, served on port 8080.
const (
	DefaultWorkloadName = "demo-api"
	DefaultImage        = "demo-api:latest"
	DefaultNamespace    = "demo"
	DefaultPort         = 8080
	DefaultLocalPort    = 18080

	DefaultExpectedMessage = "Hello, Candidate"
	DefaultExpectedVersion = "1.0.0"

	DefaultReadyTimeout = 300 * time.Second
	DefaultCheckTimeout = 10 * time.Second
	DefaultCheckRetries = 3
)

func boolPtr(b bool) *bool { return &b }

// GetDefaultConfig returns the built-in configuration, used as the base layer
// before user and project overlays are applied.
func GetDefaultConfig() Config {
	return Config{
		Environment: EnvironmentKubernetes,
		Kubernetes: KubernetesConfig{
			Namespace: DefaultNamespace,
		},
		Compose: ComposeConfig{
			Project: DefaultWorkloadName,
			Service: DefaultWorkloadName,
		},
		Deployment: DeploymentSpec{
			Name:         DefaultWorkloadName,
			Image:        DefaultImage,
			Replicas:     1,
			Port:         DefaultPort,
			ReadyTimeout: Duration(DefaultReadyTimeout),
		},
		Checks: CheckConfig{
			LocalPort: DefaultLocalPort,
			Retries:   DefaultCheckRetries,
			Timeout:   Duration(DefaultCheckTimeout),
			Expect: ContentExpectations{
				Message: DefaultExpectedMessage,
				Version: DefaultExpectedVersion,
			},
			Security: SecurityExpectations{
				RunAsNonRoot:           boolPtr(true),
				ReadOnlyRootFilesystem: boolPtr(true),
				DropCapabilities:       []string{"ALL"},
			},
		},
	}
}
