package config

// EnvironmentKind selects which runtime substrate a run targets.
type EnvironmentKind string

const (
	EnvironmentKubernetes EnvironmentKind = "kubernetes"
	EnvironmentCompose    EnvironmentKind = "compose"
)

// Config is the top-level configuration structure for deploycheck.
type Config struct {
	Environment EnvironmentKind  `yaml:"environment,omitempty"`
	Kubernetes  KubernetesConfig `yaml:"kubernetes,omitempty"`
	Compose     ComposeConfig    `yaml:"compose,omitempty"`
	Deployment  DeploymentSpec   `yaml:"deployment,omitempty"`
	Checks      CheckConfig      `yaml:"checks,omitempty"`
}

// KubernetesConfig addresses the orchestrated-cluster environment.
type KubernetesConfig struct {
	Context   string `yaml:"context,omitempty"`   // kubeconfig context; empty means current
	Namespace string `yaml:"namespace,omitempty"` // target namespace for the workload
}

// ComposeConfig addresses the single-host compose environment.
type ComposeConfig struct {
	Project string `yaml:"project,omitempty"` // compose project name
	Service string `yaml:"service,omitempty"` // compose service running the workload
	File    string `yaml:"file,omitempty"`    // optional compose file path
}

// DeploymentSpec describes the workload to provision. It is consumed once per
// run by the provisioner.
type DeploymentSpec struct {
	Name         string   `yaml:"name,omitempty"`         // logical workload name, also the app label value
	Image        string   `yaml:"image,omitempty"`        // artifact reference
	BuildContext string   `yaml:"buildContext,omitempty"` // if set, the image is built from this directory
	Push         bool     `yaml:"push,omitempty"`         // push the image after building (cluster targets)
	Replicas     int32    `yaml:"replicas,omitempty"`
	Port         int      `yaml:"port,omitempty"`         // container port the workload serves on
	ReadyTimeout Duration `yaml:"readyTimeout,omitempty"` // provisioning readiness deadline
}

// CheckConfig carries the expectations the compliance checks verify and the
// shared retry policy.
type CheckConfig struct {
	LocalPort int                  `yaml:"localPort,omitempty"` // local end of the access tunnel
	Retries   int                  `yaml:"retries,omitempty"`   // per-check retry count for transient errors
	Timeout   Duration             `yaml:"timeout,omitempty"`   // per-check timeout
	Expect    ContentExpectations  `yaml:"expect,omitempty"`
	Security  SecurityExpectations `yaml:"security,omitempty"`
}

// ContentExpectations are the literal values the content check compares the
// workload's root endpoint payload against.
type ContentExpectations struct {
	Message string `yaml:"message,omitempty"`
	Version string `yaml:"version,omitempty"`
}

// SecurityExpectations are matched subset-wise against the workload's declared
// security attributes; nil fields are not checked.
type SecurityExpectations struct {
	RunAsNonRoot           *bool    `yaml:"runAsNonRoot,omitempty"`
	ReadOnlyRootFilesystem *bool    `yaml:"readOnlyRootFilesystem,omitempty"`
	DropCapabilities       []string `yaml:"dropCapabilities,omitempty"`
}
