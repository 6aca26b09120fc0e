package env

import (
	"context"
	"fmt"
	"sync"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"deploycheck/internal/config"
	"deploycheck/internal/kube"
)

// KubernetesProfile targets an orchestrated cluster addressed through a
// kubeconfig context. Workloads are Deployments, instances are pods selected
// by the app label, and network access goes through a SPDY port-forward.
type KubernetesProfile struct {
	KubeContext string
	Namespace   string

	initOnce   sync.Once
	clientset  kubernetes.Interface
	restConfig *rest.Config
	initErr    error
}

// NewKubernetesProfile builds the cluster profile from configuration.
func NewKubernetesProfile(cfg config.KubernetesConfig) *KubernetesProfile {
	return &KubernetesProfile{
		KubeContext: cfg.Context,
		Namespace:   cfg.Namespace,
	}
}

func (p *KubernetesProfile) Name() string { return string(config.EnvironmentKubernetes) }

// clients lazily constructs the clientset; the profile is immutable once
// selected for a run, so one construction serves all calls.
func (p *KubernetesProfile) clients(ctx context.Context) (kubernetes.Interface, *rest.Config, error) {
	p.initOnce.Do(func() {
		p.clientset, p.restConfig, p.initErr = kube.GetClientsetForContext(ctx, p.KubeContext)
	})
	return p.clientset, p.restConfig, p.initErr
}

func (p *KubernetesProfile) CheckPrerequisites(ctx context.Context) error {
	clientset, _, err := p.clients(ctx)
	if err != nil {
		return err
	}
	return kube.CheckAPIReachable(ctx, clientset)
}

func (p *KubernetesProfile) Apply(ctx context.Context, spec config.DeploymentSpec) error {
	clientset, _, err := p.clients(ctx)
	if err != nil {
		return err
	}
	if err := kube.EnsureNamespace(ctx, clientset, p.Namespace); err != nil {
		return err
	}
	return kube.ApplyDeployment(ctx, clientset, p.Namespace, spec)
}

func (p *KubernetesProfile) CheckReady(ctx context.Context, spec config.DeploymentSpec) (bool, string, error) {
	clientset, _, err := p.clients(ctx)
	if err != nil {
		return false, "", err
	}
	return kube.DeploymentReadiness(ctx, clientset, p.Namespace, spec.Name)
}

func (p *KubernetesProfile) Locate(ctx context.Context, sel Selector) (WorkloadHandle, error) {
	clientset, _, err := p.clients(ctx)
	if err != nil {
		return WorkloadHandle{}, &LocatorError{Kind: KindQueryFailed, Environment: p.Name(), Selector: sel.Name, Err: err}
	}

	pods, err := kube.FindWorkloadPods(ctx, clientset, p.Namespace, sel.Name)
	if err != nil {
		return WorkloadHandle{}, &LocatorError{Kind: KindQueryFailed, Environment: p.Name(), Selector: sel.Name, Err: err}
	}
	if len(pods) == 0 {
		return WorkloadHandle{}, &LocatorError{Kind: KindNotFound, Environment: p.Name(), Selector: sel.Name}
	}

	// More than one match happens mid-rollout; the oldest pod is taken.
	pod := pods[0]
	return WorkloadHandle{
		Environment: p.Name(),
		ID:          pod.Name,
		CreatedAt:   pod.CreationTimestamp.Time,
	}, nil
}

func (p *KubernetesProfile) Exec(ctx context.Context, handle WorkloadHandle, command []string) (string, error) {
	clientset, restConfig, err := p.clients(ctx)
	if err != nil {
		return "", err
	}
	return kube.ExecInPod(ctx, restConfig, clientset, p.Namespace, handle.ID, command)
}

func (p *KubernetesProfile) OpenRelay(ctx context.Context, handle WorkloadHandle, localPort, remotePort int) (Relay, error) {
	clientset, restConfig, err := p.clients(ctx)
	if err != nil {
		return nil, err
	}
	session, err := kube.StartPortForward(restConfig, clientset, p.Namespace, handle.ID, localPort, remotePort)
	if err != nil {
		return nil, err
	}
	return &kubeRelay{session: session}, nil
}

func (p *KubernetesProfile) SecurityAttributes(ctx context.Context, handle WorkloadHandle) (SecurityAttributes, error) {
	clientset, _, err := p.clients(ctx)
	if err != nil {
		return SecurityAttributes{}, err
	}
	pod, err := clientset.CoreV1().Pods(p.Namespace).Get(ctx, handle.ID, metav1.GetOptions{})
	if err != nil {
		return SecurityAttributes{}, fmt.Errorf("failed to get pod %s/%s: %w", p.Namespace, handle.ID, err)
	}
	return podSecurityAttributes(pod), nil
}

// podSecurityAttributes merges the pod-level security context with the first
// container's. Container-level settings win, matching the kubelet's own
// precedence.
func podSecurityAttributes(pod *corev1.Pod) SecurityAttributes {
	var attrs SecurityAttributes

	if sc := pod.Spec.SecurityContext; sc != nil {
		attrs.RunAsUser = sc.RunAsUser
		attrs.RunAsNonRoot = sc.RunAsNonRoot
	}

	if len(pod.Spec.Containers) == 0 {
		return attrs
	}
	csc := pod.Spec.Containers[0].SecurityContext
	if csc == nil {
		return attrs
	}

	if csc.RunAsUser != nil {
		attrs.RunAsUser = csc.RunAsUser
	}
	if csc.RunAsNonRoot != nil {
		attrs.RunAsNonRoot = csc.RunAsNonRoot
	}
	attrs.ReadOnlyRootFilesystem = csc.ReadOnlyRootFilesystem
	attrs.Privileged = csc.Privileged
	if csc.Capabilities != nil {
		for _, c := range csc.Capabilities.Drop {
			attrs.DroppedCapabilities = append(attrs.DroppedCapabilities, string(c))
		}
	}
	return attrs
}

// kubeRelay supervises a background SPDY port-forward session.
type kubeRelay struct {
	session  *kube.PortForwardSession
	stopOnce sync.Once
}

func (r *kubeRelay) LocalAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", r.session.LocalPort)
}

func (r *kubeRelay) Ready() <-chan struct{} { return r.session.ReadyChan }

func (r *kubeRelay) Stop() {
	r.stopOnce.Do(func() {
		close(r.session.StopChan)
	})
}
