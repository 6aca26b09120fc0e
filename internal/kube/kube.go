// Package kube wraps the client-go operations deploycheck needs: clientset
// construction for a kubeconfig context, deployment create-or-update,
// readiness inspection, pod lookup, in-pod command execution, and SPDY
// port-forwarding.
package kube

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	_ "k8s.io/client-go/plugin/pkg/client/auth" // Important for various auth providers
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// RESTConfigForContext builds a REST config for the named kubeconfig context.
// An empty context name means the current context.
var RESTConfigForContext = func(kubeContext string) (*rest.Config, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	configOverrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		configOverrides.CurrentContext = kubeContext
	}
	kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides)

	restConfig, err := kubeConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get REST config for context %q: %w", kubeContext, err)
	}
	restConfig.Timeout = 30 * time.Second
	return restConfig, nil
}

// GetClientsetForContext creates a Kubernetes clientset for the named context.
var GetClientsetForContext = func(ctx context.Context, kubeContext string) (kubernetes.Interface, *rest.Config, error) {
	restConfig, err := RESTConfigForContext(kubeContext)
	if err != nil {
		return nil, nil, err
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Kubernetes clientset: %w", err)
	}
	return clientset, restConfig, nil
}

// CheckAPIReachable verifies the API server answers at all, bounded by the
// context deadline. Used as a prerequisite probe before provisioning.
func CheckAPIReachable(ctx context.Context, clientset kubernetes.Interface) error {
	_, err := clientset.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
	if err != nil {
		return fmt.Errorf("kubernetes API not reachable: %w", err)
	}
	return nil
}

// IsPodReady reports whether the pod is Running with all containers ready.
func IsPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	podReady := false
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			podReady = true
			break
		}
	}
	if !podReady {
		return false
	}
	if len(pod.Status.ContainerStatuses) == 0 && len(pod.Spec.Containers) > 0 {
		// Running but container statuses not yet reported, still initializing.
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

// EnsureNamespace creates the namespace if it does not exist yet.
func EnsureNamespace(ctx context.Context, clientset kubernetes.Interface, namespace string) error {
	_, err := clientset.CoreV1().Namespaces().Get(ctx, namespace, metav1.GetOptions{})
	if err == nil {
		return nil
	}
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: namespace}}
	if _, err := clientset.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create namespace %q: %w", namespace, err)
	}
	return nil
}
