package kube

import (
	"context"
	"fmt"
	"sort"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"deploycheck/internal/config"
)

// AppLabelKey is the label used to select workload pods.
const AppLabelKey = "app"

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(i int64) *int64 { return &i }

// BuildDeployment constructs the apps/v1 Deployment submitted for a workload.
// The pod template carries a restrictive security context so the compliance
// checks have declared attributes to verify.
func BuildDeployment(spec config.DeploymentSpec) *appsv1.Deployment {
	replicas := spec.Replicas
	if replicas == 0 {
		replicas = 1
	}
	podLabels := map[string]string{AppLabelKey: spec.Name}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.Name,
			Labels: podLabels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: podLabels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					SecurityContext: &corev1.PodSecurityContext{
						RunAsNonRoot: boolPtr(true),
						RunAsUser:    int64Ptr(1000),
					},
					Containers: []corev1.Container{
						{
							Name:  spec.Name,
							Image: spec.Image,
							Ports: []corev1.ContainerPort{
								{ContainerPort: int32(spec.Port)},
							},
							SecurityContext: &corev1.SecurityContext{
								AllowPrivilegeEscalation: boolPtr(false),
								ReadOnlyRootFilesystem:   boolPtr(true),
								Capabilities: &corev1.Capabilities{
									Drop: []corev1.Capability{"ALL"},
								},
							},
							ReadinessProbe: &corev1.Probe{
								ProbeHandler: corev1.ProbeHandler{
									HTTPGet: &corev1.HTTPGetAction{
										Path: "/",
										Port: intstr.FromInt(spec.Port),
									},
								},
								InitialDelaySeconds: 2,
								PeriodSeconds:       3,
							},
						},
					},
				},
			},
		},
	}
}

// ApplyDeployment submits the deployment with create-or-update semantics: an
// existing deployment with the same name is updated in place, never
// duplicated.
func ApplyDeployment(ctx context.Context, clientset kubernetes.Interface, namespace string, spec config.DeploymentSpec) error {
	desired := BuildDeployment(spec)
	deployments := clientset.AppsV1().Deployments(namespace)

	existing, err := deployments.Get(ctx, spec.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		if _, err := deployments.Create(ctx, desired, metav1.CreateOptions{}); err != nil {
			return fmt.Errorf("failed to create deployment %s/%s: %w", namespace, spec.Name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get deployment %s/%s: %w", namespace, spec.Name, err)
	}

	existing.Labels = desired.Labels
	existing.Spec = desired.Spec
	if _, err := deployments.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("failed to update deployment %s/%s: %w", namespace, spec.Name, err)
	}
	return nil
}

// DeploymentReadiness reports whether a deployment has all desired replicas
// ready. A non-nil terminal error means the substrate has given up on the
// rollout (e.g. the progress deadline was exceeded) and further polling is
// pointless.
func DeploymentReadiness(ctx context.Context, clientset kubernetes.Interface, namespace, name string) (ready bool, detail string, terminal error) {
	dep, err := clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, "deployment not found", nil
		}
		return false, "", fmt.Errorf("failed to get deployment %s/%s: %w", namespace, name, err)
	}

	for _, cond := range dep.Status.Conditions {
		if cond.Type == appsv1.DeploymentReplicaFailure && cond.Status == corev1.ConditionTrue {
			return false, cond.Message, fmt.Errorf("deployment %s/%s replica failure: %s", namespace, name, cond.Message)
		}
		if cond.Type == appsv1.DeploymentProgressing && cond.Status == corev1.ConditionFalse &&
			cond.Reason == "ProgressDeadlineExceeded" {
			return false, cond.Message, fmt.Errorf("deployment %s/%s stopped progressing: %s", namespace, name, cond.Message)
		}
	}

	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	detail = fmt.Sprintf("%d/%d replicas ready", dep.Status.ReadyReplicas, desired)
	if dep.Status.ReadyReplicas >= desired {
		return true, detail, nil
	}

	// Pod-level readiness gives better progress evidence than the bare
	// replica count while a rollout is still converging.
	if pods, perr := FindWorkloadPods(ctx, clientset, namespace, name); perr == nil && len(pods) > 0 {
		readyPods := 0
		for i := range pods {
			if IsPodReady(&pods[i]) {
				readyPods++
			}
		}
		detail = fmt.Sprintf("%s (%d/%d pods ready)", detail, readyPods, len(pods))
	}
	return false, detail, nil
}

// FindWorkloadPods lists the pods carrying the app label, oldest first. The
// natural creation-time ordering makes "pick the first" deterministic when a
// rollout briefly leaves more than one pod behind.
func FindWorkloadPods(ctx context.Context, clientset kubernetes.Interface, namespace, appName string) ([]corev1.Pod, error) {
	selector := labels.SelectorFromSet(map[string]string{AppLabelKey: appName})
	podList, err := clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods for %s/%s: %w", namespace, appName, err)
	}

	pods := podList.Items
	sort.SliceStable(pods, func(i, j int) bool {
		return pods[i].CreationTimestamp.Before(&pods[j].CreationTimestamp)
	})
	return pods, nil
}
