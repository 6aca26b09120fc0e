package env

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"

	"deploycheck/internal/compose"
	"deploycheck/internal/config"
	"deploycheck/internal/kube"
)

func int64Ptr(v int64) *int64 { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestProfileFor(t *testing.T) {
	cfg := config.GetDefaultConfig()

	p, err := ProfileFor(cfg)
	require.NoError(t, err)
	assert.IsType(t, &KubernetesProfile{}, p)
	assert.Equal(t, "kubernetes", p.Name())

	cfg.Environment = config.EnvironmentCompose
	p, err = ProfileFor(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ComposeProfile{}, p)
	assert.Equal(t, "compose", p.Name())

	cfg.Environment = "vagrant"
	_, err = ProfileFor(cfg)
	assert.ErrorContains(t, err, `unknown environment "vagrant"`)
}

func TestPodSecurityAttributes(t *testing.T) {
	tests := []struct {
		name string
		pod  corev1.Pod
		want SecurityAttributes
	}{
		{
			name: "no security contexts",
			pod: corev1.Pod{
				Spec: corev1.PodSpec{Containers: []corev1.Container{{Name: "app"}}},
			},
			want: SecurityAttributes{},
		},
		{
			name: "pod level only",
			pod: corev1.Pod{
				Spec: corev1.PodSpec{
					SecurityContext: &corev1.PodSecurityContext{
						RunAsUser:    int64Ptr(1000),
						RunAsNonRoot: boolPtr(true),
					},
					Containers: []corev1.Container{{Name: "app"}},
				},
			},
			want: SecurityAttributes{
				RunAsUser:    int64Ptr(1000),
				RunAsNonRoot: boolPtr(true),
			},
		},
		{
			name: "container level wins over pod level",
			pod: corev1.Pod{
				Spec: corev1.PodSpec{
					SecurityContext: &corev1.PodSecurityContext{
						RunAsUser:    int64Ptr(0),
						RunAsNonRoot: boolPtr(false),
					},
					Containers: []corev1.Container{{
						Name: "app",
						SecurityContext: &corev1.SecurityContext{
							RunAsUser:              int64Ptr(1000),
							RunAsNonRoot:           boolPtr(true),
							ReadOnlyRootFilesystem: boolPtr(true),
							Capabilities: &corev1.Capabilities{
								Drop: []corev1.Capability{"ALL"},
							},
						},
					}},
				},
			},
			want: SecurityAttributes{
				RunAsUser:              int64Ptr(1000),
				RunAsNonRoot:           boolPtr(true),
				ReadOnlyRootFilesystem: boolPtr(true),
				DroppedCapabilities:    []string{"ALL"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := podSecurityAttributes(&tt.pod)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainerSecurityAttributes(t *testing.T) {
	tests := []struct {
		name         string
		user         string
		wantUser     *int64
		wantNonRoot  *bool
		readonlyRoot bool
	}{
		{name: "numeric non-root user", user: "1000", wantUser: int64Ptr(1000), wantNonRoot: boolPtr(true)},
		{name: "numeric root user", user: "0", wantUser: int64Ptr(0), wantNonRoot: boolPtr(false)},
		{name: "uid with gid", user: "1000:1000", wantUser: int64Ptr(1000), wantNonRoot: boolPtr(true)},
		{name: "named user not interpreted", user: "appuser"},
		{name: "no user declared", user: "", readonlyRoot: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := &compose.ContainerInfo{}
			info.Config.User = tt.user
			info.HostConfig.ReadonlyRootfs = tt.readonlyRoot
			info.HostConfig.CapDrop = []string{"ALL"}

			got := containerSecurityAttributes(info)

			assert.Equal(t, tt.wantUser, got.RunAsUser)
			assert.Equal(t, tt.wantNonRoot, got.RunAsNonRoot)
			require.NotNil(t, got.ReadOnlyRootFilesystem)
			assert.Equal(t, tt.readonlyRoot, *got.ReadOnlyRootFilesystem)
			require.NotNil(t, got.Privileged)
			assert.False(t, *got.Privileged)
			assert.Equal(t, []string{"ALL"}, got.DroppedCapabilities)
		})
	}
}

func stubComposePS(t *testing.T, entries []compose.PSEntry, err error) {
	t.Helper()
	old := composePS
	composePS = func(ctx context.Context, file, project, service string) ([]compose.PSEntry, error) {
		return entries, err
	}
	t.Cleanup(func() { composePS = old })
}

func TestComposeProfileLocate(t *testing.T) {
	profile := NewComposeProfile(config.ComposeConfig{Project: "demo", Service: "demo-api"})

	t.Run("zero matches is NotFound", func(t *testing.T) {
		stubComposePS(t, nil, nil)

		_, err := profile.Locate(context.Background(), Selector{Name: "demo-api"})
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("non-running containers are not matches", func(t *testing.T) {
		stubComposePS(t, []compose.PSEntry{
			{Name: "demo-api-1", Service: "demo-api", State: "exited"},
		}, nil)

		_, err := profile.Locate(context.Background(), Selector{Name: "demo-api"})
		assert.True(t, IsNotFound(err))
	})

	t.Run("oldest running container wins", func(t *testing.T) {
		stubComposePS(t, []compose.PSEntry{
			{Name: "demo-api-2", Service: "demo-api", State: "running", CreatedAt: "2026-08-29 11:00:00 +0000 UTC"},
			{Name: "demo-api-1", Service: "demo-api", State: "running", CreatedAt: "2026-08-29 10:00:00 +0000 UTC"},
			{Name: "demo-api-3", Service: "demo-api", State: "exited", CreatedAt: "2026-08-29 09:00:00 +0000 UTC"},
		}, nil)

		handle, err := profile.Locate(context.Background(), Selector{Name: "demo-api"})
		require.NoError(t, err)
		assert.Equal(t, "demo-api-1", handle.ID)
		assert.Equal(t, "compose", handle.Environment)
	})

	t.Run("engine query failure is not NotFound", func(t *testing.T) {
		stubComposePS(t, nil, errors.New("daemon not running"))

		_, err := profile.Locate(context.Background(), Selector{Name: "demo-api"})
		require.Error(t, err)
		assert.False(t, IsNotFound(err))

		var le *LocatorError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, KindQueryFailed, le.Kind)
	})
}

func stubClientset(t *testing.T, objects ...runtime.Object) {
	t.Helper()
	old := kube.GetClientsetForContext
	kube.GetClientsetForContext = func(ctx context.Context, kubeContext string) (kubernetes.Interface, *rest.Config, error) {
		return fake.NewClientset(objects...), &rest.Config{}, nil
	}
	t.Cleanup(func() { kube.GetClientsetForContext = old })
}

func TestKubernetesProfileLocate(t *testing.T) {
	base := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	labeledPod := func(name string, created time.Time) *corev1.Pod {
		return &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name:              name,
				Namespace:         "demo",
				Labels:            map[string]string{"app": "demo-api"},
				CreationTimestamp: metav1.NewTime(created),
			},
		}
	}

	t.Run("zero matches is NotFound", func(t *testing.T) {
		stubClientset(t)
		profile := NewKubernetesProfile(config.KubernetesConfig{Namespace: "demo"})

		_, err := profile.Locate(context.Background(), Selector{Name: "demo-api"})
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
	})

	t.Run("oldest pod wins", func(t *testing.T) {
		stubClientset(t,
			labeledPod("demo-api-newer", base.Add(time.Minute)),
			labeledPod("demo-api-older", base),
		)
		profile := NewKubernetesProfile(config.KubernetesConfig{Namespace: "demo"})

		handle, err := profile.Locate(context.Background(), Selector{Name: "demo-api"})
		require.NoError(t, err)
		assert.Equal(t, "demo-api-older", handle.ID)
		assert.Equal(t, base, handle.CreatedAt.UTC())
	})
}

func TestLocatorError(t *testing.T) {
	notFound := &LocatorError{Kind: KindNotFound, Environment: "compose", Selector: "demo-api"}
	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsNotFound(fmt.Errorf("run failed: %w", notFound)))
	assert.Contains(t, notFound.Error(), `"demo-api"`)
	assert.Contains(t, notFound.Error(), "NotFound")

	cause := errors.New("connection refused")
	query := &LocatorError{Kind: KindQueryFailed, Environment: "kubernetes", Selector: "demo-api", Err: cause}
	assert.False(t, IsNotFound(query))
	assert.ErrorIs(t, query, cause)
	assert.Contains(t, query.Error(), "connection refused")

	assert.False(t, IsNotFound(errors.New("unrelated")))
}

func TestStaticRelayIsBornReady(t *testing.T) {
	r := newStaticRelay("127.0.0.1:18080")

	select {
	case <-r.Ready():
	default:
		t.Fatal("static relay should be ready immediately")
	}
	assert.Equal(t, "127.0.0.1:18080", r.LocalAddr())

	// Stop is a no-op and must be safe to call repeatedly.
	r.Stop()
	r.Stop()
}
