package driver

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/cuemby/nsscheduler/pkg/config"
)

func int32ptr(v int32) *int32 { return &v }

func newDeployment(ns, name string, replicas int32, annotations map[string]string) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Annotations: annotations},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32ptr(replicas),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name: "app",
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse("250m"),
									corev1.ResourceMemory: resource.MustParse("128Mi"),
								},
							},
						},
					},
				},
			},
		},
	}
}

func newStatefulSet(ns, name string, replicas int32, annotations map[string]string) *appsv1.StatefulSet {
	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns, Annotations: annotations},
		Spec: appsv1.StatefulSetSpec{
			Replicas: int32ptr(replicas),
			Template: corev1.PodTemplateSpec{
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name: "app",
							Resources: corev1.ResourceRequirements{
								Requests: corev1.ResourceList{
									corev1.ResourceCPU:    resource.MustParse("500m"),
									corev1.ResourceMemory: resource.MustParse("256Mi"),
								},
							},
						},
					},
				},
			},
		},
	}
}

func newTestDriver(client *fake.Clientset) *kubeDriver {
	return &kubeDriver{
		client:     client,
		logger:     zerolog.Nop(),
		protected:  map[string]bool{"kube-system": true},
		warnedOnce: make(map[string]bool),
	}
}

func TestScaleDownSetsAnnotationAndZeroesReplicas(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment("dev", "api", 3, nil))
	d := newTestDriver(client)

	err := d.ScaleDown(context.Background(), []string{"dev"})
	require.NoError(t, err)

	dep, err := client.AppsV1().Deployments("dev").Get(context.Background(), "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), *dep.Spec.Replicas)
	assert.Equal(t, "3", dep.Annotations[AnnotationReplicas])
}

func TestScaleDownIsNoopWhenAlreadyZero(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment("dev", "api", 0, nil))
	d := newTestDriver(client)

	err := d.ScaleDown(context.Background(), []string{"dev"})
	require.NoError(t, err)

	dep, err := client.AppsV1().Deployments("dev").Get(context.Background(), "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), *dep.Spec.Replicas)
	_, hasAnnotation := dep.Annotations[AnnotationReplicas]
	assert.False(t, hasAnnotation)
}

func TestScaleDownRejectsProtectedNamespace(t *testing.T) {
	client := fake.NewSimpleClientset()
	d := newTestDriver(client)

	err := d.ScaleDown(context.Background(), []string{"kube-system"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtectedNamespace)
}

func TestScaleUpRestoresAnnotatedReplicas(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment("dev", "api", 0, map[string]string{AnnotationReplicas: "3"}))
	d := newTestDriver(client)

	err := d.ScaleUp(context.Background(), []string{"dev"}, nil)
	require.NoError(t, err)

	dep, err := client.AppsV1().Deployments("dev").Get(context.Background(), "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), *dep.Spec.Replicas)
}

func TestScaleUpDefaultsToOneWhenAnnotationMissing(t *testing.T) {
	client := fake.NewSimpleClientset(newStatefulSet("dev", "db", 0, nil))
	d := newTestDriver(client)

	err := d.ScaleUp(context.Background(), []string{"dev"}, nil)
	require.NoError(t, err)

	sts, err := client.AppsV1().StatefulSets("dev").Get(context.Background(), "db", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *sts.Spec.Replicas)
}

func TestScaleUpIsNoopWhenAlreadyAboveZero(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment("dev", "api", 2, map[string]string{AnnotationReplicas: "5"}))
	d := newTestDriver(client)

	err := d.ScaleUp(context.Background(), []string{"dev"}, nil)
	require.NoError(t, err)

	dep, err := client.AppsV1().Deployments("dev").Get(context.Background(), "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), *dep.Spec.Replicas)
}

func TestScaleUpBatchesPauseAfterBatchSize(t *testing.T) {
	client := fake.NewSimpleClientset(
		newDeployment("dev", "a", 0, map[string]string{AnnotationReplicas: "1"}),
		newDeployment("dev", "b", 0, map[string]string{AnnotationReplicas: "1"}),
		newDeployment("dev", "c", 0, map[string]string{AnnotationReplicas: "1"}),
	)
	d := newTestDriver(client)

	batch := &config.BatchPolicy{Size: 1, Timeout: 10 * time.Millisecond}
	start := time.Now()
	err := d.ScaleUp(context.Background(), []string{"dev"}, batch)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestScaleDownThenScaleUpIsIdentity(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment("dev", "api", 4, nil))
	d := newTestDriver(client)
	ctx := context.Background()

	require.NoError(t, d.ScaleDown(ctx, []string{"dev"}))
	require.NoError(t, d.ScaleUp(ctx, []string{"dev"}, nil))

	dep, err := client.AppsV1().Deployments("dev").Get(ctx, "api", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(4), *dep.Spec.Replicas)
}

func TestGetStateSumsReplicasAndResources(t *testing.T) {
	client := fake.NewSimpleClientset(
		newDeployment("dev", "api", 2, nil),
		newStatefulSet("dev", "db", 1, nil),
	)
	d := newTestDriver(client)

	states, err := d.GetState(context.Background(), []string{"dev"})
	require.NoError(t, err)
	require.Contains(t, states, "dev")

	state := states["dev"]
	assert.Equal(t, 3, state.Pods)
	assert.True(t, state.IsUp())
	assert.Equal(t, int64(1000), state.CPU.MilliValue()) // 2*250m + 1*500m
}

func TestGetStateIsNotBlockedByProtectedList(t *testing.T) {
	client := fake.NewSimpleClientset(newDeployment("kube-system", "coredns", 2, nil))
	d := newTestDriver(client)

	states, err := d.GetState(context.Background(), []string{"kube-system"})
	require.NoError(t, err)
	assert.Equal(t, 2, states["kube-system"].Pods)
}
