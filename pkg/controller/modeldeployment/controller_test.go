/*
Copyright 2025 The ML Platform Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package modeldeployment

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	apierr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	mlv1 "github.com/ml-platform/ml-operator/pkg/apis/ml/v1"
	"github.com/ml-platform/ml-operator/pkg/config"
	"github.com/ml-platform/ml-operator/pkg/constants"
)

func testScheme(t *testing.T) *runtime.Scheme {
	s := runtime.NewScheme()
	require.NoError(t, mlv1.AddToScheme(s))
	require.NoError(t, appsv1.AddToScheme(s))
	require.NoError(t, corev1.AddToScheme(s))
	require.NoError(t, autoscalingv2.AddToScheme(s))
	return s
}

func testConfig() *config.OperatorConfig {
	return &config.OperatorConfig{
		InferenceServerImage:    constants.DefaultInferenceServerImage,
		ModelRegistryURL:        constants.DefaultModelRegistryURL,
		MaxConcurrentReconciles: 1,
		ProgressDeadlineSeconds: constants.DefaultProgressDeadlineSeconds,
		FailedRequeueInterval:   5 * time.Minute,
	}
}

func makeTestModelDeployment() *mlv1.ModelDeployment {
	md := &mlv1.ModelDeployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "sentiment",
			Namespace: "default",
		},
		Spec: mlv1.ModelDeploymentSpec{
			ModelName:    "sentiment-analyzer",
			ModelVersion: 3,
			Replicas:     ptr.To(int32(2)),
			Environment:  mlv1.EnvironmentStaging,
		},
	}
	md.Default()
	return md
}

func newTestReconciler(c client.Client, recorder *record.FakeRecorder) *ModelDeploymentReconciler {
	return &ModelDeploymentReconciler{
		Client:   c,
		Log:      logf.Log.WithName("ModelDeploymentController"),
		Scheme:   c.Scheme(),
		Recorder: recorder,
		Config:   testConfig(),
	}
}

func newTestClientBuilder(t *testing.T, objs ...client.Object) *fake.ClientBuilder {
	return fake.NewClientBuilder().
		WithScheme(testScheme(t)).
		WithStatusSubresource(&mlv1.ModelDeployment{}).
		WithObjects(objs...)
}

func requestFor(md *mlv1.ModelDeployment) ctrl.Request {
	return ctrl.Request{NamespacedName: types.NamespacedName{Namespace: md.Namespace, Name: md.Name}}
}

// markReplicasReady simulates the deployment controller observing the rollout
// and bringing the given number of replicas up.
func markReplicasReady(t *testing.T, c client.Client, ready int32) {
	d := &appsv1.Deployment{}
	key := types.NamespacedName{Namespace: "default", Name: "sentiment-inference"}
	require.NoError(t, c.Get(context.Background(), key, d))
	d.Status.ReadyReplicas = ready
	d.Status.ObservedGeneration = 100
	require.NoError(t, c.Status().Update(context.Background(), d))
}

func TestReconcileCreatesChildResources(t *testing.T) {
	md := makeTestModelDeployment()
	c := newTestClientBuilder(t, md).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	result, err := r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)
	assert.Equal(t, ctrl.Result{}, result)

	d := &appsv1.Deployment{}
	require.NoError(t, c.Get(context.Background(),
		types.NamespacedName{Namespace: "default", Name: "sentiment-inference"}, d))
	assert.Equal(t, int32(2), *d.Spec.Replicas)

	svc := &corev1.Service{}
	require.NoError(t, c.Get(context.Background(),
		types.NamespacedName{Namespace: "default", Name: "sentiment-service"}, svc))

	// No autoscaling requested, no HPA.
	err = c.Get(context.Background(),
		types.NamespacedName{Namespace: "default", Name: "sentiment-hpa"},
		&autoscalingv2.HorizontalPodAutoscaler{})
	assert.True(t, apierr.IsNotFound(err))

	observed := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), requestFor(md).NamespacedName, observed))
	assert.Equal(t, mlv1.ModelDeploymentPending, observed.Status.Phase)
	assert.Equal(t, "sentiment-inference", observed.Status.DeploymentName)
	assert.Equal(t, "sentiment-service", observed.Status.ServiceName)
	assert.False(t, observed.Status.LastUpdated.IsZero())

	cond := observed.Status.GetCondition(mlv1.ConditionReady)
	require.NotNil(t, cond)
	assert.Equal(t, corev1.ConditionFalse, cond.Status)
	assert.Equal(t, ReplicasNotReady, cond.Reason)
}

func TestReconcileSetsOwnerReferences(t *testing.T) {
	md := makeTestModelDeployment()
	c := newTestClientBuilder(t, md).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	_, err := r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	for name, obj := range map[string]client.Object{
		"sentiment-inference": &appsv1.Deployment{},
		"sentiment-service":   &corev1.Service{},
	} {
		require.NoError(t, c.Get(context.Background(),
			types.NamespacedName{Namespace: "default", Name: name}, obj))
		refs := obj.GetOwnerReferences()
		require.Len(t, refs, 1, "child %s should have one owner", name)
		assert.Equal(t, "ModelDeployment", refs[0].Kind)
		assert.Equal(t, "sentiment", refs[0].Name)
		assert.True(t, *refs[0].Controller)
	}
}

func TestReconcileMissingObjectIsNoop(t *testing.T) {
	c := newTestClientBuilder(t).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	result, err := r.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Namespace: "default", Name: "gone"},
	})
	require.NoError(t, err)
	assert.Equal(t, ctrl.Result{}, result)
}

func TestReconcileConvergesToRunning(t *testing.T) {
	md := makeTestModelDeployment()
	c := newTestClientBuilder(t, md).Build()
	recorder := record.NewFakeRecorder(20)
	r := newTestReconciler(c, recorder)

	_, err := r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	markReplicasReady(t, c, 2)
	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	observed := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), requestFor(md).NamespacedName, observed))
	assert.Equal(t, mlv1.ModelDeploymentRunning, observed.Status.Phase)
	assert.Equal(t, int32(2), observed.Status.ReadyReplicas)
	assert.True(t, observed.Status.IsReady())

	readyEventSeen := false
	for len(recorder.Events) > 0 {
		if event := <-recorder.Events; strings.Contains(event, ModelDeploymentReady) {
			readyEventSeen = true
		}
	}
	assert.True(t, readyEventSeen, "a Ready event should have been recorded")
}

func TestReconcileIsIdempotent(t *testing.T) {
	md := makeTestModelDeployment()
	c := newTestClientBuilder(t, md).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	_, err := r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)
	markReplicasReady(t, c, 2)
	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	key := requestFor(md).NamespacedName
	before := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), key, before))
	beforeDeployment := &appsv1.Deployment{}
	require.NoError(t, c.Get(context.Background(),
		types.NamespacedName{Namespace: "default", Name: "sentiment-inference"}, beforeDeployment))

	// A converged world must produce zero writes.
	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	after := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), key, after))
	assert.Equal(t, before.ResourceVersion, after.ResourceVersion)

	afterDeployment := &appsv1.Deployment{}
	require.NoError(t, c.Get(context.Background(),
		types.NamespacedName{Namespace: "default", Name: "sentiment-inference"}, afterDeployment))
	assert.Equal(t, beforeDeployment.ResourceVersion, afterDeployment.ResourceVersion)
	assert.Len(t, after.Status.Conditions, len(before.Status.Conditions))
}

func TestReconcileScaleUp(t *testing.T) {
	md := makeTestModelDeployment()
	c := newTestClientBuilder(t, md).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	_, err := r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)
	markReplicasReady(t, c, 2)
	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	// Scale 2 -> 5.
	key := requestFor(md).NamespacedName
	current := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), key, current))
	current.Spec.Replicas = ptr.To(int32(5))
	require.NoError(t, c.Update(context.Background(), current))

	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	observed := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), key, observed))
	assert.Equal(t, mlv1.ModelDeploymentUpdating, observed.Status.Phase)
	assert.Equal(t, int32(5), observed.Status.Replicas)

	markReplicasReady(t, c, 5)
	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	require.NoError(t, c.Get(context.Background(), key, observed))
	assert.Equal(t, mlv1.ModelDeploymentRunning, observed.Status.Phase)
	assert.Equal(t, int32(5), observed.Status.ReadyReplicas)
}

func TestReconcileAutoscalingToggle(t *testing.T) {
	md := makeTestModelDeployment()
	md.Spec.Autoscaling = &mlv1.AutoscalingSpec{Enabled: true}
	md.Default()
	c := newTestClientBuilder(t, md).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	_, err := r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	hpaKey := types.NamespacedName{Namespace: "default", Name: "sentiment-hpa"}
	hpa := &autoscalingv2.HorizontalPodAutoscaler{}
	require.NoError(t, c.Get(context.Background(), hpaKey, hpa))
	assert.Equal(t, "sentiment-inference", hpa.Spec.ScaleTargetRef.Name)

	// Turning autoscaling off removes the HPA on the next pass.
	key := requestFor(md).NamespacedName
	current := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), key, current))
	current.Spec.Autoscaling.Enabled = false
	require.NoError(t, c.Update(context.Background(), current))

	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	err = c.Get(context.Background(), hpaKey, &autoscalingv2.HorizontalPodAutoscaler{})
	assert.True(t, apierr.IsNotFound(err))
}

func TestReconcileWorkloadFailure(t *testing.T) {
	md := makeTestModelDeployment()
	c := newTestClientBuilder(t, md).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	_, err := r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	// Rollout stalls past its progress deadline.
	d := &appsv1.Deployment{}
	dKey := types.NamespacedName{Namespace: "default", Name: "sentiment-inference"}
	require.NoError(t, c.Get(context.Background(), dKey, d))
	d.Status.Conditions = []appsv1.DeploymentCondition{{
		Type:   appsv1.DeploymentProgressing,
		Status: corev1.ConditionFalse,
		Reason: "ProgressDeadlineExceeded",
	}}
	require.NoError(t, c.Status().Update(context.Background(), d))

	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	observed := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), requestFor(md).NamespacedName, observed))
	assert.Equal(t, mlv1.ModelDeploymentFailed, observed.Status.Phase)
	cond := observed.Status.GetCondition(mlv1.ConditionReady)
	require.NotNil(t, cond)
	assert.Equal(t, corev1.ConditionFalse, cond.Status)
	assert.Equal(t, WorkloadFailed, cond.Reason)
}

func TestReconcilePermanentErrorParksInFailed(t *testing.T) {
	md := makeTestModelDeployment()
	quotaErr := apierr.NewForbidden(
		schema.GroupResource{Group: "apps", Resource: "deployments"},
		"sentiment-inference", assert.AnError)
	c := newTestClientBuilder(t, md).WithInterceptorFuncs(interceptor.Funcs{
		Create: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			if _, ok := obj.(*appsv1.Deployment); ok {
				return quotaErr
			}
			return cl.Create(ctx, obj, opts...)
		},
	}).Build()
	recorder := record.NewFakeRecorder(20)
	r := newTestReconciler(c, recorder)

	result, err := r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err, "a permanent error must not be retried through the workqueue")
	assert.Equal(t, testConfig().FailedRequeueInterval, result.RequeueAfter)

	observed := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), requestFor(md).NamespacedName, observed))
	assert.Equal(t, mlv1.ModelDeploymentFailed, observed.Status.Phase)
	cond := observed.Status.GetCondition(mlv1.ConditionReady)
	require.NotNil(t, cond)
	assert.Equal(t, PermanentError, cond.Reason)

	// Rerunning on the unchanged world keeps the condition log stable.
	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)
	rerun := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), requestFor(md).NamespacedName, rerun))
	assert.Len(t, rerun.Status.Conditions, len(observed.Status.Conditions))
}

func TestReconcileTransientErrorIsReturned(t *testing.T) {
	md := makeTestModelDeployment()
	c := newTestClientBuilder(t, md).WithInterceptorFuncs(interceptor.Funcs{
		Create: func(ctx context.Context, cl client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
			if _, ok := obj.(*appsv1.Deployment); ok {
				return apierr.NewServerTimeout(
					schema.GroupResource{Group: "apps", Resource: "deployments"}, "create", 1)
			}
			return cl.Create(ctx, obj, opts...)
		},
	}).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	_, err := r.Reconcile(context.Background(), requestFor(md))
	require.Error(t, err, "a transient error goes back to the workqueue for backoff")

	// The object is not parked in Failed for a retryable problem.
	observed := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), requestFor(md).NamespacedName, observed))
	assert.NotEqual(t, mlv1.ModelDeploymentFailed, observed.Status.Phase)
}

func TestReconcileStatusConflictIsRetriable(t *testing.T) {
	md := makeTestModelDeployment()
	conflictsLeft := 1
	c := newTestClientBuilder(t, md).WithInterceptorFuncs(interceptor.Funcs{
		SubResourceUpdate: func(ctx context.Context, cl client.Client, subResourceName string, obj client.Object, opts ...client.SubResourceUpdateOption) error {
			if _, ok := obj.(*mlv1.ModelDeployment); ok && conflictsLeft > 0 {
				conflictsLeft--
				return apierr.NewConflict(
					schema.GroupResource{Group: "ml.example.com", Resource: "modeldeployments"},
					obj.GetName(), assert.AnError)
			}
			return cl.SubResource(subResourceName).Update(ctx, obj, opts...)
		},
	}).Build()
	r := newTestReconciler(c, record.NewFakeRecorder(20))

	_, err := r.Reconcile(context.Background(), requestFor(md))
	require.Error(t, err)

	// The workqueue redelivers; the retry succeeds without duplicating the
	// condition transition.
	_, err = r.Reconcile(context.Background(), requestFor(md))
	require.NoError(t, err)

	observed := &mlv1.ModelDeployment{}
	require.NoError(t, c.Get(context.Background(), requestFor(md).NamespacedName, observed))
	assert.Equal(t, mlv1.ModelDeploymentPending, observed.Status.Phase)
	assert.Len(t, observed.Status.Conditions, 1)
}
