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

// Package modeldeployment reconciles ModelDeployment objects into their native
// child resources and keeps the status in sync with the observed cluster
// state. Reconciliation is level triggered: every pass recomputes the desired
// children from the spec alone and converges the cluster toward them, so a
// missed or coalesced event never changes the outcome.
package modeldeployment

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"

	mlv1 "github.com/ml-platform/ml-operator/pkg/apis/ml/v1"
	"github.com/ml-platform/ml-operator/pkg/config"
	"github.com/ml-platform/ml-operator/pkg/constants"
	"github.com/ml-platform/ml-operator/pkg/controller/modeldeployment/reconcilers/raw"
)

// Event reasons recorded on ModelDeployment objects.
const (
	InternalError           = "InternalError"
	PermanentError          = "PermanentError"
	ReplicasReady           = "ReplicasReady"
	ReplicasNotReady        = "ReplicasNotReady"
	WorkloadFailed          = "WorkloadFailed"
	ModelDeploymentReady    = "ModelDeploymentReady"
	ModelDeploymentNotReady = "ModelDeploymentNotReady"
)

// +kubebuilder:rbac:groups=ml.example.com,resources=modeldeployments,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=ml.example.com,resources=modeldeployments/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=ml.example.com,resources=modeldeployments/finalizers,verbs=get;update;patch
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=core,resources=services,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=autoscaling,resources=horizontalpodautoscalers,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=core,resources=events,verbs=get;list;watch;create;patch

// ModelDeploymentReconciler reconciles a ModelDeployment object
type ModelDeploymentReconciler struct {
	client.Client
	Log      logr.Logger
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder
	Config   *config.OperatorConfig
}

func (r *ModelDeploymentReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	md := &mlv1.ModelDeployment{}
	if err := r.Get(ctx, req.NamespacedName, md); err != nil {
		if apierr.IsNotFound(err) {
			// Child resources are garbage collected through owner references.
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	r.Log.Info("Reconciling ModelDeployment", "namespace", md.Namespace, "name", md.Name,
		"model", md.Spec.ModelName, "version", md.Spec.ModelVersion)

	reconciler := raw.NewRawKubeReconciler(r.Client, r.Scheme, md, r.Config)
	if err := reconciler.SetControllerReferences(md, r.Scheme); err != nil {
		return ctrl.Result{}, errors.Wrapf(err, "fails to set owner references for ModelDeployment %s", md.Name)
	}

	observedDeployment, err := reconciler.Reconcile(ctx)
	if err != nil {
		return r.handleReconcileError(ctx, md, err)
	}

	md.Status.PropagateDeploymentStatus(observedDeployment, constants.InferenceServiceName(md.Name))
	r.propagateReadyCondition(md)

	if err := r.updateStatus(ctx, md); err != nil {
		r.Recorder.Eventf(md, corev1.EventTypeWarning, InternalError, "%v", err)
		return ctrl.Result{}, err
	}
	return ctrl.Result{}, nil
}

// handleReconcileError splits child resource errors into permanent ones,
// which the workqueue cannot fix by retrying, and transient ones, which it
// can. Permanent errors park the object in Failed and re-check it on a slow
// interval; transient errors go back to the workqueue for capped exponential
// backoff.
func (r *ModelDeploymentReconciler) handleReconcileError(ctx context.Context, md *mlv1.ModelDeployment, err error) (ctrl.Result, error) {
	if !isPermanentError(err) {
		r.Recorder.Eventf(md, corev1.EventTypeWarning, InternalError, "%v", err)
		return ctrl.Result{}, errors.Wrapf(err, "fails to reconcile child resources for ModelDeployment %s", md.Name)
	}

	r.Log.Error(err, "Permanent reconcile error, not retrying",
		"namespace", md.Namespace, "name", md.Name)
	r.Recorder.Eventf(md, corev1.EventTypeWarning, PermanentError, "%v", err)
	md.Status.MarkFailed(PermanentError, err.Error())
	if statusErr := r.updateStatus(ctx, md); statusErr != nil {
		return ctrl.Result{}, statusErr
	}
	// A spec edit will requeue the object immediately; the interval only
	// covers out-of-band fixes such as a raised resource quota.
	return ctrl.Result{RequeueAfter: r.Config.FailedRequeueInterval}, nil
}

// isPermanentError reports whether the API server rejected a child write for a
// reason retrying cannot fix. Validation rejections and forbidden responses,
// which include exceeded resource quota, are permanent; everything else,
// conflicts, timeouts and transport errors included, is transient.
func isPermanentError(err error) bool {
	return apierr.IsInvalid(err) || apierr.IsForbidden(err) || apierr.IsBadRequest(err)
}

// propagateReadyCondition records the Ready transition implied by the phase.
func (r *ModelDeploymentReconciler) propagateReadyCondition(md *mlv1.ModelDeployment) {
	switch md.Status.Phase {
	case mlv1.ModelDeploymentRunning:
		md.Status.SetCondition(mlv1.ConditionReady, corev1.ConditionTrue, ReplicasReady,
			fmt.Sprintf("%d/%d replicas ready", md.Status.ReadyReplicas, md.Status.Replicas))
	case mlv1.ModelDeploymentFailed:
		md.Status.SetCondition(mlv1.ConditionReady, corev1.ConditionFalse, WorkloadFailed,
			"inference workload failed to make progress")
	default:
		md.Status.SetCondition(mlv1.ConditionReady, corev1.ConditionFalse, ReplicasNotReady,
			fmt.Sprintf("%d/%d replicas ready", md.Status.ReadyReplicas, md.Status.Replicas))
	}
}

// updateStatus writes the recomputed status through the status subresource.
// The write is skipped when nothing but the timestamp would change, which
// keeps steady-state reconciliations from generating API churn.
func (r *ModelDeploymentReconciler) updateStatus(ctx context.Context, desired *mlv1.ModelDeployment) error {
	existing := &mlv1.ModelDeployment{}
	namespacedName := client.ObjectKeyFromObject(desired)
	if err := r.Get(ctx, namespacedName, existing); err != nil {
		return err
	}
	wasReady := existing.Status.IsReady()

	if statusSemanticEquals(desired.Status, existing.Status) {
		return nil
	}

	desired.Status.LastUpdated = metav1.Now()
	if err := r.Status().Update(ctx, desired); err != nil {
		return errors.Wrapf(err, "fails to update status for ModelDeployment %s", desired.Name)
	}

	isReady := desired.Status.IsReady()
	if wasReady && !isReady {
		r.Recorder.Eventf(desired, corev1.EventTypeWarning, ModelDeploymentNotReady,
			"ModelDeployment [%s] is no longer Ready", desired.GetName())
	} else if !wasReady && isReady {
		r.Recorder.Eventf(desired, corev1.EventTypeNormal, ModelDeploymentReady,
			"ModelDeployment [%s] is Ready", desired.GetName())
	}
	return nil
}

// statusSemanticEquals compares two statuses ignoring the LastUpdated
// timestamp, which would otherwise make every comparison unequal.
func statusSemanticEquals(desired, existing mlv1.ModelDeploymentStatus) bool {
	desired.LastUpdated = metav1.Time{}
	existing.LastUpdated = metav1.Time{}
	return equality.Semantic.DeepEqual(desired, existing)
}

func (r *ModelDeploymentReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&mlv1.ModelDeployment{}).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&autoscalingv2.HorizontalPodAutoscaler{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: r.Config.MaxConcurrentReconciles}).
		Complete(r)
}
