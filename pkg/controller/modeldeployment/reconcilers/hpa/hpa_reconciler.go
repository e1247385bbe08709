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

package hpa

import (
	"context"

	"github.com/pkg/errors"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	"k8s.io/apimachinery/pkg/api/equality"
	apierr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	mlv1 "github.com/ml-platform/ml-operator/pkg/apis/ml/v1"
	"github.com/ml-platform/ml-operator/pkg/constants"
	"github.com/ml-platform/ml-operator/pkg/controller/modeldeployment/reconcilers/deployment"
)

var log = logf.Log.WithName("HPAReconciler")

// HPAReconciler reconciles the optional HorizontalPodAutoscaler bound to the
// inference deployment. When autoscaling is disabled the desired HPA is nil
// and a leftover HPA from a previous spec is deleted.
type HPAReconciler struct {
	client client.Client
	scheme *runtime.Scheme
	HPA    *autoscalingv2.HorizontalPodAutoscaler
	key    types.NamespacedName
}

func NewHPAReconciler(client client.Client,
	scheme *runtime.Scheme,
	md *mlv1.ModelDeployment,
) *HPAReconciler {
	return &HPAReconciler{
		client: client,
		scheme: scheme,
		HPA:    createHPA(md),
		key: types.NamespacedName{
			Namespace: md.Namespace,
			Name:      constants.InferenceHPAName(md.Name),
		},
	}
}

// createHPA compiles the desired autoscaler, or nil when autoscaling is off.
func createHPA(md *mlv1.ModelDeployment) *autoscalingv2.HorizontalPodAutoscaler {
	as := md.Spec.Autoscaling
	if as == nil || !as.Enabled {
		return nil
	}

	minReplicas := constants.DefaultMinReplicas
	if as.MinReplicas != nil {
		minReplicas = *as.MinReplicas
	}
	maxReplicas := constants.DefaultMaxReplicas
	if as.MaxReplicas != 0 {
		maxReplicas = as.MaxReplicas
	}
	utilization := constants.DefaultCPUUtilization
	if as.TargetCPUUtilizationPercentage != nil {
		utilization = *as.TargetCPUUtilizationPercentage
	}

	return &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: metav1.ObjectMeta{
			Name:      constants.InferenceHPAName(md.Name),
			Namespace: md.Namespace,
			Labels:    deployment.ChildLabels(md),
		},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				APIVersion: "apps/v1",
				Kind:       "Deployment",
				Name:       constants.InferenceDeploymentName(md.Name),
			},
			MinReplicas: ptr.To(minReplicas),
			MaxReplicas: maxReplicas,
			Metrics: []autoscalingv2.MetricSpec{
				{
					Type: autoscalingv2.ResourceMetricSourceType,
					Resource: &autoscalingv2.ResourceMetricSource{
						Name: "cpu",
						Target: autoscalingv2.MetricTarget{
							Type:               autoscalingv2.UtilizationMetricType,
							AverageUtilization: ptr.To(utilization),
						},
					},
				},
			},
		},
	}
}

// checkHPAExist checks if the autoscaler exists and whether it matches the
// desired state. A nil desired HPA with an existing object yields Delete.
func (r *HPAReconciler) checkHPAExist(ctx context.Context) (constants.CheckResultType, *autoscalingv2.HorizontalPodAutoscaler, error) {
	existingHPA := &autoscalingv2.HorizontalPodAutoscaler{}
	err := r.client.Get(ctx, r.key, existingHPA)
	if err != nil {
		if apierr.IsNotFound(err) {
			if r.HPA == nil {
				return constants.CheckResultExisted, nil, nil
			}
			return constants.CheckResultCreate, nil, nil
		}
		return constants.CheckResultUnknown, nil, err
	}

	if r.HPA == nil {
		return constants.CheckResultDelete, existingHPA, nil
	}
	if semanticHPAEquals(r.HPA, existingHPA) {
		return constants.CheckResultExisted, existingHPA, nil
	}
	return constants.CheckResultUpdate, existingHPA, nil
}

func semanticHPAEquals(desired, existing *autoscalingv2.HorizontalPodAutoscaler) bool {
	return equality.Semantic.DeepEqual(desired.Spec.ScaleTargetRef, existing.Spec.ScaleTargetRef) &&
		equality.Semantic.DeepEqual(desired.Spec.MinReplicas, existing.Spec.MinReplicas) &&
		desired.Spec.MaxReplicas == existing.Spec.MaxReplicas &&
		equality.Semantic.DeepEqual(desired.Spec.Metrics, existing.Spec.Metrics)
}

// Reconcile converges the autoscaler to the desired state.
func (r *HPAReconciler) Reconcile(ctx context.Context) error {
	checkResult, existingHPA, err := r.checkHPAExist(ctx)
	if err != nil {
		return err
	}
	log.Info("hpa reconcile", "checkResult", checkResult, "name", r.key.Name)

	switch checkResult {
	case constants.CheckResultCreate:
		if err := r.client.Create(ctx, r.HPA); err != nil {
			return errors.Wrapf(err, "fails to create hpa %s", r.HPA.Name)
		}
	case constants.CheckResultUpdate:
		updated := existingHPA.DeepCopy()
		updated.Labels = r.HPA.Labels
		updated.Spec = r.HPA.Spec
		if err := r.client.Update(ctx, updated); err != nil {
			return errors.Wrapf(err, "fails to update hpa %s", updated.Name)
		}
	case constants.CheckResultDelete:
		if err := r.client.Delete(ctx, existingHPA); err != nil && !apierr.IsNotFound(err) {
			return errors.Wrapf(err, "fails to delete hpa %s", existingHPA.Name)
		}
	}
	return nil
}

// SetControllerReferences is a no-op when autoscaling is disabled.
func (r *HPAReconciler) SetControllerReferences(owner metav1.Object, scheme *runtime.Scheme) error {
	if r.HPA == nil {
		return nil
	}
	return controllerutil.SetControllerReference(owner, r.HPA, scheme)
}
