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

package raw

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	mlv1 "github.com/ml-platform/ml-operator/pkg/apis/ml/v1"
	"github.com/ml-platform/ml-operator/pkg/config"
	"github.com/ml-platform/ml-operator/pkg/controller/modeldeployment/reconcilers/deployment"
	"github.com/ml-platform/ml-operator/pkg/controller/modeldeployment/reconcilers/hpa"
	"github.com/ml-platform/ml-operator/pkg/controller/modeldeployment/reconcilers/service"
)

// RawKubeReconciler reconciles the full set of native child resources of a
// ModelDeployment. The order is fixed: deployment, then service, then
// autoscaler, so the scale target always exists before the HPA binds to it.
type RawKubeReconciler struct {
	Deployment *deployment.DeploymentReconciler
	Service    *service.ServiceReconciler
	HPA        *hpa.HPAReconciler
}

// NewRawKubeReconciler compiles the desired child resources for md.
func NewRawKubeReconciler(client client.Client,
	scheme *runtime.Scheme,
	md *mlv1.ModelDeployment,
	cfg *config.OperatorConfig,
) *RawKubeReconciler {
	return &RawKubeReconciler{
		Deployment: deployment.NewDeploymentReconciler(client, scheme, md, cfg),
		Service:    service.NewServiceReconciler(client, scheme, md),
		HPA:        hpa.NewHPAReconciler(client, scheme, md),
	}
}

// Reconcile converges all child resources and returns the observed deployment
// for status propagation.
func (r *RawKubeReconciler) Reconcile(ctx context.Context) (*appsv1.Deployment, error) {
	observedDeployment, err := r.Deployment.Reconcile(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := r.Service.Reconcile(ctx); err != nil {
		return nil, err
	}
	if err := r.HPA.Reconcile(ctx); err != nil {
		return nil, err
	}
	return observedDeployment, nil
}

// SetControllerReferences marks owner as the controller owner of every desired
// child so garbage collection and child watches work.
func (r *RawKubeReconciler) SetControllerReferences(owner metav1.Object, scheme *runtime.Scheme) error {
	if err := r.Deployment.SetControllerReferences(owner, scheme); err != nil {
		return err
	}
	if err := r.Service.SetControllerReferences(owner, scheme); err != nil {
		return err
	}
	return r.HPA.SetControllerReferences(owner, scheme)
}
