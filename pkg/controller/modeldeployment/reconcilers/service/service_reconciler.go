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

package service

import (
	"context"

	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	mlv1 "github.com/ml-platform/ml-operator/pkg/apis/ml/v1"
	"github.com/ml-platform/ml-operator/pkg/constants"
	"github.com/ml-platform/ml-operator/pkg/controller/modeldeployment/reconcilers/deployment"
)

var log = logf.Log.WithName("ServiceReconciler")

// ServiceReconciler reconciles the ClusterIP service in front of the
// inference deployment
type ServiceReconciler struct {
	client  client.Client
	scheme  *runtime.Scheme
	Service *corev1.Service
}

func NewServiceReconciler(client client.Client,
	scheme *runtime.Scheme,
	md *mlv1.ModelDeployment,
) *ServiceReconciler {
	return &ServiceReconciler{
		client:  client,
		scheme:  scheme,
		Service: createService(md),
	}
}

// createService compiles the desired service. The selector targets the pods of
// the inference deployment through the shared app label.
func createService(md *mlv1.ModelDeployment) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      constants.InferenceServiceName(md.Name),
			Namespace: md.Namespace,
			Labels:    deployment.ChildLabels(md),
		},
		Spec: corev1.ServiceSpec{
			Type: corev1.ServiceTypeClusterIP,
			Selector: map[string]string{
				constants.AppLabel: constants.InferenceDeploymentName(md.Name),
			},
			Ports: []corev1.ServicePort{
				{
					Name:       constants.InferenceServerPortName,
					Port:       constants.InferenceServerPort,
					TargetPort: intstr.FromInt32(constants.InferenceServerPort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

// checkServiceExist checks if the service exists and whether it matches the
// desired state.
func (r *ServiceReconciler) checkServiceExist(ctx context.Context) (constants.CheckResultType, *corev1.Service, error) {
	existingService := &corev1.Service{}
	err := r.client.Get(ctx, types.NamespacedName{
		Namespace: r.Service.Namespace,
		Name:      r.Service.Name,
	}, existingService)
	if err != nil {
		if apierr.IsNotFound(err) {
			return constants.CheckResultCreate, nil, nil
		}
		return constants.CheckResultUnknown, nil, err
	}

	if semanticServiceEquals(r.Service, existingService) {
		return constants.CheckResultExisted, existingService, nil
	}
	return constants.CheckResultUpdate, existingService, nil
}

func semanticServiceEquals(desired, existing *corev1.Service) bool {
	return equality.Semantic.DeepEqual(desired.Spec.Ports, existing.Spec.Ports) &&
		equality.Semantic.DeepEqual(desired.Spec.Selector, existing.Spec.Selector) &&
		equality.Semantic.DeepEqual(desired.Labels, existing.Labels)
}

// Reconcile converges the service to the desired state.
func (r *ServiceReconciler) Reconcile(ctx context.Context) (*corev1.Service, error) {
	checkResult, existingService, err := r.checkServiceExist(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("service reconcile", "checkResult", checkResult, "name", r.Service.Name)

	switch checkResult {
	case constants.CheckResultCreate:
		if err := r.client.Create(ctx, r.Service); err != nil {
			return nil, errors.Wrapf(err, "fails to create service %s", r.Service.Name)
		}
		return r.Service, nil
	case constants.CheckResultUpdate:
		// The cluster IP is allocated by the API server and immutable, so the
		// update is applied onto the existing object rather than a rebuild.
		updated := existingService.DeepCopy()
		updated.Labels = r.Service.Labels
		updated.Spec.Ports = r.Service.Spec.Ports
		updated.Spec.Selector = r.Service.Spec.Selector
		if err := r.client.Update(ctx, updated); err != nil {
			return nil, errors.Wrapf(err, "fails to update service %s", r.Service.Name)
		}
		return updated, nil
	default:
		return existingService, nil
	}
}

func (r *ServiceReconciler) SetControllerReferences(owner metav1.Object, scheme *runtime.Scheme) error {
	return controllerutil.SetControllerReference(owner, r.Service, scheme)
}
