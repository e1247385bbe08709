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

package deployment

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierr "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	mlv1 "github.com/ml-platform/ml-operator/pkg/apis/ml/v1"
	"github.com/ml-platform/ml-operator/pkg/config"
	"github.com/ml-platform/ml-operator/pkg/constants"
)

var log = logf.Log.WithName("DeploymentReconciler")

// DeploymentReconciler reconciles the inference workload deployment
type DeploymentReconciler struct {
	client             client.Client
	scheme             *runtime.Scheme
	Deployment         *appsv1.Deployment
	autoscalingEnabled bool
}

func NewDeploymentReconciler(client client.Client,
	scheme *runtime.Scheme,
	md *mlv1.ModelDeployment,
	cfg *config.OperatorConfig,
) *DeploymentReconciler {
	return &DeploymentReconciler{
		client:             client,
		scheme:             scheme,
		Deployment:         createDeployment(md, cfg),
		autoscalingEnabled: autoscalingEnabled(md),
	}
}

func autoscalingEnabled(md *mlv1.ModelDeployment) bool {
	return md.Spec.Autoscaling != nil && md.Spec.Autoscaling.Enabled
}

// ChildLabels returns the labels shared by every child resource of a
// ModelDeployment. The model name and environment labels allow selector based
// discovery by other tooling.
func ChildLabels(md *mlv1.ModelDeployment) map[string]string {
	return map[string]string{
		constants.AppLabel:          constants.InferenceDeploymentName(md.Name),
		constants.ComponentLabel:    constants.InferenceServerComponent,
		constants.ModelNameLabel:    md.Spec.ModelName,
		constants.ModelVersionLabel: strconv.Itoa(int(md.Spec.ModelVersion)),
		constants.EnvironmentLabel:  string(md.Spec.Environment),
		constants.ManagedByLabel:    constants.MLOperatorName,
	}
}

// createDeployment compiles the ModelDeployment spec into the desired
// inference deployment. It is a pure function of its inputs: the same spec
// always yields the same object, which keeps the semantic diff below stable
// across repeated reconciliations.
func createDeployment(md *mlv1.ModelDeployment, cfg *config.OperatorConfig) *appsv1.Deployment {
	deploymentName := constants.InferenceDeploymentName(md.Name)
	labels := ChildLabels(md)

	replicas := constants.DefaultReplicas
	if md.Spec.Replicas != nil {
		replicas = *md.Spec.Replicas
	}
	// With autoscaling enabled the HPA owns the replica count; the compiled
	// deployment only seeds the initial value.
	if autoscalingEnabled(md) {
		replicas = constants.DefaultMinReplicas
		if md.Spec.Autoscaling.MinReplicas != nil {
			replicas = *md.Spec.Autoscaling.MinReplicas
		}
	}

	container := corev1.Container{
		Name:  constants.InferenceServerContainerName,
		Image: cfg.InferenceServerImage,
		Ports: []corev1.ContainerPort{
			{
				Name:          constants.InferenceServerPortName,
				ContainerPort: constants.InferenceServerPort,
				Protocol:      corev1.ProtocolTCP,
			},
		},
		// The inference server pulls the model artifact from the registry at
		// startup, so the model identity travels as environment.
		Env: []corev1.EnvVar{
			{Name: constants.ModelNameEnvVarKey, Value: md.Spec.ModelName},
			{Name: constants.ModelVersionEnvVarKey, Value: strconv.Itoa(int(md.Spec.ModelVersion))},
			{Name: constants.ModelRegistryURLEnvVarKey, Value: cfg.ModelRegistryURL},
			{Name: constants.InferencePortEnvVarKey, Value: strconv.Itoa(constants.InferenceServerPort)},
			{Name: constants.EnvironmentEnvVarKey, Value: string(md.Spec.Environment)},
		},
		Resources: md.Spec.Resources,
		LivenessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: constants.InferenceServerHealthPath,
					Port: intstr.FromInt32(constants.InferenceServerPort),
				},
			},
			InitialDelaySeconds: 30,
			PeriodSeconds:       10,
			TimeoutSeconds:      5,
		},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: constants.InferenceServerHealthPath,
					Port: intstr.FromInt32(constants.InferenceServerPort),
				},
			},
			InitialDelaySeconds: 10,
			PeriodSeconds:       5,
			TimeoutSeconds:      3,
		},
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      deploymentName,
			Namespace: md.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{
					constants.AppLabel: deploymentName,
				},
			},
			ProgressDeadlineSeconds: ptr.To(cfg.ProgressDeadlineSeconds),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
		},
	}
}

// checkDeploymentExist checks if the deployment exists and whether it matches
// the desired state.
func (r *DeploymentReconciler) checkDeploymentExist(ctx context.Context) (constants.CheckResultType, *appsv1.Deployment, error) {
	existingDeployment := &appsv1.Deployment{}
	err := r.client.Get(ctx, types.NamespacedName{
		Namespace: r.Deployment.Namespace,
		Name:      r.Deployment.Name,
	}, existingDeployment)
	if err != nil {
		if apierr.IsNotFound(err) {
			return constants.CheckResultCreate, nil, nil
		}
		return constants.CheckResultUnknown, nil, err
	}

	if r.semanticDeploymentEquals(r.Deployment, existingDeployment) {
		return constants.CheckResultExisted, existingDeployment, nil
	}
	return constants.CheckResultUpdate, existingDeployment, nil
}

// semanticDeploymentEquals compares only the fields the compiler owns, so
// server-populated defaults never register as drift. While autoscaling is
// enabled the replica count belongs to the HPA and is excluded from the diff.
func (r *DeploymentReconciler) semanticDeploymentEquals(desired, existing *appsv1.Deployment) bool {
	if !r.autoscalingEnabled && !equality.Semantic.DeepEqual(desired.Spec.Replicas, existing.Spec.Replicas) {
		return false
	}
	if !equality.Semantic.DeepEqual(desired.Labels, existing.Labels) {
		return false
	}
	if !equality.Semantic.DeepEqual(desired.Spec.Template.Labels, existing.Spec.Template.Labels) {
		return false
	}
	if len(existing.Spec.Template.Spec.Containers) != 1 {
		return false
	}
	desiredContainer := desired.Spec.Template.Spec.Containers[0]
	existingContainer := existing.Spec.Template.Spec.Containers[0]
	return desiredContainer.Image == existingContainer.Image &&
		equality.Semantic.DeepEqual(desiredContainer.Env, existingContainer.Env) &&
		equality.Semantic.DeepEqual(desiredContainer.Resources, existingContainer.Resources)
}

// Reconcile converges the inference deployment to the desired state and
// returns the observed deployment.
func (r *DeploymentReconciler) Reconcile(ctx context.Context) (*appsv1.Deployment, error) {
	checkResult, existingDeployment, err := r.checkDeploymentExist(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("deployment reconcile", "checkResult", checkResult, "name", r.Deployment.Name)

	switch checkResult {
	case constants.CheckResultCreate:
		if err := r.client.Create(ctx, r.Deployment); err != nil {
			return nil, errors.Wrapf(err, "fails to create deployment %s", r.Deployment.Name)
		}
		return r.Deployment, nil
	case constants.CheckResultUpdate:
		updated := existingDeployment.DeepCopy()
		updated.Labels = r.Deployment.Labels
		updated.Spec.Template = r.Deployment.Spec.Template
		updated.Spec.ProgressDeadlineSeconds = r.Deployment.Spec.ProgressDeadlineSeconds
		if !r.autoscalingEnabled {
			updated.Spec.Replicas = r.Deployment.Spec.Replicas
		}
		if err := r.client.Update(ctx, updated); err != nil {
			return nil, errors.Wrapf(err, "fails to update deployment %s", r.Deployment.Name)
		}
		return updated, nil
	default:
		return existingDeployment, nil
	}
}

func (r *DeploymentReconciler) SetControllerReferences(owner metav1.Object, scheme *runtime.Scheme) error {
	return controllerutil.SetControllerReference(owner, r.Deployment, scheme)
}
