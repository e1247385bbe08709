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

package v1

import (
	"context"
	"fmt"
	"regexp"

	"k8s.io/apimachinery/pkg/runtime"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	"github.com/ml-platform/ml-operator/pkg/constants"
)

const (
	// MdepNameFmt is the regular expression a ModelDeployment name must match
	MdepNameFmt string = "[a-z]([-a-z0-9]*[a-z0-9])?"

	// InvalidMdepNameFormatError defines the error message for an invalid ModelDeployment name
	InvalidMdepNameFormatError = "the ModelDeployment %q is invalid: a ModelDeployment name must consist of lower case alphanumeric characters or '-', and must start with an alphabetical character (regex used for validation is '%s')"
	// MissingModelNameError defines the error message for a missing model name
	MissingModelNameError = "the ModelDeployment %q is invalid: spec.modelName is required"
	// InvalidModelVersionError defines the error message for a non-positive model version
	InvalidModelVersionError = "the ModelDeployment %q is invalid: spec.modelVersion must be a positive integer"
	// ReplicasOutOfBoundsError defines the error message for an out-of-range replica count
	ReplicasOutOfBoundsError = "the ModelDeployment %q is invalid: spec.replicas must be within [%d, %d]"
	// InvalidEnvironmentError defines the error message for an unknown environment
	InvalidEnvironmentError = "the ModelDeployment %q is invalid: spec.environment must be one of development, staging, production"
	// AutoscalingBoundsError defines the error message for inverted autoscaling bounds
	AutoscalingBoundsError = "the ModelDeployment %q is invalid: spec.autoscaling.minReplicas cannot exceed spec.autoscaling.maxReplicas"
	// AutoscalingMaxReplicasError defines the error message for an out-of-range maxReplicas
	AutoscalingMaxReplicasError = "the ModelDeployment %q is invalid: spec.autoscaling.maxReplicas must be within [%d, %d]"
	// TargetUtilizationError defines the error message for an out-of-range CPU utilization target
	TargetUtilizationError = "the ModelDeployment %q is invalid: spec.autoscaling.targetCPUUtilizationPercentage must be within [%d, %d]"
)

var (
	// logger for the validation webhook.
	validatorLogger = logf.Log.WithName("modeldeployment-v1-validation-webhook")
	// MdepRegexp validates ModelDeployment names
	MdepRegexp = regexp.MustCompile("^" + MdepNameFmt + "$")
)

// ModelDeploymentValidator validates ModelDeployment objects at the API
// boundary so the reconciler only ever sees specs inside the schema bounds.
//
// +kubebuilder:object:generate=false
type ModelDeploymentValidator struct{}

// +kubebuilder:webhook:verbs=create;update,path=/validate-ml-example-com-v1-modeldeployment,mutating=false,failurePolicy=fail,groups=ml.example.com,resources=modeldeployments,versions=v1,name=modeldeployment.ml-operator.validator,sideEffects=None,admissionReviewVersions=v1

var _ webhook.CustomValidator = &ModelDeploymentValidator{}

// ModelDeploymentDefaulter applies spec defaults on create and update.
//
// +kubebuilder:object:generate=false
type ModelDeploymentDefaulter struct{}

// +kubebuilder:webhook:verbs=create;update,path=/mutate-ml-example-com-v1-modeldeployment,mutating=true,failurePolicy=fail,groups=ml.example.com,resources=modeldeployments,versions=v1,name=modeldeployment.ml-operator.defaulter,sideEffects=None,admissionReviewVersions=v1

var _ webhook.CustomDefaulter = &ModelDeploymentDefaulter{}

// Default implements webhook.CustomDefaulter
func (d *ModelDeploymentDefaulter) Default(ctx context.Context, obj runtime.Object) error {
	md, err := convert(obj)
	if err != nil {
		return err
	}
	md.Default()
	return nil
}

// ValidateCreate implements webhook.CustomValidator
func (v *ModelDeploymentValidator) ValidateCreate(ctx context.Context, obj runtime.Object) (admission.Warnings, error) {
	md, err := convert(obj)
	if err != nil {
		return nil, err
	}
	validatorLogger.Info("validate create", "name", md.Name)
	return nil, validateModelDeployment(md)
}

// ValidateUpdate implements webhook.CustomValidator
func (v *ModelDeploymentValidator) ValidateUpdate(ctx context.Context, oldObj, newObj runtime.Object) (admission.Warnings, error) {
	md, err := convert(newObj)
	if err != nil {
		return nil, err
	}
	validatorLogger.Info("validate update", "name", md.Name)
	return nil, validateModelDeployment(md)
}

// ValidateDelete implements webhook.CustomValidator
func (v *ModelDeploymentValidator) ValidateDelete(ctx context.Context, obj runtime.Object) (admission.Warnings, error) {
	return nil, nil
}

func convert(obj runtime.Object) (*ModelDeployment, error) {
	md, ok := obj.(*ModelDeployment)
	if !ok {
		return nil, fmt.Errorf("expected a ModelDeployment object but got %T", obj)
	}
	return md, nil
}

func validateModelDeployment(md *ModelDeployment) error {
	if err := validateName(md); err != nil {
		return err
	}
	if err := validateModel(md); err != nil {
		return err
	}
	if err := validateReplicas(md); err != nil {
		return err
	}
	if err := validateEnvironment(md); err != nil {
		return err
	}
	return validateAutoscaling(md)
}

func validateName(md *ModelDeployment) error {
	if !MdepRegexp.MatchString(md.Name) {
		return fmt.Errorf(InvalidMdepNameFormatError, md.Name, MdepNameFmt)
	}
	return nil
}

func validateModel(md *ModelDeployment) error {
	if md.Spec.ModelName == "" {
		return fmt.Errorf(MissingModelNameError, md.Name)
	}
	if md.Spec.ModelVersion < 1 {
		return fmt.Errorf(InvalidModelVersionError, md.Name)
	}
	return nil
}

func validateReplicas(md *ModelDeployment) error {
	if md.Spec.Replicas == nil {
		return nil
	}
	if *md.Spec.Replicas < constants.MinScaleReplicas || *md.Spec.Replicas > constants.MaxScaleReplicas {
		return fmt.Errorf(ReplicasOutOfBoundsError, md.Name, constants.MinScaleReplicas, constants.MaxScaleReplicas)
	}
	return nil
}

func validateEnvironment(md *ModelDeployment) error {
	switch md.Spec.Environment {
	case "", EnvironmentDevelopment, EnvironmentStaging, EnvironmentProduction:
		return nil
	}
	return fmt.Errorf(InvalidEnvironmentError, md.Name)
}

func validateAutoscaling(md *ModelDeployment) error {
	as := md.Spec.Autoscaling
	if as == nil || !as.Enabled {
		return nil
	}
	if as.MaxReplicas != 0 && (as.MaxReplicas < constants.MinScaleReplicas || as.MaxReplicas > constants.MaxScaleReplicas) {
		return fmt.Errorf(AutoscalingMaxReplicasError, md.Name, constants.MinScaleReplicas, constants.MaxScaleReplicas)
	}
	if as.MinReplicas != nil && as.MaxReplicas != 0 && *as.MinReplicas > as.MaxReplicas {
		return fmt.Errorf(AutoscalingBoundsError, md.Name)
	}
	if as.TargetCPUUtilizationPercentage != nil {
		target := *as.TargetCPUUtilizationPercentage
		if target < constants.MinTargetUtilizationPercent || target > constants.MaxTargetUtilizationPercent {
			return fmt.Errorf(TargetUtilizationError, md.Name,
				constants.MinTargetUtilizationPercent, constants.MaxTargetUtilizationPercent)
		}
	}
	return nil
}
