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
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/utils/ptr"

	"github.com/ml-platform/ml-operator/pkg/constants"
)

// Default applies the spec defaults in place. It is invoked by the mutating
// webhook and is safe to call repeatedly.
func (md *ModelDeployment) Default() {
	md.Spec.setDefaults()
}

func (s *ModelDeploymentSpec) setDefaults() {
	if s.Replicas == nil {
		s.Replicas = ptr.To(constants.DefaultReplicas)
	}
	if s.Environment == "" {
		s.Environment = EnvironmentDevelopment
	}
	if s.Resources.Requests == nil {
		s.Resources.Requests = corev1.ResourceList{
			corev1.ResourceMemory: resource.MustParse(constants.DefaultMemoryRequest),
			corev1.ResourceCPU:    resource.MustParse(constants.DefaultCPURequest),
		}
	}
	if s.Resources.Limits == nil {
		s.Resources.Limits = corev1.ResourceList{
			corev1.ResourceMemory: resource.MustParse(constants.DefaultMemoryLimit),
			corev1.ResourceCPU:    resource.MustParse(constants.DefaultCPULimit),
		}
	}
	if s.Autoscaling != nil && s.Autoscaling.Enabled {
		if s.Autoscaling.MinReplicas == nil {
			s.Autoscaling.MinReplicas = ptr.To(constants.DefaultMinReplicas)
		}
		if s.Autoscaling.MaxReplicas == 0 {
			s.Autoscaling.MaxReplicas = constants.DefaultMaxReplicas
		}
		if s.Autoscaling.TargetCPUUtilizationPercentage == nil {
			s.Autoscaling.TargetCPUUtilizationPercentage = ptr.To(constants.DefaultCPUUtilization)
		}
	}
}
