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
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EnvironmentType is the deployment environment the model serves in
type EnvironmentType string

// EnvironmentType Enum
const (
	EnvironmentDevelopment EnvironmentType = "development"
	EnvironmentStaging     EnvironmentType = "staging"
	EnvironmentProduction  EnvironmentType = "production"
)

// AutoscalingSpec configures the HorizontalPodAutoscaler for the inference workload
type AutoscalingSpec struct {
	// Enabled turns autoscaling on; when true the operator manages an HPA
	// bound to the inference deployment and the HPA owns the replica count.
	Enabled bool `json:"enabled"`
	// Minimum number of replicas, defaults to 1.
	// +optional
	// +kubebuilder:validation:Minimum=1
	MinReplicas *int32 `json:"minReplicas,omitempty"`
	// Maximum number of replicas, defaults to 5.
	// +optional
	// +kubebuilder:validation:Minimum=1
	MaxReplicas int32 `json:"maxReplicas,omitempty"`
	// Target average CPU utilization across pods, defaults to 70.
	// +optional
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=100
	TargetCPUUtilizationPercentage *int32 `json:"targetCPUUtilizationPercentage,omitempty"`
}

// ModelDeploymentSpec defines the desired state of ModelDeployment
type ModelDeploymentSpec struct {
	// ModelName is the registry name of the model to serve
	// +required
	ModelName string `json:"modelName"`
	// ModelVersion is the registry version of the model to serve
	// +required
	// +kubebuilder:validation:Minimum=1
	ModelVersion int32 `json:"modelVersion"`
	// Replicas is the desired number of inference server pods, defaults to 1.
	// Ignored while autoscaling is enabled.
	// +optional
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=10
	Replicas *int32 `json:"replicas,omitempty"`
	// Resources holds the compute resource requests and limits for the
	// inference server container.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
	// Environment the model serves in, defaults to development.
	// +optional
	// +kubebuilder:validation:Enum=development;staging;production
	Environment EnvironmentType `json:"environment,omitempty"`
	// Autoscaling configures the optional HorizontalPodAutoscaler.
	// +optional
	Autoscaling *AutoscalingSpec `json:"autoscaling,omitempty"`
}

// ModelDeploymentPhase is a high-level summary of where the deployment is in its lifecycle
type ModelDeploymentPhase string

// ModelDeploymentPhase Enum
const (
	// ModelDeploymentPending means child resources are created (or still being
	// created) but no replica has become ready yet.
	ModelDeploymentPending ModelDeploymentPhase = "Pending"
	// ModelDeploymentRunning means all desired replicas are ready.
	ModelDeploymentRunning ModelDeploymentPhase = "Running"
	// ModelDeploymentFailed means a child resource operation failed permanently
	// or the workload exceeded its progress deadline.
	ModelDeploymentFailed ModelDeploymentPhase = "Failed"
	// ModelDeploymentUpdating means a spec change was applied and the workload
	// has not converged to it yet.
	ModelDeploymentUpdating ModelDeploymentPhase = "Updating"
)

// ConditionType is the type of a ModelDeployment condition
type ConditionType string

const (
	// ConditionReady tracks the overall readiness of the inference workload.
	ConditionReady ConditionType = "Ready"
)

// ModelDeploymentCondition is one entry of the append-only condition log
type ModelDeploymentCondition struct {
	Type   ConditionType          `json:"type"`
	Status corev1.ConditionStatus `json:"status"`
	// +optional
	LastTransitionTime metav1.Time `json:"lastTransitionTime,omitempty"`
	// +optional
	Reason string `json:"reason,omitempty"`
	// +optional
	Message string `json:"message,omitempty"`
}

// ModelDeploymentStatus defines the observed state of ModelDeployment.
// It is written only by the operator, and only through the status subresource.
type ModelDeploymentStatus struct {
	// +optional
	Phase ModelDeploymentPhase `json:"phase,omitempty"`
	// Replicas is the desired replica count reported by the inference deployment.
	// +optional
	Replicas int32 `json:"replicas,omitempty"`
	// ReadyReplicas is the ready replica count reported by the inference deployment.
	// +optional
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`
	// Conditions is the transition history, deduplicated per type by
	// status+reason so retried reconciliations do not append duplicates.
	// +optional
	// +listType=atomic
	Conditions []ModelDeploymentCondition `json:"conditions,omitempty"`
	// +optional
	DeploymentName string `json:"deploymentName,omitempty"`
	// +optional
	ServiceName string `json:"serviceName,omitempty"`
	// +optional
	LastUpdated metav1.Time `json:"lastUpdated,omitempty"`
}

// ModelDeployment is the Schema for the modeldeployments API
// +k8s:openapi-gen=true
// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Model",type="string",JSONPath=".spec.modelName"
// +kubebuilder:printcolumn:name="Version",type="integer",JSONPath=".spec.modelVersion"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Ready",type="integer",JSONPath=".status.readyReplicas"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"
// +kubebuilder:resource:path=modeldeployments,shortName=mdep
type ModelDeployment struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ModelDeploymentSpec   `json:"spec,omitempty"`
	Status ModelDeploymentStatus `json:"status,omitempty"`
}

// ModelDeploymentList contains a list of ModelDeployment
// +kubebuilder:object:root=true
type ModelDeploymentList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []ModelDeployment `json:"items"`
}

func init() {
	SchemeBuilder.Register(&ModelDeployment{}, &ModelDeploymentList{})
}
