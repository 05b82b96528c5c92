package watcher

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"github.com/openshift/cluster-ha-controller/pkg/healthevent"
)

// FunctionalTypeLabel carries the functional type of a node or storage
// member pod.
const FunctionalTypeLabel = "ha.openshift.io/functional-type"

// Readiness is the last observed readiness of a resource.
type Readiness int

const (
	ReadinessUnknown Readiness = iota
	Ready
	NotReady
)

func (r Readiness) String() string {
	switch r {
	case Ready:
		return "ready"
	case NotReady:
		return "not-ready"
	}
	return "unknown"
}

// WatchFunc opens one watch connection.
type WatchFunc func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)

// Class describes one watched object class.
type Class struct {
	// Name is used in logs and metrics.
	Name         string
	ResourceType healthevent.ResourceType
	Watch        WatchFunc
	// Inspect extracts the resource name and readiness. ok is false for
	// objects that do not belong to the class.
	Inspect func(obj runtime.Object) (name string, readiness Readiness, ok bool)
	// Decorate fills class specific payload fields before publishing.
	Decorate func(obj runtime.Object, ev *healthevent.HealthEvent)
}

func conditionReadiness(status corev1.ConditionStatus) Readiness {
	switch status {
	case corev1.ConditionTrue:
		return Ready
	case corev1.ConditionFalse:
		return NotReady
	}
	return ReadinessUnknown
}

// NodeReadiness reads the NodeReady condition. A missing condition is unknown.
func NodeReadiness(node *corev1.Node) Readiness {
	for _, condition := range node.Status.Conditions {
		if condition.Type == corev1.NodeReady {
			return conditionReadiness(condition.Status)
		}
	}
	return ReadinessUnknown
}

// PodReadiness reads the PodReady condition. A missing condition is unknown.
func PodReadiness(pod *corev1.Pod) Readiness {
	for _, condition := range pod.Status.Conditions {
		if condition.Type == corev1.PodReady {
			return conditionReadiness(condition.Status)
		}
	}
	return ReadinessUnknown
}

// NodeClass watches cluster nodes.
func NodeClass(client kubernetes.Interface, labelSelector string) Class {
	return Class{
		Name:         "node",
		ResourceType: healthevent.ResourceTypeNode,
		Watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			opts.LabelSelector = labelSelector
			return client.CoreV1().Nodes().Watch(ctx, opts)
		},
		Inspect: func(obj runtime.Object) (string, Readiness, bool) {
			node, ok := obj.(*corev1.Node)
			if !ok {
				return "", ReadinessUnknown, false
			}
			return node.Name, NodeReadiness(node), true
		},
		Decorate: func(obj runtime.Object, ev *healthevent.HealthEvent) {
			node := obj.(*corev1.Node)
			ev.SetNodeID(node.Name)
			setFunctionalType(ev, node.Labels, "node "+node.Name)
			ev.SetSpecificInfo(healthevent.SpecificInfoGeneration, string(node.UID))
		},
	}
}

// MemberClass watches the storage member pods in namespace.
func MemberClass(client kubernetes.Interface, namespace, labelSelector string) Class {
	return Class{
		Name:         "member",
		ResourceType: healthevent.ResourceTypeMember,
		Watch: func(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
			opts.LabelSelector = labelSelector
			return client.CoreV1().Pods(namespace).Watch(ctx, opts)
		},
		Inspect: func(obj runtime.Object) (string, Readiness, bool) {
			pod, ok := obj.(*corev1.Pod)
			if !ok {
				return "", ReadinessUnknown, false
			}
			return pod.Name, PodReadiness(pod), true
		},
		Decorate: func(obj runtime.Object, ev *healthevent.HealthEvent) {
			pod := obj.(*corev1.Pod)
			if pod.Spec.NodeName != "" {
				ev.SetNodeID(pod.Spec.NodeName)
			}
			setFunctionalType(ev, pod.Labels, "pod "+pod.Namespace+"/"+pod.Name)
			ev.SetSpecificInfo(healthevent.SpecificInfoGeneration, string(pod.UID))
		},
	}
}

// setFunctionalType copies FunctionalTypeLabel into the event. Values that
// do not belong to the event's resource type are dropped.
func setFunctionalType(ev *healthevent.HealthEvent, objLabels map[string]string, object string) {
	value, ok := objLabels[FunctionalTypeLabel]
	if !ok {
		return
	}
	ft, err := healthevent.ParseFunctionalType(ev.Payload.ResourceType, value)
	if err != nil {
		klog.Warningf("%s: ignoring label %s: %v", object, FunctionalTypeLabel, err)
		return
	}
	ev.SetSpecificInfo(healthevent.SpecificInfoFunctionalType, string(ft))
}
