// Package kubernetes wires a flowmesh sink to Kubernetes Job dispatch,
// grounded on the teacher's components/kubernetes Terminus (one batch
// job per flushed batch, payload carried as a base64 JSON env var).
package kubernetes

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"path/filepath"

	"github.com/google/uuid"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	_ "k8s.io/client-go/plugin/pkg/client/auth/gcp"

	"github.com/flowmesh/flowmesh/connectors"
)

type SinkConfig struct {
	Name        string
	Namespace   string
	InCluster   bool
	Image       string
	Command     []string
	Args        []string
	Labels      map[string]string
	Environment map[string]string
}

func SinkConfigFromViper(v *viper.Viper) SinkConfig {
	return SinkConfig{
		Name:        v.GetString("name"),
		Namespace:   v.GetString("namespace"),
		InCluster:   v.GetBool("in_cluster"),
		Image:       v.GetString("image"),
		Command:     v.GetStringSlice("command"),
		Args:        v.GetStringSlice("args"),
		Labels:      v.GetStringMapString("labels"),
		Environment: v.GetStringMapString("environment"),
	}
}

// Sink constructs a connectors.Sink[T] that JSON-marshals each flushed
// batch, base64-encodes it into a PAYLOAD env var, and dispatches one
// Kubernetes Job to process it.
func Sink[T any](cfg SinkConfig) (*connectors.Sink[T], error) {
	clientset, err := buildClient(cfg.InCluster)
	if err != nil {
		return nil, err
	}

	return connectors.NewSink[T](func(ctx context.Context, batch []T) error {
		payload, err := json.Marshal(batch)
		if err != nil {
			return err
		}

		id := uuid.New().String()
		vars := []corev1.EnvVar{
			{Name: "NAMESPACE", ValueFrom: &corev1.EnvVarSource{FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.namespace"}}},
			{Name: "NODE_NAME", ValueFrom: &corev1.EnvVarSource{FieldRef: &corev1.ObjectFieldSelector{FieldPath: "spec.nodeName"}}},
			{Name: "NAME", Value: cfg.Name},
			{Name: "PAYLOAD", Value: base64.StdEncoding.EncodeToString(payload)},
		}
		for k, v := range cfg.Environment {
			vars = append(vars, corev1.EnvVar{Name: k, Value: v})
		}

		_, err = clientset.BatchV1().Jobs(cfg.Namespace).Create(ctx, &batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{Name: cfg.Name + "-" + id, Namespace: cfg.Namespace, Labels: cfg.Labels},
			Spec: batchv1.JobSpec{
				Template: corev1.PodTemplateSpec{
					ObjectMeta: metav1.ObjectMeta{Name: cfg.Name + "-" + id, Namespace: cfg.Namespace, Labels: cfg.Labels},
					Spec: corev1.PodSpec{
						RestartPolicy: corev1.RestartPolicyNever,
						Containers: []corev1.Container{
							{
								Name:            cfg.Name,
								Image:           cfg.Image,
								ImagePullPolicy: corev1.PullAlways,
								Env:             vars,
								Command:         cfg.Command,
								Args:            cfg.Args,
							},
						},
					},
				},
			},
		}, metav1.CreateOptions{})
		return err
	}), nil
}

func buildClient(inCluster bool) (*kubernetes.Clientset, error) {
	if inCluster {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return nil, err
		}
		return kubernetes.NewForConfig(cfg)
	}

	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}
	kubeconfig := filepath.Join(home, ".kube", "config")
	cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(cfg)
}
