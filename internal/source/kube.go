package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilnet "k8s.io/apimachinery/pkg/util/net"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// PodSource reads logs of a Kubernetes pod. Restarting deletes the pod so
// its controller replaces it.
type PodSource struct {
	client    kubernetes.Interface
	namespace string
	name      string
	queueSize int
	logger    *zap.Logger
}

// NewPodSource creates a source for the pod name in namespace
func NewPodSource(client kubernetes.Interface, namespace, name string, queueSize int, logger *zap.Logger) *PodSource {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &PodSource{
		client:    client,
		namespace: namespace,
		name:      name,
		queueSize: queueSize,
		logger:    logger.With(zap.String("namespace", namespace), zap.String("pod", name)),
	}
}

// Describe names the pod
func (s *PodSource) Describe() string {
	return "pod " + s.namespace + "/" + s.name
}

// FetchTail returns the last maxLines lines of the pod's log
func (s *PodSource) FetchTail(ctx context.Context, maxLines int) string {
	tail := int64(maxLines)
	data, err := s.client.CoreV1().Pods(s.namespace).
		GetLogs(s.name, &corev1.PodLogOptions{TailLines: &tail}).
		DoRaw(ctx)
	if err != nil {
		return s.errorLine(err)
	}
	return lastLines(string(data), maxLines)
}

// Follow streams new log lines until ctx is done or the stream ends
func (s *PodSource) Follow(ctx context.Context) <-chan string {
	tail := int64(0)
	stream, err := s.client.CoreV1().Pods(s.namespace).
		GetLogs(s.name, &corev1.PodLogOptions{Follow: true, TailLines: &tail}).
		Stream(ctx)
	if err != nil {
		return failed(s.errorLine(err))
	}

	out := make(chan string, s.queueSize)
	go func() {
		defer close(out)
		defer stream.Close()
		streamLines(ctx, stream, out, s.Describe())
	}()
	return out
}

// Restart deletes the pod, retrying transient API failures
func (s *PodSource) Restart(ctx context.Context) error {
	err := retry.OnError(
		retry.DefaultBackoff,
		func(err error) bool {
			return apierrors.IsServiceUnavailable(err) || apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err)
		},
		func() error {
			return s.client.CoreV1().Pods(s.namespace).Delete(ctx, s.name, metav1.DeleteOptions{})
		},
	)
	if err != nil {
		s.logger.Error("Pod restart failed", zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrRestartFailed, s.Describe(), err)
	}
	s.logger.Info("Pod deleted for restart")
	return nil
}

func (s *PodSource) errorLine(err error) string {
	switch {
	case apierrors.IsNotFound(err):
		return errorLine("pod '%s' not found in namespace '%s'", s.name, s.namespace)
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err):
		return errorLine("permission denied reading logs of pod %s/%s: %v", s.namespace, s.name, err)
	case utilnet.IsConnectionRefused(err), utilnet.IsProbableEOF(err):
		return errorLine("cannot connect to the Kubernetes API: %v", err)
	default:
		return errorLine("unexpected error reading logs of pod %s/%s: %v", s.namespace, s.name, err)
	}
}
