package kube

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/tools/remotecommand"
	"k8s.io/client-go/util/homedir"
)

// PodExecutor 定义在 Pod 内执行命令所需的能力, 方便 mock 测试.
type PodExecutor interface {
	// FindPod returns the name of a pod matching the label selector,
	// preferring Running pods.
	FindPod(ctx context.Context, namespace, labelSelector string) (string, error)
	// Exec runs command in the given pod/container, optionally feeding
	// stdin, and returns the captured stdout and stderr.
	Exec(ctx context.Context, namespace, pod, container string, command []string, stdin string) (string, string, error)
}

const (
	execPollTick  = time.Second
	execIdleTicks = 2  // stop once output exists and stayed stable this long
	execMaxTicks  = 30 // overall ceiling for the stdin read loop
)

// Client wraps a Kubernetes clientset for pod discovery and command
// execution inside running pods.
type Client struct {
	clientset  kubernetes.Interface
	restConfig *rest.Config
	logger     *slog.Logger
}

// New builds a Client from the in-cluster service account when available,
// falling back to the local kubeconfig.
func New(logger *slog.Logger) (*Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			if home := homedir.HomeDir(); home != "" {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return &Client{clientset: clientset, restConfig: cfg, logger: logger}, nil
}

// NewWithClientset wires an existing clientset; exec is unavailable without
// a rest config, so this is for pod-lookup paths and tests.
func NewWithClientset(clientset kubernetes.Interface, logger *slog.Logger) *Client {
	return &Client{clientset: clientset, logger: logger}
}

func (c *Client) FindPod(ctx context.Context, namespace, labelSelector string) (string, error) {
	pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: labelSelector})
	if err != nil {
		return "", fmt.Errorf("failed to list pods with %s in %s: %w", labelSelector, namespace, err)
	}
	if len(pods.Items) == 0 {
		return "", fmt.Errorf("no pods found with label %s in namespace %s", labelSelector, namespace)
	}
	for _, pod := range pods.Items {
		if pod.Status.Phase == corev1.PodRunning {
			return pod.Name, nil
		}
	}
	return pods.Items[0].Name, nil
}

// Exec runs command inside pod/container. Without stdin the call simply
// streams until the process exits. With stdin the remote side may never
// close its output stream, so reading stops once output is non-empty and
// has been stable for execIdleTicks poll ticks, capped at execMaxTicks.
// A command that stays silent longer than the idle window is treated as
// finished; output of a slow starter can be truncated.
func (c *Client) Exec(ctx context.Context, namespace, pod, container string, command []string, stdin string) (string, string, error) {
	if c.restConfig == nil {
		return "", "", fmt.Errorf("kube client has no rest config, exec unavailable")
	}

	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: container,
			Command:   command,
			Stdin:     stdin != "",
			Stdout:    true,
			Stderr:    true,
			TTY:       false,
		}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return "", "", fmt.Errorf("failed to create executor for pod %s: %w", pod, err)
	}

	var stdout, stderr lockedBuffer
	opts := remotecommand.StreamOptions{Stdout: &stdout, Stderr: &stderr}

	if stdin == "" {
		if err := exec.StreamWithContext(ctx, opts); err != nil {
			c.logger.Error("pod exec failed", "pod", pod, "cmd", strings.Join(command, " "), "stderr", stderr.String(), "err", err)
			return stdout.String(), stderr.String(), fmt.Errorf("failed to exec in pod %s: %w", pod, err)
		}
		return stdout.String(), stderr.String(), nil
	}

	if !strings.HasSuffix(stdin, "\n") {
		stdin += "\n"
	}
	opts.Stdin = strings.NewReader(stdin)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- exec.StreamWithContext(streamCtx, opts) }()

	idle, ticks := 0, 0
	lastOut, lastErr := 0, 0
	for {
		select {
		case err := <-done:
			if err != nil {
				c.logger.Error("pod exec failed", "pod", pod, "cmd", strings.Join(command, " "), "stderr", stderr.String(), "err", err)
				return stdout.String(), stderr.String(), fmt.Errorf("failed to exec in pod %s: %w", pod, err)
			}
			return stdout.String(), stderr.String(), nil
		case <-time.After(execPollTick):
		}

		ticks++
		o, e := stdout.Len(), stderr.Len()
		if o == lastOut && e == lastErr {
			idle++
		} else {
			idle = 0
		}
		lastOut, lastErr = o, e

		if (o > 0 && idle >= execIdleTicks) || ticks >= execMaxTicks {
			cancel()
			<-done // stream teardown; cancellation is the expected outcome
			return stdout.String(), stderr.String(), nil
		}
	}
}

// lockedBuffer is a mutex-guarded bytes.Buffer safe for the stream
// goroutine to write while the poll loop reads its length.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
