package kube

import (
	"fmt"
	"net/http"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/portforward"
	"k8s.io/client-go/transport/spdy"

	"deploycheck/pkg/logging"
)

// PortForwardSession is a running pod port-forward. The relay itself runs in
// a background goroutine; the session exposes the channels the owner needs to
// supervise it.
type PortForwardSession struct {
	LocalPort  int
	RemotePort int

	// StopChan terminates the relay when closed. The session owner closes
	// it exactly once; use the tunnel package for the idempotent wrapper.
	StopChan chan struct{}
	// ReadyChan is closed by client-go once the local listener is up.
	ReadyChan <-chan struct{}
	// ErrChan receives the terminal error of the forwarding loop, nil on a
	// requested stop.
	ErrChan <-chan error
}

// pfLogWriter relays client-go's port-forward output lines into our logging
// package so relay diagnostics end up next to everything else.
type pfLogWriter struct {
	subsystem string
	asError   bool
}

func (w *pfLogWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(strings.TrimSuffix(string(p), "\n"), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		if w.asError {
			logging.Warn(w.subsystem, "%s", line)
		} else {
			logging.Debug(w.subsystem, "%s", line)
		}
	}
	return len(p), nil
}

// StartPortForward establishes a port-forward to a pod using the client-go
// SPDY dialer and runs it in the background. The returned session's StopChan
// must eventually be closed or the relay goroutine leaks.
var StartPortForward = func(restConfig *rest.Config, clientset kubernetes.Interface, namespace, podName string, localPort, remotePort int) (*PortForwardSession, error) {
	subsystem := "PortForward-" + podName

	reqURL := clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(namespace).
		Name(podName).
		SubResource("portforward").
		URL()

	transport, upgrader, err := spdy.RoundTripperFor(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPDY round tripper: %w", err)
	}
	dialer := spdy.NewDialer(upgrader, &http.Client{Transport: transport}, http.MethodPost, reqURL)

	stopChan := make(chan struct{}, 1)
	readyChan := make(chan struct{})
	errChan := make(chan error, 1)

	ports := []string{fmt.Sprintf("%d:%d", localPort, remotePort)}
	addresses := []string{"127.0.0.1"} // Listen on localhost only

	stdoutWriter := &pfLogWriter{subsystem: subsystem}
	stderrWriter := &pfLogWriter{subsystem: subsystem, asError: true}

	forwarder, err := portforward.NewOnAddresses(dialer, addresses, ports, stopChan, readyChan, stdoutWriter, stderrWriter)
	if err != nil {
		return nil, fmt.Errorf("failed to create port forwarder: %w", err)
	}

	logging.Debug(subsystem, "Starting port-forward 127.0.0.1:%d -> %s/%s:%d", localPort, namespace, podName, remotePort)

	go func() {
		fwdErr := forwarder.ForwardPorts()
		if fwdErr != nil {
			select {
			case <-stopChan:
				// Stop was requested; the error is just the teardown.
				errChan <- nil
			default:
				errChan <- fwdErr
			}
			return
		}
		errChan <- nil
	}()

	return &PortForwardSession{
		LocalPort:  localPort,
		RemotePort: remotePort,
		StopChan:   stopChan,
		ReadyChan:  readyChan,
		ErrChan:    errChan,
	}, nil
}
