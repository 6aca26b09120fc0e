package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"deploycheck/internal/config"
	"deploycheck/internal/env"
)

// DefaultChecks returns the compliance battery in its fixed declaration
// order. The content check depends on the tunnel the runner's caller opened,
// so it runs after the exec-based checks.
func DefaultChecks(cfg config.CheckConfig, port int) []Spec {
	return []Spec{
		IdentityCheck(cfg),
		NetworkBindingCheck(cfg, port),
		ContentCheck(cfg),
		SecurityAttributeCheck(cfg),
	}
}

// IdentityCheck verifies the workload does not run as root: the numeric user
// identity reported from inside the workload must be non-zero.
func IdentityCheck(cfg config.CheckConfig) Spec {
	return Spec{
		Name:     "identity",
		Severity: SeverityFatal,
		Timeout:  time.Duration(cfg.Timeout),
		Retries:  cfg.Retries,
		Run: func(ctx context.Context, t Target) (Result, error) {
			out, err := t.Profile.Exec(ctx, t.Handle, []string{"id", "-u"})
			if err != nil {
				// Exec into a freshly started instance fails transiently.
				return Result{}, fmt.Errorf("%w: identity query: %v", ErrTransient, err)
			}

			observed := strings.TrimSpace(out)
			uid, convErr := strconv.Atoi(observed)
			if convErr != nil {
				return Result{
					Outcome:     OutcomeFail,
					Observed:    observed,
					Explanation: "identity query returned non-numeric output",
				}, nil
			}
			if uid == 0 {
				return Result{
					Outcome:     OutcomeFail,
					Observed:    fmt.Sprintf("uid=%d", uid),
					Explanation: "workload runs as root",
				}, nil
			}
			return Result{
				Outcome:  OutcomePass,
				Observed: fmt.Sprintf("uid=%d", uid),
			}, nil
		},
	}
}

// NetworkBindingCheck verifies a listening socket exists on the expected
// port. Socket introspection inside minimal images is best effort: when no
// tooling is available the check falls back to a process-table snapshot and
// records an informational result instead of a verdict.
func NetworkBindingCheck(cfg config.CheckConfig, port int) Spec {
	return Spec{
		Name:     "network-binding",
		Severity: SeverityWarning,
		Timeout:  time.Duration(cfg.Timeout),
		Retries:  cfg.Retries,
		Run: func(ctx context.Context, t Target) (Result, error) {
			out, err := t.Profile.Exec(ctx, t.Handle, []string{"ss", "-tln"})
			if err == nil {
				if listeningOn(out, port) {
					return Result{
						Outcome:  OutcomePass,
						Observed: fmt.Sprintf("listening socket on port %d", port),
					}, nil
				}
				return Result{
					Outcome:     OutcomeFail,
					Observed:    firstLines(out, 5),
					Explanation: fmt.Sprintf("no listening socket on port %d", port),
				}, nil
			}

			// No ss in the image; try the kernel table directly.
			out, procErr := t.Profile.Exec(ctx, t.Handle, []string{"cat", "/proc/net/tcp", "/proc/net/tcp6"})
			if procErr == nil {
				if procListeningOn(out, port) {
					return Result{
						Outcome:  OutcomePass,
						Observed: fmt.Sprintf("listening socket on port %d (/proc/net/tcp)", port),
					}, nil
				}
				return Result{
					Outcome:     OutcomeFail,
					Observed:    "/proc/net/tcp inspected",
					Explanation: fmt.Sprintf("no listening socket on port %d", port),
				}, nil
			}

			// Last resort: a process-table snapshot is evidence, not a verdict.
			psOut, psErr := t.Profile.Exec(ctx, t.Handle, []string{"ps"})
			if psErr != nil {
				return Result{}, fmt.Errorf("%w: socket introspection unavailable: %v", ErrTransient, err)
			}
			return Result{
				Outcome:     OutcomeInfo,
				Observed:    firstLines(psOut, 5),
				Explanation: "socket introspection tooling unavailable, recorded process table instead",
			}, nil
		},
	}
}

// listeningOn scans `ss -tln` output for a local address bound to the port.
// Columns are State Recv-Q Send-Q Local-Address:Port Peer-Address:Port.
func listeningOn(out string, port int) bool {
	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		if strings.HasSuffix(fields[3], suffix) {
			return true
		}
	}
	return false
}

// procListeningOn scans /proc/net/tcp[6] for a socket in LISTEN state (0A)
// bound to the port. Addresses there are hex.
func procListeningOn(out string, port int) bool {
	hexPort := fmt.Sprintf("%04X", port)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		local, state := fields[1], fields[3]
		if state == "0A" && strings.HasSuffix(local, ":"+hexPort) {
			return true
		}
	}
	return false
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// contentPayload is the structured response the workload contract promises.
type contentPayload struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

const maxObservedBody = 200

// truncateObserved caps the recorded body, backing up to a rune boundary so
// a multi-byte sequence is never split.
func truncateObserved(s string) string {
	if len(s) <= maxObservedBody {
		return s
	}
	cut := maxObservedBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// ContentCheck issues a request through the access tunnel to the workload's
// root endpoint and compares the structured payload against the expected
// literal values. Every mismatched field is cited in the explanation.
func ContentCheck(cfg config.CheckConfig) Spec {
	return Spec{
		Name:        "content",
		Severity:    SeverityFatal,
		Timeout:     time.Duration(cfg.Timeout),
		Retries:     cfg.Retries,
		NeedsTunnel: true,
		Run: func(ctx context.Context, t Target) (Result, error) {
			client := t.HTTPClient
			if client == nil {
				client = http.DefaultClient
			}

			url := "http://" + t.Tunnel.LocalAddr() + "/"
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return Result{}, err
			}
			resp, err := client.Do(req)
			if err != nil {
				// url.Error implements net.Error, the runner retries it.
				return Result{}, err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return Result{}, err
			}

			observed := truncateObserved(strings.TrimSpace(string(body)))

			var payload contentPayload
			if err := json.Unmarshal(body, &payload); err != nil {
				return Result{
					Outcome:     OutcomeFail,
					Observed:    observed,
					Explanation: "invalid structured data",
				}, nil
			}

			var mismatches []string
			if payload.Message != cfg.Expect.Message {
				mismatches = append(mismatches, fmt.Sprintf("message: got %q, want %q", payload.Message, cfg.Expect.Message))
			}
			if payload.Version != cfg.Expect.Version {
				mismatches = append(mismatches, fmt.Sprintf("version: got %q, want %q", payload.Version, cfg.Expect.Version))
			}
			if len(mismatches) > 0 {
				return Result{
					Outcome:     OutcomeFail,
					Observed:    observed,
					Explanation: strings.Join(mismatches, "; "),
				}, nil
			}
			return Result{
				Outcome:  OutcomePass,
				Observed: observed,
			}, nil
		},
	}
}

// SecurityAttributeCheck compares the workload's declared security
// attributes against the configured expectations, subset-wise: expectations
// that are not set are not checked.
func SecurityAttributeCheck(cfg config.CheckConfig) Spec {
	return Spec{
		Name:     "security-attributes",
		Severity: SeverityFatal,
		Timeout:  time.Duration(cfg.Timeout),
		Retries:  cfg.Retries,
		Run: func(ctx context.Context, t Target) (Result, error) {
			attrs, err := t.Profile.SecurityAttributes(ctx, t.Handle)
			if err != nil {
				return Result{}, fmt.Errorf("%w: security attribute query: %v", ErrTransient, err)
			}

			expect := cfg.Security
			var violations []string

			if expect.RunAsNonRoot != nil {
				switch {
				case attrs.RunAsNonRoot == nil:
					violations = append(violations, "runAsNonRoot not declared")
				case *attrs.RunAsNonRoot != *expect.RunAsNonRoot:
					violations = append(violations, fmt.Sprintf("runAsNonRoot=%t, want %t", *attrs.RunAsNonRoot, *expect.RunAsNonRoot))
				}
			}
			if expect.ReadOnlyRootFilesystem != nil {
				switch {
				case attrs.ReadOnlyRootFilesystem == nil:
					violations = append(violations, "readOnlyRootFilesystem not declared")
				case *attrs.ReadOnlyRootFilesystem != *expect.ReadOnlyRootFilesystem:
					violations = append(violations, fmt.Sprintf("readOnlyRootFilesystem=%t, want %t", *attrs.ReadOnlyRootFilesystem, *expect.ReadOnlyRootFilesystem))
				}
			}
			for _, want := range expect.DropCapabilities {
				found := false
				for _, got := range attrs.DroppedCapabilities {
					if strings.EqualFold(got, want) {
						found = true
						break
					}
				}
				if !found {
					violations = append(violations, fmt.Sprintf("capability %s not dropped", want))
				}
			}

			observed := describeAttributes(attrs)
			if len(violations) > 0 {
				return Result{
					Outcome:     OutcomeFail,
					Observed:    observed,
					Explanation: strings.Join(violations, "; "),
				}, nil
			}
			return Result{
				Outcome:  OutcomePass,
				Observed: observed,
			}, nil
		},
	}
}

func describeAttributes(attrs env.SecurityAttributes) string {
	var parts []string
	if attrs.RunAsUser != nil {
		parts = append(parts, fmt.Sprintf("runAsUser=%d", *attrs.RunAsUser))
	}
	if attrs.RunAsNonRoot != nil {
		parts = append(parts, fmt.Sprintf("runAsNonRoot=%t", *attrs.RunAsNonRoot))
	}
	if attrs.ReadOnlyRootFilesystem != nil {
		parts = append(parts, fmt.Sprintf("readOnlyRootFilesystem=%t", *attrs.ReadOnlyRootFilesystem))
	}
	if attrs.Privileged != nil {
		parts = append(parts, fmt.Sprintf("privileged=%t", *attrs.Privileged))
	}
	if len(attrs.DroppedCapabilities) > 0 {
		parts = append(parts, fmt.Sprintf("capDrop=%v", attrs.DroppedCapabilities))
	}
	if len(parts) == 0 {
		return "no security attributes declared"
	}
	return strings.Join(parts, " ")
}
