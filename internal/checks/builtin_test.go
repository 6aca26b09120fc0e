package checks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploycheck/internal/config"
	"deploycheck/internal/env"
	"deploycheck/internal/tunnel"
)

func testCheckConfig() config.CheckConfig {
	return config.CheckConfig{
		Retries: 0,
		Timeout: config.Duration(2 * time.Second),
		Expect: config.ContentExpectations{
			Message: "Hello, Candidate",
			Version: "1.0.0",
		},
	}
}

func execReturning(out string, err error) *fakeProfile {
	return &fakeProfile{
		execFn: func(ctx context.Context, command []string) (string, error) {
			return out, err
		},
	}
}

func TestIdentityCheck(t *testing.T) {
	tests := []struct {
		name         string
		execOut      string
		wantOutcome  Outcome
		wantObserved string
	}{
		{"root uid fails", "0\n", OutcomeFail, "uid=0"},
		{"non-root uid passes", "1000\n", OutcomePass, "uid=1000"},
		{"non-numeric output fails", "whoami: unknown\n", OutcomeFail, "whoami: unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := IdentityCheck(testCheckConfig())
			res := runOne(context.Background(), spec, Target{Profile: execReturning(tt.execOut, nil)})

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			assert.Equal(t, tt.wantObserved, res.Observed)
		})
	}
}

func TestNetworkBindingCheckViaSS(t *testing.T) {
	ssOut := `State   Recv-Q  Send-Q  Local Address:Port  Peer Address:Port
LISTEN  0       4096    0.0.0.0:8080        0.0.0.0:*
LISTEN  0       128     127.0.0.1:9090      0.0.0.0:*
`
	profile := &fakeProfile{
		execFn: func(ctx context.Context, command []string) (string, error) {
			require.Equal(t, "ss", command[0])
			return ssOut, nil
		},
	}

	spec := NetworkBindingCheck(testCheckConfig(), 8080)
	res := runOne(context.Background(), spec, Target{Profile: profile})
	assert.Equal(t, OutcomePass, res.Outcome)

	spec = NetworkBindingCheck(testCheckConfig(), 9999)
	res = runOne(context.Background(), spec, Target{Profile: profile})
	assert.Equal(t, OutcomeFail, res.Outcome)
	assert.Contains(t, res.Explanation, "9999")
}

func TestNetworkBindingCheckProcFallback(t *testing.T) {
	// 1F90 is port 8080; state 0A is LISTEN.
	procOut := `  sl  local_address rem_address   st tx_queue rx_queue
   0: 00000000:1F90 00000000:0000 0A 00000000:00000000 00:00000000
   1: 0100007F:0016 00000000:0000 01 00000000:00000000 00:00000000
`
	profile := &fakeProfile{
		execFn: func(ctx context.Context, command []string) (string, error) {
			if command[0] == "ss" {
				return "", errors.New("exec: \"ss\": executable file not found")
			}
			return procOut, nil
		},
	}

	spec := NetworkBindingCheck(testCheckConfig(), 8080)
	res := runOne(context.Background(), spec, Target{Profile: profile})
	assert.Equal(t, OutcomePass, res.Outcome)
}

func TestNetworkBindingCheckProcessTableFallbackIsInformational(t *testing.T) {
	profile := &fakeProfile{
		execFn: func(ctx context.Context, command []string) (string, error) {
			switch command[0] {
			case "ss", "cat":
				return "", errors.New("not found")
			case "ps":
				return "PID   USER  COMMAND\n1     app   python main.py\n", nil
			}
			return "", fmt.Errorf("unexpected command %v", command)
		},
	}

	spec := NetworkBindingCheck(testCheckConfig(), 8080)
	res := runOne(context.Background(), spec, Target{Profile: profile})

	assert.Equal(t, OutcomeInfo, res.Outcome)
	assert.Contains(t, res.Observed, "python main.py")
}

// openTestTunnel opens a real tunnel whose relay points at the test server.
func openTestTunnel(t *testing.T, serverURL string) *tunnel.Tunnel {
	t.Helper()
	addr := strings.TrimPrefix(serverURL, "http://")
	profile := &fakeProfile{relay: newFakeRelay(addr)}
	tun, err := tunnel.Open(context.Background(), profile, env.WorkloadHandle{ID: "instance-1"}, 0, 0)
	require.NoError(t, err)
	t.Cleanup(tun.Close)
	return tun
}

func TestContentCheck(t *testing.T) {
	tests := []struct {
		name            string
		body            string
		wantOutcome     Outcome
		wantExplanation []string
	}{
		{
			name:        "exact match passes",
			body:        `{"message":"Hello, Candidate","version":"1.0.0"}`,
			wantOutcome: OutcomePass,
		},
		{
			name:            "both fields mismatched are cited",
			body:            `{"message":"hi"}`,
			wantOutcome:     OutcomeFail,
			wantExplanation: []string{"message", "version"},
		},
		{
			name:            "non-structured body fails without crashing",
			body:            "<html>not json</html>",
			wantOutcome:     OutcomeFail,
			wantExplanation: []string{"invalid structured data"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			tun := openTestTunnel(t, srv.URL)
			spec := ContentCheck(testCheckConfig())
			res := runOne(context.Background(), spec, Target{Profile: &fakeProfile{}, Tunnel: tun})

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			for _, want := range tt.wantExplanation {
				assert.Contains(t, res.Explanation, want)
			}
			assert.NotEmpty(t, res.Observed, "result must carry the observed body")
		})
	}
}

func TestContentCheckTruncatesObservedOnRuneBoundary(t *testing.T) {
	// 100 three-byte runes: the 200-byte cap lands mid-rune.
	body := strings.Repeat("€", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	tun := openTestTunnel(t, srv.URL)
	spec := ContentCheck(testCheckConfig())
	res := runOne(context.Background(), spec, Target{Profile: &fakeProfile{}, Tunnel: tun})

	assert.Equal(t, OutcomeFail, res.Outcome)
	assert.True(t, utf8.ValidString(res.Observed), "truncation must not split a multi-byte rune")
	assert.True(t, strings.HasSuffix(res.Observed, "..."))
	assert.LessOrEqual(t, len(res.Observed), maxObservedBody+len("..."))
}

func TestSecurityAttributeCheck(t *testing.T) {
	truth := true
	lie := false
	uid := int64(1000)

	cfg := testCheckConfig()
	cfg.Security = config.SecurityExpectations{
		RunAsNonRoot:           &truth,
		ReadOnlyRootFilesystem: &truth,
		DropCapabilities:       []string{"ALL"},
	}

	tests := []struct {
		name        string
		attrs       env.SecurityAttributes
		wantOutcome Outcome
		wantParts   []string
	}{
		{
			name: "all expectations satisfied",
			attrs: env.SecurityAttributes{
				RunAsUser:              &uid,
				RunAsNonRoot:           &truth,
				ReadOnlyRootFilesystem: &truth,
				DroppedCapabilities:    []string{"ALL"},
			},
			wantOutcome: OutcomePass,
		},
		{
			name: "mismatched attribute cited",
			attrs: env.SecurityAttributes{
				RunAsNonRoot:           &lie,
				ReadOnlyRootFilesystem: &truth,
				DroppedCapabilities:    []string{"ALL"},
			},
			wantOutcome: OutcomeFail,
			wantParts:   []string{"runAsNonRoot=false"},
		},
		{
			name: "undeclared attribute fails when expected",
			attrs: env.SecurityAttributes{
				RunAsNonRoot:        &truth,
				DroppedCapabilities: []string{"ALL"},
			},
			wantOutcome: OutcomeFail,
			wantParts:   []string{"readOnlyRootFilesystem not declared"},
		},
		{
			name: "missing capability drop cited",
			attrs: env.SecurityAttributes{
				RunAsNonRoot:           &truth,
				ReadOnlyRootFilesystem: &truth,
				DroppedCapabilities:    []string{"NET_RAW"},
			},
			wantOutcome: OutcomeFail,
			wantParts:   []string{"capability ALL not dropped"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := SecurityAttributeCheck(cfg)
			res := runOne(context.Background(), spec, Target{Profile: &fakeProfile{attrs: tt.attrs}})

			assert.Equal(t, tt.wantOutcome, res.Outcome)
			for _, part := range tt.wantParts {
				assert.Contains(t, res.Explanation, part)
			}
		})
	}
}

func TestSecurityAttributeCheckIgnoresUnspecifiedExpectations(t *testing.T) {
	cfg := testCheckConfig()
	cfg.Security = config.SecurityExpectations{} // nothing expected

	spec := SecurityAttributeCheck(cfg)
	res := runOne(context.Background(), spec, Target{Profile: &fakeProfile{}})

	assert.Equal(t, OutcomePass, res.Outcome)
}

func TestDefaultChecksOrder(t *testing.T) {
	specs := DefaultChecks(testCheckConfig(), 8080)

	var names []string
	for _, s := range specs {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"identity", "network-binding", "content", "security-attributes"}, names)
}
