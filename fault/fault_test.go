package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"unavailable", New(UpstreamUnavailable, "xero", "create_invoice", base), UpstreamUnavailable},
		{"rejected", New(UpstreamRejected, "stripe", "fetch_customer", base), UpstreamRejected},
		{"persistence", New(PersistenceUnavailable, "postgres", "append", base), PersistenceUnavailable},
		{"wrapped", fmt.Errorf("pipeline: %w", New(UpstreamRejected, "xero", "resolve_contact", base)), UpstreamRejected},
		{"plain error", base, ""},
		{"nil", nil, ""},
	}

	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("%s: KindOf = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFromStatus(t *testing.T) {
	base := errors.New("status")

	for status, want := range map[int]Kind{
		400: UpstreamRejected,
		404: UpstreamRejected,
		422: UpstreamRejected,
		500: UpstreamUnavailable,
		502: UpstreamUnavailable,
		503: UpstreamUnavailable,
	} {
		err := FromStatus("pandadoc", "create_document", status, base)
		if got := KindOf(err); got != want {
			t.Errorf("status %d: kind = %q, want %q", status, got, want)
		}
	}
}

func TestRetryable(t *testing.T) {
	base := errors.New("boom")

	if !Retryable(New(UpstreamUnavailable, "xero", "op", base)) {
		t.Errorf("unavailable upstream must be retryable")
	}
	if !Retryable(New(PersistenceUnavailable, "postgres", "op", base)) {
		t.Errorf("unavailable persistence must be retryable")
	}
	if Retryable(New(UpstreamRejected, "xero", "op", base)) {
		t.Errorf("rejection is terminal, not retryable")
	}
	if Retryable(base) {
		t.Errorf("plain errors are not retryable")
	}
}

func TestErrorAndUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := New(UpstreamUnavailable, "xero", "create_invoice", base)

	if !errors.Is(err, base) {
		t.Errorf("fault must unwrap to its cause")
	}

	var f *Fault
	if !errors.As(err, &f) {
		t.Fatalf("expected *Fault")
	}
	if f.System != "xero" || f.Op != "create_invoice" {
		t.Errorf("fault fields wrong: %+v", f)
	}
	if f.Error() == "" {
		t.Errorf("fault must describe itself")
	}
}
