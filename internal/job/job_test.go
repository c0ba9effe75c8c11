package job

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseVariant_CanonicalAndAliases(t *testing.T) {
	cases := map[string]string{
		"flux-dev":           "/v1/flux-dev",
		"base":               "/v1/flux-dev",
		"pro":                "/v1/flux-pro-1.1",
		"high-resolution":    "/v1/flux-pro-1.1-ultra",
		"FLUX-PRO-1.1-ULTRA": "/v1/flux-pro-1.1-ultra",
		"kontext-pro":        "/v1/flux-kontext-pro",
		" flux-kontext-max ": "/v1/flux-kontext-max",
	}
	for name, want := range cases {
		v, err := ParseVariant(name)
		if err != nil {
			t.Errorf("ParseVariant(%q): %v", name, err)
			continue
		}
		if got := v.Path(); got != want {
			t.Errorf("ParseVariant(%q).Path() = %q, want %q", name, got, want)
		}
	}
}

func TestParseVariant_EveryVariantHasOnePath(t *testing.T) {
	seen := make(map[string]Variant)
	for _, v := range Variants {
		p := v.Path()
		if p == "" {
			t.Errorf("variant %s has no path", v)
		}
		if other, dup := seen[p]; dup {
			t.Errorf("variants %s and %s share path %s", v, other, p)
		}
		seen[p] = v
	}
}

func TestParseVariant_Invalid(t *testing.T) {
	_, err := ParseVariant("flux-9000")
	if !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("err = %v, want ErrInvalidModel", err)
	}
	msg := err.Error()
	for _, name := range VariantNames() {
		if !strings.Contains(msg, name) {
			t.Errorf("error %q does not list %s", msg, name)
		}
	}
}

func TestParseProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"Ready":             StatusReady,
		"Error":             StatusError,
		"Content Moderated": StatusError,
		"Pending":           StatusPending,
		"Processing":        StatusPending,
		"":                  StatusPending,
	}
	for in, want := range cases {
		if got := ParseProviderStatus(in); got != want {
			t.Errorf("ParseProviderStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestMerge_PendingToReady(t *testing.T) {
	created := time.Now().UTC()
	j := Job{ID: "a", Variant: VariantDev, Status: StatusPending, CreatedAt: created}

	got := j.Merge(Job{ID: "a", Status: StatusReady, ResultURL: "https://example/img.png"})
	if got.Status != StatusReady {
		t.Errorf("Status = %s, want Ready", got.Status)
	}
	if got.ResultURL != "https://example/img.png" {
		t.Errorf("ResultURL = %q", got.ResultURL)
	}
	if got.Variant != VariantDev || !got.CreatedAt.Equal(created) {
		t.Errorf("immutable fields changed: %+v", got)
	}
}

func TestMerge_TerminalNeverRegresses(t *testing.T) {
	j := Job{ID: "a", Status: StatusReady, ResultURL: "https://example/1.png"}

	got := j.Merge(Job{ID: "a", Status: StatusPending})
	if got.Status != StatusReady || got.ResultURL != "https://example/1.png" {
		t.Errorf("ready job regressed: %+v", got)
	}

	got = got.Merge(Job{ID: "a", Status: StatusError, ErrorDetail: "boom"})
	if got.Status != StatusReady || got.ErrorDetail != "" {
		t.Errorf("ready job changed terminal state: %+v", got)
	}

	e := Job{ID: "b", Status: StatusError, ErrorDetail: "moderated"}
	got = e.Merge(Job{ID: "b", Status: StatusReady, ResultURL: "https://example/2.png"})
	if got.Status != StatusError || got.ResultURL != "" {
		t.Errorf("error job changed terminal state: %+v", got)
	}
}

func TestMerge_KeepsFirstPollingURL(t *testing.T) {
	j := Job{ID: "a", PollingURL: "https://api/1", Status: StatusPending}
	got := j.Merge(Job{ID: "a", PollingURL: "https://api/2", Status: StatusPending})
	if got.PollingURL != "https://api/1" {
		t.Errorf("PollingURL = %q, want first value", got.PollingURL)
	}
}
