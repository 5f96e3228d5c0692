package retriever

import (
	"testing"

	"github.com/matthewjhunter/memstore"
)

func TestAuthFailureDetectorDetectsAndExtractsTarget(t *testing.T) {
	d, err := NewAuthFailureDetector(memstore.AuthFailureConfig{MaxRecallsPerTarget: 2})
	if err != nil {
		t.Fatal(err)
	}
	target, ok := d.Detect("ssh: permission denied (publickey) connecting to build.example.com")
	if !ok {
		t.Fatal("expected auth failure to be detected")
	}
	if target != "build.example.com" {
		t.Fatalf("got target %q", target)
	}
}

func TestAuthFailureDetectorIgnoresUnrelatedOutput(t *testing.T) {
	d, err := NewAuthFailureDetector(memstore.AuthFailureConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.Detect("build succeeded in 4.2s"); ok {
		t.Fatal("expected no detection on unrelated output")
	}
}

func TestAuthFailureDetectorCapsPerTarget(t *testing.T) {
	d, err := NewAuthFailureDetector(memstore.AuthFailureConfig{MaxRecallsPerTarget: 1})
	if err != nil {
		t.Fatal(err)
	}
	d.seen["api.example.com"] = 1
	if _, ok := d.Detect("HTTP 401 from api.example.com"); ok {
		t.Fatal("expected recall cap to suppress further detections for this target")
	}
}

func TestAuthFailureDetectorRejectsInvalidExtraPattern(t *testing.T) {
	_, err := NewAuthFailureDetector(memstore.AuthFailureConfig{Patterns: []string{"("}})
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}
