package assets

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ok(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %s", err.Error())
	}
}

func equals(t *testing.T, exp, act interface{}) {
	t.Helper()
	if diff := cmp.Diff(exp, act); diff != "" {
		t.Fatalf("mismatch (-exp +act):\n%s", diff)
	}
}
