package triage

import (
	"context"
	"testing"
	"triagem/lib/cadastre"
	"triagem/lib/portal"
	"triagem/lib/portal/portaltest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	fake := &portaltest.Fake{
		Indices: []string{"012.345.678-9", "", "0123456789", "987 654 321 0"},
	}
	resolver := Resolver{Open: portal.Listers(fake.Open)}

	indices := resolver.Resolve(context.Background(), "7463527921", testCreds(), t.TempDir())
	diff := cmp.Diff([]cadastre.Index{"0123456789", "9876543210"}, indices)
	if diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, []string{"7463527921"}, fake.Targets())
	require.Equal(t, 1, fake.Closed())
}

func TestResolveFailure(t *testing.T) {
	fake := &portaltest.Fake{
		Indices: []string{"0123456789"},
		Fail:    failUntil(100, portal.STEP_LOGIN),
	}
	resolver := Resolver{Open: portal.Listers(fake.Open)}

	indices := resolver.Resolve(context.Background(), "7463527921", testCreds(), t.TempDir())
	require.Empty(t, indices)
	require.Equal(t, 1, fake.Closed())
}
