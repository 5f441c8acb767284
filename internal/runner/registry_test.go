package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhantruonghcmut/uitf/api/schemas"
)

func noopCase(ctx context.Context, t *T) error { return nil }

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := &Registry{}
	require.NoError(t, r.Register("checkout", "guest purchase", schemas.PlatformWeb, noopCase))
	err := r.Register("checkout", "guest purchase", schemas.PlatformWeb, noopCase)
	assert.ErrorContains(t, err, "already registered")

	// Same name in a different suite is fine.
	assert.NoError(t, r.Register("smoke", "guest purchase", schemas.PlatformWeb, noopCase))
}

func TestSelectFiltersAndSorts(t *testing.T) {
	r := &Registry{}
	require.NoError(t, r.Register("zeta", "b", schemas.PlatformWeb, noopCase))
	require.NoError(t, r.Register("alpha", "z", schemas.PlatformWeb, noopCase))
	require.NoError(t, r.Register("alpha", "a", schemas.PlatformAndroid, noopCase))

	all := r.Select(nil)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Suite)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "z", all[1].Name)
	assert.Equal(t, "zeta", all[2].Suite)

	onlyAlpha := r.Select([]string{"alpha"})
	require.Len(t, onlyAlpha, 2)

	none := r.Select([]string{"missing"})
	assert.Empty(t, none)
}

func TestSuites(t *testing.T) {
	r := &Registry{}
	require.NoError(t, r.Register("zeta", "a", schemas.PlatformWeb, noopCase))
	require.NoError(t, r.Register("alpha", "a", schemas.PlatformWeb, noopCase))
	require.NoError(t, r.Register("alpha", "b", schemas.PlatformWeb, noopCase))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Suites())
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := &Registry{}
	r.MustRegister("s", "n", schemas.PlatformWeb, noopCase)
	assert.Panics(t, func() {
		r.MustRegister("s", "n", schemas.PlatformWeb, noopCase)
	})
}
