package chunk

import (
	"math/rand"
	"testing"

	"hermeshub/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanExample(t *testing.T) {
	plan, err := Plan(5, 2)
	require.NoError(t, err)

	assert.Equal(t, []Descriptor{
		{Index: 0, Start: 0, End: 1},
		{Index: 1, Start: 2, End: 4},
	}, plan)
}

func TestPlanSingleChunk(t *testing.T) {
	plan, err := Plan(1000, 1)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, int64(0), plan[0].Start)
	assert.Equal(t, int64(999), plan[0].End)
	assert.Equal(t, int64(1000), plan[0].Len())
}

func TestPlanRemainderGoesToLastChunk(t *testing.T) {
	plan, err := Plan(10, 3)
	require.NoError(t, err)

	lengths := []int64{plan[0].Len(), plan[1].Len(), plan[2].Len()}
	assert.Equal(t, []int64{3, 3, 4}, lengths)
}

func TestPlanSmallerThanChunkCount(t *testing.T) {
	plan, err := Plan(3, 8)
	require.NoError(t, err)
	require.Len(t, plan, 8)

	for _, d := range plan[:7] {
		assert.True(t, d.Empty(), d.String())
	}
	assert.Equal(t, Descriptor{Index: 7, Start: 0, End: 2}, plan[7])
	require.NoError(t, Verify(plan, 3))
}

func TestPlanEmptyFile(t *testing.T) {
	plan, err := Plan(0, 4)
	require.NoError(t, err)
	require.Len(t, plan, 4)

	for _, d := range plan {
		assert.True(t, d.Empty())
	}
	assert.Equal(t, int64(0), TotalBytes(plan))
	require.NoError(t, Verify(plan, 0))
}

func TestPlanRejectsInvalidInput(t *testing.T) {
	_, err := Plan(-1, 2)
	assert.ErrorIs(t, err, errors.ErrValidation)

	_, err = Plan(10, 0)
	assert.ErrorIs(t, err, errors.ErrValidation)
}

func TestPlanCoversFileExactly(t *testing.T) {
	for size := int64(0); size <= 64; size++ {
		for count := 1; count <= 12; count++ {
			plan, err := Plan(size, count)
			require.NoError(t, err)
			require.Len(t, plan, count)
			assertCovers(t, plan, size)
		}
	}
}

func TestPlanCoversRandomSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(1306))
	for i := 0; i < 500; i++ {
		size := rng.Int63n(1 << 32)
		count := 1 + rng.Intn(64)

		plan, err := Plan(size, count)
		require.NoError(t, err)
		require.NoError(t, Verify(plan, size), "size=%d count=%d", size, count)
		assert.Equal(t, size, TotalBytes(plan))
	}
}

func TestVerifyDetectsBrokenPlans(t *testing.T) {
	tests := []struct {
		name string
		plan []Descriptor
		size int64
	}{
		{"empty", nil, 0},
		{"gap", []Descriptor{{0, 0, 1}, {1, 3, 4}}, 5},
		{"overlap", []Descriptor{{0, 0, 2}, {1, 2, 4}}, 5},
		{"short", []Descriptor{{0, 0, 1}, {1, 2, 3}}, 5},
		{"wrong index", []Descriptor{{1, 0, 4}}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Verify(tt.plan, tt.size), errors.ErrValidation)
		})
	}
}

// assertCovers checks the byte-level union of the plan independently of Verify
func assertCovers(t *testing.T, plan []Descriptor, size int64) {
	t.Helper()

	seen := make([]int, size)
	for _, d := range plan {
		for b := d.Start; b <= d.End; b++ {
			seen[b]++
		}
	}
	for b, n := range seen {
		if n != 1 {
			t.Fatalf("byte %d covered %d times (size=%d chunks=%d)", b, n, size, len(plan))
		}
	}
}
