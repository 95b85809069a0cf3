package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInBatches(t *testing.T) {
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	var calls [][]string
	fn := func(_ context.Context, batch []string) ([][]float32, error) {
		calls = append(calls, append([]string(nil), batch...))
		out := make([][]float32, len(batch))
		for i, s := range batch {
			out[i] = []float32{float32(len(s))}
		}
		return out, nil
	}

	vecs, err := inBatches(context.Background(), texts, 2, fn)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, calls)
	require.Len(t, vecs, 5)
	for i, v := range vecs {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestInBatches_ZeroSizeIsSingleBatch(t *testing.T) {
	n := 0
	_, err := inBatches(context.Background(), []string{"a", "b", "c"}, 0, func(_ context.Context, b []string) ([][]float32, error) {
		n++
		return make([][]float32, len(b)), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInBatches_CountMismatch(t *testing.T) {
	_, err := inBatches(context.Background(), []string{"a", "b"}, 2, func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	})
	assert.Error(t, err)
}

func TestInBatches_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := inBatches(context.Background(), []string{"a"}, 1, func(context.Context, []string) ([][]float32, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}
