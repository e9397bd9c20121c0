package stages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
		err  error
	}{
		{"keeps order", []string{"A", "B", "C"}, []string{"A", "B", "C"}, nil},
		{"trims and drops blanks", []string{"  A ", "", "   ", "B"}, []string{"A", "B"}, nil},
		{"dedupes keeping first", []string{"Live", "Testing", "live", "LIVE "}, []string{"Live", "Testing"}, nil},
		{"empty input", nil, nil, ErrEmpty},
		{"only blanks", []string{" ", ""}, nil, ErrEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdd(t *testing.T) {
	base := []string{"Kick-off", "Live"}

	got, err := Add(base, "  Testing ")
	require.NoError(t, err)
	assert.Equal(t, []string{"Kick-off", "Live", "Testing"}, got)
	assert.Equal(t, []string{"Kick-off", "Live"}, base, "input must not change")

	_, err = Add(base, "live")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = Add(base, "   ")
	assert.ErrorIs(t, err, ErrBlank)
}

func TestRename(t *testing.T) {
	base := []string{"A", "B", "C"}

	got, err := Rename(base, 1, "Bee")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "Bee", "C"}, got)

	got, err = Rename(base, 1, "b")
	require.NoError(t, err, "changing only the case of the same stage is allowed")
	assert.Equal(t, []string{"A", "b", "C"}, got)

	_, err = Rename(base, 1, "c")
	assert.ErrorIs(t, err, ErrDuplicate)

	_, err = Rename(base, 3, "D")
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = Rename(base, 0, "")
	assert.ErrorIs(t, err, ErrBlank)
}

func TestRemove(t *testing.T) {
	got, err := Remove([]string{"A", "B", "C"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, got)

	_, err = Remove([]string{"A"}, 0)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Remove([]string{"A", "B"}, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestMove(t *testing.T) {
	base := []string{"A", "B", "C"}

	got, err := MoveUp(base, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C", "B"}, got)

	got, err = MoveDown(base, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "A", "C"}, got)

	t.Run("boundaries are no-ops", func(t *testing.T) {
		got, err := MoveUp(base, 0)
		require.NoError(t, err)
		assert.Equal(t, base, got)

		got, err = MoveDown(base, 2)
		require.NoError(t, err)
		assert.Equal(t, base, got)
	})

	t.Run("up then down restores order", func(t *testing.T) {
		up, err := MoveUp(base, 1)
		require.NoError(t, err)
		down, err := MoveDown(up, 0)
		require.NoError(t, err)
		assert.Equal(t, base, down)
	})

	_, err = MoveUp(base, 3)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, err = MoveDown(base, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestIndex(t *testing.T) {
	names := []string{"Kick-off", "Go-Live"}
	assert.Equal(t, 1, Index(names, " go-live "))
	assert.Equal(t, -1, Index(names, "Testing"))
	assert.True(t, Contains(names, "KICK-OFF"))
}
