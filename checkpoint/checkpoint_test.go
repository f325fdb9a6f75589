package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logging.SetLevel(logging.ERROR, "checkpoint")
}

func TestSaveLoad(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "chk.db"))
	require.NoError(t, err)
	defer db.Close()

	key := RunKey("ali.fst", "tree.nwk", "gamma")
	cio := NewCheckpointIO(db, key, 0)

	data, err := cio.GetParameters()
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, cio.Save(&CheckpointData{
		Parameters: map[string]float64{"alpha": 0.5, "br3": 0.1},
		Likelihood: -1234.5,
		Iter:       10,
	}))

	data, err = NewCheckpointIO(db, key, 0).GetParameters()
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, 0.5, data.Parameters["alpha"])
	assert.Equal(t, -1234.5, data.Likelihood)
	assert.Equal(t, 10, data.Iter)
	assert.False(t, data.Final)

	other, err := NewCheckpointIO(db, RunKey("ali.fst", "other.nwk", "gamma"), 0).GetParameters()
	require.NoError(t, err)
	assert.Nil(t, other)

	runs, err := Runs(db)
	require.NoError(t, err)
	assert.Equal(t, []string{string(key)}, runs)
}

func TestRunKey(t *testing.T) {
	assert.Equal(t, RunKey("a", "b"), RunKey("a", "b"))
	assert.NotEqual(t, RunKey("a", "b"), RunKey("ab"))
	assert.Len(t, RunKey("a"), 36)
}

func TestOld(t *testing.T) {
	cio := NewCheckpointIO(nil, []byte("k"), 3600)
	assert.False(t, cio.Old())
	assert.True(t, NewCheckpointIO(nil, []byte("k"), -1).Old())
	// nil database is a no-op
	assert.NoError(t, cio.Save(&CheckpointData{}))
	data, err := cio.GetParameters()
	assert.NoError(t, err)
	assert.Nil(t, data)
}
