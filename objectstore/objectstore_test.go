package objectstore

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testBackends(t *testing.T) map[string]Config {
	dir := t.TempDir()
	return map[string]Config{
		"mem":      {BackendName: "mem"},
		"badgerdb": {BackendName: "badgerdb", DBPath: filepath.Join(dir, "badger")},
		"hybrid":   {BackendName: "hybrid", DBPath: filepath.Join(dir, "hybrid")},
		"sqlite":   {BackendName: "sqlite", DBPath: filepath.Join(dir, "objects.db")},
	}
}

func TestObjectStore(t *testing.T) {
	for name, conf := range testBackends(t) {
		t.Run(fmt.Sprintf("Backend=%s", name), func(t *testing.T) {
			objs, err := NewObjectStoreFromConfig(conf)
			require.NoError(t, err)
			defer objs.Close()

			present, err := objs.IsPresent("a")
			require.NoError(t, err)
			require.False(t, present)

			var out Bytes
			require.ErrorIs(t, objs.Load("a", &out), ErrNotFound)

			require.NoError(t, objs.Store("a", Bytes("first")))
			require.NoError(t, objs.Load("a", &out))
			require.Equal(t, Bytes("first"), out)

			require.NoError(t, objs.Store("a", Bytes("second")))
			require.NoError(t, objs.Load("a", &out))
			require.Equal(t, Bytes("second"), out)

			present, err = objs.IsPresent("a")
			require.NoError(t, err)
			require.True(t, present)

			require.NoError(t, objs.Delete("a"))
			present, err = objs.IsPresent("a")
			require.NoError(t, err)
			require.False(t, present)
			require.ErrorIs(t, objs.Load("a", &out), ErrNotFound)
		})
	}
}

func TestWrite(t *testing.T) {
	for name, conf := range testBackends(t) {
		t.Run(fmt.Sprintf("Backend=%s", name), func(t *testing.T) {
			objs, err := NewObjectStoreFromConfig(conf)
			require.NoError(t, err)
			defer objs.Close()

			require.NoError(t, objs.Store("a", Bytes("old")))

			b := NewBatch()
			require.NoError(t, b.Store("b", Bytes("new")))
			require.NoError(t, b.Store("c", Bytes("x")))
			require.NoError(t, b.Store("c", Bytes("y")))
			b.Delete("a")
			require.Equal(t, 4, b.Len())
			require.NoError(t, objs.Write(b))

			var out Bytes
			require.ErrorIs(t, objs.Load("a", &out), ErrNotFound)
			require.NoError(t, objs.Load("b", &out))
			require.Equal(t, Bytes("new"), out)
			require.NoError(t, objs.Load("c", &out))
			require.Equal(t, Bytes("y"), out)

			require.NoError(t, objs.Write(NewBatch()))
		})
	}
}

func TestNullObjectStore(t *testing.T) {
	objs, err := NewObjectStoreFromConfig(Config{BackendName: "null"})
	require.NoError(t, err)
	require.NoError(t, objs.Store("a", Bytes("x")))
	present, err := objs.IsPresent("a")
	require.NoError(t, err)
	require.False(t, present)
	var out Bytes
	require.ErrorIs(t, objs.Load("a", &out), ErrNotFound)

	b := NewBatch()
	require.NoError(t, b.Store("a", Bytes("x")))
	require.NoError(t, objs.Write(b))
	require.ErrorIs(t, objs.Load("a", &out), ErrNotFound)
}

func TestInvalidBackend(t *testing.T) {
	_, err := NewObjectStoreFromConfig(Config{BackendName: "tape"})
	require.Error(t, err)
}
