package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkstor/gatewayfs/driver"
)

func newTestFs(t *testing.T) *Fs {
	dir := t.TempDir()
	f, err := NewFs(context.Background(), "test", driver.Config{"root": dir})
	require.NoError(t, err)
	return f.(*Fs)
}

func TestListAndPutRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newTestFs(t)

	err := f.Put(ctx, "a.txt", bytes.NewReader([]byte("hello world")), 11, nil)
	require.NoError(t, err)

	entries, err := f.List(ctx, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.EqualValues(t, 11, entries[0].Size)
	assert.False(t, entries[0].IsDir)
}

func TestOpenReaderRangeBeyondEOF(t *testing.T) {
	ctx := context.Background()
	f := newTestFs(t)
	require.NoError(t, f.Put(ctx, "b.txt", bytes.NewReader(bytes.Repeat([]byte("x"), 1000)), 1000, nil))

	r, err := f.OpenReader(ctx, "b.txt", &driver.Range{Start: 900, End: 2000})
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, data, 100)
}

func TestDeleteAndCreateDir(t *testing.T) {
	ctx := context.Background()
	f := newTestFs(t)
	require.NoError(t, f.CreateDir(ctx, "sub"))
	// idempotent per spec
	require.NoError(t, f.CreateDir(ctx, "sub"))

	require.NoError(t, f.Put(ctx, "sub/c.txt", bytes.NewReader([]byte("x")), 1, nil))
	require.NoError(t, f.Delete(ctx, "sub/c.txt"))

	_, err := os.Stat(filepath.Join(f.root, "sub", "c.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCopyItemRejectsDirectory(t *testing.T) {
	ctx := context.Background()
	f := newTestFs(t)
	require.NoError(t, f.CreateDir(ctx, "sub"))
	err := f.CopyItem(ctx, "sub", "sub2")
	var de *driver.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, driver.KindUnsupported, de.Kind)
}
