package camera

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"medseen/internal/config"
	"medseen/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembler(t *testing.T) {
	a := NewAssembler()

	_, ok := a.Push("cam", []byte{0xFF, 0xD8, 1, 2})
	assert.False(t, ok)
	_, ok = a.Push("cam", []byte{3, 4})
	assert.False(t, ok)
	frame, ok := a.Push("cam", []byte{5, 0xFF, 0xD9})
	require.True(t, ok)
	assert.Equal(t, []byte{0xFF, 0xD8, 1, 2, 3, 4, 5, 0xFF, 0xD9}, frame)
}

func TestAssembler_RestartAndOrphans(t *testing.T) {
	a := NewAssembler()

	// Tail of a frame whose header was lost.
	_, ok := a.Push("cam", []byte{9, 9, 0xFF, 0xD9})
	assert.False(t, ok)

	// A new header drops the partial frame.
	a.Push("cam", []byte{0xFF, 0xD8, 1})
	frame, ok := a.Push("cam", []byte{0xFF, 0xD8, 2, 0xFF, 0xD9})
	require.True(t, ok)
	assert.Equal(t, []byte{0xFF, 0xD8, 2, 0xFF, 0xD9}, frame)
}

func TestAssembler_SeparateCameras(t *testing.T) {
	a := NewAssembler()
	a.Push("a", []byte{0xFF, 0xD8, 'a'})
	a.Push("b", []byte{0xFF, 0xD8, 'b'})

	fa, ok := a.Push("a", []byte{0xFF, 0xD9})
	require.True(t, ok)
	fb, ok := a.Push("b", []byte{0xFF, 0xD9})
	require.True(t, ok)
	assert.Equal(t, []byte{0xFF, 0xD8, 'a', 0xFF, 0xD9}, fa)
	assert.Equal(t, []byte{0xFF, 0xD8, 'b', 0xFF, 0xD9}, fb)
}

func TestImageSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jpg"), []byte("second"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("first"), 0644))

	src, err := NewImageSource(filepath.Join(dir, "*.jpg"))
	require.NoError(t, err)
	defer src.Close()

	var got []string
	for i := 0; i < 3; i++ {
		f, err := src.Read(context.Background())
		require.NoError(t, err)
		assert.False(t, f.CapturedAt.IsZero())
		got = append(got, string(f.Data))
	}
	assert.Equal(t, []string{"first", "second", "first"}, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImageSource_NoMatches(t *testing.T) {
	_, err := NewImageSource(filepath.Join(t.TempDir(), "*.png"))
	assert.Error(t, err)
}

func TestUDPSource(t *testing.T) {
	log := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	src := newUDPSource(conn, map[string]string{"127.0.0.1": "chair-1"}, log)
	defer src.Close()

	sender, err := net.DialUDP("udp", nil, conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte{0xFF, 0xD8, 7})
	require.NoError(t, err)
	_, err = sender.Write([]byte{8, 0xFF, 0xD9})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 7, 8, 0xFF, 0xD9}, frame.Data)

	// Nothing new: the read times out instead of repeating the frame.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = src.Read(ctx2)
	assert.ErrorIs(t, err, ErrNoFrame)

	require.NoError(t, src.Close())
	_, err = src.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
