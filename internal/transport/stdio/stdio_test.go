package stdio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamspace/messagehub/internal/protocol"
	"github.com/streamspace/messagehub/internal/transport/stdio"
)

func TestSendWritesOneNDJSONLine(t *testing.T) {
	r, w := io.Pipe()
	out := &syncBuffer{}
	tr := stdio.New(stdio.Config{Mode: stdio.ModeStreams, Reader: r, Writer: out})
	require.NoError(t, tr.Initialize(context.Background()))
	defer func() { _ = w.Close() }()

	require.NoError(t, tr.Send(context.Background(), protocol.NewEvent("s1", "chat.x", protocol.NewOptions{Data: "hi"})))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "\n")
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), `"chat.x"`)
}

// syncBuffer guards a bytes.Buffer written by the transport's write pump
// while the test polls it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReadPumpToleratesCRLFAndBlankLines(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	tr := stdio.New(stdio.Config{Mode: stdio.ModeStreams, Reader: pr, Writer: &out})
	require.NoError(t, tr.Initialize(context.Background()))

	got := make(chan *protocol.HubMessage, 1)
	tr.OnMessage(func(m *protocol.HubMessage) { got <- m })

	raw, err := json.Marshal(protocol.NewPing("global", ""))
	require.NoError(t, err)

	go func() {
		_, _ = pw.Write([]byte("\r\n"))
		_, _ = pw.Write(raw)
		_, _ = pw.Write([]byte("\r\n"))
	}()

	select {
	case m := <-got:
		assert.Equal(t, protocol.TypePing, m.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestChildModeCloseNeverClosesRealWriter(t *testing.T) {
	fw := &fakeWriteCloser{}
	r, _ := io.Pipe()
	tr := stdio.New(stdio.Config{Mode: stdio.ModeChild, Reader: r, Writer: fw})
	require.NoError(t, tr.Initialize(context.Background()))
	require.NoError(t, tr.Close(context.Background()))
	assert.False(t, fw.closed, "child mode must never close the process's real stdio")
}

func TestStreamsModeCloseClosesWriterIfCloser(t *testing.T) {
	fw := &fakeWriteCloser{}
	r, _ := io.Pipe()
	tr := stdio.New(stdio.Config{Mode: stdio.ModeStreams, Reader: r, Writer: fw})
	require.NoError(t, tr.Initialize(context.Background()))
	require.NoError(t, tr.Close(context.Background()))
	assert.True(t, fw.closed)
}

func TestSendFailsBeforeInitialize(t *testing.T) {
	tr := stdio.New(stdio.Config{Mode: stdio.ModeStreams, Reader: bytes.NewReader(nil), Writer: &bytes.Buffer{}})
	err := tr.Send(context.Background(), protocol.NewPing("global", ""))
	require.Error(t, err)
}

type fakeWriteCloser struct {
	bytes.Buffer
	closed bool
}

func (f *fakeWriteCloser) Close() error {
	f.closed = true
	return nil
}
