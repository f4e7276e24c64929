package stream

import (
	"context"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(t *testing.T, a *Assembler, chunks ...[]byte) {
	t.Helper()
	for _, c := range chunks {
		_, err := a.Write(c)
		require.NoError(t, err)
	}
	a.Finish()
}

func TestAssemblerJoinsLineSplitAcrossChunks(t *testing.T) {
	a := NewAssembler()
	var updates []Update
	a.Subscribe(func(u Update) { updates = append(updates, u) })

	feed(t, a,
		[]byte(`data: {"content":"Hel`),
		[]byte("lo\"}\n data: [DONE]\n"),
	)

	assert.Equal(t, "Hello", a.Text())
	require.Len(t, updates, 2)
	assert.Equal(t, Update{Text: "Hello", Delta: "Hello"}, updates[0])
	assert.True(t, updates[1].Done)
	assert.Equal(t, "Hello", updates[1].Text)
}

func TestAssemblerStopsAtDone(t *testing.T) {
	a := NewAssembler()
	feed(t, a, []byte("data: {\"content\":\"Hello\"}\ndata: [DONE]\ndata: {\"content\":\" again\"}\n"))
	assert.Equal(t, "Hello", a.Text())
	assert.True(t, a.Done())
}

func TestAssemblerMultiByteRuneSplitAcrossChunks(t *testing.T) {
	body := []byte("data: {\"content\":\"a😀b\"}\n")
	idx := strings.Index(string(body), "😀")
	require.Positive(t, idx)

	a := NewAssembler()
	// Cut two bytes into the four-byte emoji.
	feed(t, a, body[:idx+2], body[idx+2:])

	assert.Equal(t, "a😀b", a.Text())
	assert.NotContains(t, a.Text(), "�")
}

func TestAssemblerRawUTF8SplitOutsideJSONEscape(t *testing.T) {
	body := []byte("data: {\"content\":\"ñandú\"}\n")
	a := NewAssembler()
	chunks := make([][]byte, 0, len(body))
	for i := range body {
		chunks = append(chunks, body[i:i+1])
	}
	feed(t, a, chunks...)
	assert.Equal(t, "ñandú", a.Text())
}

func TestAssemblerIgnoresNonJSONPayload(t *testing.T) {
	a := NewAssembler()
	feed(t, a, []byte("data: not-json\ndata: {\"content\":\"ok\"}\n"))
	assert.Equal(t, "ok", a.Text())
	assert.Equal(t, 1, a.Ignored())
}

func TestAssemblerMultipleEventsInOneChunk(t *testing.T) {
	a := NewAssembler()
	var deltas []string
	a.Subscribe(func(u Update) {
		if !u.Done {
			deltas = append(deltas, u.Delta)
		}
	})
	feed(t, a, []byte(": keep-alive\n\ndata: {\"content\":\"one \"}\ndata: {\"content\":\"two \"}\nevent: ping\ndata: {\"content\":\"three\"}\n"))
	assert.Equal(t, "one two three", a.Text())
	assert.Equal(t, []string{"one ", "two ", "three"}, deltas)
}

func TestAssemblerFlushesTrailingLineWithoutNewline(t *testing.T) {
	a := NewAssembler()
	_, err := a.Write([]byte("data: {\"content\":\"first\"}\ndata: {\"content\":\" last\"}"))
	require.NoError(t, err)
	assert.Equal(t, "first", a.Text())
	a.Finish()
	assert.Equal(t, "first last", a.Text())
}

func TestAssemblerAnnotatesErrors(t *testing.T) {
	a := NewAssembler()
	feed(t, a, []byte("data: {\"content\":\"partial\"}\ndata: {\"error\":\"upstream timeout\"}\ndata: {\"error\":{\"message\":\"quota\"}}\n"))
	assert.Equal(t, "partial[error: upstream timeout][error: quota]", a.Text())
}

func TestAssemblerHandlesCRLF(t *testing.T) {
	a := NewAssembler()
	feed(t, a, []byte("data: {\"content\":\"x\"}\r\n\r\ndata: [DONE]\r\n"))
	assert.Equal(t, "x", a.Text())
	assert.True(t, a.Done())
}

func TestAssemblerCloseStopsUpdates(t *testing.T) {
	a := NewAssembler()
	calls := 0
	a.Subscribe(func(Update) { calls++ })

	_, err := a.Write([]byte("data: {\"content\":\"a\"}\n"))
	require.NoError(t, err)
	a.Close()
	_, err = a.Write([]byte("data: {\"content\":\"b\"}\n"))
	assert.ErrorIs(t, err, ErrClosed)
	a.Finish()

	assert.Equal(t, 1, calls)
	assert.Equal(t, "a", a.Text())
}

func TestAssemblerUnsubscribeIsIdempotent(t *testing.T) {
	a := NewAssembler()
	calls := 0
	unsubscribe := a.Subscribe(func(Update) { calls++ })
	other := 0
	a.Subscribe(func(Update) { other++ })

	unsubscribe()
	unsubscribe()
	feed(t, a, []byte("data: {\"content\":\"a\"}\n"))

	assert.Zero(t, calls)
	assert.Equal(t, 2, other)
}

func TestAssemblerReadFromOneByteReader(t *testing.T) {
	body := "data: {\"content\":\"¡Hola, \"}\ndata: {\"content\":\"lector! 📚\"}\ndata: [DONE]\n"
	a := NewAssembler()
	err := a.ReadFrom(context.Background(), iotest.OneByteReader(strings.NewReader(body)))
	require.NoError(t, err)
	assert.Equal(t, "¡Hola, lector! 📚", a.Text())
	assert.True(t, a.Done())
}

func TestAssemblerReadFromStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAssembler()
	err := a.ReadFrom(ctx, strings.NewReader("data: {\"content\":\"x\"}\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, a.Text())
}
