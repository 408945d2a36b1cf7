package stream

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Snapshot) []Snapshot {
	t.Helper()
	var out []Snapshot
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func TestIngest_DeltasAccumulate(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"data: [DONE]\n"
	snaps := collect(t, Ingest(context.Background(), io.NopCloser(strings.NewReader(body))))

	require.NotEmpty(t, snaps)
	final := snaps[len(snaps)-1]
	require.True(t, final.Done)
	require.False(t, final.Partial)
	require.Equal(t, "Hello", final.Content)
	require.Equal(t, "Hello", final.Raw)
	require.Len(t, final.Trace, 2)
}

func TestIngest_MalformedFrameSkipped(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {not json\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n" +
		"data: [DONE]\n"
	snaps := collect(t, Ingest(context.Background(), io.NopCloser(strings.NewReader(body))))
	final := snaps[len(snaps)-1]
	require.Equal(t, "ab", final.Content)
	// The malformed frame is absent from the trace.
	require.Len(t, final.Trace, 2)
}

func TestIngest_NonDataLinesIgnored(t *testing.T) {
	body := ": keepalive\n" +
		"event: message\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\r\n" +
		"data: [DONE]\r\n"
	snaps := collect(t, Ingest(context.Background(), io.NopCloser(strings.NewReader(body))))
	require.Equal(t, "x", snaps[len(snaps)-1].Content)
}

func TestIngest_TransportCloseWithoutSentinel(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"half\"}}]}\n"
	snaps := collect(t, Ingest(context.Background(), io.NopCloser(strings.NewReader(body))))
	final := snaps[len(snaps)-1]
	require.True(t, final.Done)
	require.True(t, final.Partial)
	require.True(t, strings.HasSuffix(final.Content, PartialMarker))
	require.Equal(t, "half", final.Raw)
}

func TestIngest_FinishReasonDoesNotEndStream(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"done\"},\"finish_reason\":\"stop\"}]}\n" +
		"data: [DONE]\n"
	snaps := collect(t, Ingest(context.Background(), io.NopCloser(strings.NewReader(body))))
	final := snaps[len(snaps)-1]
	require.True(t, final.Done)
	require.False(t, final.Partial)
	require.Equal(t, "stop", final.FinishReason)
	require.Equal(t, "done", final.Content)
}

func TestIngest_FinishReasonSharesChunkWithSentinel(t *testing.T) {
	// The final frame and the sentinel arrive in one transport read, the
	// way providers typically flush the stream tail.
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"tail\"},\"finish_reason\":\"stop\"}]}\ndata: [DONE]\n"))
		pw.Close()
	}()
	snaps := collect(t, Ingest(context.Background(), pr))
	final := snaps[len(snaps)-1]
	require.True(t, final.Done)
	require.False(t, final.Partial)
	require.Equal(t, "stop", final.FinishReason)
	require.Equal(t, "tail", final.Content)
	require.False(t, strings.Contains(final.Content, PartialMarker))
}

func TestIngest_FilterAppliedOverFullAccumulator(t *testing.T) {
	// The timestamp token is split across two deltas; filtering only the
	// delta would miss it.
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"at 2024/1/5\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\" 9:03:27 done\"}}]}\n" +
		"data: [DONE]\n"
	snaps := collect(t, Ingest(context.Background(), io.NopCloser(strings.NewReader(body))))
	final := snaps[len(snaps)-1]
	require.Equal(t, "at  done", final.Content)
	require.Equal(t, "at 2024/1/5 9:03:27 done", final.Raw)
}

func TestIngest_LineSplitAcrossReads(t *testing.T) {
	// Frame boundary does not align with read boundary.
	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"con"))
		time.Sleep(10 * time.Millisecond)
		pw.Write([]byte("tent\":\"joined\"}}]}\ndata: [DONE]\n"))
		pw.Close()
	}()
	snaps := collect(t, Ingest(context.Background(), pr))
	require.Equal(t, "joined", snaps[len(snaps)-1].Content)
}

func TestIngest_Abandonment(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	ch := Ingest(ctx, pr)
	pw.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n"))

	first, ok := <-ch
	require.True(t, ok)
	require.Equal(t, "a", first.Content)

	cancel()

	// The channel closes without a terminal snapshot and the reader is
	// released, unblocking any writer.
	for s := range ch {
		require.False(t, s.Done, "no snapshot may be published after abandonment")
	}
	_, err := pw.Write([]byte("data: x\n"))
	require.Error(t, err)
	pw.Close()
}
