package observers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveSignal(t *testing.T, ch <-chan Signal) Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for signal")
		return nil
	}
}

func TestTailSourceReadsExistingLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/signals.jsonl",
		[]byte(`{"kind":"selection","text":"chosen text"}
{"kind":"click","target":"button"}
`), 0o644))

	source := NewTailSource(fs, "/signals.jsonl")
	defer source.Close()

	sel, ok := receiveSignal(t, source.Signals()).(SelectionChanged)
	require.True(t, ok)
	assert.Equal(t, "chosen text", sel.Text)

	click, ok := receiveSignal(t, source.Signals()).(Clicked)
	require.True(t, ok)
	assert.Equal(t, "button", click.Target)
}

func TestTailSourcePicksUpAppendedLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/signals.jsonl", []byte(""), 0o644))

	source := NewTailSource(fs, "/signals.jsonl")
	defer source.Close()

	file, err := fs.OpenFile("/signals.jsonl", os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = file.WriteString(`{"kind":"keydown","key":"Enter"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, file.Close())

	key, ok := receiveSignal(t, source.Signals()).(KeyDown)
	require.True(t, ok)
	assert.Equal(t, "Enter", key.Key)
}

func TestTailSourceSnapshotUpdatesPage(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/signals.jsonl",
		[]byte(`{"kind":"snapshot","url":"https://leetcode.com","title":"Two Sum","html":"<pre>x = 1</pre>"}
{"kind":"click","target":"probe"}
`), 0o644))

	source := NewTailSource(fs, "/signals.jsonl")
	defer source.Close()

	// The click is a barrier: once it arrives the snapshot line is applied
	_, ok := receiveSignal(t, source.Signals()).(Clicked)
	require.True(t, ok)

	url, title := source.Location()
	assert.Equal(t, "https://leetcode.com", url)
	assert.Equal(t, "Two Sum", title)

	doc, err := source.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x = 1", doc.Find("pre").Text())
}

func TestTailSourceSkipsMalformedLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/signals.jsonl",
		[]byte(`not json at all
{"kind":"click","target":"after-garbage"}
`), 0o644))

	source := NewTailSource(fs, "/signals.jsonl")
	defer source.Close()

	click, ok := receiveSignal(t, source.Signals()).(Clicked)
	require.True(t, ok)
	assert.Equal(t, "after-garbage", click.Target)
}

func TestTailSourceNavigatedUpdatesLocation(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/signals.jsonl",
		[]byte(`{"kind":"navigated","url":"https://github.com","title":"GitHub"}
`), 0o644))

	source := NewTailSource(fs, "/signals.jsonl")
	defer source.Close()

	nav, ok := receiveSignal(t, source.Signals()).(Navigated)
	require.True(t, ok)
	assert.Equal(t, "https://github.com", nav.URL)

	url, title := source.Location()
	assert.Equal(t, "https://github.com", url)
	assert.Equal(t, "GitHub", title)
}
