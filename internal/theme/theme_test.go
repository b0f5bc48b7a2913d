package theme

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagebuilder/internal/messaging"
)

func TestParse_Flat(t *testing.T) {
	th, err := Parse([]byte(`{"--primary": "#0af", "--radius": "4px"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"--primary": "#0af", "--radius": "4px"}, th.Tokens)
	assert.Empty(t, th.Vars())
}

func TestParse_Groups(t *testing.T) {
	th, err := Parse([]byte(`{
		"tokens": {"--radius": "4px"},
		"light": {"--fg": "#000", "--bg": "#fff"},
		"dark": {"--bg": "#111"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "4px", th.Tokens["--radius"])
	assert.Equal(t, []messaging.ThemeVar{
		{CSSVar: "--bg", Value: "#fff"},
		{CSSVar: "--fg", Value: "#000"},
		{CSSVar: "--bg", Value: "#111", IsDark: true},
	}, th.Vars())
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	assert.Error(t, err)
	_, err = Parse([]byte(`{"--size": 4}`))
	assert.ErrorContains(t, err, "must be strings")
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"--primary": "red"}`), 0o644))

	changed := make(chan Theme, 4)
	w, err := Watch(path, 20*time.Millisecond, func(th Theme) { changed <- th })
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, "red", w.Current().Tokens["--primary"])

	require.NoError(t, os.WriteFile(path, []byte(`{"--primary": "blue"}`), 0o644))

	select {
	case th := <-changed:
		assert.Equal(t, "blue", th.Tokens["--primary"])
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
	assert.Equal(t, "blue", w.Current().Tokens["--primary"])
}

func TestWatch_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.json")
	w, err := Watch(path, 0, nil)
	require.NoError(t, err)
	defer w.Close()
	assert.Nil(t, w.Current().Tokens)
}
