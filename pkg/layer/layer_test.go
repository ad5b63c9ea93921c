package layer

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/marmos91/layerfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readString(t *testing.T, l *Layer, p string) string {
	t.Helper()
	r, err := l.Open(context.Background(), p)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestParseXMLFile(t *testing.T) {
	ctx := context.Background()
	l, err := Build(ctx, FileSource{Path: filepath.Join("testdata", "editors.xml")})
	require.NoError(t, err)

	assert.Equal(t, "tab=4", readString(t, l, "/Editors/text.settings"))
	assert.Equal(t, "inline content", readString(t, l, "/Editors/inline.txt"))

	attrs, err := l.Attributes().All(ctx, "/Editors")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"position": int64(100), "label": "Editors"}, attrs)

	v, ok, err := l.Attributes().Get(ctx, "/Editors/text.settings", "enabled")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, v)

	entries, err := l.List(ctx, "/Editors")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{".wh.legacy.txt", "inline.txt", "text.settings"}, names)
	assert.Equal(t, []string{"/Editors/legacy.txt"}, l.Masks())
}

func TestParseXMLRejectsURLWithoutBase(t *testing.T) {
	_, err := ParseXML([]byte(`<filesystem><file name="a" url="x.txt"/></filesystem>`), "")
	assert.True(t, vfs.IsCode(err, vfs.ErrInvalidArgument))

	_, err = ParseXML([]byte(`<filesystem><file name="a" url="../x.txt"/></filesystem>`), "testdata")
	assert.True(t, vfs.IsCode(err, vfs.ErrInvalidArgument))
}

func TestParseXMLBadAttribute(t *testing.T) {
	_, err := ParseXML([]byte(`<filesystem><folder name="a"><attr name="n" intvalue="x"/></folder></filesystem>`), "")
	assert.True(t, vfs.IsCode(err, vfs.ErrInvalidArgument))
}

func TestParseYAML(t *testing.T) {
	src := BytesSource{Name: "yaml", Format: FormatYAML, Data: []byte(`
entries:
  - path: /conf
    kind: folder
    attributes: {owner: ops}
  - path: /conf/app.ini
    content: "k=v"
    attributes: {weight: 1.5}
  - path: /conf/old.ini
    kind: mask
`)}
	l, err := Build(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "yaml", l.Name())
	assert.Equal(t, "k=v", readString(t, l, "/conf/app.ini"))
	assert.Equal(t, []string{"/", "/conf", "/conf/.wh.old.ini", "/conf/app.ini"}, l.Paths())

	v, _, err := l.Attributes().Get(context.Background(), "/conf/app.ini", "weight")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)
}

func TestParseYAMLErrors(t *testing.T) {
	tests := []string{
		"entries: [{kind: folder}]",
		"entries: [{path: /a, kind: bogus}]",
		"entries: [{path: /a/.wh.b}]",
	}
	for _, doc := range tests {
		_, err := ParseYAML([]byte(doc))
		assert.Error(t, err, doc)
	}
}

func TestNewConflicts(t *testing.T) {
	_, err := New("x", []Record{
		{Path: "/a", Kind: RecordData},
		{Path: "/a/b", Kind: RecordData},
	})
	assert.True(t, vfs.IsCode(err, vfs.ErrNotFolder))

	_, err = New("x", []Record{
		{Path: "/a", Kind: RecordFolder},
		{Path: "/a", Kind: RecordData},
	})
	assert.True(t, vfs.IsCode(err, vfs.ErrIsFolder))
}

func TestLaterRecordWins(t *testing.T) {
	l, err := New("x", []Record{
		{Path: "/a", Content: []byte("one")},
		{Path: "/a", Content: []byte("two")},
	})
	require.NoError(t, err)
	assert.Equal(t, "two", readString(t, l, "/a"))
}

func TestFingerprint(t *testing.T) {
	build := func(content string, attrs map[string]any) *Layer {
		l, err := New("x", []Record{{Path: "/a", Content: []byte(content), Attributes: attrs}})
		require.NoError(t, err)
		return l
	}

	base, _ := build("c", map[string]any{"k": "v"}).Fingerprint("/a")
	same, _ := build("c", map[string]any{"k": "v"}).Fingerprint("/a")
	content, _ := build("d", map[string]any{"k": "v"}).Fingerprint("/a")
	attrs, _ := build("c", map[string]any{"k": "w"}).Fingerprint("/a")

	assert.Equal(t, base, same)
	assert.NotEqual(t, base, content)
	assert.NotEqual(t, base, attrs)

	_, ok := build("c", nil).Fingerprint("/missing")
	assert.False(t, ok)
}

func TestLayerIsReadOnly(t *testing.T) {
	ctx := context.Background()
	l, err := New("x", []Record{{Path: "/a"}})
	require.NoError(t, err)

	assert.True(t, vfs.IsCode(l.WriteFile(ctx, "/a", nil), vfs.ErrReadOnly))
	assert.True(t, vfs.IsCode(l.Remove(ctx, "/a"), vfs.ErrReadOnly))
	assert.True(t, vfs.IsCode(l.Attributes().Set(ctx, "/a", "k", "v"), vfs.ErrAttribute))

	_, err = l.Open(ctx, "/")
	assert.True(t, vfs.IsCode(err, vfs.ErrIsFolder))
}
