package csvread

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func readAll(t *testing.T, input string, d Dialect) [][]string {
	t.Helper()
	recs, err := NewReader(strings.NewReader(input), d).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestReader_Dialects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		dialect Dialect
		want    [][]string
	}{
		{
			name:    "comma lf",
			input:   "a,b,c\n1,2,3\n",
			dialect: Dialect{Delimiter: ',', Qualifier: '"'},
			want:    [][]string{{"a", "b", "c"}, {"1", "2", "3"}},
		},
		{
			name:    "crlf with quoted delimiter",
			input:   "id,name\r\n1,\"Smith, Bob\"\r\n",
			dialect: Dialect{Delimiter: ',', Qualifier: '"', RowDelimiter: CRLF},
			want:    [][]string{{"id", "name"}, {"1", "Smith, Bob"}},
		},
		{
			name:    "bare cr",
			input:   "a;b\r1;2\r",
			dialect: Dialect{Delimiter: ';', RowDelimiter: CR},
			want:    [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name:    "single quote qualifier with escaped quote",
			input:   "a|b\n'it''s'|x\n",
			dialect: Dialect{Delimiter: '|', Qualifier: '\''},
			want:    [][]string{{"a", "b"}, {"it's", "x"}},
		},
		{
			name:    "no qualifier keeps quotes",
			input:   "a\tb\n\"x\"\ty\n",
			dialect: Dialect{Delimiter: '\t'},
			want:    [][]string{{"a", "b"}, {`"x"`, "y"}},
		},
		{
			name:    "quoted field spans lines",
			input:   "a,b\n\"line1\nline2\",2\n",
			dialect: Dialect{Delimiter: ',', Qualifier: '"'},
			want:    [][]string{{"a", "b"}, {"line1\nline2", "2"}},
		},
		{
			name:    "no trailing newline",
			input:   "a,b\n1,2",
			dialect: Dialect{Delimiter: ','},
			want:    [][]string{{"a", "b"}, {"1", "2"}},
		},
		{
			name:    "empty fields",
			input:   ",,\n",
			dialect: Dialect{Delimiter: ','},
			want:    [][]string{{"", "", ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAll(t, tt.input, tt.dialect))
		})
	}
}

func TestReader_TrimSpace(t *testing.T) {
	r := NewReader(strings.NewReader("  a , \"  b  \" ,c  \n"), Dialect{Delimiter: ',', Qualifier: '"'})
	r.TrimSpace = true

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "  b  ", "c"}, rec)
}

func TestReader_ReadLineThenRead(t *testing.T) {
	r := NewReader(strings.NewReader("Report generated 2024-01-01\r\nid,name\r\n1,x\r\n"), Dialect{Delimiter: ',', RowDelimiter: CRLF})

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "Report generated 2024-01-01", line)

	rec, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rec)
	assert.Equal(t, 1, r.Record())
}

func TestReader_EOF(t *testing.T) {
	r := NewReader(strings.NewReader(""), Dialect{})
	_, err := r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestParseLine(t *testing.T) {
	assert.Equal(t, []string{"a", "b,c"}, ParseLine(`a,"b,c"`, Dialect{Delimiter: ',', Qualifier: '"'}))
	assert.Equal(t, []string{"TOTAL:2"}, ParseLine("TOTAL:2", Dialect{Delimiter: ','}))
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank([]string{"", "  "}))
	assert.False(t, IsBlank([]string{"", "x"}))
}

func TestWrap_SkipsBOMAndSanitizes(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("a,b\n\xff,2\n")...)

	text, counter, err := Wrap(strings.NewReader(string(raw)), int64(len(raw)), "utf-8")
	require.NoError(t, err)

	out, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n?,2\n", string(out))
	assert.Equal(t, int64(len(raw)), counter.BytesRead)
	assert.Equal(t, 100, counter.Progress())
}

func TestWrap_SplitMultiByteRune(t *testing.T) {
	// "é" is 0xC3 0xA9; deliver it one byte at a time.
	src := &oneByteReader{data: []byte("x\xc3\xa9y")}
	text := newUTF8Sanitizer(src)

	out, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Equal(t, "xéy", string(out))
}

func TestWrap_Latin1(t *testing.T) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String("name\nJosé\n")
	require.NoError(t, err)

	text, _, err := Wrap(strings.NewReader(encoded), 0, "ISO-8859-1")
	require.NoError(t, err)

	out, err := io.ReadAll(text)
	require.NoError(t, err)
	assert.Equal(t, "name\nJosé\n", string(out))
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"utf-8", "ISO-8859-1", "windows-1252", "Shift_JIS", "UTF-16LE"} {
		_, err := LookupEncoding(name)
		assert.NoError(t, err, name)
	}
	_, err := LookupEncoding("klingon")
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}

func TestDecodeBytes(t *testing.T) {
	assert.Equal(t, "a,b", DecodeBytes([]byte("\xEF\xBB\xBFa,b"), "utf-8"))
	assert.Equal(t, "café", DecodeBytes([]byte("caf\xe9"), "windows-1252"))
	assert.Equal(t, "caf�", DecodeBytes([]byte("caf\xe9"), "utf-8"))
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.csv")
	require.NoError(t, os.WriteFile(path, []byte("a;b\n1;2\n"), 0o644))

	f, err := Open(path, Dialect{Delimiter: ';'}, "")
	require.NoError(t, err)
	defer f.Close()

	recs, err := f.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, recs)
	assert.Equal(t, int64(8), f.Counter.BytesRead)
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}
