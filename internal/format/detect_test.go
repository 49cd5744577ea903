package format

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/JonMunkholm/dropload/internal/csvread"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDetect_SimpleHeader(t *testing.T) {
	spec := Detect(writeFile(t, "a,b,c\n1,2,3\n"), 0)

	assert.False(t, spec.Degraded, spec.Note)
	assert.Equal(t, ",", spec.ColumnDelimiter)
	assert.Equal(t, "\n", spec.RowDelimiter)
	assert.True(t, spec.HasHeader)
	assert.False(t, spec.HasTrailer)
	assert.Equal(t, "utf-8", spec.Encoding)
	assert.InDelta(t, 1.0, spec.Confidence, 1e-9)
}

func TestDetect_Trailer(t *testing.T) {
	spec := Detect(writeFile(t, "id,name\n1,Bob\n2,Sue\nTOTAL:2\n"), 0)

	assert.True(t, spec.HasHeader)
	assert.True(t, spec.HasTrailer)
	assert.Equal(t, "TOTAL:2", spec.TrailerLine)
}

func TestDetect_TrailerBeyondSample(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id,name,amount\n")
	for i := 0; i < 500; i++ {
		sb.WriteString("1,somebody with a long name,12.50\n")
	}
	sb.WriteString("Rows: 500\n")

	spec := Detect(writeFile(t, sb.String()), 256)

	assert.True(t, spec.HasTrailer)
	assert.Equal(t, "Rows: 500", spec.TrailerLine)
}

func TestDetect_NoTrailerWhenLastMatches(t *testing.T) {
	spec := DetectBytes([]byte("id,name\n1,Bob\n2,Sue\n3,Ann\n"))
	assert.False(t, spec.HasTrailer)
	assert.Empty(t, spec.TrailerLine)
}

func TestDetect_Delimiters(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"semicolon", "a;b;c\n1;2;3\n4;5;6\n", ";"},
		{"pipe", "a|b\n1|2\n", "|"},
		{"tab", "a\tb\tc\n1\t2\t3\n", "\t"},
		{"comma beats inconsistent semicolon", "a,b;x,c\n1,2,3\n4,5,6\n", ","},
		{"no delimiter defaults to comma", "name\nAlice\nBob\n", ","},
		{"tie defaults to comma", "a;b|c\n1;2|3\n", ","},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBytes([]byte(tt.input)).ColumnDelimiter)
		})
	}
}

func TestDetect_RowDelimiter(t *testing.T) {
	assert.Equal(t, "\r\n", DetectBytes([]byte("a,b\r\n1,2\r\n")).RowDelimiter)
	assert.Equal(t, "\r", DetectBytes([]byte("a,b\r1,2\r")).RowDelimiter)
	assert.Equal(t, "\n", DetectBytes([]byte("a,b\n1,2\n")).RowDelimiter)
}

func TestDetect_Qualifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"double quotes", "id,name\n1,\"Smith, Bob\"\n2,\"Lee\"\n", `"`},
		{"single quotes", "id,name\n1,'Smith'\n2,'Lee'\n", "'"},
		{"apostrophe inside value is not a qualifier", "id,name\n1,O'Brien\n2,Lee\n", ""},
		{"none", "id,name\n1,Bob\n2,Sue\n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBytes([]byte(tt.input)).TextQualifier)
		})
	}
}

func TestDetect_Header(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"strings over numbers", "first,second\n1,2\n", true},
		{"column count differs", "a,b\nx,y,z\n", true},
		{"keywords", "customer_id,customer_name\nabc,def\n", true},
		{"data only", "alpha,beta\ngamma,delta\n", false},
		{"numbers first row", "1,2\n3,4\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectBytes([]byte(tt.input)).HasHeader)
		})
	}
}

func TestDetect_SkipLines(t *testing.T) {
	spec := DetectBytes([]byte("Monthly export\nGenerated 2024-01-31\n\nid,name\n1,Bob\n2,Sue\n"))

	assert.Equal(t, 3, spec.SkipLines)
	assert.Equal(t, ",", spec.ColumnDelimiter)
	assert.True(t, spec.HasHeader)
}

func TestDetect_SingleColumnKeepsFirstLine(t *testing.T) {
	spec := DetectBytes([]byte("name\nAlice\nBob\n"))
	assert.Equal(t, 0, spec.SkipLines)
}

func TestDetect_HeaderDelimiter(t *testing.T) {
	spec := DetectBytes([]byte("id|name\n1,Bob\n2,Sue\n3,Ann\n"))
	assert.Equal(t, ",", spec.ColumnDelimiter)
	assert.Equal(t, "|", spec.HeaderDelimiter)
}

func TestDetect_Degraded(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "  \n\t\n"},
		{"one line", "a,b,c\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := DetectBytes([]byte(tt.input))
			assert.True(t, spec.Degraded)
			assert.NotEmpty(t, spec.Note)
			assert.Equal(t, ",", spec.ColumnDelimiter)
			assert.Equal(t, "\n", spec.RowDelimiter)
			assert.Equal(t, `"`, spec.TextQualifier)
			assert.True(t, spec.HasHeader)
			assert.False(t, spec.HasTrailer)
			assert.Zero(t, spec.Confidence)
		})
	}
}

func TestDetect_MissingFile(t *testing.T) {
	spec := Detect(filepath.Join(t.TempDir(), "nope.csv"), 0)
	assert.True(t, spec.Degraded)
	assert.Contains(t, spec.Note, "open sample")
}

func TestDetect_Latin1(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id,name,city\n")
	for i := 0; i < 50; i++ {
		sb.WriteString("1,José Müller,Göteborg är en stad där många människor bor\n")
	}
	encoded, err := charmap.ISO8859_1.NewEncoder().String(sb.String())
	require.NoError(t, err)

	spec := Detect(writeFile(t, encoded), 0)
	assert.False(t, spec.Degraded)
	assert.Equal(t, ",", spec.ColumnDelimiter)
	assert.True(t, spec.HasHeader)
	_, err = csvread.LookupEncoding(spec.Encoding)
	assert.NoError(t, err)
}

func TestDetectEncoding(t *testing.T) {
	assert.Equal(t, "utf-8", detectEncoding([]byte("plain ascii,text\n")))
	assert.Equal(t, "utf-8", detectEncoding([]byte("name,city\nJosé,Göteborg\nZoë,Malmö\nRené,Zürich\n")))
}

func TestDetect_NeverPanics(t *testing.T) {
	inputs := []string{
		"a,b\n\"unterminated\n",
		"\"\"\"\n\"\"\n",
		"\x00\x01\x02\n\xff\xfe\n",
		",,,,\n;;;;\n",
		"\r\r\r\na\r\n",
		"x\n" + strings.Repeat("y,", 10000) + "\n",
		"\xef\xbb\xbfa,b\n1,2\n",
		"'\n'\n'\n",
	}

	for _, in := range inputs {
		spec := DetectBytes([]byte(in))
		assert.LessOrEqual(t, len([]rune(spec.ColumnDelimiter)), 1, "%q", in)
		assert.Len(t, []rune(spec.ColumnDelimiter), 1, "%q", in)
		assert.LessOrEqual(t, len([]rune(spec.TextQualifier)), 1, "%q", in)
		assert.GreaterOrEqual(t, spec.Confidence, 0.0)
		assert.LessOrEqual(t, spec.Confidence, 1.0)
	}
}

func TestTypicalCount_TieTakesSmallest(t *testing.T) {
	got, ok := typicalCount([]int{3, 2, 3, 2, 5})
	assert.True(t, ok)
	assert.Equal(t, 2, got)

	_, ok = typicalCount(nil)
	assert.False(t, ok)
}

func TestScoreDelimiter(t *testing.T) {
	score, consistency := scoreDelimiter([]string{"a,b,c", "1,2", "x"}, ',')
	// avg = (2+1+0)/3 = 1, consistency = 1 - 2/3
	assert.InDelta(t, 1.0/3.0, consistency, 1e-9)
	assert.InDelta(t, 1.0/3.0, score, 1e-9)
}
