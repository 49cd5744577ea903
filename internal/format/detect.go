package format

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/saintfish/chardet"

	"github.com/JonMunkholm/dropload/internal/csvread"
	"github.com/JonMunkholm/dropload/internal/schema"
)

// DefaultSampleBytes is the sample size used when the caller passes 0.
const DefaultSampleBytes = 64 * 1024

const (
	// chardet reports confidence as 0-100.
	minEncodingConfidence = 70

	analysisLines   = 10
	maxSkipLines    = 10
	typicalLines    = 100
	headerThreshold = 0.3
	maxLineBytes    = 16 * 1024 * 1024
)

var delimiterCandidates = []rune{',', ';', '|', '\t'}

var headerKeywords = []string{"id", "name", "date", "time", "code", "description", "value", "amount"}

// Detect sniffs the dialect of the file at path from its first sampleBytes
// bytes. The trailer check rescans the whole file. Detect never fails: when
// the file cannot be read or analysed the returned Spec is Degraded and Note
// says why.
func Detect(path string, sampleBytes int) (spec Spec) {
	defer func() {
		if r := recover(); r != nil {
			spec = Degraded(fmt.Sprintf("detection failed: %v", r))
		}
	}()

	if sampleBytes <= 0 {
		sampleBytes = DefaultSampleBytes
	}

	f, err := os.Open(path)
	if err != nil {
		return Degraded(fmt.Sprintf("open sample: %v", err))
	}
	defer f.Close()

	buf := make([]byte, sampleBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Degraded(fmt.Sprintf("read sample: %v", err))
	}

	d := &detector{
		sample:    buf[:n],
		truncated: n == sampleBytes,
		rescan:    func(s Spec) (*lineWindow, error) { return rescanFile(path, s) },
	}
	return d.run()
}

// DetectBytes detects the dialect of an in-memory document.
func DetectBytes(data []byte) (spec Spec) {
	defer func() {
		if r := recover(); r != nil {
			spec = Degraded(fmt.Sprintf("detection failed: %v", r))
		}
	}()
	return (&detector{sample: data}).run()
}

type detector struct {
	sample    []byte
	truncated bool
	rescan    func(Spec) (*lineWindow, error)
}

func (d *detector) run() Spec {
	enc := detectEncoding(d.sample)
	text := csvread.DecodeBytes(d.sample, enc)
	if d.truncated {
		// Drop the partial last line.
		if i := strings.LastIndexAny(text, "\r\n"); i > 0 {
			text = text[:i+1]
		}
	}

	if strings.TrimSpace(text) == "" {
		s := Degraded("empty or whitespace-only content")
		s.Encoding = enc
		return s
	}

	lines := splitLines(text)
	if countNonEmpty(lines) < 2 {
		s := Degraded("fewer than two lines")
		s.Encoding = enc
		return s
	}

	spec := Default()
	spec.Encoding = enc
	spec.RowDelimiter = detectRowDelimiter(text)

	spec.SkipLines = detectSkipLines(lines)
	body := lines[spec.SkipLines:]
	window := firstNonEmpty(body, analysisLines)

	delim, consistency := detectDelimiter(window)
	spec.ColumnDelimiter = string(delim)
	spec.HeaderDelimiter = detectHeaderDelimiter(window[0], delim)
	spec.TextQualifier = detectQualifier(body, window, delim)
	spec.HasHeader = detectHeader(window, spec)

	spec.HasTrailer, spec.TrailerLine = d.detectTrailer(spec, body)

	spec.Confidence = confidence(text, spec.TextQualifier, consistency)
	return spec
}

func detectEncoding(raw []byte) string {
	if isASCII(raw) {
		return csvread.DefaultEncoding
	}
	res, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || res == nil || res.Confidence <= minEncodingConfidence {
		return csvread.DefaultEncoding
	}
	if csvread.IsUTF8(res.Charset) {
		return csvread.DefaultEncoding
	}
	if _, err := csvread.LookupEncoding(res.Charset); err != nil {
		return csvread.DefaultEncoding
	}
	return res.Charset
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// splitLines splits on CRLF, LF and bare CR. A trailing line break does not
// produce an extra empty line.
func splitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			lines = append(lines, text[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, text[start:i])
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

func countNonEmpty(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

func firstNonEmpty(lines []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, l := range lines {
		if len(out) == limit {
			break
		}
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}

func detectRowDelimiter(text string) string {
	crlf := strings.Count(text, "\r\n")
	cr := strings.Count(text, "\r") - crlf
	lf := strings.Count(text, "\n") - crlf

	best, count := csvread.LF, lf
	if crlf > count {
		best, count = csvread.CRLF, crlf
	}
	if cr > count {
		best = csvread.CR
	}
	return best
}

// scoreDelimiter returns avg_per_line * consistency for c over lines, where
// consistency = 1 - (max-min)/(max+1).
func scoreDelimiter(lines []string, c rune) (score, consistency float64) {
	if len(lines) == 0 {
		return 0, 1
	}
	sep := string(c)
	minN, maxN, sum := -1, 0, 0
	for _, l := range lines {
		n := strings.Count(l, sep)
		sum += n
		if minN < 0 || n < minN {
			minN = n
		}
		if n > maxN {
			maxN = n
		}
	}
	consistency = 1 - float64(maxN-minN)/float64(maxN+1)
	avg := float64(sum) / float64(len(lines))
	return avg * consistency, consistency
}

// detectDelimiter picks the best scoring candidate. No signal or a tie for
// the top score falls back to comma.
func detectDelimiter(lines []string) (rune, float64) {
	best, bestScore, bestConsistency := ',', 0.0, 0.0
	tied := false
	for _, c := range delimiterCandidates {
		score, consistency := scoreDelimiter(lines, c)
		switch {
		case score > bestScore:
			best, bestScore, bestConsistency, tied = c, score, consistency, false
		case score == bestScore && score > 0:
			tied = true
		}
	}
	if bestScore == 0 || tied {
		_, consistency := scoreDelimiter(lines, ',')
		return ',', consistency
	}
	return best, bestConsistency
}

// detectSkipLines counts leading blank lines and preamble lines that hold no
// candidate delimiter when a delimited block follows them.
func detectSkipLines(lines []string) int {
	skip := 0
	for skip < len(lines) && skip < maxSkipLines && strings.TrimSpace(lines[skip]) == "" {
		skip++
	}

	for j := skip; j < len(lines) && j <= maxSkipLines; j++ {
		if !hasAnyDelimiter(lines[j]) {
			continue
		}
		// Only a preamble if the block continues past its first line.
		if next := firstNonEmpty(lines[j+1:], 1); len(next) == 1 && hasAnyDelimiter(next[0]) {
			skip = j
		}
		break
	}

	if countNonEmpty(lines[skip:]) < 2 {
		return 0
	}
	return skip
}

func hasAnyDelimiter(line string) bool {
	for _, c := range delimiterCandidates {
		if strings.ContainsRune(line, c) {
			return true
		}
	}
	return false
}

func detectHeaderDelimiter(header string, delim rune) string {
	if strings.ContainsRune(header, delim) {
		return string(delim)
	}
	best, bestN := delim, 0
	for _, c := range delimiterCandidates {
		if n := strings.Count(header, string(c)); n > bestN {
			best, bestN = c, n
		}
	}
	return string(best)
}

// detectQualifier counts quote characters adjacent to a delimiter or a line
// boundary.
func detectQualifier(body, window []string, delim rune) string {
	d := string(delim)
	count := func(q string) int {
		n := 0
		for _, l := range body {
			n += strings.Count(l, q+d) + strings.Count(l, d+q)
			if strings.HasPrefix(l, q) {
				n++
			}
			if len(l) > 1 && strings.HasSuffix(l, q) {
				n++
			}
		}
		return n
	}

	dq, sq := count(`"`), count("'")
	switch {
	case dq >= sq && dq > 0:
		return `"`
	case sq > 0:
		return "'"
	case needsQuoting(window, delim):
		return `"`
	}
	return ""
}

// needsQuoting reports whether the delimiter count varies between lines,
// which happens when some field contains the delimiter itself.
func needsQuoting(lines []string, delim rune) bool {
	first := -1
	for _, l := range lines {
		n := strings.Count(l, string(delim))
		if first < 0 {
			first = n
			continue
		}
		if n != first {
			return true
		}
	}
	return false
}

type cellKind int

const (
	kindEmpty cellKind = iota
	kindString
	kindNumber
	kindDate
)

func kindOf(v string) cellKind {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return kindEmpty
	case schema.IsNumber(v):
		return kindNumber
	case schema.IsDate(v):
		return kindDate
	}
	return kindString
}

// detectHeader decides whether the first row is a header. Anything that goes
// wrong while deciding counts as a header.
func detectHeader(window []string, spec Spec) (has bool) {
	defer func() {
		if r := recover(); r != nil {
			has = true
		}
	}()

	if len(window) < 2 {
		return true
	}
	first := csvread.ParseLine(window[0], spec.HeaderDialect())
	second := csvread.ParseLine(window[1], spec.Dialect())
	if len(first) != len(second) {
		return true
	}

	allStrings, anyNumber := true, false
	for i := range first {
		if kindOf(first[i]) != kindString {
			allStrings = false
		}
		if kindOf(second[i]) == kindNumber {
			anyNumber = true
		}
	}
	if allStrings && anyNumber {
		return true
	}

	matches := 0
	for _, cell := range first {
		lower := strings.ToLower(cell)
		for _, kw := range headerKeywords {
			if strings.Contains(lower, kw) {
				matches++
				break
			}
		}
	}
	return float64(matches)/float64(len(first)) >= headerThreshold
}

// lineWindow keeps what the trailer rule needs from a stream of non-empty
// lines: the first few and the last two.
type lineWindow struct {
	head  []string
	prev  string
	last  string
	count int
}

func (w *lineWindow) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if len(w.head) < typicalLines+2 {
		w.head = append(w.head, line)
	}
	w.prev, w.last = w.last, line
	w.count++
}

func windowOf(lines []string) *lineWindow {
	w := &lineWindow{}
	for _, l := range lines {
		w.add(l)
	}
	return w
}

func (d *detector) detectTrailer(spec Spec, body []string) (bool, string) {
	if d.rescan != nil {
		if w, err := d.rescan(spec); err == nil {
			return trailerRule(w, spec)
		}
	}
	return trailerRule(windowOf(body), spec)
}

// trailerRule flags the last line as a trailer when its column count differs
// from the line before it and that line has the typical data column count.
func trailerRule(w *lineWindow, spec Spec) (bool, string) {
	if w.count < 2 {
		return false, ""
	}
	dialect := spec.Dialect()
	lastN := len(csvread.ParseLine(w.last, dialect))
	prevN := len(csvread.ParseLine(w.prev, dialect))
	if lastN == prevN {
		return false, ""
	}

	start := 0
	if spec.HasHeader {
		start = 1
	}
	end := len(w.head)
	if w.count <= len(w.head) {
		end = w.count - 1
	}
	var counts []int
	for i := start; i < end && len(counts) < typicalLines; i++ {
		counts = append(counts, len(csvread.ParseLine(w.head[i], dialect)))
	}

	typical, ok := typicalCount(counts)
	if ok && prevN != typical {
		return false, ""
	}
	return true, w.last
}

// typicalCount returns the most frequent count, preferring the smallest on a
// tie.
func typicalCount(counts []int) (int, bool) {
	if len(counts) == 0 {
		return 0, false
	}
	freq := make(map[int]int, len(counts))
	for _, c := range counts {
		freq[c]++
	}
	best, bestFreq := 0, 0
	for c, n := range freq {
		if n > bestFreq || (n == bestFreq && c < best) {
			best, bestFreq = c, n
		}
	}
	return best, true
}

func rescanFile(path string, spec Spec) (*lineWindow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	text, _, err := csvread.Wrap(f, 0, spec.Encoding)
	if err != nil {
		return nil, err
	}

	sc := bufio.NewScanner(text)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	if spec.RowDelimiter == csvread.CR {
		sc.Split(scanCRLines)
	}

	w := &lineWindow{}
	for i := 0; sc.Scan(); i++ {
		if i < spec.SkipLines {
			continue
		}
		w.add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return w, nil
}

func scanCRLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\r'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func confidence(text, qualifier string, consistency float64) float64 {
	c := 0.5 + 0.3*consistency
	q := qualifier
	if q == "" {
		q = `"`
	}
	if strings.Count(text, q)%2 == 0 {
		c += 0.2
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
