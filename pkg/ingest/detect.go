package ingest

import (
	"bytes"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gonum.org/v1/gonum/stat"
)

// Encoding names the character set a text file was written in.
type Encoding string

const (
	EncodingASCII   Encoding = "ascii"
	EncodingUTF8    Encoding = "utf-8"
	EncodingUTF8BOM Encoding = "utf-8-sig"
	EncodingUTF16LE Encoding = "utf-16le"
	EncodingUTF16BE Encoding = "utf-16be"
	EncodingLatin1  Encoding = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DetectEncoding identifies the character encoding of a sample.
// Byte order marks win; valid UTF-8 is next; anything else is read as
// Windows-1252, a superset of Latin-1 that spreadsheet exports favour.
func DetectEncoding(sample []byte) Encoding {
	switch {
	case bytes.HasPrefix(sample, utf8BOM):
		return EncodingUTF8BOM
	case bytes.HasPrefix(sample, []byte{0xFF, 0xFE}):
		return EncodingUTF16LE
	case bytes.HasPrefix(sample, []byte{0xFE, 0xFF}):
		return EncodingUTF16BE
	}
	if !utf8.Valid(sample) {
		return EncodingLatin1
	}
	for _, b := range sample {
		if b > 127 {
			return EncodingUTF8
		}
	}
	return EncodingASCII
}

func decoder(enc Encoding) encoding.Encoding {
	switch enc {
	case EncodingUTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	case EncodingUTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	case EncodingLatin1:
		return charmap.Windows1252
	}
	return nil
}

// ToUTF8 converts raw file content to UTF-8 and strips any BOM.
func ToUTF8(data []byte, enc Encoding) ([]byte, error) {
	if dec := decoder(enc); dec != nil {
		out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), dec.NewDecoder()))
		if err != nil {
			return nil, err
		}
		data = out
	}
	return bytes.TrimPrefix(data, utf8BOM), nil
}

var delimiterCandidates = []rune{',', '\t', ';', '|'}

// DetectDelimiter picks the separator whose per-line count is the most
// stable across the sample. Quoted sections are ignored when counting.
func DetectDelimiter(sample []byte) rune {
	lines := sampleLines(sample, 20)
	if len(lines) == 0 {
		return ','
	}

	best := ','
	bestScore := -1.0
	for _, d := range delimiterCandidates {
		counts := make([]float64, 0, len(lines))
		for _, line := range lines {
			counts = append(counts, float64(countOutsideQuotes(line, d)))
		}
		if counts[0] == 0 {
			continue
		}
		mean, variance := stat.PopMeanVariance(counts, nil)
		// Stable counts score high; more columns break ties.
		score := mean / (1 + variance)
		if score > bestScore {
			bestScore = score
			best = d
		}
	}
	return best
}

func sampleLines(sample []byte, limit int) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(sample, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, line)
		if len(lines) == limit {
			break
		}
	}
	return lines
}

func countOutsideQuotes(line []byte, d rune) int {
	n := 0
	quoted := false
	for _, r := range string(line) {
		switch {
		case r == '"':
			quoted = !quoted
		case r == d && !quoted:
			n++
		}
	}
	return n
}
