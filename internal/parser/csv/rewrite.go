package csv

import (
	"bytes"
	"io"

	"golang.org/x/text/transform"
)

// Replacement is a byte sequence rewritten before the bytes reach the CSV
// reader, for sources with a known malformed quoting pattern.
type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// scrub wraps r so every Replacement is applied in one left-to-right pass.
// Replaced text is not scanned again. At a position where several patterns
// match, the first listed wins.
func scrub(r io.Reader, reps []Replacement) io.Reader {
	var s scrubber
	for _, rep := range reps {
		if rep.From == "" || rep.From == rep.To {
			continue
		}
		s.from = append(s.from, []byte(rep.From))
		s.to = append(s.to, []byte(rep.To))
		s.first[rep.From[0]] = true
	}
	if len(s.from) == 0 {
		return r
	}
	return transform.NewReader(r, &s)
}

// scrubber is a transform.Transformer replacing byte patterns. A pattern cut
// by the end of src is held back with ErrShortSrc until more input arrives.
type scrubber struct {
	from, to [][]byte
	first    [256]bool
}

func (s *scrubber) Reset() {}

func (s *scrubber) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		// copy the run that cannot start a pattern
		run := nSrc
		for run < len(src) && !s.first[src[run]] {
			run++
		}
		if run > nSrc {
			n := copy(dst[nDst:], src[nSrc:run])
			nDst += n
			nSrc += n
			if nSrc < run {
				return nDst, nSrc, transform.ErrShortDst
			}
			continue
		}

		out, used, partial := s.match(src[nSrc:], atEOF)
		switch {
		case partial:
			return nDst, nSrc, transform.ErrShortSrc
		case used == 0:
			out, used = src[nSrc:nSrc+1], 1
		}
		if len(dst)-nDst < len(out) {
			return nDst, nSrc, transform.ErrShortDst
		}
		nDst += copy(dst[nDst:], out)
		nSrc += used
	}
	return nDst, nSrc, nil
}

// match reports the replacement for the first pattern at the start of b and
// the bytes it consumes. partial is set when, before the end of input, b ends
// inside a pattern listed ahead of any full match.
func (s *scrubber) match(b []byte, atEOF bool) (out []byte, used int, partial bool) {
	for i, from := range s.from {
		if bytes.HasPrefix(b, from) {
			return s.to[i], len(from), false
		}
		if !atEOF && len(b) < len(from) && bytes.HasPrefix(from, b) {
			return nil, 0, true
		}
	}
	return nil, 0, false
}
