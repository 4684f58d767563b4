package ldap

import (
	"bufio"
	"io"
	"strings"
)

// TargetSource is a forward-only sequence of target DNs. Next returns false
// once the source is exhausted.
type TargetSource interface {
	Next() (string, bool, error)
}

// SliceTargets yields targets from an in-memory list.
type SliceTargets struct {
	targets []string
	pos     int
}

// NewSliceTargets creates a target source over targets.
func NewSliceTargets(targets ...string) *SliceTargets {
	return &SliceTargets{targets: targets}
}

func (s *SliceTargets) Next() (string, bool, error) {
	if s.pos >= len(s.targets) {
		return "", false, nil
	}
	target := s.targets[s.pos]
	s.pos++
	return target, true, nil
}

// LineTargets reads one target per line. Blank lines and lines starting
// with # are skipped.
type LineTargets struct {
	scanner *bufio.Scanner
}

// NewLineTargets creates a target source reading lines from r incrementally.
func NewLineTargets(r io.Reader) *LineTargets {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LineTargets{scanner: scanner}
}

func (l *LineTargets) Next() (string, bool, error) {
	for l.scanner.Scan() {
		line := strings.TrimSpace(l.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, true, nil
	}
	return "", false, l.scanner.Err()
}
