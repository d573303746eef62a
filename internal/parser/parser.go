// Package parser extracts question and answer entries from markdown files.
//
// An entry starts at a line beginning with "Q:" and may carry "A:" and "C:"
// (context) blocks. Blocks run until the next prefixed line; "---" on its
// own line ends the entry.
package parser

import (
	"bufio"
	"io"
	"os"
	"strings"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	separator      = "---"
)

// Entry is one question with its answer and optional context.
type Entry struct {
	Question string
	Answer   string
	Context  string
	// Line is where the question starts, counting from 1.
	Line int
}

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
)

var prefixes = map[state]string{
	readingQuestion: questionPrefix,
	readingAnswer:   answerPrefix,
	readingContext:  contextPrefix,
}

// ParseFile reads the file at path and extracts its entries.
func ParseFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}

type entryParser struct {
	entries []Entry
	current Entry
	block   []string
	state   state
}

// flushBlock stores the lines read so far into the field being read.
func (p *entryParser) flushBlock() {
	if len(p.block) == 0 {
		return
	}
	content := strings.Join(p.block, "\n")
	switch p.state {
	case readingQuestion:
		p.current.Question = content
	case readingAnswer:
		p.current.Answer = content
	case readingContext:
		p.current.Context = content
	}
	p.block = nil
}

func (p *entryParser) finish() {
	p.flushBlock()
	if p.current.Question != "" {
		p.entries = append(p.entries, p.current)
	}
	p.current = Entry{}
	p.state = seeking
}

func lineState(line string) state {
	for s, prefix := range prefixes {
		if strings.HasPrefix(line, prefix) {
			return s
		}
	}
	return seeking
}

// Parse reads entries from r.
func Parse(r io.Reader) ([]Entry, error) {
	scanner := bufio.NewScanner(r)
	p := &entryParser{}
	lineNo := 0

	for scanner.Scan() {
		line := scanner.Text()
		lineNo++

		if line == separator {
			p.finish()
			continue
		}

		next := lineState(line)
		if next == seeking {
			if p.state != seeking {
				p.block = append(p.block, line)
			}
			continue
		}

		p.flushBlock()
		if next == readingQuestion {
			// A new question always starts a new entry.
			if p.state != seeking {
				p.finish()
			}
			p.current.Line = lineNo
		}
		p.state = next
		content := strings.TrimPrefix(line[len(prefixes[next]):], " ")
		p.block = append(p.block, content)
	}

	p.finish()

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return p.entries, nil
}
