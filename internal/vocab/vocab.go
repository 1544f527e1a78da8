// Package vocab loads decoder token tables and renders decoded id sequences
// back to text.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// wordMarker is the sentencepiece word-boundary marker.
const wordMarker = "▁"

// Table maps token ids to their surface strings.
type Table struct {
	tokens []string
	ids    map[string]int
}

// Load reads a token table from path. Files ending in .json hold a JSON array
// of token strings indexed by id; anything else is read as text, either one
// token per line (line number = id) or "token id" pairs. In the pair form id
// 0 may be left out and defaults to "<blank>", matching the usual CTC
// dictionary convention.
func Load(path string) (*Table, error) {
	if filepath.Ext(path) == ".json" {
		return loadJSON(path)
	}
	return loadText(path)
}

func loadJSON(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, fmt.Errorf("parse token json: %w", err)
	}
	return FromTokens(tokens), nil
}

func loadText(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var (
		tokens  []string
		indexed map[int]string
		lineNo  int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		lineNo++
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 2 {
			if id, convErr := strconv.Atoi(fields[1]); convErr == nil {
				if indexed == nil {
					indexed = make(map[int]string)
				}
				if _, dup := indexed[id]; dup {
					return nil, fmt.Errorf("token table line %d: duplicate id %d", lineNo, id)
				}
				indexed[id] = fields[0]
				continue
			}
		}
		if indexed != nil {
			return nil, fmt.Errorf("token table line %d: mixed plain and indexed entries", lineNo)
		}
		tokens = append(tokens, fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read token table: %w", err)
	}

	if indexed != nil {
		return fromIndexed(indexed)
	}
	return FromTokens(tokens), nil
}

func fromIndexed(indexed map[int]string) (*Table, error) {
	maxID := 0
	for id := range indexed {
		if id < 0 {
			return nil, fmt.Errorf("token table: negative id %d", id)
		}
		if id > maxID {
			maxID = id
		}
	}
	tokens := make([]string, maxID+1)
	for id, tok := range indexed {
		tokens[id] = tok
	}
	for id, tok := range tokens {
		if tok != "" {
			continue
		}
		if id == 0 {
			tokens[0] = "<blank>"
			continue
		}
		return nil, fmt.Errorf("token table: gap at id %d", id)
	}
	return FromTokens(tokens), nil
}

// FromTokens builds a table from an in-memory token list. When a token string
// repeats, lookups by string resolve to its first id.
func FromTokens(tokens []string) *Table {
	t := &Table{
		tokens: tokens,
		ids:    make(map[string]int, len(tokens)),
	}
	for id, tok := range tokens {
		if _, seen := t.ids[tok]; !seen {
			t.ids[tok] = id
		}
	}
	return t
}

// Size returns the number of tokens.
func (t *Table) Size() int { return len(t.tokens) }

// Token returns the surface string for id, or a placeholder for ids outside
// the table.
func (t *Table) Token(id int) string {
	if id < 0 || id >= len(t.tokens) {
		return fmt.Sprintf("<unk:%d>", id)
	}
	return t.tokens[id]
}

// ID returns the id of a token string.
func (t *Table) ID(token string) (int, bool) {
	id, ok := t.ids[token]
	return id, ok
}

// Tokens returns the surface strings for each id in ids.
func (t *Table) Tokens(ids []int) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.Token(id)
	}
	return out
}

// Render joins the tokens for ids into display text. Sentencepiece word
// markers and <space> placeholders become spaces; leading space is trimmed.
func (t *Table) Render(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		tok := t.Token(id)
		switch {
		case tok == "<space>":
			b.WriteByte(' ')
		case strings.Contains(tok, wordMarker):
			b.WriteString(strings.ReplaceAll(tok, wordMarker, " "))
		default:
			b.WriteString(tok)
		}
	}
	return strings.TrimLeft(b.String(), " ")
}
