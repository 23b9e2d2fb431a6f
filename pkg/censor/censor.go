// Package censor implements the banned vocabulary check applied to forum posts
// and replies.
package censor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"
)

// Word is one entry of the banned vocabulary. Pattern is matched against every
// whitespace separated token; a match equal to one of Exceptions is allowed.
type Word struct {
	Text       string   `json:"text"`
	Pattern    string   `json:"pattern"`
	Exceptions []string `json:"exceptions"`

	re *regexp.Regexp
}

type Censor struct {
	words []Word
}

// New returns a Censor with no banned words, which accepts any text.
func New() *Censor {
	return &Censor{}
}

// LoadFromJSON loads banned words from a JSON file and compiles their patterns.
func (c *Censor) LoadFromJSON(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return c.Load(f)
}

// Load reads a JSON array of words from r. The current word list is replaced
// only if every pattern compiles.
func (c *Censor) Load(r io.Reader) error {
	var words []Word
	if err := json.NewDecoder(r).Decode(&words); err != nil {
		return err
	}

	for i, w := range words {
		re, err := regexp.Compile(w.Pattern)
		if err != nil {
			return fmt.Errorf("failed to compile pattern %q: %w", w.Pattern, err)
		}
		words[i].re = re
	}

	c.words = words
	return nil
}

// Len returns the number of loaded words.
func (c *Censor) Len() int {
	return len(c.words)
}

// homoglyphs maps Cyrillic and Greek letters to the Latin letters they
// imitate.
var homoglyphs = map[rune]rune{
	'а': 'a', 'в': 'b', 'е': 'e', 'ё': 'e', 'к': 'k', 'м': 'm', 'н': 'h', 'о': 'o',
	'р': 'p', 'с': 'c', 'т': 't', 'у': 'y', 'х': 'x', 'і': 'i', 'ј': 'j', 'ѕ': 's',
	'ԁ': 'd', 'ү': 'y', 'һ': 'h',
	'α': 'a', 'β': 'b', 'ε': 'e', 'η': 'n', 'ι': 'i', 'κ': 'k', 'ν': 'v', 'ο': 'o',
	'ρ': 'p', 'τ': 't', 'υ': 'u', 'χ': 'x', 'ⲟ': 'o', 'ⲣ': 'p', 'ⲥ': 'c', 'ⲭ': 'x',
	'ⲩ': 'y', 'ⲉ': 'e', 'ⲁ': 'a', 'ⲓ': 'i', 'ⲕ': 'k', 'ⲙ': 'm', 'ⲛ': 'n', 'ⲧ': 't',
	'0': 'o', '1': 'i', '3': 'e', '4': 'a', '5': 's', '@': 'a', '$': 's',
}

func normalize(text string) string {
	return strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if l, ok := homoglyphs[r]; ok {
			return l
		}
		return r
	}, text)
}

// Check reports whether text contains a banned word. Matching is
// case-insensitive and folds common look-alike letters to Latin before
// applying the patterns.
func (c *Censor) Check(text string) bool {
	for _, token := range strings.Fields(normalize(text)) {
		for _, w := range c.words {
			match := w.re.FindString(token)
			if match == "" {
				continue
			}

			if !w.isException(match) {
				return true
			}
		}
	}

	return false
}

func (w *Word) isException(match string) bool {
	for _, exc := range w.Exceptions {
		if exc == match {
			return true
		}
	}
	return false
}
