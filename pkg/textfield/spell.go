// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package textfield

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/agnivade/levenshtein"
	"golang.org/x/exp/slices"
)

const (
	maxSuggestions     = 5
	maxSuggestDistance = 2
)

// SpellChecker checks words for one language.
type SpellChecker interface {
	IsWordCorrect(word string) bool
	Suggestions(word string) []string
}

// Loader returns the checker for a language tag such as "en_US".
type Loader func(lang string) (SpellChecker, error)

// Dictionary is a word-list SpellChecker.
type Dictionary struct {
	words map[string]struct{}
	list  []string
}

// LoadDictionary reads one word per line. Hunspell .dic files work too: a
// leading count line is skipped and affix flags after '/' are dropped.
func LoadDictionary(r io.Reader) (*Dictionary, error) {
	d := &Dictionary{words: make(map[string]struct{})}
	scanner := bufio.NewScanner(r)
	first := true

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if first {
			first = false

			if _, err := strconv.Atoi(line); err == nil {
				continue
			}
		}

		word, _, _ := strings.Cut(line, "/")
		if word == "" || strings.HasPrefix(word, "#") {
			continue
		}

		word = strings.ToLower(word)
		if _, ok := d.words[word]; ok {
			continue
		}

		d.words[word] = struct{}{}
		d.list = append(d.list, word)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading dictionary: %w", err)
	}

	return d, nil
}

// Len returns the number of distinct words.
func (d *Dictionary) Len() int {
	return len(d.list)
}

func (d *Dictionary) IsWordCorrect(word string) bool {
	_, ok := d.words[strings.ToLower(word)]

	return ok
}

// Suggestions returns the closest words by edit distance, nearest first.
func (d *Dictionary) Suggestions(word string) []string {
	type candidate struct {
		word string
		dist int
	}

	word = strings.ToLower(word)

	var candidates []candidate

	for _, w := range d.list {
		if abs(len(w)-len(word)) > maxSuggestDistance {
			continue
		}

		if dist := levenshtein.ComputeDistance(word, w); dist > 0 && dist <= maxSuggestDistance {
			candidates = append(candidates, candidate{w, dist})
		}
	}

	slices.SortFunc(candidates, func(a, b candidate) int {
		if a.dist != b.dist {
			return a.dist - b.dist
		}

		return strings.Compare(a.word, b.word)
	})

	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}

	result := make([]string, len(candidates))
	for i, c := range candidates {
		result[i] = c.word
	}

	return result
}

func abs(n int) int {
	if n < 0 {
		return -n
	}

	return n
}

// DirLoader loads <dir>/<lang>.dic.
func DirLoader(dir string) Loader {
	return func(lang string) (SpellChecker, error) {
		f, err := os.Open(filepath.Join(dir, lang+".dic"))
		if err != nil {
			return nil, fmt.Errorf("open dictionary %s: %w", lang, err)
		}
		defer f.Close() //nolint:errcheck // Read only.

		return LoadDictionary(f)
	}
}

// SpellHelperSet checks words against every loaded language.
type SpellHelperSet struct {
	load Loader

	lock    sync.RWMutex
	langs   []string
	helpers map[string]SpellChecker
}

func NewSpellHelperSet(load Loader) *SpellHelperSet {
	return &SpellHelperSet{load: load, helpers: make(map[string]SpellChecker)}
}

// AddLanguages loads each language not loaded yet. Languages that fail to
// load are skipped and reported together.
func (s *SpellHelperSet) AddLanguages(langs ...string) error {
	var errs []error

	for _, lang := range langs {
		s.lock.RLock()
		_, ok := s.helpers[lang]
		s.lock.RUnlock()

		if ok {
			continue
		}

		helper, err := s.load(lang)
		if err != nil {
			errs = append(errs, err)

			continue
		}

		s.lock.Lock()
		if _, ok := s.helpers[lang]; !ok {
			s.helpers[lang] = helper
			s.langs = append(s.langs, lang)
		}
		s.lock.Unlock()
	}

	return errors.Join(errs...)
}

// Languages returns the loaded languages in the order they were added.
func (s *SpellHelperSet) Languages() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return slices.Clone(s.langs)
}

// IsWordCorrect is true if any language knows word, or none are loaded.
func (s *SpellHelperSet) IsWordCorrect(word string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if len(s.langs) == 0 {
		return true
	}

	for _, lang := range s.langs {
		if s.helpers[lang].IsWordCorrect(word) {
			return true
		}
	}

	return false
}

// Suggestions returns one list per language, in language order.
func (s *SpellHelperSet) Suggestions(word string) [][]string {
	s.lock.RLock()
	defer s.lock.RUnlock()

	result := make([][]string, 0, len(s.langs))
	for _, lang := range s.langs {
		result = append(result, s.helpers[lang].Suggestions(word))
	}

	return result
}
