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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const englishDic = `6
hello/MS
help
helm
world/M
word
hello
`

func TestDictionary(t *testing.T) {
	d, err := LoadDictionary(strings.NewReader(englishDic))
	require.NoError(t, err)
	require.Equal(t, 5, d.Len())

	require.True(t, d.IsWordCorrect("Hello"))
	require.False(t, d.IsWordCorrect("helo"))

	require.Equal(t, []string{"hello", "helm", "help"}, d.Suggestions("helo"))
	require.Equal(t, []string{"word", "world"}, d.Suggestions("wordl"))
	require.Empty(t, d.Suggestions("xylophone"))
}

func TestSpellHelperSet(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "en_US.dic"), []byte(englishDic), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ru_RU.dic"), []byte("привет\nмир\n"), 0o600))

	s := NewSpellHelperSet(DirLoader(dir))
	require.True(t, s.IsWordCorrect("anything"), "no languages loaded")

	err := s.AddLanguages("ru_RU", "en_US", "de_DE", "en_US")
	require.ErrorIs(t, err, os.ErrNotExist)
	require.Equal(t, []string{"ru_RU", "en_US"}, s.Languages())

	require.True(t, s.IsWordCorrect("мир"))
	require.True(t, s.IsWordCorrect("world"))
	require.False(t, s.IsWordCorrect("wrld"))

	suggestions := s.Suggestions("wrld")
	require.Len(t, suggestions, 2)
	require.Empty(t, suggestions[0])
	require.Equal(t, "world", suggestions[1][0])
}

func TestSpellHelperSetLoaderError(t *testing.T) {
	broken := errors.New("broken")
	s := NewSpellHelperSet(func(string) (SpellChecker, error) { return nil, broken })

	require.ErrorIs(t, s.AddLanguages("en_US"), broken)
	require.Empty(t, s.Languages())
}
