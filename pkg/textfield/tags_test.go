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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransportFormRoundTrip(t *testing.T) {
	const me = 42

	mention := "mention://user.100.200/Alice"

	wire := ConvertTagToTransportForm(mention, me)
	require.Equal(t, mention+":42", wire)
	require.Equal(t, mention, ConvertTransportFormToTag(wire, me))

	require.Equal(t, "bold", ConvertTagToTransportForm("bold", me))
	require.Equal(t, "bold", ConvertTransportFormToTag("bold", me))
}

func TestTransportFormRejectsForeignMentions(t *testing.T) {
	require.Empty(t, ConvertTransportFormToTag("mention://user.1.2:7", 42))
	require.Empty(t, ConvertTransportFormToTag("mention://user.1.2", 42))
	require.Empty(t, ConvertTransportFormToTag("mention://user.1.2:99999999999999999999", 42))
}

func TestTagsToEntities(t *testing.T) {
	tags := []Tag{
		{Offset: 0, Length: 5, ID: "mention://user.10.20"},
		{Offset: 6, Length: 3, ID: "mention://user.11.21/Bob"},
		{Offset: 10, Length: 2, ID: "mention://user.abc"},
		{Offset: 12, Length: 4, ID: "italic"},
	}

	entities := TagsToEntities(tags)
	require.Equal(t, []Entity{
		{Type: EntityMentionName, Offset: 0, Length: 5, Data: "10.20"},
		{Type: EntityMentionName, Offset: 6, Length: 3, Data: "11.21"},
	}, entities)

	require.Equal(t, []Tag{
		{Offset: 0, Length: 5, ID: "mention://user.10.20"},
		{Offset: 6, Length: 3, ID: "mention://user.11.21"},
	}, EntitiesToTags(entities))

	require.Nil(t, TagsToEntities(nil))
	require.Empty(t, EntitiesToTags([]Entity{{Type: EntityMentionName, Data: "10.20/x"}}))
}
