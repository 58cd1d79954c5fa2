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

// Package textfield holds the text-tag transport conversions and the
// spellcheck lookup used by the message composer.
package textfield

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	mentionPrefix     = "mention://"
	mentionUserPrefix = "mention://user."
)

var (
	transportUserSuffix = regexp.MustCompile(`:(\d+)$`)
	mentionTagData      = regexp.MustCompile(`^(\d+\.\d+)(/|$)`)
	mentionEntityData   = regexp.MustCompile(`^\d+\.\d+$`)
)

// Tag marks a span of composer text.
type Tag struct {
	Offset int
	Length int
	ID     string
}

// EntityType is the kind of a message entity.
type EntityType int

const (
	EntityMentionName EntityType = iota + 1
)

// Entity is a span of message text with typed data, as sent to the server.
type Entity struct {
	Type   EntityType
	Offset int
	Length int
	Data   string
}

// ConvertTagToTransportForm stamps mention tags with the owner's user id so
// a paste into another account's composer can be recognised.
func ConvertTagToTransportForm(tagID string, userID int64) string {
	if strings.HasPrefix(tagID, mentionPrefix) {
		return tagID + ":" + strconv.FormatInt(userID, 10)
	}

	return tagID
}

// ConvertTransportFormToTag undoes ConvertTagToTransportForm. Mention tags
// stamped for a different user, or not stamped at all, yield "".
func ConvertTransportFormToTag(mimeTag string, userID int64) string {
	if !strings.HasPrefix(mimeTag, mentionPrefix) {
		return mimeTag
	}

	m := transportUserSuffix.FindStringSubmatchIndex(mimeTag)
	if m == nil {
		return ""
	}

	owner, err := strconv.ParseInt(mimeTag[m[2]:m[3]], 10, 64)
	if err != nil || owner != userID {
		return ""
	}

	return mimeTag[:m[0]]
}

// TagsToEntities keeps the user mention tags, as mention-name entities.
func TagsToEntities(tags []Tag) []Entity {
	if len(tags) == 0 {
		return nil
	}

	entities := make([]Entity, 0, len(tags))

	for _, tag := range tags {
		rest, ok := strings.CutPrefix(tag.ID, mentionUserPrefix)
		if !ok {
			continue
		}

		if m := mentionTagData.FindStringSubmatch(rest); m != nil {
			entities = append(entities, Entity{
				Type:   EntityMentionName,
				Offset: tag.Offset,
				Length: tag.Length,
				Data:   m[1],
			})
		}
	}

	return entities
}

// EntitiesToTags is the inverse of TagsToEntities.
func EntitiesToTags(entities []Entity) []Tag {
	if len(entities) == 0 {
		return nil
	}

	tags := make([]Tag, 0, len(entities))

	for _, e := range entities {
		if e.Type != EntityMentionName || !mentionEntityData.MatchString(e.Data) {
			continue
		}

		tags = append(tags, Tag{Offset: e.Offset, Length: e.Length, ID: mentionUserPrefix + e.Data})
	}

	return tags
}
