// Package snapshot defines the stable on-disk form of the guild tree and
// the codec for its one non-trivial field, the zoned due datetime.
//
// The format is a JSON array of guild records. It is the compatibility
// surface between process restarts; field names and the datetime encoding
// must not change.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskbot/internal/timeutil"
)

type GuildRecord struct {
	ID                   int64               `json:"id"`
	TargetChannelID      int64               `json:"target_channel_id"`
	ReceiveAnnouncements bool                `json:"receive_announcements"`
	Locale               string              `json:"locale"`
	TZOffset             float64             `json:"tz_offset"`
	Teams                []TeamRecord        `json:"teams"`
	ControlRoles         []ControlRoleRecord `json:"control_roles"`
}

type TeamRecord struct {
	RoleID int64        `json:"role_id"`
	Notify NotifyRecord `json:"notify"`
	Tasks  []TaskRecord `json:"tasks"`
}

type NotifyRecord struct {
	Batch     bool `json:"batch"`
	Early     bool `json:"early"`
	EarlyTime int  `json:"early_time"` // minutes
	Exact     bool `json:"exact"`
}

type TaskRecord struct {
	Content     string   `json:"content"`
	Tags        []string `json:"tags"`
	DueDatetime string   `json:"due_datetime"`
}

type ControlRoleRecord struct {
	RoleID int64           `json:"role_id"`
	Perms  map[string]bool `json:"perms"`
}

// Resolver answers whether external identities still exist at load time.
// Records whose identity no longer resolves are dropped silently.
type Resolver interface {
	GuildExists(guildID int64) bool
	RoleExists(guildID, roleID int64) bool
}

// dueLayout is the wall-clock part of a serialized due datetime. The full
// encoding is "<wall clock> <utc offset hours>", space separated.
const dueLayout = "2006/01/02 15:04"

// EncodeDue renders t as local wall clock plus its UTC offset in hours.
func EncodeDue(t time.Time) string {
	off := strconv.FormatFloat(timeutil.OffsetHours(t), 'g', -1, 64)
	return t.Format(dueLayout) + " " + off
}

// DecodeDue parses an encoded due datetime and converts the reconstructed
// instant into loc. The stored offset may differ from loc's when the guild
// timezone changed between save and load; the absolute instant wins.
func DecodeDue(s string, loc *time.Location) (time.Time, error) {
	i := strings.LastIndexByte(s, ' ')
	if i < 0 {
		return time.Time{}, fmt.Errorf("due datetime %q: missing offset", s)
	}
	wall, offStr := s[:i], s[i+1:]

	hours, err := strconv.ParseFloat(offStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("due datetime %q: bad offset: %w", s, err)
	}
	t, err := time.ParseInLocation(dueLayout, wall, timeutil.FixedOffset(hours))
	if err != nil {
		return time.Time{}, fmt.Errorf("due datetime %q: %w", s, err)
	}
	return t.In(loc), nil
}

// Encode marshals the guild records into the snapshot document.
func Encode(guilds []GuildRecord) ([]byte, error) {
	if guilds == nil {
		guilds = []GuildRecord{}
	}
	return json.Marshal(guilds)
}

// Decode unmarshals a snapshot document.
func Decode(data []byte) ([]GuildRecord, error) {
	var guilds []GuildRecord
	if err := json.Unmarshal(data, &guilds); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return guilds, nil
}
