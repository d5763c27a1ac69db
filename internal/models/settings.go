package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings is the quest configuration of a game. It is only ever replaced
// wholesale.
type Settings struct {
	Duration    time.Duration `json:"-"`
	QuestPoints []QuestPoint  `json:"quest_points"`
}

// QuestPoint groups the task bindings of one point on the map.
type QuestPoint struct {
	Tasks []TaskBinding `json:"tasks"`
}

// TaskBinding references a global quest task definition.
type TaskBinding struct {
	TaskID int64 `json:"id"`
}

// TaskIDs returns every bound task id in quest point order.
func (s Settings) TaskIDs() []int64 {
	var ids []int64
	for _, qp := range s.QuestPoints {
		for _, t := range qp.Tasks {
			ids = append(ids, t.TaskID)
		}
	}
	return ids
}

type settingsJSON struct {
	Duration    string       `json:"duration"`
	QuestPoints []QuestPoint `json:"quest_points"`
}

// MarshalJSON renders the duration as HH:MM:SS, the same format clients send.
func (s Settings) MarshalJSON() ([]byte, error) {
	qps := make([]QuestPoint, len(s.QuestPoints))
	for i, qp := range s.QuestPoints {
		qps[i] = qp
		if qp.Tasks == nil {
			qps[i].Tasks = []TaskBinding{}
		}
	}
	return json.Marshal(settingsJSON{
		Duration:    FormatDuration(s.Duration),
		QuestPoints: qps,
	})
}

// UnmarshalJSON accepts {"duration":"HH:MM:SS","quest_points":[...]}.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw settingsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := ParseDuration(raw.Duration)
	if err != nil {
		return err
	}
	s.Duration = d
	s.QuestPoints = raw.QuestPoints
	return nil
}

// ParseDuration parses "HH:MM:SS". Hours are unbounded, minutes and seconds
// must be below 60.
func ParseDuration(v string) (time.Duration, error) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("duration %q: want HH:MM:SS", v)
	}
	var fields [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("duration %q: bad field %q", v, p)
		}
		fields[i] = n
	}
	if fields[1] > 59 || fields[2] > 59 {
		return 0, fmt.Errorf("duration %q: minutes and seconds must be below 60", v)
	}
	return time.Duration(fields[0])*time.Hour +
		time.Duration(fields[1])*time.Minute +
		time.Duration(fields[2])*time.Second, nil
}

// FormatDuration renders d as HH:MM:SS, truncating sub-second precision.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
