package model

import "time"

// Plugin is a configured processor instance as listed in the plugins table.
type Plugin struct {
	InstanceName string `db:"instancename" json:"instancename"`
	PluginName   string `db:"pluginname"   json:"pluginname"`
	Type         string `db:"type"         json:"type"`
	Status       string `db:"status"       json:"status"`
}

// FillEntry is a clip a fill processor may place into a gap.
type FillEntry struct {
	ID          int    `db:"id"          json:"id"`
	Instance    string `db:"instance"    json:"instance"`
	Duration    int64  `db:"duration"    json:"duration"`
	Filename    string `db:"filename"    json:"filename"`
	Description string `db:"description" json:"description"`
	TypeName    string `db:"typename"    json:"typename"`
	Device      string `db:"devicename"  json:"devicename"`
	Weight      int    `db:"weight"      json:"weight"`
}

// RotationBucket counts plays of one fill entry at one age level (tag 0 is newest).
type RotationBucket struct {
	ID       int       `db:"id"          json:"id"`
	Instance string    `db:"instance"    json:"instance"`
	VideoID  int       `db:"video_id"    json:"video_id"`
	Tag      int       `db:"buckettag"   json:"buckettag"`
	Count    int64     `db:"bucketcount" json:"bucketcount"`
	Start    time.Time `db:"bucketstart" json:"bucketstart"`
}
