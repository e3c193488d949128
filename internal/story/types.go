package story

import "time"

// Topic is a pending content request produced by an external producer
type Topic struct {
	ID            string
	PriorityClass PriorityClass
	RequestorName string
	Text          string
	IsAllowed     bool // moderation flag, never read by the pipeline
	CreatedAt     time.Time
}

// Scene is one dialogue turn with its synthesized audio
type Scene struct {
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
	AudioPath string `json:"audio_path"` // relative to the audio root
}

// Story is the persisted artifact assembled from a consumed Topic
type Story struct {
	ID                  string
	SourcePriorityClass PriorityClass
	RequestorName       string
	SourceTopicText     string
	Scenes              []Scene
	CreatedAt           time.Time
}

// Line is a normalized dialogue line split into speaker and text
type Line struct {
	Speaker string
	Text    string
}

// String renders the line in canonical speaker::text form
func (l Line) String() string {
	return l.Speaker + Delimiter + l.Text
}

// Delimiter separates the speaker from the spoken text
const Delimiter = "::"
