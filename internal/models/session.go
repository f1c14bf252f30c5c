package models

// EndingType classifies how a play-through can terminate.
type EndingType string

const (
	EndingTypeGood EndingType = "good"
	EndingTypeBad  EndingType = "bad"
)

// NoChoiceSentinel is passed to the scene generator when the player has not
// made a choice yet (the opening scene of a session).
const NoChoiceSentinel = "No choice yet"

// Milestone is a key story event the model plans inside the story frame.
type Milestone struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Ending is a terminal outcome descriptor. At most one is ever attached to a
// SessionState; once set, the session is terminal.
type Ending struct {
	ID          string     `json:"id"`
	Type        EndingType `json:"type"`
	Condition   string     `json:"condition"`
	Description string     `json:"description"`
}

// CastCharacter is a supporting character's stable identity, uniquely keyed
// by CharName within a session. The protagonist never appears here.
type CastCharacter struct {
	CharName          string `json:"char_name"`
	CharAge           string `json:"char_age"`
	CharBackground    string `json:"char_background"`
	CharPersonality   string `json:"char_personality"`
	VisualDescription string `json:"visual_description"`
}

// StoryFrame is the narrative skeleton generated once per session. Lore,
// goal, milestones and endings are fixed after generation; VisualStyle and
// CastCharacters may be backfilled on later turns.
type StoryFrame struct {
	Lore           string            `json:"lore"`
	Goal           string            `json:"goal"`
	Milestones     []Milestone       `json:"milestones"`
	Endings        []Ending          `json:"endings"`
	VisualStyle    string            `json:"visual_style"`
	CastCharacters []CastCharacter   `json:"cast_characters"`
	Setting        string            `json:"setting"`
	Character      map[string]string `json:"character"`
	Genre          string            `json:"genre"`
	Language       string            `json:"language"`
}

// SceneChoice is one of the two options offered to the player by a scene.
type SceneChoice struct {
	Text string `json:"text"`
}

// Scene is one rendered narrative beat. Immutable once created. Ending
// scenes carry no choices.
type Scene struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Choices     []SceneChoice `json:"choices"`
	Image       string        `json:"image,omitempty"`
}

// Choice records one player decision. The ordered sequence of choices is the
// only memory the model has of prior play.
type Choice struct {
	SceneID    string `json:"scene_id"`
	ChoiceText string `json:"choice_text"`
	Timestamp  string `json:"timestamp"`
}

// SessionState is the complete mutable state of one play-through. It is
// owned by exactly one session, read once at the start of a turn and written
// once at the end.
type SessionState struct {
	StoryFrame      *StoryFrame      `json:"story_frame,omitempty"`
	Scenes          map[string]Scene `json:"scenes"`
	UserChoices     []Choice         `json:"user_choices"`
	CurrentSceneID  string           `json:"current_scene_id"`
	Ending          *Ending          `json:"ending,omitempty"`
	LastImagePrompt string           `json:"last_image_prompt"`
	Language        string           `json:"language"`
	ImageFormat     string           `json:"image_format"`
	IsPro           bool             `json:"is_pro"`
}

// NewSessionState returns an empty state with initialized containers, the
// value the store hands out for an unknown session id.
func NewSessionState() *SessionState {
	return &SessionState{
		Scenes:      make(map[string]Scene),
		UserChoices: make([]Choice, 0),
		Language:    "en",
	}
}

// Started reports whether the opening scene has been generated.
func (s *SessionState) Started() bool {
	return len(s.Scenes) > 0
}

// Finished reports whether an ending has been attached. Finished is
// absorbing: no further turns are meaningful.
func (s *SessionState) Finished() bool {
	return s.Ending != nil
}
