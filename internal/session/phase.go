// ABOUTME: Conversation phase tags and validity checks
// ABOUTME: Phases are decided by collaborators; the engine only persists known tags

package session

// Phase is a named stage in the conversation state machine.
type Phase string

// Conversation phases in their usual forward order. completion is
// soft-terminal: a follow-up message ("one more story") may re-enter
// story_building. Only an explicit end request closes a session.
const (
	PhaseGreeting          Phase = "greeting"
	PhaseEmotionCheck      Phase = "emotion_check"
	PhaseCharacterCreation Phase = "character_creation"
	PhaseStoryBuilding     Phase = "story_building"
	PhaseStoryEditing      Phase = "story_editing"
	PhaseCompletion        Phase = "completion"
)

// Valid reports whether p is a known phase tag.
func (p Phase) Valid() bool {
	switch p {
	case PhaseGreeting, PhaseEmotionCheck, PhaseCharacterCreation,
		PhaseStoryBuilding, PhaseStoryEditing, PhaseCompletion:
		return true
	}
	return false
}
