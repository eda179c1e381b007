package api

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Timestamp is a backend timestamp. The backend serialises naive UTC
// datetimes without a zone designator; both forms are accepted.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// UnmarshalJSON implements [json.Unmarshaler].
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("api: timestamp %s: %w", b, err)
	}
	for _, layout := range timestampLayouts {
		if v, err := time.Parse(layout, s); err == nil {
			t.Time = v.UTC()
			return nil
		}
	}
	return fmt.Errorf("api: unrecognised timestamp %q", s)
}

// MarshalJSON implements [json.Marshaler].
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}

// TokenPair is the response of the login and refresh endpoints.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// User is the current user's public profile.
type User struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

// Transcription is the result of the transcribe stage.
type Transcription struct {
	ID                uuid.UUID `json:"id"`
	Filename          string    `json:"filename"`
	OriginalFilename  string    `json:"original_filename"`
	FileSize          int64     `json:"file_size"`
	MIMEType          string    `json:"mime_type"`
	TranscriptionText *string   `json:"transcription_text"`
	Duration          *float64  `json:"duration"`
	CreatedAt         Timestamp `json:"created_at"`
}

// Text returns the transcription text, or "" when the backend produced none.
func (t *Transcription) Text() string {
	if t.TranscriptionText == nil {
		return ""
	}
	return *t.TranscriptionText
}

// TranslationRequest is the body of the translate call.
type TranslationRequest struct {
	AudioTranscriptionID uuid.UUID `json:"audio_transcription_id"`
	SourceText           string    `json:"source_text"`
}

// Translation is the result of the translate stage.
type Translation struct {
	ID                   uuid.UUID `json:"id"`
	AudioTranscriptionID uuid.UUID `json:"audio_transcription_id"`
	SourceText           string    `json:"source_text"`
	TranslatedText       string    `json:"translated_text"`
	ConfidenceScore      *float64  `json:"confidence_score"`
	ModelUsed            string    `json:"model_used"`
	CreatedAt            Timestamp `json:"created_at"`
}

// AnalysisRequest is the body of the analyze call.
type AnalysisRequest struct {
	AudioTranslationID uuid.UUID `json:"audio_translation_id"`
	GenerateMarkdown   bool      `json:"generate_markdown"`
}

// Analysis is the result of the analyze stage.
type Analysis struct {
	ID                 uuid.UUID `json:"id"`
	AudioTranslationID uuid.UUID `json:"audio_translation_id"`
	ContentText        string    `json:"content_text"`
	Summary            string    `json:"summary"`
	BusinessInsights   string    `json:"business_insights"`
	TechnicalInsights  string    `json:"technical_insights"`
	ActionItems        *string   `json:"action_items"`
	KeyTopics          *string   `json:"key_topics"`
	NotesMarkdown      *string   `json:"notes_markdown"`
	ModelUsed          string    `json:"model_used"`
	CreatedAt          Timestamp `json:"created_at"`
}
