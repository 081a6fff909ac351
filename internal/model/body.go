package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type BodyKind string

const (
	BodyText            BodyKind = "text"
	BodySharedQuestions BodyKind = "shared_questions"
)

const sharedQuestionsType = "shared_questions"

type SessionMetadata struct {
	ClassID   ID     `json:"class_id,omitempty"`
	SubjectID ID     `json:"subject_id,omitempty"`
	TopicID   ID     `json:"topic_id,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

// SharedQuestionsPayload: вопросы, которыми поделились в групповом чате. Вопросы хранятся как
// сырой JSON, чтобы все поля генератора переживали повторное кодирование.
type SharedQuestionsPayload struct {
	Type            string            `json:"type"`
	Questions       []json.RawMessage `json:"questions"`
	SessionMetadata SessionMetadata   `json:"session_metadata"`
	SharedBy        string            `json:"shared_by"`
}

// MessageBody: тело сообщения чата, размеченное полем kind.
type MessageBody struct {
	Kind            BodyKind
	Text            string
	SharedQuestions *SharedQuestionsPayload
}

func TextBody(s string) MessageBody {
	return MessageBody{Kind: BodyText, Text: s}
}

func SharedQuestionsBody(p SharedQuestionsPayload) MessageBody {
	p.Type = sharedQuestionsType
	return MessageBody{Kind: BodySharedQuestions, SharedQuestions: &p}
}

// Empty сообщает, что отправлять нечего.
func (b MessageBody) Empty() bool {
	switch b.Kind {
	case BodySharedQuestions:
		return b.SharedQuestions == nil || len(b.SharedQuestions.Questions) == 0
	default:
		return strings.TrimSpace(b.Text) == ""
	}
}

type textBodyJSON struct {
	Kind BodyKind `json:"kind"`
	Text string   `json:"text"`
}

type sharedBodyJSON struct {
	Kind BodyKind `json:"kind"`
	SharedQuestionsPayload
}

func (b MessageBody) MarshalJSON() ([]byte, error) {
	switch b.Kind {
	case BodySharedQuestions:
		if b.SharedQuestions == nil {
			return nil, errors.New("shared_questions body without payload")
		}
		p := *b.SharedQuestions
		p.Type = sharedQuestionsType
		return json.Marshal(sharedBodyJSON{Kind: BodySharedQuestions, SharedQuestionsPayload: p})
	case BodyText, "":
		return json.Marshal(textBodyJSON{Kind: BodyText, Text: b.Text})
	default:
		return nil, fmt.Errorf("unknown body kind %q", b.Kind)
	}
}

func (b *MessageBody) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind BodyKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	switch head.Kind {
	case BodySharedQuestions:
		var sb sharedBodyJSON
		if err := json.Unmarshal(data, &sb); err != nil {
			return err
		}
		*b = SharedQuestionsBody(sb.SharedQuestionsPayload)
	case BodyText, "":
		var tb textBodyJSON
		if err := json.Unmarshal(data, &tb); err != nil {
			return err
		}
		*b = TextBody(tb.Text)
	default:
		return fmt.Errorf("unknown body kind %q", head.Kind)
	}
	return nil
}

// EncodeSharedQuestions кодирует вопросы в старое текстовое поле message.
func EncodeSharedQuestions(p SharedQuestionsPayload) (string, error) {
	p.Type = sharedQuestionsType
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseLegacyMessage разбирает старое текстовое поле message. Всё, что не является JSON-объектом
// shared_questions, считается обычным текстом; ошибки не бывает.
func ParseLegacyMessage(s string) MessageBody {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return TextBody(s)
	}
	var p SharedQuestionsPayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil || p.Type != sharedQuestionsType {
		return TextBody(s)
	}
	return SharedQuestionsBody(p)
}
