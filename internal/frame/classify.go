package frame

import (
	"strconv"
	"time"

	"github.com/classfeed/internal/model"
	"github.com/google/uuid"
)

const (
	defaultAckMessage       = "Your teacher acknowledged your work"
	defaultClassworkMessage = "Classwork completed"
	defaultHomeworkMessage  = "Homework completed"
)

// Classify превращает кадр в запись уведомления. false для кадров без уведомления:
// чат, неизвестные типы, ДЗ для другой роли.
func Classify(f Frame, now time.Time) (model.Notification, bool) {
	var n model.Notification
	switch v := f.(type) {
	case *HomeworkNotification:
		if v.Role != "student" {
			return n, false
		}
		n = model.Notification{
			ID:        v.Notification.ID,
			Type:      model.NotificationHomework,
			Message:   firstNonEmpty(v.Notification.Message, v.Homework.Title),
			Timestamp: v.Notification.Timestamp,
		}
		if n.ID == "" {
			n.ID = synthesizeID("homework", "", now)
		}
	case *TeacherAck:
		entity := firstNonEmpty(string(v.ClassWorkID), string(v.HomeworkID), string(v.SubmissionID))
		n = model.Notification{
			ID:        synthesizeID("ack", entity, now),
			Type:      model.NotificationHomeworkDispatch,
			Message:   firstNonEmpty(v.Message, v.Title, defaultAckMessage),
			Timestamp: v.Timestamp,
		}
	case *ClassworkCompletion:
		n = model.Notification{
			ID:        synthesizeID("classwork", string(v.SubmissionID), now),
			Type:      model.NotificationClasswork,
			Message:   firstNonEmpty(v.Message, v.Summary, defaultClassworkMessage),
			Timestamp: v.Timestamp,
		}
	case *HomeworkCompletion:
		n = model.Notification{
			ID:        synthesizeID("homework-completion", string(v.SubmissionID), now),
			Type:      model.NotificationHomeworkCompletion,
			Message:   firstNonEmpty(v.Message, v.Summary, defaultHomeworkMessage),
			Timestamp: v.Timestamp,
		}
	default:
		return n, false
	}
	if n.Timestamp == "" {
		n.Timestamp = now.UTC().Format(time.RFC3339)
	}
	n.Raw = f.RawBytes()
	return n, true
}

// synthesizeID собирает "<prefix>-<id сущности или unix millis>-<random>": два кадра одного
// подтипа в одну миллисекунду всё равно получат разные id.
func synthesizeID(prefix, entity string, now time.Time) model.ID {
	if entity == "" {
		entity = strconv.FormatInt(now.UnixMilli(), 10)
	}
	return model.ID(prefix + "-" + entity + "-" + uuid.New().String()[:8])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
