package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type NotificationType string

const (
	NotificationHomework           NotificationType = "homework"
	NotificationHomeworkDispatch   NotificationType = "homework-dispatch"
	NotificationClasswork          NotificationType = "classwork"
	NotificationHomeworkCompletion NotificationType = "homework-completion"
	NotificationUnknown            NotificationType = "unknown"
)

// ID: идентификатор записи. Бэкенд шлёт его числом или строкой, храним всегда строкой.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	// 1.0 и 1e3 приводятся к целому виду, иначе дубликаты не распознаются.
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		*id = ID(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Notification: клиентская копия уведомления.
// Raw хранит исходный кадр для деталей конкретного типа (вложение ДЗ, id сдачи).
type Notification struct {
	ID        ID               `json:"id"`
	Type      NotificationType `json:"type"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
	Read      bool             `json:"read"`
	Raw       json.RawMessage  `json:"raw,omitempty"`
}

// UnmarshalJSON принимает и формат истории бэкенда: флаг прочтения там is_read, тип может отсутствовать.
func (n *Notification) UnmarshalJSON(data []byte) error {
	type alias Notification
	var aux struct {
		alias
		IsRead    *bool  `json:"is_read"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*n = Notification(aux.alias)
	if aux.IsRead != nil {
		n.Read = *aux.IsRead
	}
	if n.Timestamp == "" {
		n.Timestamp = aux.CreatedAt
	}
	if n.Type == "" {
		n.Type = NotificationUnknown
	}
	return nil
}
