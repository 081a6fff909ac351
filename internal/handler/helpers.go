package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/classfeed/internal/command"
	"github.com/classfeed/internal/groupchat"
	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/notify"
	"github.com/classfeed/internal/session"
	"github.com/go-playground/validator/v10"
)

const (
	maxBodyBytes   = 1 << 20
	defaultWaitFor = 10 * time.Second
)

type errorResponse struct {
	Error string `json:"error"`
}

type commandResponse struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Status command.Status `json:"status"`
	Error  string         `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

var validate = newValidator()

// newValidator называет поля по json-тегам.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeJSON читает тело запроса и проверяет теги validate.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
	}
	return "invalid body"
}

// writeFailure переводит ошибки сторов и сессии в HTTP-статусы.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case groupchat.IsValidation(err), errors.Is(err, session.ErrNoUsername):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNoSession):
		writeError(w, http.StatusUnauthorized, "not logged in")
	case errors.Is(err, notify.ErrUnknownNotification):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Errorf("handler: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeCommand отдаёт состояние команды. С ?wait=true ждёт результата не дольше waitFor,
// иначе незавершённая команда сразу отвечает 202.
func writeCommand(w http.ResponseWriter, r *http.Request, cmd *command.Command, waitFor time.Duration) {
	if queryBool(r, "wait") {
		if waitFor <= 0 {
			waitFor = defaultWaitFor
		}
		ctx, cancel := context.WithTimeout(r.Context(), waitFor)
		cmd.Wait(ctx)
		cancel()
	}
	resp := commandResponse{ID: cmd.ID, Name: cmd.Name, Status: cmd.Status()}
	switch resp.Status {
	case command.StatusPending:
		writeJSON(w, http.StatusAccepted, resp)
	case command.StatusConfirmed:
		writeJSON(w, http.StatusOK, resp)
	default:
		err := cmd.Err()
		if errors.Is(err, notify.ErrUnknownNotification) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusBadGateway, resp)
	}
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
