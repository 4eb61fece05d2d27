package signal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

type joinRoomMsg struct {
	RoomName string `json:"room_name" validate:"required,notblank,max=128"`
	UserID   string `json:"user_id" validate:"required,notblank,max=64"`
	UserName string `json:"user_name" validate:"max=64"`
}

type leaveRoomMsg struct {
	RoomName string `json:"room_name" validate:"required,notblank,max=128"`
	UserID   string `json:"user_id" validate:"required,notblank,max=64"`
}

type offerMsg struct {
	RoomName     string          `json:"room_name" validate:"required,notblank,max=128"`
	CallerUserID string          `json:"caller_user_id" validate:"required,notblank,max=64"`
	TargetUserID string          `json:"target_user_id" validate:"required,notblank,max=64"`
	Offer        json.RawMessage `json:"offer" validate:"payload"`
}

type answerMsg struct {
	RoomName       string          `json:"room_name" validate:"required,notblank,max=128"`
	AnswererUserID string          `json:"answerer_user_id" validate:"required,notblank,max=64"`
	TargetUserID   string          `json:"target_user_id" validate:"required,notblank,max=64"`
	Answer         json.RawMessage `json:"answer" validate:"payload"`
}

type candidateMsg struct {
	RoomName     string          `json:"room_name" validate:"required,notblank,max=128"`
	SenderUserID string          `json:"sender_user_id" validate:"required,notblank,max=64"`
	TargetUserID string          `json:"target_user_id" validate:"required,notblank,max=64"`
	Candidate    json.RawMessage `json:"candidate" validate:"payload"`
}

type screenShareMsg struct {
	RoomName  string `json:"room_name" validate:"required,notblank,max=128"`
	UserID    string `json:"user_id" validate:"required,notblank,max=64"`
	IsSharing *bool  `json:"is_sharing" validate:"required"`
}

// newValidator reports field errors under their json names and knows the
// "payload" rule (an opaque value that is present and not null) and
// "notblank" (not only whitespace).
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("payload", func(fl validator.FieldLevel) bool {
		raw := bytes.TrimSpace(fl.Field().Bytes())
		return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
	})
	return v
}

// decode parses data into dst and validates it. The returned error is fit
// for an error notification.
func (ctl *SignalWSController) decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := ctl.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			switch fe.Tag() {
			case "required", "notblank", "payload":
				return fmt.Errorf("%s is required", fe.Field())
			case "max":
				return fmt.Errorf("%s is too long", fe.Field())
			}
			return fmt.Errorf("%s is invalid", fe.Field())
		}
		return err
	}
	return nil
}
