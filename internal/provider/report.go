package provider

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nadmax/imagegen/internal/task"
)

// StatusReport is the provider's view of one job. It is the payload of both the
// recordInfo response and the completion webhook. Nullable fields are pointers.
type StatusReport struct {
	TaskID       string      `json:"taskId" validate:"required"`
	Model        *string     `json:"model" validate:"required"`
	State        task.Status `json:"state" validate:"required,oneof=waiting success fail"`
	Param        *string     `json:"param" validate:"required"`
	ResultJSON   *string     `json:"resultJson"`
	FailCode     *string     `json:"failCode"`
	FailMsg      *string     `json:"failMsg"`
	CostTime     *int64      `json:"costTime"`
	CompleteTime *int64      `json:"completeTime"`
	CreateTime   *int64      `json:"createTime" validate:"required"`
}

type statusEnvelope struct {
	Code *int          `json:"code" validate:"required"`
	Msg  *string       `json:"msg" validate:"required"`
	Data *StatusReport `json:"data" validate:"required"`
}

type createEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// MalformedPayloadError reports a body that does not match the provider schema.
type MalformedPayloadError struct {
	Details []string
	Err     error
}

func (e *MalformedPayloadError) Error() string {
	if len(e.Details) > 0 {
		return "malformed payload: " + strings.Join(e.Details, "; ")
	}
	return fmt.Sprintf("malformed payload: %v", e.Err)
}

func (e *MalformedPayloadError) Unwrap() error {
	return e.Err
}

// DecodeWebhook parses and validates a webhook body. The envelope code is not
// checked; the provider reports failures through data.state.
func DecodeWebhook(body []byte) (*StatusReport, error) {
	env, err := decodeStatusEnvelope(body)
	if err != nil {
		return nil, err
	}

	return env.Data, nil
}

func decodeStatusEnvelope(body []byte) (*statusEnvelope, error) {
	var env statusEnvelope
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
		return nil, &MalformedPayloadError{Err: err}
	}

	if err := validate.Struct(env); err != nil {
		return nil, newMalformed(err)
	}

	return &env, nil
}

func newMalformed(err error) *MalformedPayloadError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &MalformedPayloadError{Err: err}
	}

	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, path, _ := strings.Cut(fe.Namespace(), ".")
		details = append(details, fmt.Sprintf("%s: failed on '%s'", path, fe.Tag()))
	}

	return &MalformedPayloadError{Details: details, Err: err}
}
