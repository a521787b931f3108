package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// envelope — конверт ответа backend: {success, message, data, error}.
// Ошибки WordPress REST приходят как {code, message, data: {status, params}}.
type envelope struct {
	Success *bool                      `json:"success"`
	Message string                     `json:"message"`
	Code    string                     `json:"code"`
	Data    json.RawMessage            `json:"data"`
	Error   json.RawMessage            `json:"error"`
	Errors  map[string]json.RawMessage `json:"errors"`
}

// decodeData извлекает data из конверта в out. Ответ без конверта
// (голый массив или объект) разбирается целиком.
func decodeData(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if out == nil || len(trimmed) == 0 {
			return nil
		}
		return unmarshalData(trimmed, out)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return decodeError(statusFromData(env.Data, http.StatusBadRequest), trimmed)
	}
	if out == nil {
		return nil
	}

	data := env.Data
	if env.Success == nil && len(data) == 0 {
		data = trimmed
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return unmarshalData(data, out)
}

func unmarshalData(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// decodeError сводит ответ с ошибкой к таксономии domain: 400/422 дают
// ValidationError с полями, остальные статусы — BackendError.
func decodeError(status int, raw []byte) error {
	var env envelope
	_ = json.Unmarshal(raw, &env)

	message := strings.TrimSpace(env.Message)
	code := env.Code
	if code == "" {
		code = rawString(env.Error)
	}
	if message == "" {
		message = code
	}
	if message == "" {
		message = http.StatusText(status)
	}

	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return domain.NewValidationError(message, validationFields(env))
	}
	return &domain.BackendError{Status: status, Code: code, Message: message}
}

func validationFields(env envelope) map[string]string {
	fields := map[string]string{}

	var data struct {
		Params  map[string]json.RawMessage `json:"params"`
		Details map[string]json.RawMessage `json:"details"`
	}
	if len(env.Data) > 0 && env.Data[0] == '{' {
		_ = json.Unmarshal(env.Data, &data)
	}
	for name, msg := range data.Params {
		fields[name] = rawMessage(msg)
	}
	for name, msg := range env.Errors {
		fields[name] = rawMessage(msg)
	}
	if len(env.Error) > 0 && env.Error[0] == '{' {
		var byField map[string]json.RawMessage
		if json.Unmarshal(env.Error, &byField) == nil {
			for name, msg := range byField {
				if _, ok := fields[name]; !ok {
					fields[name] = rawMessage(msg)
				}
			}
		}
	}
	return fields
}

func statusFromData(data json.RawMessage, fallback int) int {
	var payload struct {
		Status int `json:"status"`
	}
	if len(data) > 0 && data[0] == '{' && json.Unmarshal(data, &payload) == nil && payload.Status >= 400 {
		return payload.Status
	}
	return fallback
}

// rawMessage приводит строку, массив строк или объект к тексту сообщения.
func rawMessage(raw json.RawMessage) string {
	if s := rawString(raw); s != "" {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, "; ")
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return strings.TrimSpace(string(raw))
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// flexInt принимает число, строку с числом, пустую строку и null.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*n = flexInt(v)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %q: %w", s, err)
	}
	*n = flexInt(int(f))
	return nil
}

// lenientAmount разбирает сумму; некорректное значение считается нулём.
func lenientAmount(raw json.RawMessage) decimal.Decimal {
	amount, err := domain.ParseAmount(raw)
	if err != nil {
		return decimal.Zero
	}
	return amount
}
