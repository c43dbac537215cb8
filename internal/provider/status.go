package provider

import (
	"encoding/json"
	"strings"

	"github.com/Rrens/meeting-assistant/internal/domain"
)

var statusCodes = map[string]domain.BotStatus{
	"ready":                 domain.BotStatusCreated,
	"created":               domain.BotStatusCreated,
	"joining":               domain.BotStatusJoining,
	"joining_call":          domain.BotStatusJoining,
	"waiting_room":          domain.BotStatusWaitingRoom,
	"in_waiting_room":       domain.BotStatusWaitingRoom,
	"in_call":               domain.BotStatusInCall,
	"in_call_not_recording": domain.BotStatusInCallNotRecording,
	"in_call_recording":     domain.BotStatusInCallRecording,
	"recording":             domain.BotStatusInCallRecording,
	"call_ended":            domain.BotStatusDone,
	"done":                  domain.BotStatusDone,
	"recording_done":        domain.BotStatusDone,
	"complete":              domain.BotStatusDone,
	"fatal":                 domain.BotStatusFatal,
	"failed":                domain.BotStatusFatal,
	"error":                 domain.BotStatusFatal,
}

// NormalizeStatus maps any of the provider's status shapes to the canonical
// enum. It accepts the whole resource object and looks at, in order:
// status.code, status (string), the last entry of status_changes, data.code
// and code.
// Unknown or missing codes map to created, which the registry never treats
// as a forward transition.
func NormalizeStatus(resource json.RawMessage) domain.BotStatus {
	var body struct {
		Status        json.RawMessage `json:"status"`
		StatusChanges []struct {
			Code string `json:"code"`
		} `json:"status_changes"`
		Data json.RawMessage `json:"data"`
		Code string          `json:"code"`
	}
	if err := json.Unmarshal(resource, &body); err != nil {
		return domain.BotStatusCreated
	}

	code := ""
	if len(body.Status) > 0 {
		var nested struct {
			Code string `json:"code"`
		}
		var flat string
		if err := json.Unmarshal(body.Status, &nested); err == nil && nested.Code != "" {
			code = nested.Code
		} else if err := json.Unmarshal(body.Status, &flat); err == nil {
			code = flat
		}
	}
	if code == "" && len(body.StatusChanges) > 0 {
		code = body.StatusChanges[len(body.StatusChanges)-1].Code
	}
	if code == "" && len(body.Data) > 0 {
		var data struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(body.Data, &data); err == nil {
			code = data.Code
		}
	}
	if code == "" {
		code = body.Code
	}

	if status, ok := statusCodes[strings.ToLower(strings.TrimSpace(code))]; ok {
		return status
	}
	return domain.BotStatusCreated
}
