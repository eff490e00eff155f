package acp

import (
	"encoding/json"
)

// transformUpdate rewrites a raw `session/update` `update` object per the
// table in base spec §4.1. Unknown discriminators degrade to an empty
// text_chunk, per the boundary behavior in §8.
func transformUpdate(raw json.RawMessage) UpdateEvent {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return emptyTextChunk()
	}

	kind := stringField(env["sessionUpdate"])
	switch kind {
	case "agent_message_start":
		return UpdateEvent{Type: "message_start", Fields: mustJSON(map[string]any{
			"messageId": orDefault(stringField(env["messageId"]), "current"),
		})}
	case "agent_message_chunk":
		return textOrThinkingChunk(env, "text_chunk")
	case "agent_thought_chunk":
		return textOrThinkingChunk(env, "thinking_chunk")
	case "agent_message_complete", "message_complete":
		return UpdateEvent{Type: "message_complete", Fields: mustJSON(map[string]any{
			"messageId":  orDefault(stringField(env["messageId"]), "current"),
			"stopReason": orDefault(stringField(env["stopReason"]), "end_turn"),
		})}
	case "tool_call":
		return transformToolCallStart(env)
	case "tool_call_update":
		return transformToolCallUpdate(env)
	case "plan":
		return transformPlan(env)
	case "current_mode_update":
		return UpdateEvent{Type: "current_mode_update", Fields: mustJSON(map[string]any{
			"modeId": stringField(env["modeId"]),
		})}
	case "config_options_update":
		return transformConfigOptionsUpdate(env)
	case "available_commands_update":
		return transformAvailableCommandsUpdate(env)
	case "session_info_update":
		return UpdateEvent{Type: "session_info_update", Fields: mustJSON(map[string]any{
			"title":     stringField(env["title"]),
			"updatedAt": stringField(env["updatedAt"]),
			"_meta":     rawOrNull(env["_meta"]),
		})}
	case "usage_update":
		return UpdateEvent{Type: "usage_update", Fields: env["usage"]}
	default:
		return emptyTextChunk()
	}
}

func emptyTextChunk() UpdateEvent {
	return UpdateEvent{Type: "text_chunk", Fields: mustJSON(map[string]any{
		"messageId": "current",
		"text":      "",
	})}
}

func textOrThinkingChunk(env map[string]json.RawMessage, typ string) UpdateEvent {
	text := extractText(env["content"])
	if text == "" {
		text = stringField(env["text"])
	}
	if text == "" {
		text = stringField(env["data"])
	}
	return UpdateEvent{Type: typ, Fields: mustJSON(map[string]any{
		"messageId": orDefault(stringField(env["messageId"]), "current"),
		"text":      text,
	})}
}

// extractText pulls readable text out of a `content` field that may be a
// bare string, an object with `.text`, or an object with `.data`.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if t := stringField(obj["text"]); t != "" {
			return t
		}
		if d := stringField(obj["data"]); d != "" {
			return d
		}
	}
	return ""
}

func transformToolCallStart(env map[string]json.RawMessage) UpdateEvent {
	toolCallID := stringField(env["toolCallId"])
	if toolCallID == "" {
		toolCallID = newUUIDString()
	}
	name := metaToolName(env)
	if name == "" {
		name = stringField(env["title"])
	}
	if name == "" {
		name = "unknown"
	}
	rawInput := env["rawInput"]
	return UpdateEvent{Type: "tool_call_start", Fields: mustJSON(map[string]any{
		"toolCall": map[string]any{
			"toolCallId":     toolCallID,
			"title":          stringField(env["title"]),
			"name":           name,
			"kind":           stringField(env["kind"]),
			"status":         orDefault(stringField(env["status"]), "pending"),
			"rawInputString": stringifyOrEmpty(rawInput),
			"rawInput":       rawOrNull(rawInput),
			"locations":      rawOrNull(env["locations"]),
		},
	})}
}

func metaToolName(env map[string]json.RawMessage) string {
	meta, ok := env["_meta"]
	if !ok {
		return ""
	}
	var m struct {
		ClaudeCode struct {
			ToolName string `json:"toolName"`
		} `json:"claudeCode"`
	}
	if err := json.Unmarshal(meta, &m); err != nil {
		return ""
	}
	return m.ClaudeCode.ToolName
}

func transformToolCallUpdate(env map[string]json.RawMessage) UpdateEvent {
	toolCallID := firstNonEmpty(
		stringField(env["toolCallId"]),
		stringField(env["toolCallID"]),
		stringField(env["id"]),
	)
	output := normalizeOutput(env["rawOutput"])
	return UpdateEvent{Type: "tool_call_update", Fields: mustJSON(map[string]any{
		"toolCallId": toolCallID,
		"status":     orDefault(stringField(env["status"]), "completed"),
		"output":     output,
		"locations":  rawOrNull(env["locations"]),
	})}
}

// normalizeOutput implements the boundary behavior from base spec §8: a
// string rawOutput passes through unchanged, null becomes null, any other
// value is JSON-stringified.
func normalizeOutput(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func transformPlan(env map[string]json.RawMessage) UpdateEvent {
	var rawEntries []map[string]json.RawMessage
	_ = json.Unmarshal(env["entries"], &rawEntries)

	entries := make([]map[string]any, 0, len(rawEntries))
	for _, e := range rawEntries {
		entries = append(entries, map[string]any{
			"content":  stringField(e["content"]),
			"priority": orDefault(stringField(e["priority"]), "medium"),
			"status":   orDefault(stringField(e["status"]), "pending"),
		})
	}
	return UpdateEvent{Type: "plan_update", Fields: mustJSON(map[string]any{
		"entries": entries,
	})}
}

// transformConfigOptionsUpdate normalizes each raw config option to the
// per-field shape in base spec §4.1: {id,name,description,category,
// type:"select",currentValue,options[]}.
func transformConfigOptionsUpdate(env map[string]json.RawMessage) UpdateEvent {
	var rawOptions []map[string]json.RawMessage
	_ = json.Unmarshal(env["configOptions"], &rawOptions)

	options := make([]map[string]any, 0, len(rawOptions))
	for _, o := range rawOptions {
		options = append(options, map[string]any{
			"id":           stringField(o["id"]),
			"name":         stringField(o["name"]),
			"description":  stringField(o["description"]),
			"category":     stringField(o["category"]),
			"type":         "select",
			"currentValue": rawOrNull(o["currentValue"]),
			"options":      rawOrNull(o["options"]),
		})
	}
	return UpdateEvent{Type: "config_options_update", Fields: mustJSON(options)}
}

// transformAvailableCommandsUpdate normalizes each raw command to
// {name,description,input} per base spec §4.1.
func transformAvailableCommandsUpdate(env map[string]json.RawMessage) UpdateEvent {
	var rawCommands []map[string]json.RawMessage
	_ = json.Unmarshal(env["commands"], &rawCommands)

	commands := make([]map[string]any, 0, len(rawCommands))
	for _, c := range rawCommands {
		commands = append(commands, map[string]any{
			"name":        stringField(c["name"]),
			"description": stringField(c["description"]),
			"input":       rawOrNull(c["input"]),
		})
	}
	return UpdateEvent{Type: "available_commands_update", Fields: mustJSON(commands)}
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func stringifyOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
