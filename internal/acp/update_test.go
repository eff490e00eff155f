package acp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields(t *testing.T, event UpdateEvent) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(event.Fields, &out))
	return out
}

func TestTransformUpdateMessageStart(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"agent_message_start","messageId":"m1"}`))
	assert.Equal(t, "message_start", event.Type)
	assert.Equal(t, "m1", fields(t, event)["messageId"])
}

func TestTransformUpdateMessageChunkFromStringContent(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"agent_message_chunk","content":"hello"}`))
	assert.Equal(t, "text_chunk", event.Type)
	assert.Equal(t, "hello", fields(t, event)["text"])
	assert.Equal(t, "current", fields(t, event)["messageId"])
}

func TestTransformUpdateMessageChunkFromObjectContent(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"agent_message_chunk","content":{"text":"from object"}}`))
	assert.Equal(t, "from object", fields(t, event)["text"])
}

func TestTransformUpdateThoughtChunk(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"agent_thought_chunk","content":{"data":"pondering"}}`))
	assert.Equal(t, "thinking_chunk", event.Type)
	assert.Equal(t, "pondering", fields(t, event)["text"])
}

func TestTransformUpdateMessageComplete(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"agent_message_complete","stopReason":"end_turn"}`))
	assert.Equal(t, "message_complete", event.Type)
	assert.Equal(t, "end_turn", fields(t, event)["stopReason"])
}

func TestTransformUpdateMessageCompleteDefaultsStopReason(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"agent_message_complete"}`))
	assert.Equal(t, "end_turn", fields(t, event)["stopReason"])
}

func TestTransformUpdateToolCallStartGeneratesIDWhenMissing(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"tool_call","title":"Read file"}`))
	assert.Equal(t, "tool_call_start", event.Type)

	f := fields(t, event)
	toolCall := f["toolCall"].(map[string]any)
	assert.NotEmpty(t, toolCall["toolCallId"])
	assert.Equal(t, "unknown", toolCall["name"])
	assert.Equal(t, "pending", toolCall["status"])
}

func TestTransformUpdateToolCallStartPrefersClaudeCodeToolName(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"tool_call","title":"Edit","_meta":{"claudeCode":{"toolName":"edit_file"}}}`))
	toolCall := fields(t, event)["toolCall"].(map[string]any)
	assert.Equal(t, "edit_file", toolCall["name"])
}

func TestTransformUpdateToolCallUpdateStringOutputPassesThrough(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"tool_call_update","toolCallId":"tc-1","status":"completed","rawOutput":"plain text"}`))
	assert.Equal(t, "tool_call_update", event.Type)
	f := fields(t, event)
	assert.Equal(t, "tc-1", f["toolCallId"])
	assert.Equal(t, "plain text", f["output"])
}

func TestTransformUpdateToolCallUpdateNonStringOutputIsStringified(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"tool_call_update","toolCallId":"tc-1","rawOutput":{"exitCode":0}}`))
	f := fields(t, event)
	assert.Equal(t, `{"exitCode":0}`, f["output"])
}

func TestTransformUpdateToolCallUpdateNullOutputStaysNil(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"tool_call_update","toolCallId":"tc-1","rawOutput":null}`))
	f := fields(t, event)
	assert.Nil(t, f["output"])
}

func TestTransformUpdatePlanFillsDefaults(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"plan","entries":[{"content":"write tests"}]}`))
	assert.Equal(t, "plan_update", event.Type)
	entries := fields(t, event)["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "write tests", entry["content"])
	assert.Equal(t, "medium", entry["priority"])
	assert.Equal(t, "pending", entry["status"])
}

func TestTransformUpdateCurrentModeUpdate(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"current_mode_update","modeId":"plan"}`))
	assert.Equal(t, "current_mode_update", event.Type)
	assert.Equal(t, "plan", fields(t, event)["modeId"])
}

func TestTransformUpdateConfigOptionsUpdateNormalizesPerOption(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"config_options_update","configOptions":[
		{"id":"_mode","name":"Mode","description":"Interaction mode","category":"behavior","currentValue":"plan","options":["plan","act"]}
	]}`))
	assert.Equal(t, "config_options_update", event.Type)

	var options []map[string]any
	require.NoError(t, json.Unmarshal(event.Fields, &options))
	require.Len(t, options, 1)
	opt := options[0]
	assert.Equal(t, "_mode", opt["id"])
	assert.Equal(t, "Mode", opt["name"])
	assert.Equal(t, "Interaction mode", opt["description"])
	assert.Equal(t, "behavior", opt["category"])
	assert.Equal(t, "select", opt["type"])
	assert.Equal(t, "plan", opt["currentValue"])
	assert.Equal(t, []any{"plan", "act"}, opt["options"])
}

func TestTransformUpdateConfigOptionsUpdateDefaultsMissingFields(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"config_options_update","configOptions":[{"id":"temperature"}]}`))
	var options []map[string]any
	require.NoError(t, json.Unmarshal(event.Fields, &options))
	require.Len(t, options, 1)
	opt := options[0]
	assert.Equal(t, "temperature", opt["id"])
	assert.Equal(t, "", opt["name"])
	assert.Equal(t, "select", opt["type"])
	assert.Nil(t, opt["currentValue"])
	assert.Nil(t, opt["options"])
}

func TestTransformUpdateAvailableCommandsUpdateNormalizesPerCommand(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"available_commands_update","commands":[
		{"name":"/compact","description":"Summarize the conversation","input":{"type":"string"}}
	]}`))
	assert.Equal(t, "available_commands_update", event.Type)

	var commands []map[string]any
	require.NoError(t, json.Unmarshal(event.Fields, &commands))
	require.Len(t, commands, 1)
	cmd := commands[0]
	assert.Equal(t, "/compact", cmd["name"])
	assert.Equal(t, "Summarize the conversation", cmd["description"])
	assert.Equal(t, map[string]any{"type": "string"}, cmd["input"])
}

func TestTransformUpdateSessionInfoUpdate(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"session_info_update","title":"Renamed session","updatedAt":"2026-07-31T00:00:00Z","_meta":{"source":"agent"}}`))
	assert.Equal(t, "session_info_update", event.Type)
	f := fields(t, event)
	assert.Equal(t, "Renamed session", f["title"])
	assert.Equal(t, "2026-07-31T00:00:00Z", f["updatedAt"])
	assert.Equal(t, map[string]any{"source": "agent"}, f["_meta"])
}

func TestTransformUpdateUsageUpdate(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"usage_update","usage":{"used":10,"size":100,"cost":0.02}}`))
	assert.Equal(t, "usage_update", event.Type)

	var usage map[string]any
	require.NoError(t, json.Unmarshal(event.Fields, &usage))
	assert.Equal(t, float64(10), usage["used"])
	assert.Equal(t, float64(100), usage["size"])
	assert.Equal(t, 0.02, usage["cost"])
}

func TestTransformUpdateUnknownKindDegradesToEmptyTextChunk(t *testing.T) {
	event := transformUpdate(json.RawMessage(`{"sessionUpdate":"something_new"}`))
	assert.Equal(t, "text_chunk", event.Type)
	assert.Equal(t, "", fields(t, event)["text"])
}

func TestTransformUpdateMalformedJSONDegradesToEmptyTextChunk(t *testing.T) {
	event := transformUpdate(json.RawMessage(`not json`))
	assert.Equal(t, "text_chunk", event.Type)
}
