package hub

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/xicheng412/CliCast/internal/session"
	"github.com/xicheng412/CliCast/internal/term"
)

// Client → server message types.
const (
	msgInit   = "init"
	msgInput  = "input"
	msgResize = "resize"
	msgPing   = "ping"
	msgKill   = "kill" // dev terminal only
)

// clientMessage is the tagged union of everything a client may send. Unknown
// tags are rejected by parseClientMessage.
type clientMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
	Data string `json:"data"`
}

func parseClientMessage(data []byte) (clientMessage, error) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid message: %w", err)
	}
	switch msg.Type {
	case msgInit, msgInput, msgResize, msgPing, msgKill:
		return msg, nil
	default:
		return msg, fmt.Errorf("unknown message type %q", msg.Type)
	}
}

type readyMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	IsNew     *bool  `json:"isNew,omitempty"`
}

type outputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type historyMsg struct {
	Type string   `json:"type"`
	Data []string `json:"data"`
}

type statusMsg struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	SessionID string `json:"sessionId,omitempty"`
}

type exitMsg struct {
	Type   string `json:"type"`
	Code   int    `json:"code"`
	Signal *int   `json:"signal,omitempty"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type typeOnlyMsg struct {
	Type string `json:"type"`
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err) // all server message types marshal cleanly
	}
	return data
}

func readyFrame(sessionID string) []byte {
	return mustMarshal(readyMsg{Type: "ready", SessionID: sessionID})
}

func devReadyFrame(isNew bool) []byte {
	return mustMarshal(readyMsg{Type: "ready", IsNew: &isNew})
}

// PTY chunks are opaque bytes and routinely contain sequences that are not
// valid UTF-8 (escape codes, binary output, multi-byte characters split at
// the read-buffer boundary). json.Marshal would silently mangle those in a
// plain string, so data fields carry base64 in both directions.

func encodeData(chunk []byte) string {
	return base64.StdEncoding.EncodeToString(chunk)
}

func decodeData(data string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(data)
}

func outputFrame(chunk []byte) []byte {
	return mustMarshal(outputMsg{Type: "output", Data: encodeData(chunk)})
}

func historyFrame(chunks [][]byte) []byte {
	data := make([]string, len(chunks))
	for i, c := range chunks {
		data[i] = encodeData(c)
	}
	return mustMarshal(historyMsg{Type: "history", Data: data})
}

func statusFrame(status session.Status, sessionID string) []byte {
	return mustMarshal(statusMsg{Type: "status", Status: string(status), SessionID: sessionID})
}

func exitFrame(st term.ExitStatus) []byte {
	return mustMarshal(exitMsg{Type: "exit", Code: st.Code, Signal: st.Signal})
}

func errorFrame(message string) []byte {
	return mustMarshal(errorMsg{Type: "error", Message: message})
}

func pongFrame() []byte {
	return mustMarshal(typeOnlyMsg{Type: "pong"})
}

func killedFrame() []byte {
	return mustMarshal(typeOnlyMsg{Type: "killed"})
}
