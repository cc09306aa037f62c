// Package worker runs full diagnostics out of process. The parent build
// sends JSON-line messages over the child's stdin; the child keeps its own
// overlay and program and logs what it finds.
package worker

import (
	"encoding/json"
	"fmt"

	"ngweave/internal/config"
)

// MessageType identifies a protocol message.
type MessageType string

const (
	TypeInit   MessageType = "init"
	TypeUpdate MessageType = "update"
)

// InitRequest configures the worker's compilation unit.
type InitRequest struct {
	CompilerOptions config.CompilerOptions `json:"compiler_options"`
	BasePath        string                 `json:"base_path"`
	// Mode is the diagnostics mode, "full" unless set otherwise.
	Mode        string   `json:"mode"`
	RootModules []string `json:"root_modules"`
}

// UpdateRequest lists the paths that changed since the last message.
type UpdateRequest struct {
	ChangedModulePaths []string `json:"changed_module_paths"`
}

// Message is one protocol line.
type Message struct {
	Type   MessageType    `json:"type"`
	Init   *InitRequest   `json:"init,omitempty"`
	Update *UpdateRequest `json:"update,omitempty"`
}

// InitFromConfig builds the init message for a project.
func InitFromConfig(cfg *config.Config) InitRequest {
	co := cfg.CompilerOptions
	co.OutDir = cfg.OutDir()
	return InitRequest{
		CompilerOptions: co,
		BasePath:        cfg.Abs(cfg.BasePath),
		Mode:            "full",
		RootModules:     cfg.RootPaths(),
	}
}

func decodeMessage(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return msg, fmt.Errorf("failed to parse message: %w", err)
	}
	switch msg.Type {
	case TypeInit:
		if msg.Init == nil {
			return msg, fmt.Errorf("init message without payload")
		}
	case TypeUpdate:
		if msg.Update == nil {
			return msg, fmt.Errorf("update message without payload")
		}
	default:
		return msg, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return msg, nil
}
