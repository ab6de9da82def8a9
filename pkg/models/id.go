package models

import (
	"strings"

	"github.com/google/uuid"
)

// ID prefixes follow the OpenAI object naming scheme so that ids are
// self-describing in logs and API payloads.
const (
	AssistantIDPrefix = "asst_"
	ThreadIDPrefix    = "thread_"
	MessageIDPrefix   = "msg_"
	RunIDPrefix       = "run_"
	StepIDPrefix      = "step_"
	ToolCallIDPrefix  = "call_"
	FileIDPrefix      = "file_"
	FunctionIDPrefix  = "func_"
	ChunkIDPrefix     = "chunk_"
)

// NewID returns a fresh identifier with the given prefix.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
