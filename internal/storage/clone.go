package storage

import "github.com/assistantd/assistantd/pkg/models"

// Clones guard the memory store against callers mutating shared state.

func cloneAssistant(a *models.Assistant) *models.Assistant {
	if a == nil {
		return nil
	}
	out := *a
	out.Tools = append([]models.Tool(nil), a.Tools...)
	out.FileIDs = append([]string(nil), a.FileIDs...)
	out.Metadata = cloneMap(a.Metadata)
	return &out
}

func cloneThread(t *models.Thread) *models.Thread {
	if t == nil {
		return nil
	}
	out := *t
	out.FileIDs = append([]string(nil), t.FileIDs...)
	out.Metadata = cloneMap(t.Metadata)
	return &out
}

func cloneMessage(m *models.Message) *models.Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Content = append([]models.ContentPart(nil), m.Content...)
	out.FileIDs = append([]string(nil), m.FileIDs...)
	out.Metadata = cloneMap(m.Metadata)
	return &out
}

func cloneRun(r *models.Run) *models.Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Tools = append([]models.Tool(nil), r.Tools...)
	out.FileIDs = append([]string(nil), r.FileIDs...)
	out.Metadata = cloneMap(r.Metadata)
	if r.RequiredAction != nil {
		ra := *r.RequiredAction
		ra.ToolCalls = append([]models.ToolCall(nil), r.RequiredAction.ToolCalls...)
		out.RequiredAction = &ra
	}
	if r.LastError != nil {
		le := *r.LastError
		out.LastError = &le
	}
	return &out
}

func cloneToolCall(tc *models.ToolCall) *models.ToolCall {
	if tc == nil {
		return nil
	}
	out := *tc
	out.Arguments = append([]byte(nil), tc.Arguments...)
	if tc.Output != nil {
		v := *tc.Output
		out.Output = &v
	}
	return &out
}

func cloneFunction(fn *models.Function) *models.Function {
	if fn == nil {
		return nil
	}
	out := *fn
	out.Parameters = append([]byte(nil), fn.Parameters...)
	return &out
}

func cloneFile(f *models.File) *models.File {
	if f == nil {
		return nil
	}
	out := *f
	return &out
}

func cloneChunk(c *models.Chunk) *models.Chunk {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

func cloneStep(s *models.RunStep) *models.RunStep {
	if s == nil {
		return nil
	}
	out := *s
	out.ToolCallIDs = append([]string(nil), s.ToolCallIDs...)
	return &out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
