package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/assistantd/assistantd/pkg/models"
)

// memoryCore holds all in-memory state behind a single mutex so that run
// transitions commit atomically with their tool call, message, and step rows.
type memoryCore struct {
	mu         sync.RWMutex
	assistants map[string]*models.Assistant
	threads    map[string]*models.Thread
	messages   map[string]*models.Message
	msgSeq     map[string]int64 // threadID -> next seq
	runs       map[string]*models.Run
	toolCalls  map[string]*models.ToolCall
	functions  map[string]*models.Function
	files      map[string]*models.File
	chunks     map[string][]*models.Chunk // fileID -> chunks
	steps      map[string][]*models.RunStep
}

// NewMemory returns a fully in-memory store set. It backs tests and
// single-process deployments without a database.
func NewMemory() *Set {
	core := &memoryCore{
		assistants: make(map[string]*models.Assistant),
		threads:    make(map[string]*models.Thread),
		messages:   make(map[string]*models.Message),
		msgSeq:     make(map[string]int64),
		runs:       make(map[string]*models.Run),
		toolCalls:  make(map[string]*models.ToolCall),
		functions:  make(map[string]*models.Function),
		files:      make(map[string]*models.File),
		chunks:     make(map[string][]*models.Chunk),
		steps:      make(map[string][]*models.RunStep),
	}
	return &Set{
		Assistants: &memoryAssistants{core},
		Threads:    &memoryThreads{core},
		Messages:   &memoryMessages{core},
		Runs:       &memoryRuns{core},
		ToolCalls:  &memoryToolCalls{core},
		Functions:  &memoryFunctions{core},
		Files:      &memoryFiles{core},
		Chunks:     &memoryChunks{core},
		Steps:      &memorySteps{core},
	}
}

type memoryAssistants struct{ core *memoryCore }

func (s *memoryAssistants) Create(ctx context.Context, assistant *models.Assistant) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.assistants[assistant.ID]; ok {
		return ErrAlreadyExists
	}
	s.core.assistants[assistant.ID] = cloneAssistant(assistant)
	return nil
}

func (s *memoryAssistants) Get(ctx context.Context, id string) (*models.Assistant, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	a, ok := s.core.assistants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAssistant(a), nil
}

func (s *memoryAssistants) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Assistant, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	var out []*models.Assistant
	for _, a := range s.core.assistants {
		if ownerID == "" || a.OwnerID == ownerID {
			out = append(out, cloneAssistant(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return paginate(out, limit, offset), nil
}

func (s *memoryAssistants) Update(ctx context.Context, assistant *models.Assistant) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.assistants[assistant.ID]; !ok {
		return ErrNotFound
	}
	s.core.assistants[assistant.ID] = cloneAssistant(assistant)
	return nil
}

func (s *memoryAssistants) Delete(ctx context.Context, id string) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.assistants[id]; !ok {
		return ErrNotFound
	}
	delete(s.core.assistants, id)
	return nil
}

type memoryThreads struct{ core *memoryCore }

func (s *memoryThreads) Create(ctx context.Context, thread *models.Thread) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.threads[thread.ID]; ok {
		return ErrAlreadyExists
	}
	s.core.threads[thread.ID] = cloneThread(thread)
	return nil
}

func (s *memoryThreads) Get(ctx context.Context, id string) (*models.Thread, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	th, ok := s.core.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneThread(th), nil
}

func (s *memoryThreads) Delete(ctx context.Context, id string) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.threads[id]; !ok {
		return ErrNotFound
	}
	delete(s.core.threads, id)
	return nil
}

type memoryMessages struct{ core *memoryCore }

func (s *memoryMessages) Append(ctx context.Context, msg *models.Message) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	return s.core.appendMessageLocked(msg)
}

// appendMessageLocked assigns the next sequence number and stores a copy.
// Callers must hold the write lock.
func (c *memoryCore) appendMessageLocked(msg *models.Message) error {
	if _, ok := c.threads[msg.ThreadID]; !ok {
		return fmt.Errorf("thread %s: %w", msg.ThreadID, ErrNotFound)
	}
	if _, ok := c.messages[msg.ID]; ok {
		return ErrAlreadyExists
	}
	c.msgSeq[msg.ThreadID]++
	msg.Seq = c.msgSeq[msg.ThreadID]
	c.messages[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *memoryMessages) Get(ctx context.Context, id string) (*models.Message, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	m, ok := s.core.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *memoryMessages) List(ctx context.Context, threadID string, limit, offset int) ([]*models.Message, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	var out []*models.Message
	for _, m := range s.core.messages {
		if m.ThreadID == threadID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return paginate(out, limit, offset), nil
}

type memoryRuns struct{ core *memoryCore }

func (s *memoryRuns) Create(ctx context.Context, run *models.Run) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.runs[run.ID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.core.threads[run.ThreadID]; !ok {
		return fmt.Errorf("thread %s: %w", run.ThreadID, ErrNotFound)
	}
	if _, ok := s.core.assistants[run.AssistantID]; !ok {
		return fmt.Errorf("assistant %s: %w", run.AssistantID, ErrNotFound)
	}
	run.Version = 1
	s.core.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *memoryRuns) Get(ctx context.Context, id string) (*models.Run, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	r, ok := s.core.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(r), nil
}

func (s *memoryRuns) List(ctx context.Context, threadID string, limit, offset int) ([]*models.Run, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	var out []*models.Run
	for _, r := range s.core.runs {
		if r.ThreadID == threadID {
			out = append(out, cloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return paginate(out, limit, offset), nil
}

func (s *memoryRuns) Transition(ctx context.Context, runID string, fromVersion int64, mut RunMutation) (*models.Run, error) {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()

	current, ok := s.core.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Version != fromVersion {
		return nil, ErrVersionConflict
	}
	// A mutation keeping the current non-terminal status commits rows without
	// moving the state machine; anything else must be a legal edge.
	sameStatus := mut.Status == current.Status && !current.Status.Terminal()
	if !sameStatus && !models.CanTransition(current.Status, mut.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Status, mut.Status)
	}

	// Validate tool output attachment before mutating anything.
	for _, out := range mut.ToolOutputs {
		tc, ok := s.core.toolCalls[out.ToolCallID]
		if !ok || tc.RunID != runID {
			return nil, fmt.Errorf("tool call %s: %w", out.ToolCallID, ErrNotFound)
		}
		if tc.Resolved() {
			return nil, fmt.Errorf("tool call %s: %w", out.ToolCallID, ErrAlreadyResolved)
		}
	}

	next := cloneRun(current)
	next.Status = mut.Status
	next.Version = current.Version + 1
	if mut.RequiredAction != nil {
		next.RequiredAction = mut.RequiredAction
	}
	if mut.ClearRequiredAction {
		next.RequiredAction = nil
	}
	if mut.LastError != nil {
		next.LastError = mut.LastError
	}
	if mut.StartedAt != 0 {
		next.StartedAt = mut.StartedAt
	}
	if mut.CancelledAt != 0 {
		next.CancelledAt = mut.CancelledAt
	}
	if mut.FailedAt != 0 {
		next.FailedAt = mut.FailedAt
	}
	if mut.CompletedAt != 0 {
		next.CompletedAt = mut.CompletedAt
	}

	if mut.Message != nil {
		if err := s.core.appendMessageLocked(mut.Message); err != nil {
			return nil, err
		}
	}
	for _, tc := range mut.ToolCalls {
		s.core.toolCalls[tc.ID] = cloneToolCall(tc)
	}
	for _, out := range mut.ToolOutputs {
		tc := s.core.toolCalls[out.ToolCallID]
		output := out.Output
		tc.Output = &output
		tc.ResolvedAt = mut.Now
	}
	if mut.Step != nil {
		s.core.steps[runID] = append(s.core.steps[runID], cloneStep(mut.Step))
	}

	s.core.runs[runID] = next
	return cloneRun(next), nil
}

func (s *memoryRuns) ListOverdue(ctx context.Context, now int64, limit int) ([]*models.Run, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	var out []*models.Run
	for _, r := range s.core.runs {
		if r.Status.Terminal() || r.ExpiresAt == 0 || r.ExpiresAt > now {
			continue
		}
		out = append(out, cloneRun(r))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

type memoryToolCalls struct{ core *memoryCore }

func (s *memoryToolCalls) Get(ctx context.Context, id string) (*models.ToolCall, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	tc, ok := s.core.toolCalls[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneToolCall(tc), nil
}

func (s *memoryToolCalls) ListByRun(ctx context.Context, runID string) ([]*models.ToolCall, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	var out []*models.ToolCall
	for _, tc := range s.core.toolCalls {
		if tc.RunID == runID {
			out = append(out, cloneToolCall(tc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt || (out[i].CreatedAt == out[j].CreatedAt && out[i].ID < out[j].ID) })
	return out, nil
}

func (s *memoryToolCalls) Resolve(ctx context.Context, id string, output string, resolvedAt int64) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	tc, ok := s.core.toolCalls[id]
	if !ok {
		return ErrNotFound
	}
	if tc.Resolved() {
		return ErrAlreadyResolved
	}
	tc.Output = &output
	tc.ResolvedAt = resolvedAt
	return nil
}

type memoryFunctions struct{ core *memoryCore }

func (s *memoryFunctions) Create(ctx context.Context, fn *models.Function) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	for _, existing := range s.core.functions {
		if existing.OwnerID == fn.OwnerID && existing.Name == fn.Name {
			return ErrAlreadyExists
		}
	}
	s.core.functions[fn.ID] = cloneFunction(fn)
	return nil
}

func (s *memoryFunctions) GetByName(ctx context.Context, ownerID, name string) (*models.Function, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	for _, fn := range s.core.functions {
		if fn.OwnerID == ownerID && fn.Name == name {
			return cloneFunction(fn), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryFunctions) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Function, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	var out []*models.Function
	for _, fn := range s.core.functions {
		if ownerID == "" || fn.OwnerID == ownerID {
			out = append(out, cloneFunction(fn))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return paginate(out, limit, offset), nil
}

func (s *memoryFunctions) Delete(ctx context.Context, id string) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.functions[id]; !ok {
		return ErrNotFound
	}
	delete(s.core.functions, id)
	return nil
}

type memoryFiles struct{ core *memoryCore }

func (s *memoryFiles) Create(ctx context.Context, file *models.File) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.files[file.ID]; ok {
		return ErrAlreadyExists
	}
	s.core.files[file.ID] = cloneFile(file)
	return nil
}

func (s *memoryFiles) Get(ctx context.Context, id string) (*models.File, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	f, ok := s.core.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFile(f), nil
}

func (s *memoryFiles) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.File, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	var out []*models.File
	for _, f := range s.core.files {
		if ownerID == "" || f.OwnerID == ownerID {
			out = append(out, cloneFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return paginate(out, limit, offset), nil
}

func (s *memoryFiles) Delete(ctx context.Context, id string) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	if _, ok := s.core.files[id]; !ok {
		return ErrNotFound
	}
	delete(s.core.files, id)
	delete(s.core.chunks, id)
	return nil
}

type memoryChunks struct{ core *memoryCore }

func (s *memoryChunks) CreateBatch(ctx context.Context, chunks []*models.Chunk) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	for _, c := range chunks {
		s.core.chunks[c.FileID] = append(s.core.chunks[c.FileID], cloneChunk(c))
	}
	return nil
}

func (s *memoryChunks) ListByFile(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	chunks := s.core.chunks[fileID]
	out := make([]*models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, cloneChunk(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *memoryChunks) DeleteByFile(ctx context.Context, fileID string) error {
	s.core.mu.Lock()
	defer s.core.mu.Unlock()
	delete(s.core.chunks, fileID)
	return nil
}

type memorySteps struct{ core *memoryCore }

func (s *memorySteps) List(ctx context.Context, runID string) ([]*models.RunStep, error) {
	s.core.mu.RLock()
	defer s.core.mu.RUnlock()
	steps := s.core.steps[runID]
	out := make([]*models.RunStep, 0, len(steps))
	for _, st := range steps {
		out = append(out, cloneStep(st))
	}
	return out, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
