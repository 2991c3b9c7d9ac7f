package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pocketomega/pocket-omega/internal/wf/runtime"
	"github.com/pocketomega/pocket-omega/internal/wf/state"
	"github.com/pocketomega/pocket-omega/internal/wf/tool"
)

// TaskStatus is one todo item's lifecycle position.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one plan item; Id is a caller-chosen stable identifier.
type Task struct {
	ID     string     `json:"id"`
	Title  string     `json:"title"`
	Status TaskStatus `json:"status"`
}

// Plan is the ordered todo list for one workflow execution.
type Plan struct {
	Todos []Task `json:"todos"`
}

func planKey(executionID string) string { return "plan:" + executionID }

func getPlan(prj *runtime.Project, executionID string) Plan {
	v, ok := prj.State.Get(planKey(executionID))
	if !ok {
		return Plan{}
	}
	p, _ := v.(Plan)
	return p
}

func savePlan(prj *runtime.Project, executionID string, p Plan) {
	prj.State.Set(planKey(executionID), p)
}

// mergeTasks folds incoming into current: when merge is true, an incoming
// task replaces the existing task with the same id (Run has already filled
// in a missing title from it) and unseen ids are appended in their
// incoming order; when merge is false, incoming fully replaces current —
// ported from runstate/tasklist.py's merge_tasks.
func mergeTasks(current Plan, incoming []Task, merge bool) Plan {
	if !merge {
		return Plan{Todos: incoming}
	}
	byID := make(map[string]int, len(current.Todos))
	out := append([]Task{}, current.Todos...)
	for i, t := range out {
		byID[t.ID] = i
	}
	for _, t := range incoming {
		if i, ok := byID[t.ID]; ok {
			out[i] = t
		} else {
			byID[t.ID] = len(out)
			out = append(out, t)
		}
	}
	return Plan{Todos: out}
}

// updatePlanTool manages the todo list for the current workflow execution,
// persisted in the project's keyed state across Runner resumes — ported
// from tools/update_plan_tool.py's UpdatePlanTool. The teacher's
// fuzzy step-id correction feature is intentionally not carried: the
// original has a strict exact-id contract, which this follows.
type updatePlanTool struct {
	prj *runtime.Project
}

// NewUpdatePlanTool builds the "update_plan" built-in tool.
func NewUpdatePlanTool(prj *runtime.Project) tool.BaseTool { return &updatePlanTool{prj: prj} }

func (t *updatePlanTool) Name() string { return "update_plan" }

func (t *updatePlanTool) Run(ctx context.Context, req tool.Req, args map[string]any) (*tool.Response, error) {
	if req.Execution == nil {
		return nil, fmt.Errorf("update_plan requires an execution context")
	}

	merge := true
	if v, ok := args["merge"].(bool); ok {
		merge = v
	}

	rawTodos, _ := args["todos"].([]any)
	if len(rawTodos) == 0 {
		return nil, fmt.Errorf("update_plan requires a non-empty 'todos' list")
	}

	current := getPlan(t.prj, req.Execution.ID)
	existingByID := make(map[string]Task, len(current.Todos))
	for _, tsk := range current.Todos {
		existingByID[tsk.ID] = tsk
	}

	todos := make([]Task, 0, len(rawTodos))
	for _, item := range rawTodos {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("each todo must be an object with id, status, and optional title")
		}
		id, _ := obj["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("each todo must provide a non-empty 'id' string")
		}
		rawStatus, ok := obj["status"].(string)
		if !ok || rawStatus == "" {
			return nil, fmt.Errorf("each todo must provide a 'status'")
		}
		status := TaskStatus(rawStatus)
		if status != TaskPending && status != TaskInProgress && status != TaskCompleted {
			return nil, fmt.Errorf("invalid status; must be one of: %s, %s, %s", TaskPending, TaskInProgress, TaskCompleted)
		}

		title, hasTitle := obj["title"].(string)
		if merge {
			if !hasTitle || title == "" {
				existing, ok := existingByID[id]
				if !ok {
					return nil, fmt.Errorf("title is required when adding a new task id during merge (missing title for id=%q)", id)
				}
				title = existing.Title
			}
		} else if title == "" {
			return nil, fmt.Errorf("title is required for all tasks when merge is false (missing or empty title for id=%q)", id)
		}

		todos = append(todos, Task{ID: id, Title: title, Status: status})
	}

	updated := mergeTasks(current, todos, merge)

	inProgress := 0
	for _, tsk := range updated.Todos {
		if tsk.Status == TaskInProgress {
			inProgress++
		}
	}
	if inProgress > 1 {
		return nil, fmt.Errorf("only one task can have status 'in_progress' at a time in the task plan")
	}

	savePlan(t.prj, req.Execution.ID, updated)

	raw, err := json.Marshal(map[string]any{"todos": updated.Todos})
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	return &tool.Response{Type: tool.ResponseText, Text: string(raw)}, nil
}

func (t *updatePlanTool) OpenAPISpec(state.ToolSpec) (map[string]any, error) {
	return map[string]any{
		"type": "object",
		"description": "Update or replace the current task plan for this coding session. " +
			"Use stable ids (e.g. 'step-1') so you can update task status over time.",
		"properties": map[string]any{
			"merge": map[string]any{
				"type": "boolean",
				"description": "If true, merge these todos into the existing plan (updating " +
					"tasks by id and appending new ones). If false, replace the existing plan entirely.",
				"default": true,
			},
			"todos": map[string]any{
				"type":        "array",
				"description": "Ordered list of tasks representing the plan. Each task must have a stable id, title, and status.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id": map[string]any{
							"type":        "string",
							"description": "Stable identifier for the task (e.g. 'step-1').",
						},
						"title": map[string]any{
							"type": "string",
							"description": "Short description of the task. Optional for merge requests; " +
								"when omitted, only the status is updated for an existing task.",
						},
						"status": map[string]any{
							"type":        "string",
							"description": "Current status of this task. Must be one of: pending, in_progress, completed.",
							"enum":        []string{string(TaskPending), string(TaskInProgress), string(TaskCompleted)},
						},
					},
					"required":             []string{"id", "status"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"todos"},
		"additionalProperties": false,
	}, nil
}
