package state

import "testing"

func TestDeleteStepsRemovesFromBothLists(t *testing.T) {
	w := NewWorkflowExecution("wf")
	ne := NewNodeExecution("n1", nil)
	w.AddNodeExecution(ne)

	s1 := NewStep(ne.ID, StepOutputMessage)
	s2 := NewStep(ne.ID, StepOutputMessage)
	w.AppendStep(ne, s1)
	w.AppendStep(ne, s2)

	w.DeleteSteps([]string{s1.ID})

	if len(w.Steps) != 1 || w.Steps[0].ID != s2.ID {
		t.Fatalf("expected flat list to retain only s2, got %+v", w.Steps)
	}
	if len(ne.Steps) != 1 || ne.Steps[0].ID != s2.ID {
		t.Fatalf("expected node execution to retain only s2, got %+v", ne.Steps)
	}
}

func TestAppendStepReplacesSameID(t *testing.T) {
	w := NewWorkflowExecution("wf")
	ne := NewNodeExecution("n1", nil)
	w.AddNodeExecution(ne)

	step := NewStep(ne.ID, StepOutputMessage)
	w.AppendStep(ne, step)

	step.IsComplete = true
	w.AppendStep(ne, step)

	if len(w.Steps) != 1 || len(ne.Steps) != 1 {
		t.Fatalf("expected in-place replace, got flat=%d node=%d", len(w.Steps), len(ne.Steps))
	}
	if !w.Steps[0].IsComplete || !ne.Steps[0].IsComplete {
		t.Fatalf("expected replaced step to carry IsComplete=true")
	}
}

func TestIterExecutionMessagesWalksPreviousChain(t *testing.T) {
	w := NewWorkflowExecution("wf")
	first := NewNodeExecution("n1", nil)
	first.InputMessages = append(first.InputMessages, NewMessage(RoleUser, "hello"))
	w.AddNodeExecution(first)

	second := NewNodeExecution("n1", first)
	w.AddNodeExecution(second)
	step := NewStep(second.ID, StepOutputMessage)
	msg := NewMessage(RoleAssistant, "world")
	step.Message = &msg
	w.AppendStep(second, step)

	msgs := IterExecutionMessages(w, second)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Message.Text != "hello" || msgs[1].Message.Text != "world" {
		t.Fatalf("expected oldest-first ordering, got %+v", msgs)
	}
}

func TestDeleteNodeExecutionRemovesItsSteps(t *testing.T) {
	w := NewWorkflowExecution("wf")
	ne := NewNodeExecution("n1", nil)
	w.AddNodeExecution(ne)
	step := NewStep(ne.ID, StepOutputMessage)
	w.AppendStep(ne, step)

	w.DeleteNodeExecution(ne.ID)

	if _, ok := w.NodeExecutions[ne.ID]; ok {
		t.Fatalf("expected node execution to be removed")
	}
	if len(w.Steps) != 0 {
		t.Fatalf("expected its steps to be removed from the flat list, got %+v", w.Steps)
	}
}
