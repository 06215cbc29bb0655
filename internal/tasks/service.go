package tasks

import (
	"context"
	"fmt"

	"github.com/roach88/liveview/internal/ir"
)

// Mutator is the write side a Service drives. *liveview.Gateway
// implements it.
type Mutator interface {
	Create(ctx context.Context, fields ir.IRObject) (string, error)
	Update(ctx context.Context, id string, patch ir.IRObject) error
	Retire(ctx context.Context, id string) error
}

// Service applies task list edits through a Mutator.
type Service struct {
	m Mutator
}

// NewService creates a service writing through m.
func NewService(m Mutator) *Service {
	return &Service{m: m}
}

// Add creates an open task for userID and returns its id.
func (s *Service) Add(ctx context.Context, body, userID string) (string, error) {
	t := Task{Body: body, UserID: userID}
	id, err := s.m.Create(ctx, t.Fields())
	if err != nil {
		return "", fmt.Errorf("add task: %w", err)
	}
	return id, nil
}

// Toggle flips the completion of t as the caller last saw it.
func (s *Service) Toggle(ctx context.Context, t Task) error {
	patch := ir.IRObject{FieldIsCompleted: ir.IRBool(!t.IsCompleted)}
	if err := s.m.Update(ctx, t.ID, patch); err != nil {
		return fmt.Errorf("toggle task: %w", err)
	}
	return nil
}

// Invite shares task id with user. Existing invitations are kept.
func (s *Service) Invite(ctx context.Context, id, user string) error {
	if user == "" {
		return fmt.Errorf("invite to %s: empty user", id)
	}
	patch := ir.IRObject{FieldInvitations: ir.Tags(user)}
	if err := s.m.Update(ctx, id, patch); err != nil {
		return fmt.Errorf("invite %s to %s: %w", user, id, err)
	}
	return nil
}

// Edit is the state of the edit screen when it is saved.
type Edit struct {
	// ID is empty for a new task.
	ID          string
	Body        string
	IsCompleted bool
	UserID      string
	// Evict retires the task after saving it.
	Evict bool
}

// Save applies e and returns the task id.
//
// A new task is created with Body. An existing task keeps its body; only
// IsCompleted and UserID are written, then the task is retired if Evict is
// set.
func (s *Service) Save(ctx context.Context, e Edit) (string, error) {
	if e.ID == "" {
		t := Task{Body: e.Body, UserID: e.UserID, IsCompleted: e.IsCompleted}
		id, err := s.m.Create(ctx, t.Fields())
		if err != nil {
			return "", fmt.Errorf("save new task: %w", err)
		}
		return id, nil
	}

	patch := ir.IRObject{
		FieldIsCompleted: ir.IRBool(e.IsCompleted),
		FieldUserID:      ir.IRString(e.UserID),
	}
	if err := s.m.Update(ctx, e.ID, patch); err != nil {
		return "", fmt.Errorf("save task %s: %w", e.ID, err)
	}
	if e.Evict {
		if err := s.m.Retire(ctx, e.ID); err != nil {
			return "", fmt.Errorf("evict task %s: %w", e.ID, err)
		}
	}
	return e.ID, nil
}
