package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/liveview/internal/tasks"
)

// EditResult is the JSON payload of a mutating command.
type EditResult struct {
	ID     string `json:"id"`
	Action string `json:"action"`
}

func (r EditResult) String() string {
	return fmt.Sprintf("%s %s", r.Action, r.ID)
}

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	User       string
	RandomUser bool
	Completed  bool
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <body>",
		Short: "Create a task",
		Long: `Create a task and print its id.

The task is visible from the moment it is stored.

Examples:
  liveview create "Get Milk"
  liveview create "Walk dog" --user Megan
  liveview create "Call plumber" --random-user`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "owner of the task")
	cmd.Flags().BoolVar(&opts.RandomUser, "random-user", false, "assign the task to a random known user")
	cmd.Flags().BoolVar(&opts.Completed, "completed", false, "create the task already completed")
	cmd.MarkFlagsMutuallyExclusive("user", "random-user")

	return cmd
}

func runCreate(opts *CreateOptions, body string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	user := opts.User
	if opts.RandomUser {
		user = tasks.RandomName(nil)
	}

	id, err := s.service.Save(cmd.Context(), tasks.Edit{Body: body, UserID: user, IsCompleted: opts.Completed})
	if err != nil {
		return f.Fail("create failed", err)
	}
	return f.Success(EditResult{ID: id, Action: "created"})
}

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	User      string
	Completed bool
	Evict     bool
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Save changes to a task",
		Long: `Save the completion state and owner of a task, as the edit screen does.

Flags that are not given keep the task's current value. With --evict the
task is retired after saving.

Examples:
  liveview update 0192... --completed
  liveview update 0192... --user Henry
  liveview update 0192... --completed --evict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "new owner of the task")
	cmd.Flags().BoolVar(&opts.Completed, "completed", false, "mark the task completed (--completed=false reopens it)")
	cmd.Flags().BoolVar(&opts.Evict, "evict", false, "retire the task after saving")

	return cmd
}

func runUpdate(opts *UpdateOptions, id string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts.RootOptions)
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	current, err := s.task(ctx, id)
	if err != nil {
		return f.Fail("update failed", err)
	}

	edit := tasks.Edit{
		ID:          id,
		IsCompleted: current.IsCompleted,
		UserID:      current.UserID,
		Evict:       opts.Evict,
	}
	if cmd.Flags().Changed("completed") {
		edit.IsCompleted = opts.Completed
	}
	if cmd.Flags().Changed("user") {
		edit.UserID = opts.User
	}

	if _, err := s.service.Save(ctx, edit); err != nil {
		return f.Fail("update failed", err)
	}
	s.drainDiagnostics(f)

	action := "updated"
	if opts.Evict {
		action = "retired"
	}
	return f.Success(EditResult{ID: id, Action: action})
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a task between open and completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToggle(rootOpts, args[0], cmd)
		},
	}
}

func runToggle(opts *RootOptions, id string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	t, err := s.task(ctx, id)
	if err != nil {
		return f.Fail("toggle failed", err)
	}
	if err := s.service.Toggle(ctx, t); err != nil {
		return f.Fail("toggle failed", err)
	}

	action := "completed"
	if t.IsCompleted {
		action = "reopened"
	}
	return f.Success(EditResult{ID: id, Action: action})
}

// NewInviteCommand creates the invite command.
func NewInviteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invite <id> <user>",
		Short: "Share a task with a user",
		Long: `Share a task with a user. Earlier invitations are kept.

Example:
  liveview invite 0192... Yvonne`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvite(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runInvite(opts *RootOptions, id, user string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if !tasks.KnownName(user) {
		f.Warn("%q is not a known user", user)
	}
	if err := s.service.Invite(cmd.Context(), id, user); err != nil {
		return f.Fail("invite failed", err)
	}
	return f.Success(EditResult{ID: id, Action: "invited " + user + " to"})
}

// NewRetireCommand creates the retire command.
func NewRetireCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retire <id>",
		Short: "Hide a task and evict it from local storage",
		Long: `Retire a task. It is hidden from every view at once, then evicted from
the local store. If eviction fails the task stays hidden and the next
sweep removes it; a warning is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetire(rootOpts, args[0], cmd)
		},
	}
}

func runRetire(opts *RootOptions, id string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.gateway.Retire(cmd.Context(), id); err != nil {
		return f.Fail("retire failed", err)
	}
	s.drainDiagnostics(f)
	return f.Success(EditResult{ID: id, Action: "retired"})
}
