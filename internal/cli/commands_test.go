package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveview/internal/store"
	"github.com/roach88/liveview/internal/tasks"
)

type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// run executes args against db with JSON output and decodes the payload
// into data.
func run(t *testing.T, db string, data any, args ...string) error {
	t.Helper()
	out, _, err := execute(t, append(args, "--db", db, "--format", "json")...)
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if err == nil && data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return err
}

func listTasks(t *testing.T, db string, args ...string) []tasks.Task {
	t.Helper()
	var list []tasks.Task
	require.NoError(t, run(t, db, &list, append([]string{"list"}, args...)...))
	return list
}

func tempDB(t *testing.T) string {
	return filepath.Join(t.TempDir(), "liveview.db")
}

func TestTaskLifecycle(t *testing.T) {
	db := tempDB(t)

	var created EditResult
	require.NoError(t, run(t, db, &created, "create", "Get Milk", "--user", "Henry"))
	assert.Equal(t, "created", created.Action)
	require.NotEmpty(t, created.ID)
	id := created.ID

	list := listTasks(t, db)
	require.Len(t, list, 1)
	assert.Equal(t, tasks.Task{
		ID: id, Body: "Get Milk", UserID: "Henry", InvitationIDs: map[string]bool{},
	}, list[0])

	var toggled EditResult
	require.NoError(t, run(t, db, &toggled, "toggle", id))
	assert.Equal(t, "completed", toggled.Action)
	assert.True(t, listTasks(t, db)[0].IsCompleted)

	require.NoError(t, run(t, db, &toggled, "toggle", id))
	assert.Equal(t, "reopened", toggled.Action)
	assert.False(t, listTasks(t, db)[0].IsCompleted)

	require.NoError(t, run(t, db, nil, "invite", id, "Yvonne"))
	require.NoError(t, run(t, db, nil, "invite", id, "Jim"))
	assert.Equal(t, []string{"Jim", "Yvonne"}, listTasks(t, db)[0].Invitees())

	require.NoError(t, run(t, db, nil, "update", id, "--user", "Megan"))
	assert.Empty(t, listTasks(t, db, "--owner", "Henry"))
	megan := listTasks(t, db, "--owner", "Megan")
	require.Len(t, megan, 1)
	assert.Equal(t, "Get Milk", megan[0].Body, "update keeps the body")
	assert.False(t, megan[0].IsCompleted, "update keeps completion when --completed is not given")

	var retired EditResult
	require.NoError(t, run(t, db, &retired, "retire", id))
	assert.Equal(t, "retired", retired.Action)
	assert.Empty(t, listTasks(t, db))

	err := run(t, db, nil, "toggle", id)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, store.IsNotFound(err))
}

func TestUpdateEvict(t *testing.T) {
	db := tempDB(t)

	var created EditResult
	require.NoError(t, run(t, db, &created, "create", "Walk dog"))

	var res EditResult
	require.NoError(t, run(t, db, &res, "update", created.ID, "--completed", "--evict"))
	assert.Equal(t, "retired", res.Action)
	assert.Empty(t, listTasks(t, db))
}

func TestCreateRandomUser(t *testing.T) {
	db := tempDB(t)
	require.NoError(t, run(t, db, nil, "create", "Call plumber", "--random-user", "--completed"))

	list := listTasks(t, db)
	require.Len(t, list, 1)
	assert.True(t, tasks.KnownName(list[0].UserID), list[0].UserID)
	assert.True(t, list[0].IsCompleted)

	_, _, err := execute(t, "create", "x", "--user", "Jim", "--random-user", "--db", db)
	assert.Error(t, err)
}

func TestInviteWarnsOnUnknownUser(t *testing.T) {
	db := tempDB(t)
	var created EditResult
	require.NoError(t, run(t, db, &created, "create", "Get Milk"))

	out, errOut, err := execute(t, "invite", created.ID, "Zed", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, errOut, `warning: "Zed" is not a known user`)
	assert.Contains(t, out, "invited Zed to "+created.ID)
}

func TestMutationsOnMissingTask(t *testing.T) {
	db := tempDB(t)
	for _, args := range [][]string{
		{"toggle", "nope"},
		{"update", "nope", "--completed"},
		{"invite", "nope", "Jim"},
		{"retire", "nope"},
	} {
		t.Run(args[0], func(t *testing.T) {
			out, _, err := execute(t, append(args, "--db", db)...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "Error [E001]")
		})
	}
}

func TestListText(t *testing.T) {
	db := tempDB(t)
	out, _, err := execute(t, "list", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "no tasks\n", out)

	var created EditResult
	require.NoError(t, run(t, db, &created, "create", "Get Milk", "--user", "Henry"))

	out, _, err = execute(t, "list", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "[ ] Get Milk  "+created.ID+"  @Henry\n", out)
}

func TestSweepRateLimited(t *testing.T) {
	db := tempDB(t)

	var res SweepResult
	require.NoError(t, run(t, db, &res, "sweep"))
	assert.Empty(t, res.Evicted)

	err := run(t, db, nil, "sweep")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, _, _ := execute(t, "sweep", "--db", db, "--format", "json")
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSweepTooSoon, resp.Error.Code)
}

func TestSweepResultString(t *testing.T) {
	assert.Equal(t, "swept: nothing to evict", SweepResult{}.String())
	assert.Equal(t, "swept 2 task(s): a, b", SweepResult{Evicted: []string{"a", "b"}}.String())
}

func TestValidateCommand(t *testing.T) {
	out, _, err := execute(t, "validate")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "\u2713 tasks (visibility: isSafeForEviction, owner: userId)"), out)
	assert.Contains(t, out, "invitationIds")

	var res ValidationResult
	require.NoError(t, run(t, tempDB(t), &res, "validate"))
	assert.True(t, res.Valid)
	require.Len(t, res.Collections, 1)
	assert.Equal(t, "bool", res.Collections[0].Fields["isCompleted"])

	_, _, err = execute(t, "validate", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestWatchPrintsSnapshots(t *testing.T) {
	db := tempDB(t)
	var created EditResult
	require.NoError(t, run(t, db, &created, "create", "Get Milk", "--user", "Henry"))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	cmd := NewRootCommand()
	out := &syncBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"watch", "--db", db, "--format", "json", "--owner", "Henry", "--no-sweep"})
	require.NoError(t, cmd.ExecuteContext(ctx))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)

	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	var update WatchUpdate
	require.NoError(t, json.Unmarshal(resp.Data, &update))
	require.Len(t, update.Tasks, 1)
	assert.Equal(t, created.ID, update.Tasks[0].ID)
	assert.Positive(t, update.Seq)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of a
// running command and the reads of a test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
