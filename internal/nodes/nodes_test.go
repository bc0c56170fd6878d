package nodes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SyntesseraAI/n8n-heroku/internal/claude"
	"github.com/SyntesseraAI/n8n-heroku/internal/cloudrun"
	"github.com/SyntesseraAI/n8n-heroku/internal/cloudrun/mocks"
	"github.com/SyntesseraAI/n8n-heroku/internal/events"
	"github.com/SyntesseraAI/n8n-heroku/internal/invoke"
	"github.com/SyntesseraAI/n8n-heroku/internal/log"
	"github.com/SyntesseraAI/n8n-heroku/internal/runs"
	"github.com/SyntesseraAI/n8n-heroku/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []claude.RunRequest
	fn   func(req claude.RunRequest) (string, error)
}

func (f *fakeRunner) Run(_ context.Context, req claude.RunRequest) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.fn(req)
}

type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	stages []events.JobStage
}

func (p *recordingPublisher) Publish(eventType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	if st, ok := data.(events.JobStage); ok {
		p.stages = append(p.stages, st)
	}
}

func openRuns(t *testing.T) *runs.Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "claudegw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return runs.New(db, 0)
}

func TestClaudeCodeDefaultsApplied(t *testing.T) {
	r := &fakeRunner{fn: func(req claude.RunRequest) (string, error) { return "out:" + req.Prompt, nil }}
	node := NewClaudeCode(r, ClaudeCodeDefaults{AllowedTools: true})

	res, err := node.Execute(context.Background(), []ClaudeCodeItem{{Prompt: "hello"}}, false)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, Result{Model: "sonnet", Prompt: "hello", Output: "out:hello", Success: true, Item: 0}, res[0])

	require.Len(t, r.reqs, 1)
	req := r.reqs[0]
	assert.Equal(t, claude.ModelSonnet, req.Model)
	assert.Equal(t, claude.DefaultMCPServers(), req.MCPServers)
	assert.True(t, req.AllowedTools)
	assert.Equal(t, claude.DefaultTimeout, req.Timeout)
	assert.Empty(t, req.Dir)
}

func TestClaudeCodeItemOverrides(t *testing.T) {
	r := &fakeRunner{fn: func(claude.RunRequest) (string, error) { return "", nil }}
	node := NewClaudeCode(r, ClaudeCodeDefaults{AllowedTools: true})
	off := false

	_, err := node.Execute(context.Background(), []ClaudeCodeItem{{
		Model:            "Opus",
		Prompt:           "p",
		MCPServers:       []string{},
		AllowedTools:     &off,
		TimeoutSeconds:   30,
		WorkingDirectory: "/tmp",
	}}, false)
	require.NoError(t, err)

	req := r.reqs[0]
	assert.Equal(t, claude.ModelOpus, req.Model)
	assert.Empty(t, req.MCPServers)
	assert.False(t, req.AllowedTools)
	assert.Equal(t, 30*time.Second, req.Timeout)
	assert.Equal(t, "/tmp", req.Dir)
	assert.Equal(t, []string{"--model", "opus", "-p", "p"}, claude.BuildArgs(req.Options))
}

func TestClaudeCodeAbortsWithItemIndex(t *testing.T) {
	boom := errors.New("boom")
	r := &fakeRunner{fn: func(req claude.RunRequest) (string, error) {
		if req.Prompt == "bad" {
			return "", boom
		}
		return "ok", nil
	}}
	node := NewClaudeCode(r, ClaudeCodeDefaults{})

	res, err := node.Execute(context.Background(), []ClaudeCodeItem{{Prompt: "a"}, {Prompt: "bad"}, {Prompt: "c"}}, false)
	require.Error(t, err)

	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 1, itemErr.Index)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, res, 1)
	assert.Len(t, r.reqs, 2, "items after the failure must not run")
}

func TestClaudeCodeContinueOnFail(t *testing.T) {
	r := &fakeRunner{fn: func(req claude.RunRequest) (string, error) {
		if req.Prompt == "bad" {
			return "", &invoke.ExitError{Label: "Claude Code", ExitCode: 2}
		}
		return "ok", nil
	}}
	node := NewClaudeCode(r, ClaudeCodeDefaults{})

	res, err := node.Execute(context.Background(), []ClaudeCodeItem{{Prompt: "bad"}, {Prompt: "good"}}, true)
	require.NoError(t, err)
	require.Len(t, res, 2)

	assert.False(t, res[0].Success)
	assert.Contains(t, res[0].Error, "Claude Code exited with code 2")
	assert.Empty(t, res[0].Output)
	assert.Equal(t, 0, res[0].Item)

	assert.True(t, res[1].Success)
	assert.Equal(t, 1, res[1].Item)
}

func TestClaudeCodeInvalidItemNeverRuns(t *testing.T) {
	r := &fakeRunner{fn: func(claude.RunRequest) (string, error) { return "", nil }}
	node := NewClaudeCode(r, ClaudeCodeDefaults{})

	_, err := node.Execute(context.Background(), []ClaudeCodeItem{{Prompt: "  "}}, false)
	assert.ErrorIs(t, err, claude.ErrMissingConfiguration)

	_, err = node.Execute(context.Background(), []ClaudeCodeItem{{Prompt: "p", Model: "gpt"}}, false)
	assert.Error(t, err)

	_, err = node.Execute(context.Background(), []ClaudeCodeItem{{Prompt: "p", MCPServers: []string{"github"}}}, false)
	assert.Error(t, err)

	assert.Empty(t, r.reqs)
}

func TestClaudeCodeRecordsRuns(t *testing.T) {
	store := openRuns(t)
	pub := &recordingPublisher{}
	r := &fakeRunner{fn: func(req claude.RunRequest) (string, error) {
		if req.Prompt == "slow" {
			return "", &invoke.TimeoutError{Label: "Claude Code", Timeout: time.Second}
		}
		return "fine", nil
	}}
	node := NewClaudeCode(r, ClaudeCodeDefaults{}, WithRecorder(store), WithPublisher(pub))

	res, err := node.Execute(context.Background(), []ClaudeCodeItem{{Prompt: "ok"}, {Prompt: "slow"}}, true)
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.NotEmpty(t, res[0].RunID)
	require.NotEmpty(t, res[1].RunID)

	first, err := store.Get(context.Background(), res[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusSucceeded, first.Status)
	assert.Equal(t, "fine", first.Output)
	assert.Equal(t, runs.KindClaudeCode, first.Kind)

	second, err := store.Get(context.Background(), res[1].RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusTimedOut, second.Status)
	assert.Contains(t, second.Error, "timed out after 1 seconds")
	assert.Equal(t, first.BatchID, second.BatchID)
	assert.Equal(t, 1, second.ItemIndex)

	assert.Equal(t, []string{
		events.TypeRunStarted, events.TypeRunCompleted,
		events.TypeRunStarted, events.TypeRunCompleted,
	}, pub.types)
}

func TestCancelledContextAbortsEvenWithContinueOnFail(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeRunner{fn: func(claude.RunRequest) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	node := NewClaudeCode(r, ClaudeCodeDefaults{})

	_, err := node.Execute(ctx, []ClaudeCodeItem{{Prompt: "a"}, {Prompt: "b"}}, true)
	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 0, itemErr.Index)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, r.reqs, 1)
}

func cloudDefaults() CloudRunDefaults {
	return CloudRunDefaults{
		ProjectID:  "proj",
		Region:     "europe-west1",
		OAuthToken: "oauth",
	}
}

func TestCloudRunDispatchSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockJobClient(ctrl)
	pub := &recordingPublisher{}

	var spec cloudrun.JobSpec
	gomock.InOrder(
		client.EXPECT().CreateJob(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, s cloudrun.JobSpec) error {
			spec = s
			return nil
		}),
		client.EXPECT().ExecuteJob(gomock.Any(), gomock.Any()).Return(nil),
		client.EXPECT().ReadLogs(gomock.Any(), gomock.Any(), cloudrun.LogQuery{Limit: 50, Verbose: true}).Return("a\n\nb\n", nil),
		client.EXPECT().DeleteJob(gomock.Any(), gomock.Any()).Return(nil),
	)

	retries := 2
	verbose := true
	node := NewCloudRunDispatch(client, cloudDefaults(), WithPublisher(pub))
	res, err := node.Execute(context.Background(), []CloudRunItem{{
		Prompt:     "do it",
		Memory:     "8Gi",
		Timeout:    "600",
		MaxRetries: &retries,
		Verbose:    &verbose,
	}}, false)
	require.NoError(t, err)
	require.Len(t, res, 1)

	got := res[0]
	assert.True(t, got.Success)
	assert.Equal(t, "a\nb", got.Output)
	assert.Equal(t, "opusplan", got.Model)
	assert.Equal(t, "proj", got.ProjectID)
	assert.Equal(t, "europe-west1", got.Region)
	assert.Equal(t, spec.Name, got.JobName)

	assert.Equal(t, "8Gi", spec.Memory)
	assert.Equal(t, 2, spec.MaxRetries)
	assert.Equal(t, 600*time.Second, spec.TaskTimeout)

	require.Len(t, pub.stages, 4)
	for i, stage := range []cloudrun.Stage{cloudrun.StageCreate, cloudrun.StageExecute, cloudrun.StageLogs, cloudrun.StageCleanup} {
		assert.Equal(t, string(stage), pub.stages[i].Stage)
		assert.Equal(t, spec.Name, pub.stages[i].Job)
		assert.Empty(t, pub.stages[i].Error)
	}
}

func TestCloudRunDispatchContinueOnFail(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockJobClient(ctrl)
	store := openRuns(t)

	client.EXPECT().CreateJob(gomock.Any(), gomock.Any()).Return(errors.New("quota exceeded"))
	client.EXPECT().DeleteJob(gomock.Any(), gomock.Any()).Return(nil)

	node := NewCloudRunDispatch(client, cloudDefaults(), WithRecorder(store))
	res, err := node.Execute(context.Background(), []CloudRunItem{{Prompt: "x"}}, true)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.False(t, res[0].Success)
	assert.Contains(t, res[0].Error, "job creation failed")
	assert.Contains(t, res[0].Error, "quota exceeded")

	run, err := store.Get(context.Background(), res[0].RunID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, run.Status)
	assert.Equal(t, runs.KindCloudRunDispatch, run.Kind)
}

func TestCloudRunDispatchMissingCredentials(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockJobClient(ctrl)

	node := NewCloudRunDispatch(client, CloudRunDefaults{ProjectID: "proj"})
	_, err := node.Execute(context.Background(), []CloudRunItem{{Prompt: "x"}}, false)

	var itemErr *ItemError
	require.ErrorAs(t, err, &itemErr)
	assert.ErrorIs(t, err, claude.ErrMissingConfiguration)
}

func TestCloudRunDispatchBadTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockJobClient(ctrl)

	node := NewCloudRunDispatch(client, cloudDefaults())
	_, err := node.Execute(context.Background(), []CloudRunItem{{Prompt: "x", Timeout: "soon"}}, false)
	assert.ErrorContains(t, err, `invalid timeout "soon"`)
}

func TestCloudRunDispatchPlan(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockJobClient(ctrl)

	node := NewCloudRunDispatch(client, cloudDefaults())
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	spec, q, err := node.Plan(CloudRunItem{Prompt: "plan me", CPU: "4"}, now)
	require.NoError(t, err)

	assert.Equal(t, cloudrun.JobName(cloudrun.DefaultServiceName, now), spec.Name)
	assert.Equal(t, "gcr.io/proj/claude-code-runner", spec.Image)
	assert.Equal(t, "4", spec.CPU)
	assert.Equal(t, cloudrun.LogQuery{Limit: 50}, q)
	require.Len(t, spec.Env, 4)
	assert.Equal(t, "plan me", spec.Env[0].Value)

	_, _, err = NewCloudRunDispatch(client, CloudRunDefaults{}).Plan(CloudRunItem{Prompt: "x"}, now)
	assert.ErrorIs(t, err, claude.ErrMissingConfiguration)
}

func TestParseTaskTimeout(t *testing.T) {
	cases := map[string]time.Duration{
		"3600s": time.Hour,
		"3600":  time.Hour,
		" 90 ":  90 * time.Second,
		"1h30m": 90 * time.Minute,
		"250ms": 250 * time.Millisecond,
	}
	for in, want := range cases {
		got, err := ParseTaskTimeout(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "0", "-5", "-1s", "forever"} {
		_, err := ParseTaskTimeout(bad)
		assert.Error(t, err, bad)
	}
}

// timeoutCommander records the timeout requested for each gcloud call.
type timeoutCommander struct {
	mu       sync.Mutex
	timeouts map[string]time.Duration
}

func (c *timeoutCommander) Run(_ context.Context, _ string, args []string, timeout time.Duration) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts[args[0]+" "+args[2]] = timeout
	return "", nil
}

func TestCloudRunDispatchLongTaskOutlivesCommandTimeout(t *testing.T) {
	rec := &timeoutCommander{timeouts: map[string]time.Duration{}}
	node := NewCloudRunDispatch(cloudrun.NewGcloudClient(rec, ""), cloudDefaults())

	retries := 1
	results, err := node.Execute(context.Background(), []CloudRunItem{
		{Prompt: "long job", Timeout: "3h", MaxRetries: &retries},
	}, false)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.GreaterOrEqual(t, rec.timeouts["run execute"], 6*time.Hour)
	assert.Zero(t, rec.timeouts["run create"])
	assert.Zero(t, rec.timeouts["run delete"])
}
