package routing_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/routing/pkg/chain"
	"github.com/dukex/routing/pkg/eventbus"
	"github.com/dukex/routing/pkg/events"
	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/persistence"
	"github.com/dukex/routing/pkg/routing"
	"github.com/dukex/routing/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	node  = testutil.CreateTestNode
	route = testutil.CreateTestRoute
	to    = testutil.WithTransition
)

func TestRunner_NoStartNode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	model := route("no-start", node("node1", testutil.WithStop()))
	f.saveModel(t, model)

	_, err := f.runner.CreateInstance(context.Background(), model.ID, nil, "")
	require.ErrorIs(t, err, routing.ErrNoStartNode)
	assert.True(t, routing.IsConfigurationError(err))
}

func TestRunner_NoTrueTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	model := route("no-true",
		node("node1", testutil.WithStart(), to("node2", "false")),
		node("node2", testutil.WithStop()),
	)
	f.saveModel(t, model)

	instance, err := f.runner.CreateInstance(ctx, model.ID, nil, "")
	require.NoError(t, err)

	_, err = f.runner.Start(ctx, instance.ID, nil)
	require.ErrorIs(t, err, routing.ErrNoTrueTransition)

	var routeErr *routing.RouteError
	require.ErrorAs(t, err, &routeErr)
	assert.Equal(t, "node1", routeErr.NodeID)

	// nothing of the failed step was persisted
	stored := f.reload(t, instance.ID).Route()
	assert.Equal(t, models.RouteStateReady, stored.State)

	f.bus.AssertCalled(t, "Publish", mockAny, instance.ID, eventOfType(events.RouteFailedEvent))
}

func TestRunner_ConditionNotBoolean(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	model := route("not-boolean",
		node("node1", testutil.WithStart(), to("node2", `'notaboolean'`)),
		node("node2", testutil.WithStop()),
	)
	f.saveModel(t, model)

	instance, err := f.runner.CreateInstance(ctx, model.ID, nil, "")
	require.NoError(t, err)

	_, err = f.runner.Start(ctx, instance.ID, nil)

	var typeErr *routing.ConditionTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "node1-node2", typeErr.TransitionID)
	assert.Equal(t, "notaboolean", typeErr.Value)
	assert.True(t, routing.IsEvaluationError(err))
}

func TestRunner_Looping(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	model := route("looping",
		node("node1", testutil.WithStart(), to("node2", "true")),
		node("node2", to("node1", "true")),
		node("end", testutil.WithStop()),
	)
	f.saveModel(t, model)

	instance, err := f.runner.CreateInstance(ctx, model.ID, nil, "")
	require.NoError(t, err)

	_, err = f.runner.Start(ctx, instance.ID, nil)
	require.ErrorIs(t, err, routing.ErrExecutionLooping)
}

func TestRunner_OneNodeStartStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done := f.instantiateAndRun(t, route("single", node("node1", testutil.WithStart(), testutil.WithStop())),
		map[string]any{"stringfield": "foo"})

	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "foo", done.Variables["stringfield"])
	assert.Equal(t, "initiator", done.Initiator)
	require.NotNil(t, done.StartTime)
	assert.Equal(t, testNow, *done.StartTime)

	stored := f.reload(t, done.ID).Route()
	assert.Equal(t, models.RouteStateDone, stored.State)
	assert.Equal(t, int64(1), stored.Nodes[0].Count)
	assert.Equal(t, models.StateDone, stored.Nodes[0].State, "a stop node ends done")

	f.bus.AssertCalled(t, "Publish", mockAny, done.ID, eventOfType(events.RouteStartedEvent))
	f.bus.AssertCalled(t, "Publish", mockAny, done.ID, eventOfType(events.RouteDoneEvent))
}

func TestRunner_SimpleLoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done := f.instantiateAndRun(t, route("loop",
		node("start", testutil.WithStart(), testutil.WithInputChain("counter"), to("a", "true")),
		node("a", to("b", "true")),
		node("b",
			to("start", `WorkflowVariables["count"] < 3.0`),
			to("end", `WorkflowVariables["count"] >= 3.0`)),
		node("end", testutil.WithStop()),
	), nil)

	assert.Equal(t, models.RouteStateDone, done.State)
	assert.InDelta(t, 3.0, done.Variables["count"], 0)

	start := f.node(t, done.ID, "start")
	assert.Equal(t, int64(3), start.Count)
	assert.True(t, f.node(t, done.ID, "b").OutputTransitions[0].Loop)
}

func TestRunner_ChainsOnTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done := f.instantiateAndRun(t, route("transition-chain",
		node("node1", testutil.WithStart(), testutil.WithChainTransition("node2", "true", "title1")),
		node("node2", testutil.WithStop(), testutil.WithInputChain("descr1"), testutil.WithOutputChain("rights1")),
	), nil)

	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "title 1", done.Variables["title"])
	assert.Equal(t, "descr 1", done.Variables["descr"])
	assert.Equal(t, "rights 1", done.Variables["rights"])
}

func TestRunner_ForkMergeAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done := f.instantiateAndRun(t, route("fork-merge-all",
		node("node1", testutil.WithStart(), to("node2", "true"), to("node3", "true")),
		node("node2", testutil.WithInputChain("title1"), to("node4", "true")),
		node("node3", testutil.WithInputChain("descr1"), to("node4", "true")),
		node("node4", testutil.WithMerge(models.MergeModeAll), testutil.WithInputChain("rights1"), testutil.WithStop()),
	), nil)

	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "title 1", done.Variables["title"])
	assert.Equal(t, "descr 1", done.Variables["descr"])
	assert.Equal(t, "rights 1", done.Variables["rights"])
	assert.Equal(t, int64(1), f.node(t, done.ID, "node4").Count)
}

func TestRunner_ForkMergeOne(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done := f.instantiateAndRun(t, route("fork-merge-one",
		node("node1", testutil.WithStart(), to("node2", "true"), to("node3", "true")),
		node("node2", testutil.WithInputChain("title1"), to("node5", "true")),
		node("node3", testutil.WithInputChain("descr1"), to("node4", "true")),
		node("node4", testutil.WithInputChain("descr2"), to("node5", "true")),
		node("node5", testutil.WithMerge(models.MergeModeOne), testutil.WithInputChain("rights1"), testutil.WithStop()),
	), nil)

	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "title 1", done.Variables["title"])
	// node4 was canceled by the merge before it ran
	assert.Equal(t, "descr 1", done.Variables["descr"])
	assert.Equal(t, "rights 1", done.Variables["rights"])

	node4 := f.node(t, done.ID, "node4")
	assert.Equal(t, int64(0), node4.Count)
	assert.Equal(t, int64(1), node4.CanceledCount)
}

func TestRunner_ForkMergeWithLoopTransition(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done := f.instantiateAndRun(t, route("merge-loop",
		node("node1", testutil.WithStart(),
			testutil.WithChainTransition("node2", "true", "title1"),
			testutil.WithChainTransition("node2", "true", "descr1")),
		node("node2", testutil.WithMerge(models.MergeModeAll), testutil.WithInputChain("rights1"),
			testutil.WithStop(), to("node1", "false")),
	), nil)

	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "title 1", done.Variables["title"])
	assert.Equal(t, "descr 1", done.Variables["descr"])
	assert.Equal(t, "rights 1", done.Variables["rights"])
}

func TestRunner_ExclusiveNode(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	done := f.instantiateAndRun(t, route("exclusive",
		node("node1", testutil.WithStart(), testutil.WithExclusive(),
			testutil.WithChainTransition("node2", "false", "title1"),
			testutil.WithChainTransition("node3", "true", "descr1"),
			testutil.WithChainTransition("node4", "true", "rights1")),
		node("node2", testutil.WithStop()),
		node("node3", testutil.WithStop()),
		node("node4", testutil.WithStop()),
	), nil)

	assert.Equal(t, models.RouteStateDone, done.State)
	assert.NotContains(t, done.Variables, "title")
	assert.Equal(t, "descr 1", done.Variables["descr"])
	assert.NotContains(t, done.Variables, "rights")

	results := []bool{}
	for _, tr := range f.node(t, done.ID, "node1").OutputTransitions {
		results = append(results, tr.Result)
	}

	assert.Equal(t, []bool{false, true, false}, results)

	assert.Equal(t, models.StateDone, f.node(t, done.ID, "node3").State)
	assert.Equal(t, models.StateReady, f.node(t, done.ID, "node2").State)
	assert.Equal(t, models.StateReady, f.node(t, done.ID, "node4").State)
}

func taskRoute(id string) *models.GraphRoute {
	return route(id,
		node("node1", testutil.WithStart(), testutil.WithTask("alice"), testutil.WithTaskButtons("approve", "reject"),
			to("node2", `NodeVariables["button"] == "approve"`),
			to("node3", `NodeVariables["button"] == "reject"`)),
		node("node2", testutil.WithInputChain("title1"), testutil.WithStop()),
		node("node3", testutil.WithInputChain("descr1"), testutil.WithStop()),
	)
}

func TestRunner_RouteWithTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	running := f.instantiateAndRun(t, taskRoute("with-task"), nil)
	assert.Equal(t, models.RouteStateRunning, running.State)

	node1 := f.node(t, running.ID, "node1")
	assert.Equal(t, models.StateSuspended, node1.State)
	require.Len(t, node1.TasksInfo, 1)

	open := f.openTasks(t, running.ID)
	require.Len(t, open, 1)
	assert.Equal(t, []string{"alice"}, open[0].Actors)
	assert.Equal(t, "node1", open[0].Name)
	require.NotNil(t, open[0].DueDate)
	assert.True(t, testNow.Equal(*open[0].DueDate))

	done, err := f.endTask(t, open[0], "alice", "approve")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "title 1", done.Variables["title"])

	node1 = f.node(t, done.ID, "node1")
	assert.Equal(t, "alice", node1.LastActor)
	assert.Equal(t, "approve", node1.Variables["button"])
	require.Len(t, node1.ProcessedTasksInfo(), 1)
	assert.Equal(t, "approve", *node1.TasksInfo[0].Status)

	_, err = f.runner.Resume(ctx, done.ID, "node1", routing.ResumeData{TaskID: open[0].ID})
	require.ErrorIs(t, err, routing.ErrRouteTerminal)
}

func TestRunner_ResumeErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	running := f.instantiateAndRun(t, route("resume-errors",
		node("node1", testutil.WithStart(), testutil.WithTask("alice"), to("node2", "true")),
		node("node2", testutil.WithTask("bob"), to("node3", "true")),
		node("node3", testutil.WithStop()),
	), nil)

	_, err := f.runner.Resume(ctx, running.ID, "node2", routing.ResumeData{})
	require.ErrorIs(t, err, routing.ErrNotSuspended)

	_, err = f.runner.Resume(ctx, running.ID, "missing", routing.ResumeData{})
	require.ErrorIs(t, err, routing.ErrNodeNotFound)

	_, err = f.runner.Resume(ctx, "missing-route", "node1", routing.ResumeData{})
	assert.True(t, persistence.IsRouteNotFound(err))

	task := f.openTasks(t, running.ID)[0]

	_, err = f.endTask(t, task, "alice", "ok")
	require.NoError(t, err)

	_, err = f.runner.Resume(ctx, running.ID, "node1", routing.ResumeData{TaskID: task.ID})
	require.ErrorIs(t, err, routing.ErrNotSuspended)
}

func TestRunner_MergeOneCancelsOpenTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	running := f.instantiateAndRun(t, route("merge-one-tasks",
		node("node1", testutil.WithStart(), to("node2", "true"), to("node3", "true")),
		node("node2", testutil.WithInputChain("title1"), testutil.WithTask(), to("node5", "true")),
		node("node3", testutil.WithInputChain("descr1"), to("node4", "true")),
		node("node4", testutil.WithInputChain("descr2"), testutil.WithTask("myuser1"), to("node5", "true")),
		node("node5", testutil.WithMerge(models.MergeModeOne), testutil.WithInputChain("rights1"), testutil.WithStop()),
	), nil)

	open := f.openTasks(t, running.ID)
	require.Len(t, open, 2)

	var user1Task *models.Task

	for _, task := range open {
		if task.NodeID == "node4" {
			user1Task = task
		}
	}

	require.NotNil(t, user1Task)

	done, err := f.endTask(t, user1Task, "myuser1", "")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, done.State)

	assert.Empty(t, f.openTasks(t, running.ID))

	node2 := f.node(t, running.ID, "node2")
	assert.Equal(t, models.StateReady, node2.State)
	assert.Equal(t, int64(1), node2.CanceledCount)
	require.Len(t, node2.TasksInfo, 1)
	assert.True(t, node2.TasksInfo[0].Canceled())

	canceled, err := f.tasks.Get(context.Background(), node2.TasksInfo[0].TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCanceled, canceled.Status)
}

func TestRunner_ForceResumeOnMerge(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	force := routing.ResumeData{ForceResume: true}

	model := route("force-resume",
		node("node1", testutil.WithStart(), to("node2", "true"), to("node3", "true")),
		node("node2", testutil.WithInputChain("title1"), testutil.WithTask(), to("node5", "true")),
		node("node3", testutil.WithInputChain("descr1"), to("node4", "true")),
		node("node4", testutil.WithInputChain("descr2"), to("node5", "true")),
		node("node5", testutil.WithMerge(models.MergeModeAll), testutil.WithInputChain("rights1"), testutil.WithStop()),
	)
	f.saveModel(t, model)

	start := func() *models.GraphRoute {
		instance, err := f.runner.CreateInstance(ctx, model.ID, nil, "")
		require.NoError(t, err)

		running, err := f.runner.Start(ctx, instance.ID, nil)
		require.NoError(t, err)

		return running
	}

	// force resume on a suspended node behaves as a regular resume
	running := start()
	done, err := f.runner.Resume(ctx, running.ID, "node2", force)
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, done.State)

	// force resume on an "all" merge does nothing
	running = start()
	assert.Equal(t, models.StateWaiting, f.node(t, running.ID, "node5").State)

	still, err := f.runner.Resume(ctx, running.ID, "node5", force)
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateRunning, still.State)

	// once the instance merges on one input, force resume proceeds and
	// cancels the branch still suspended
	stored := f.reload(t, running.ID).Route()
	for _, n := range stored.Nodes {
		if n.ID == "node5" {
			n.Merge = models.MergeModeOne
		}
	}

	require.NoError(t, f.routes.Save(ctx, stored))

	done, err = f.runner.Resume(ctx, running.ID, "node5", force)
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "rights 1", done.Variables["rights"])
	assert.Empty(t, f.openTasks(t, running.ID))
	assert.Equal(t, int64(1), f.node(t, running.ID, "node2").CanceledCount)
}

func TestRunner_CancelTasksWhenDone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	running := f.instantiateAndRun(t, route("cancel-when-done",
		node("node1", testutil.WithStart(), testutil.WithTask("Administrator"),
			to("node12", `NodeVariables["button"] == "trans1"`),
			to("node22", `NodeVariables["button"] == "trans1"`),
			to("node2", "true")),
		node("node12", testutil.WithTask(), to("node2", "true")),
		node("node22", testutil.WithTask(), to("node2", "true")),
		node("node2", testutil.WithStop()),
	), nil)

	open := f.openTasks(t, running.ID)
	require.Len(t, open, 1)

	done, err := f.endTask(t, open[0], "Administrator", "trans1")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, done.State)

	assert.Empty(t, f.openTasks(t, running.ID))

	for _, id := range []string{"node12", "node22"} {
		n := f.node(t, running.ID, id)
		require.Len(t, n.TasksInfo, 1)
		assert.True(t, n.TasksInfo[0].Canceled(), id)
	}
}

func TestRunner_MultipleTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	running := f.instantiateAndRun(t, route("multiple-tasks",
		node("node1", testutil.WithStart(), testutil.WithMultipleTasks("myuser1", "myuser2", "myuser1"),
			to("node2", `NodeVariables["numberOfProcessedTasks"] == 2`)),
		node("node2", testutil.WithInputChain("title1"), testutil.WithStop()),
	), nil)

	open := f.openTasks(t, running.ID)
	require.Len(t, open, 2)

	for _, task := range open {
		assert.Len(t, task.Actors, 1)
	}

	still, err := f.endTask(t, open[0], open[0].Actors[0], "validate")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateRunning, still.State)

	node1 := f.node(t, running.ID, "node1")
	assert.Equal(t, models.StateSuspended, node1.State)
	assert.True(t, node1.HasOpenTasks())
	assert.Len(t, node1.EndedTasksInfo(), 1)

	done, err := f.endTask(t, open[1], open[1].Actors[0], "reject")
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "title 1", done.Variables["title"])

	node1 = f.node(t, running.ID, "node1")
	require.Len(t, node1.ProcessedTasksInfo(), 2)
	assert.Equal(t, "reject", node1.Variables["button"])
}

func TestRunner_TaskAssigneesAndDueDateExpressions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	running := f.instantiateAndRun(t, route("computed-task",
		node("node1", testutil.WithStart(), testutil.WithTask("static"), func(n *models.GraphNode) {
			n.TaskAssigneesExpression = `WorkflowVariables["reviewers"]`
			n.TaskDueDateExpression = `CurrentDate + duration("48h")`
		}, to("node2", "true")),
		node("node2", testutil.WithStop()),
	), map[string]any{"reviewers": []any{"alice", "static"}})

	open := f.openTasks(t, running.ID)
	require.Len(t, open, 1)
	assert.Equal(t, []string{"static", "alice"}, open[0].Actors)
	require.NotNil(t, open[0].DueDate)
	assert.True(t, testNow.Add(48*time.Hour).Equal(*open[0].DueDate))
}

func subRouteModel(withTask bool) *models.GraphRoute {
	subnode2 := []func(*models.GraphNode){testutil.WithStop()}
	if withTask {
		subnode2 = []func(*models.GraphNode){testutil.WithTask("bob"), to("subnode3", "true")}
	}

	return route("subroute",
		node("subnode1", testutil.WithStart(), testutil.WithChainTransition("subnode2", "true", "title1")),
		node("subnode2", subnode2...),
		node("subnode3", testutil.WithStop()),
	)
}

func parentRoute() *models.GraphRoute {
	return route("parent",
		node("node1", testutil.WithStart(), to("node2", "true")),
		node("node2",
			testutil.WithSubRoute("subroute",
				models.KeyValue{Key: "foo", Value: "bar"},
				models.KeyValue{Key: "origin", Value: "expr:workflowInstanceId + ' ' + nodeId"}),
			to("node3", "true")),
		node("node3", testutil.WithInputChain("rights1"), testutil.WithStop()),
	)
}

func TestRunner_SubRouteNotSuspending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveModel(t, subRouteModel(false))

	done := f.instantiateAndRun(t, parentRoute(), nil)
	assert.Equal(t, models.RouteStateDone, done.State)
	assert.Equal(t, "rights 1", done.Variables["rights"])

	node2 := f.node(t, done.ID, "node2")
	require.NotEmpty(t, node2.SubRouteInstanceID)

	child := f.reload(t, node2.SubRouteInstanceID).Route()
	assert.Equal(t, models.RouteStateDone, child.State)
	assert.Equal(t, done.ID, child.ParentRouteID)
	assert.Equal(t, "node2", child.ParentNodeID)
	assert.Equal(t, "bar", child.Variables["foo"])
	assert.Equal(t, done.ID+" node2", child.Variables["origin"])
	assert.Equal(t, "title 1", child.Variables["title"])
	assert.Equal(t, []string{"doc-1"}, child.AttachedDocumentIDs)
}

func TestRunner_SubRouteSuspending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.saveModel(t, subRouteModel(true))

	running := f.instantiateAndRun(t, parentRoute(), nil)
	assert.Equal(t, models.RouteStateRunning, running.State)

	node2 := f.node(t, running.ID, "node2")
	assert.Equal(t, models.StateSuspended, node2.State)
	require.NotEmpty(t, node2.SubRouteInstanceID)

	childID := node2.SubRouteInstanceID
	assert.Equal(t, models.RouteStateRunning, f.reload(t, childID).Route().State)

	open := f.openTasks(t, childID)
	require.Len(t, open, 1)

	_, err := f.endTask(t, open[0], "bob", "ok")
	require.NoError(t, err)

	assert.Equal(t, models.RouteStateDone, f.reload(t, childID).Route().State)

	parent := f.reload(t, running.ID).Route()
	assert.Equal(t, models.RouteStateDone, parent.State)
	assert.Equal(t, "rights 1", parent.Variables["rights"])
}

func TestRunner_SubRouteModelMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	model := route("orphan-parent",
		node("node1", testutil.WithStart(), testutil.WithTask("alice"), to("node2", "true")),
		node("node2", testutil.WithSubRoute("missing-model"), to("node3", "true")),
		node("node3", testutil.WithStop()),
	)
	running := f.instantiateAndRun(t, model, nil)

	open := f.openTasks(t, running.ID)
	require.Len(t, open, 1)

	_, err := f.endTask(t, open[0], "alice", "approve")
	require.ErrorIs(t, err, persistence.ErrModelNotFound)

	stored := f.reload(t, running.ID)
	assert.Equal(t, models.RouteStateRunning, stored.Route().State)

	node1, err := stored.Node("node1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSuspended, node1.State, "the route keeps its last stored state")

	node2, err := stored.Node("node2")
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, node2.State)
	assert.Empty(t, node2.SubRouteInstanceID)

	children, err := f.routes.Children(ctx, running.ID)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestRunner_MultipleTasksWithoutAssignees(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	model := route("nobody",
		node("node1", testutil.WithStart(), testutil.WithMultipleTasks(), func(n *models.GraphNode) {
			n.TaskAssigneesExpression = `WorkflowVariables["reviewers"]`
		}, to("node2", "true")),
		node("node2", testutil.WithStop()),
	)
	f.saveModel(t, model)

	instance, err := f.runner.CreateInstance(ctx, model.ID, nil, "initiator")
	require.NoError(t, err)

	_, err = f.runner.Start(ctx, instance.ID, map[string]any{"reviewers": []any{}})
	require.ErrorIs(t, err, routing.ErrNoTaskAssignees)

	assert.Empty(t, f.openTasks(t, instance.ID))
	assert.Equal(t, models.RouteStateReady, f.reload(t, instance.ID).Route().State)
}

func TestRunner_SubRouteCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.saveModel(t, subRouteModel(true))

	running := f.instantiateAndRun(t, parentRoute(), nil)
	childID := f.node(t, running.ID, "node2").SubRouteInstanceID
	require.NotEmpty(t, childID)

	canceled, err := f.runner.Cancel(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateCanceled, canceled.State)

	child := f.reload(t, childID).Route()
	assert.Equal(t, models.RouteStateCanceled, child.State)
	assert.Empty(t, f.openTasks(t, childID))
	assert.Equal(t, models.StateCanceled, f.node(t, running.ID, "node2").State)
}

func TestRunner_Cancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	running := f.instantiateAndRun(t, taskRoute("cancel"), nil)

	canceled, err := f.runner.Cancel(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RouteStateCanceled, canceled.State)
	assert.Empty(t, f.openTasks(t, running.ID))

	g := f.reload(t, running.ID)
	node1, err := g.Node("node1")
	require.NoError(t, err)
	assert.Equal(t, models.StateCanceled, node1.State)

	node2, err := g.Node("node2")
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, node2.State)

	_, err = f.runner.Cancel(ctx, running.ID)
	require.ErrorIs(t, err, routing.ErrRouteTerminal)

	_, err = f.runner.Start(ctx, running.ID, nil)
	require.ErrorIs(t, err, routing.ErrInvalidRouteState)

	f.bus.AssertCalled(t, "Publish", mockAny, running.ID, eventOfType(events.RouteCanceledEvent))
}

func TestRunner_CreateInstanceRequiresValidatedModel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	model := route("draft", node("node1", testutil.WithStart(), testutil.WithStop()))
	model.State = models.RouteStateDraft
	require.NoError(t, f.routes.Save(ctx, model))

	_, err := f.runner.CreateInstance(ctx, "draft", nil, "")
	require.ErrorIs(t, err, routing.ErrInvalidRouteState)

	_, err = f.runner.CreateInstance(ctx, "unknown", nil, "")
	assert.True(t, persistence.IsModelNotFound(err))
}

func TestRunner_EscalationRules(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.chains.Register("escalate", setVar(chain.ScopeWorkflow, "escalated", true))

	running := f.instantiateAndRun(t, route("escalation",
		node("node1", testutil.WithStart(), testutil.WithTask("alice"),
			testutil.WithEscalationRule("once", "true", "escalate", false),
			testutil.WithEscalationRule("never", "false", "escalate", false),
			to("node2", "true")),
		node("node2", testutil.WithStop()),
	), nil)

	candidates, err := f.engine.QueryForSuspendedNodesWithEscalation(ctx, f.routes)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "node1", candidates[0].Node.ID)

	ready, err := candidates[0].Node.EvaluateEscalationRules(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "once", ready[0].ID)

	executed, err := f.runner.ExecuteEscalationRule(ctx, running.ID, "node1", "once")
	require.NoError(t, err)
	assert.True(t, executed)

	g := f.reload(t, running.ID)
	assert.Equal(t, true, g.Variables()["escalated"])

	node1, err := g.Node("node1")
	require.NoError(t, err)

	rule, ok := node1.EscalationRule("once")
	require.True(t, ok)
	assert.True(t, rule.Executed)
	require.NotNil(t, rule.LastExecutionTime)

	executed, err = f.runner.ExecuteEscalationRule(ctx, running.ID, "node1", "once")
	require.NoError(t, err)
	assert.False(t, executed, "a non repeatable rule runs once")

	ready, err = node1.EvaluateEscalationRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

var mockAny = mock.Anything

func eventOfType(eventType events.EventType) any {
	return mock.MatchedBy(func(event eventbus.Event) bool {
		return event.GetType() == eventType
	})
}
