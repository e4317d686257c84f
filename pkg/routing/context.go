package routing

import (
	"maps"
	"slices"
	"time"

	"github.com/dukex/routing/pkg/models"
)

// Names exposed to transition conditions, escalation rules and expr: values.
const (
	VarWorkflowVariables      = "WorkflowVariables"
	VarNodeVariables          = "NodeVariables"
	VarWorkflowInitiator      = "workflowInitiator"
	VarWorkflowStartTime      = "workflowStartTime"
	VarWorkflowParent         = "workflowParent"
	VarWorkflowParentNode     = "workflowParentNode"
	VarWorkflowInstanceID     = "workflowInstanceId"
	VarWorkflowDocuments      = "workflowDocuments"
	VarDocuments              = "documents"
	VarNodeID                 = "nodeId"
	VarNodeState              = "nodeState"
	VarState                  = "state"
	VarNodeStartTime          = "nodeStartTime"
	VarNodeEndTime            = "nodeEndTime"
	VarNodeLastActor          = "nodeLastActor"
	VarComment                = "comment"
	VarTaskDueTime            = "taskDueTime"
	VarCurrentDate            = "CurrentDate"
	VarTasks                  = "tasks"
	VarNumberOfTasks          = "numberOfTasks"
	VarNumberOfProcessedTasks = "numberOfProcessedTasks"
	VarButton                 = "button"
)

// timeValue keeps nil times untyped so expressions can compare them to null.
func timeValue(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}

func stateName(state models.State) string {
	if lifecycle := state.LifecycleState(); lifecycle != "" {
		return lifecycle
	}

	return state.String()
}

func taskInfoValues(infos []*models.TaskInfo) []any {
	out := make([]any, 0, len(infos))

	for _, info := range infos {
		var status any
		if info.Status != nil {
			status = *info.Status
		}

		out = append(out, map[string]any{
			"taskId":  info.TaskID,
			"actor":   info.Actor,
			"comment": info.Comment,
			"status":  status,
			"ended":   info.Ended,
		})
	}

	return out
}

// evaluationContext builds the variables an expression on n sees. The
// maps are copies; writes go through ExecuteChain.
func (n *Node) evaluationContext(now time.Time) map[string]any {
	route := n.graph.route

	nodeVars := maps.Clone(n.Variables)
	if nodeVars == nil {
		nodeVars = make(map[string]any)
	}

	nodeVars[VarTasks] = taskInfoValues(n.TasksInfo)
	nodeVars[VarNumberOfTasks] = int64(len(n.TasksInfo))
	nodeVars[VarNumberOfProcessedTasks] = int64(len(n.ProcessedTasksInfo()))

	workflowVars := maps.Clone(route.Variables)
	if workflowVars == nil {
		workflowVars = make(map[string]any)
	}

	documents := slices.Clone(route.AttachedDocumentIDs)
	if documents == nil {
		documents = []string{}
	}

	return map[string]any{
		VarWorkflowVariables:  workflowVars,
		VarNodeVariables:      nodeVars,
		VarWorkflowInitiator:  route.Initiator,
		VarWorkflowStartTime:  timeValue(route.StartTime),
		VarWorkflowParent:     route.ParentRouteID,
		VarWorkflowParentNode: route.ParentNodeID,
		VarWorkflowInstanceID: route.ID,
		VarWorkflowDocuments:  documents,
		VarDocuments:          documents,
		VarNodeID:             n.ID,
		VarNodeState:          stateName(n.State),
		VarState:              stateName(n.State),
		VarNodeStartTime:      timeValue(n.StartTime),
		VarNodeEndTime:        timeValue(n.EndTime),
		VarNodeLastActor:      n.LastActor,
		VarComment:            n.comment,
		VarTaskDueTime:        timeValue(n.TaskDueDate),
		VarCurrentDate:        now,
	}
}
