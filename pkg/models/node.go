package models

import "time"

// MergeMode is the join policy of a node with several input transitions.
type MergeMode string

const (
	MergeModeNone MergeMode = ""
	MergeModeOne  MergeMode = "one" // Any incoming branch is enough
	MergeModeAll  MergeMode = "all" // Every incoming branch must arrive
)

// GraphNode is one step of a route.
type GraphNode struct {
	ID          string `json:"id"                    yaml:"id"                    validate:"required"`
	Title       string `json:"title"                 yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	State       State  `json:"state"                 yaml:"state"`

	Start                      bool      `json:"start,omitempty"                         yaml:"start,omitempty"`
	Stop                       bool      `json:"stop,omitempty"                          yaml:"stop,omitempty"`
	Merge                      MergeMode `json:"merge,omitempty"                         yaml:"merge,omitempty"`
	ExecuteOnlyFirstTransition bool      `json:"execute_only_first_transition,omitempty" yaml:"execute_only_first_transition,omitempty"`

	InputChain  string         `json:"input_chain,omitempty"  yaml:"input_chain,omitempty"`
	OutputChain string         `json:"output_chain,omitempty" yaml:"output_chain,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"    yaml:"variables,omitempty"`

	HasTask                 bool       `json:"has_task,omitempty"                  yaml:"has_task,omitempty"`
	HasMultipleTasks        bool       `json:"has_multiple_tasks,omitempty"        yaml:"has_multiple_tasks,omitempty"`
	TaskAssignees           []string   `json:"task_assignees,omitempty"            yaml:"task_assignees,omitempty"`
	TaskAssigneesExpression string     `json:"task_assignees_expression,omitempty" yaml:"task_assignees_expression,omitempty"`
	TaskDueDate             *time.Time `json:"task_due_date,omitempty"             yaml:"task_due_date,omitempty"`
	TaskDueDateExpression   string     `json:"task_due_date_expression,omitempty"  yaml:"task_due_date_expression,omitempty"`
	TaskDirective           string     `json:"task_directive,omitempty"            yaml:"task_directive,omitempty"`
	TaskButtons             []Button   `json:"task_buttons,omitempty"              yaml:"task_buttons,omitempty"            validate:"dive"`
	AllowTaskReassignment   bool       `json:"allow_task_reassignment,omitempty"   yaml:"allow_task_reassignment,omitempty"`

	SubRouteModelExpression string     `json:"sub_route_model_expression,omitempty" yaml:"sub_route_model_expression,omitempty"`
	SubRouteVariables       []KeyValue `json:"sub_route_variables,omitempty"        yaml:"sub_route_variables,omitempty"        validate:"dive"`
	SubRouteInstanceID      string     `json:"sub_route_instance_id,omitempty"      yaml:"sub_route_instance_id,omitempty"`

	OutputTransitions []*Transition     `json:"output_transitions,omitempty" yaml:"output_transitions,omitempty" validate:"dive"`
	InputTransitions  []*Transition     `json:"-"                            yaml:"-"`
	EscalationRules   []*EscalationRule `json:"escalation_rules,omitempty"   yaml:"escalation_rules,omitempty"   validate:"dive"`
	TasksInfo         []*TaskInfo       `json:"tasks_info,omitempty"         yaml:"tasks_info,omitempty"`

	Count         int64      `json:"count"                yaml:"count"`
	CanceledCount int64      `json:"canceled_count"       yaml:"canceled_count"`
	StartTime     *time.Time `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"   yaml:"end_time,omitempty"`
	LastActor     string     `json:"last_actor,omitempty" yaml:"last_actor,omitempty"`
}

// Transition is a conditioned edge from its source node to Target.
type Transition struct {
	ID        string `json:"id"                 yaml:"id"                 validate:"required"`
	Label     string `json:"label,omitempty"    yaml:"label,omitempty"`
	Source    string `json:"-"                  yaml:"-"`
	Target    string `json:"target"             yaml:"target"             validate:"required"`
	Condition string `json:"condition"          yaml:"condition"`
	Chain     string `json:"chain,omitempty"    yaml:"chain,omitempty"`
	Result    bool   `json:"result"             yaml:"result"`
	Loop      bool   `json:"loop,omitempty"     yaml:"-"`
}

// EscalationRule is a conditional side action attached to a node.
type EscalationRule struct {
	ID                string     `json:"id"                            yaml:"id"    validate:"required"`
	Label             string     `json:"label,omitempty"               yaml:"label,omitempty"`
	Condition         string     `json:"condition"                     yaml:"condition" validate:"required"`
	Chain             string     `json:"chain"                         yaml:"chain" validate:"required"`
	MultipleExecution bool       `json:"multiple_execution,omitempty"  yaml:"multiple_execution,omitempty"`
	Executed          bool       `json:"executed"                      yaml:"executed"`
	LastExecutionTime *time.Time `json:"last_execution_time,omitempty" yaml:"last_execution_time,omitempty"`
}

// Pending reports whether the rule may still be proposed for execution.
func (r *EscalationRule) Pending() bool {
	return !r.Executed || r.MultipleExecution
}

// SetExecuted marks the rule as executed at the given time.
func (r *EscalationRule) SetExecuted(at time.Time) {
	r.Executed = true
	r.LastExecutionTime = &at
}

// TaskInfo tracks one human task spawned by a node. A nil Status on an
// ended task means the task was canceled.
type TaskInfo struct {
	TaskID  string  `json:"task_id"           yaml:"task_id"`
	Actor   string  `json:"actor,omitempty"   yaml:"actor,omitempty"`
	Comment string  `json:"comment,omitempty" yaml:"comment,omitempty"`
	Status  *string `json:"status,omitempty"  yaml:"status,omitempty"`
	Ended   bool    `json:"ended"             yaml:"ended"`
}

// Canceled reports whether the task ended without a completion status.
func (t *TaskInfo) Canceled() bool {
	return t.Ended && t.Status == nil
}

// Button is an action offered to the actor of a task; its Name is stored
// as the "button" node variable when the task ends.
type Button struct {
	Name  string `json:"name"  yaml:"name"  validate:"required"`
	Label string `json:"label" yaml:"label"`
}

// KeyValue is an authored key with a literal or "expr:" value.
type KeyValue struct {
	Key   string `json:"key"   yaml:"key"   validate:"required"`
	Value string `json:"value" yaml:"value"`
}
