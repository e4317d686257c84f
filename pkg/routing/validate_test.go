package routing_test

import (
	"testing"

	"github.com/dukex/routing/pkg/models"
	"github.com/dukex/routing/pkg/routing"
	"github.com/dukex/routing/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		route        *models.GraphRoute
		wantErrs     []error
		wantWarnings []string
	}{
		{
			name: "valid",
			route: testutil.CreateTestRoute("valid",
				testutil.CreateTestNode("start", testutil.WithStart(), testutil.WithTransition("end", "true")),
				testutil.CreateTestNode("end", testutil.WithStop()),
			),
		},
		{
			name: "no stop node",
			route: testutil.CreateTestRoute("no-stop",
				testutil.CreateTestNode("start", testutil.WithStart(), testutil.WithTransition("next", "true")),
				testutil.CreateTestNode("next", testutil.WithTransition("start", "true")),
			),
			wantErrs: []error{routing.ErrNoStopNode},
		},
		{
			name: "invalid merge and no stop node are both reported",
			route: testutil.CreateTestRoute("many",
				testutil.CreateTestNode("start", testutil.WithStart(), testutil.WithTransition("merge", "true")),
				testutil.CreateTestNode("merge", testutil.WithMerge("most"), testutil.WithTransition("start", "true")),
			),
			wantErrs: []error{routing.ErrNoStopNode, routing.ErrInvalidMergeMode},
		},
		{
			name: "no start node",
			route: testutil.CreateTestRoute("no-start",
				testutil.CreateTestNode("end", testutil.WithStop()),
			),
			wantErrs: []error{routing.ErrNoStartNode},
		},
		{
			name: "unknown target",
			route: testutil.CreateTestRoute("unknown-target",
				testutil.CreateTestNode("start", testutil.WithStart(), testutil.WithStop(), testutil.WithTransition("nowhere", "true")),
			),
			wantErrs: []error{routing.ErrNodeNotFound},
		},
		{
			name: "multiple tasks without assignees",
			route: testutil.CreateTestRoute("nobody",
				testutil.CreateTestNode("start", testutil.WithStart(), testutil.WithMultipleTasks(), testutil.WithTransition("end", "true")),
				testutil.CreateTestNode("end", testutil.WithStop()),
			),
			wantErrs: []error{routing.ErrNoTaskAssignees},
		},
		{
			name: "warnings",
			route: testutil.CreateTestRoute("warnings",
				testutil.CreateTestNode("start", testutil.WithStart(), testutil.WithTransition("dead-end", "true"),
					testutil.WithTransition("end", "true")),
				testutil.CreateTestNode("dead-end"),
				testutil.CreateTestNode("end", testutil.WithStop()),
				testutil.CreateTestNode("orphan", testutil.WithStop()),
			),
			wantWarnings: []string{
				"node dead-end is not a stop node and has no output transition",
				"node orphan is unreachable from the start node",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result, err := routing.Validate(tt.route)
			require.NotNil(t, result)

			if len(tt.wantErrs) == 0 {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, routing.IsConfigurationError(err))

				for _, want := range tt.wantErrs {
					assert.ErrorIs(t, err, want)
				}
			}

			assert.ElementsMatch(t, tt.wantWarnings, result.Warnings)
		})
	}
}

func TestValidate_DuplicateTransitionIDs(t *testing.T) {
	t.Parallel()

	r := testutil.CreateTestRoute("duplicates",
		testutil.CreateTestNode("start", testutil.WithStart(), testutil.WithTransition("end", "true"),
			testutil.WithTransition("end", "false")),
		testutil.CreateTestNode("end", testutil.WithStop()),
	)
	r.Nodes[0].OutputTransitions[1].ID = r.Nodes[0].OutputTransitions[0].ID

	result, err := routing.Validate(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"node start has several transitions with id start-end"}, result.Warnings)
}

func TestValidate_StructureErrors(t *testing.T) {
	t.Parallel()

	r := testutil.CreateTestRoute("structure",
		testutil.CreateTestNode("start", testutil.WithStart(), testutil.WithStop()),
	)
	r.Name = ""

	_, err := routing.Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Name")

	r = testutil.CreateTestRoute("no-nodes")

	_, err = routing.Validate(r)
	require.Error(t, err)
}
