package reasoning

import (
	"context"
	"fmt"
	"strings"

	"cortexos/internal/agent"
	"cortexos/internal/errs"
	"cortexos/internal/llm"
	"cortexos/internal/logging"
)

const (
	defaultDebateRounds    = 2
	defaultDebateThreshold = 0.7
	maxDebaters            = 5
)

// perspectives are the fixed debater stances, assigned in order.
var perspectives = []string{
	"correctness: does the approach actually solve the task",
	"simplicity: prefer the smallest change that works",
	"performance: runtime and resource cost of the result",
	"security: input handling, secrets, unsafe operations",
	"maintainability: how the change reads a year from now",
}

const debaterPrompt = `You argue from one perspective only: %s.

Task: %s
%s
State, in one short paragraph, how the task should be approached from your
perspective.`

const judgePrompt = `You are the judge of a design debate. Synthesize the
arguments below into one concrete approach for the task. Respond with the
approach only.

Task: %s

Arguments:
%s`

// Debate runs perspective-assigned debaters for a few rounds, has a judge
// synthesize the winning approach and executes it. Cheap tasks skip the
// debate entirely.
type Debate struct {
	cfg       Config
	rounds    int
	debaters  int
	threshold float64
}

func NewDebate(cfg Config, rounds, debaters int) *Debate {
	if rounds <= 0 {
		rounds = defaultDebateRounds
	}
	if debaters <= 0 {
		debaters = 3
	}
	if debaters > maxDebaters {
		debaters = maxDebaters
	}
	return &Debate{cfg: cfg, rounds: rounds, debaters: debaters, threshold: defaultDebateThreshold}
}

// SetThreshold overrides the complexity below which the debate is skipped.
func (d *Debate) SetThreshold(threshold float64) { d.threshold = threshold }

func (d *Debate) Name() string { return "debate" }

func (d *Debate) Execute(ctx context.Context, task agent.Task) agent.Result {
	s := newSession(d.cfg, "debate")

	if task.Complexity <= d.threshold {
		logging.ReasonDebug("debate skipped for %s: complexity %.2f <= %.2f",
			task.ID, task.Complexity, d.threshold)
		return s.close(s.runAgent(ctx, task), "completed")
	}

	var arguments []string
	for round := 0; round < d.rounds; round++ {
		for i := 0; i < d.debaters; i++ {
			prior := ""
			if len(arguments) > 0 {
				prior = "\nPrior arguments:\n" + strings.Join(arguments, "\n") + "\n"
			}
			resp, err := s.complete(ctx, []llm.Message{
				{Role: llm.RoleUser, Content: fmt.Sprintf(debaterPrompt, perspectives[i], taskPrompt(task), prior)},
			}, nil)
			if err != nil {
				if errs.IsKind(err, errs.KindBudget) {
					logging.ReasonDebug("debate stopped by budget in round %d", round+1)
					return s.close(agent.Result{TaskID: task.ID, Error: err.Error()}, "budget-exceeded")
				}
				logging.ReasonDebug("debater %d failed, running plain agent: %v", i+1, err)
				return s.close(s.runAgent(ctx, task), "completed")
			}
			argument := fmt.Sprintf("[round %d, %s] %s", round+1, perspectiveName(i), resp.Content)
			arguments = append(arguments, argument)
			s.step("argument", argument)
		}
	}

	verdict, err := s.complete(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(judgePrompt, task.Title, strings.Join(arguments, "\n"))},
	}, nil)
	if err != nil {
		if errs.IsKind(err, errs.KindBudget) {
			return s.close(agent.Result{TaskID: task.ID, Error: err.Error()}, "budget-exceeded")
		}
		return s.close(s.runAgent(ctx, task), "completed")
	}
	s.step("verdict", verdict.Content)

	chosen := task
	chosen.Context = "Agreed approach:\n" + verdict.Content
	if task.Context != "" {
		chosen.Context += "\n\n" + task.Context
	}
	return s.close(s.runAgent(ctx, chosen), "completed")
}

func perspectiveName(i int) string {
	name := perspectives[i]
	if idx := strings.IndexByte(name, ':'); idx > 0 {
		return name[:idx]
	}
	return name
}
