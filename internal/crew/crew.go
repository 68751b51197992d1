// Package crew runs a team of LLM agents through a list of tasks.
package crew

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"research-assistant/internal/llm"
	"research-assistant/internal/tools"
)

// Process decides how tasks are scheduled. Only sequential execution exists.
type Process string

const ProcessSequential Process = "sequential"

// Agent is a role-played model with optional tools.
type Agent struct {
	Role      string
	Goal      string
	Backstory string
	Model     string
	Tools     []tools.Tool
	// MaxRPM caps the agent's model requests per minute; 0 leaves it unlimited.
	MaxRPM int
}

// Task is one unit of work handed to an agent. Query is what the agent's
// tools are asked; Context lists earlier tasks whose output it may read.
type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Query          string
	Agent          *Agent
	Context        []*Task
}

// Crew executes its tasks with a shared model client.
type Crew struct {
	Agents    []*Agent
	Tasks     []*Task
	Process   Process
	client    llm.Client
	rpm       llm.Acquirer
	maxTokens int
}

// New assembles a crew. rpm may be nil when no agent has a request cap.
func New(agents []*Agent, tasks []*Task, client llm.Client, rpm llm.Acquirer, maxTokens int) *Crew {
	return &Crew{
		Agents:    agents,
		Tasks:     tasks,
		Process:   ProcessSequential,
		client:    client,
		rpm:       rpm,
		maxTokens: maxTokens,
	}
}

// Kickoff runs every task in order and returns the last task's output.
// Progress is written to console as colored terminal text.
func (c *Crew) Kickoff(ctx context.Context, console io.Writer) (string, error) {
	if len(c.Tasks) == 0 {
		return "", errors.New("crew has no tasks")
	}
	if console == nil {
		console = io.Discard
	}
	log := consoleLogger(console)

	roles := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		roles = append(roles, a.Role)
	}
	log.WithFields(logrus.Fields{"process": c.Process, "tasks": len(c.Tasks)}).
		Infof("Crew kickoff: %s", strings.Join(roles, ", "))

	outputs := make(map[*Task]string, len(c.Tasks))
	var last string
	for i, task := range c.Tasks {
		if task.Agent == nil {
			return "", fmt.Errorf("task %q has no agent", task.Name)
		}
		entry := log.WithFields(logrus.Fields{"task": task.Name, "agent": task.Agent.Role, "step": i + 1})
		entry.Info("Task started")
		start := time.Now()

		out, err := c.execute(ctx, entry, console, task, outputs)
		if err != nil {
			entry.WithError(err).Error("Task failed")
			return "", fmt.Errorf("task %s: %w", task.Name, err)
		}
		outputs[task] = out
		last = out
		entry.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("Task completed")
	}
	log.Info("Crew finished")
	return last, nil
}

func (c *Crew) execute(ctx context.Context, log *logrus.Entry, console io.Writer, task *Task, outputs map[*Task]string) (string, error) {
	agent := task.Agent

	var toolResults []string
	for _, tool := range agent.Tools {
		log.WithField("tool", tool.Name()).Infof("Using tool with query %q", task.Query)
		res, err := tool.Run(ctx, task.Query)
		if err != nil {
			return "", err
		}
		toolResults = append(toolResults, fmt.Sprintf("Results from %s:\n%s", tool.Name(), res))
	}

	var prior []string
	for _, dep := range task.Context {
		if out, ok := outputs[dep]; ok {
			prior = append(prior, out)
		}
	}

	if agent.MaxRPM > 0 && c.rpm != nil {
		if err := c.rpm.Acquire(ctx, rpmKey(agent), 1); err != nil {
			return "", err
		}
	}
	resp, err := c.client.Complete(ctx, llm.Request{
		Model: agent.Model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt(agent)},
			{Role: "user", Content: userPrompt(task, prior, toolResults)},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("%s returned an empty answer", agent.Role)
	}

	fmt.Fprintf(console, "\x1b[1;35m# Agent:\x1b[0m \x1b[1;92m%s\x1b[0m\n\x1b[1;32m## Final Answer:\x1b[0m\n\x1b[92m%s\x1b[0m\n\n", agent.Role, resp.Text)
	return resp.Text, nil
}

func rpmKey(a *Agent) string {
	return "rpm:" + a.Role
}

// RPMLimits maps each capped agent's limiter key to its requests-per-minute ceiling.
func RPMLimits(agents ...*Agent) map[string]int {
	out := make(map[string]int)
	for _, a := range agents {
		if a != nil && a.MaxRPM > 0 {
			out[rpmKey(a)] = a.MaxRPM
		}
	}
	return out
}

func systemPrompt(a *Agent) string {
	return fmt.Sprintf("You are %s. %s\nYour personal goal is: %s", a.Role, a.Backstory, a.Goal)
}

func userPrompt(task *Task, prior, toolResults []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current Task: %s\n\n", task.Description)
	fmt.Fprintf(&sb, "This is the expected criteria for your final answer: %s\n", task.ExpectedOutput)
	if len(toolResults) > 0 {
		sb.WriteString("\nYou searched and found:\n")
		sb.WriteString(strings.Join(toolResults, "\n\n"))
		sb.WriteString("\n")
	}
	if len(prior) > 0 {
		sb.WriteString("\nThis is the context you're working with:\n")
		sb.WriteString(strings.Join(prior, "\n\n----------\n\n"))
		sb.WriteString("\n")
	}
	sb.WriteString("\nBegin! This is VERY important to you, use the information above and give your best Final Answer.")
	return sb.String()
}

func consoleLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: time.TimeOnly,
	})
	return l
}
