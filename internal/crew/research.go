package crew

import (
	"context"
	"fmt"
	"io"
	"time"

	"research-assistant/internal/config"
	"research-assistant/internal/llm"
	"research-assistant/internal/ratelimit"
	"research-assistant/internal/tools"
)

const (
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// ModelClient builds the shared call path: circuit breaker, then the
// tokens-per-minute limiter, then the provider.
func ModelClient(cfg config.Config, tpm llm.Acquirer) llm.Client {
	provider := llm.NewOpenAIClient(cfg.Providers, cfg.LLMTimeout)
	return llm.WithBreaker(llm.WithRateLimit(provider, tpm), breakerFailures, breakerCooldown)
}

// Factory builds research crews. Agents, tools and the per-agent request
// limiter are shared by every crew it creates.
type Factory struct {
	client    llm.Client
	rpm       *ratelimit.Window
	maxTokens int

	Manager  *Agent
	Web      *Agent
	Academic *Agent
	Writer   *Agent
}

// NewFactory wires the research team from configuration.
func NewFactory(cfg config.Config, client llm.Client) *Factory {
	f := &Factory{
		client:    client,
		maxTokens: cfg.LLMMaxTokens,
		Manager: &Agent{
			Role:      "Research Manager",
			Goal:      "Coordinate the research team.",
			Backstory: "You are a seasoned research director.",
			Model:     cfg.ManagerModel,
			MaxRPM:    15,
		},
		Web: &Agent{
			Role:      "Senior Web Researcher",
			Goal:      "Find deep, verifiable information on the internet.",
			Backstory: "You are an expert at finding hidden gems of information.",
			Model:     cfg.WebModel,
			Tools:     []tools.Tool{tools.NewBrave(cfg.BraveAPIKey, cfg.BraveBaseURL)},
			MaxRPM:    15,
		},
		Academic: &Agent{
			Role:      "Academic Researcher",
			Goal:      "Find and analyze top 10 scientific papers and technical publications.",
			Backstory: "You are a PhD researcher who loves reading ArXiv papers.",
			Model:     cfg.AcademicModel,
			Tools:     []tools.Tool{tools.NewArxiv(cfg.ArxivBaseURL, cfg.ArxivMaxResults)},
			MaxRPM:    4,
		},
		Writer: &Agent{
			Role:      "Technical Writer",
			Goal:      "Synthesize research into a clear, professional markdown report.",
			Backstory: "You are a technical writer who creates easy-to-read reports.",
			Model:     cfg.WriterModel,
			MaxRPM:    15,
		},
	}
	f.rpm = ratelimit.NewWindow(RPMLimits(f.agents()...), 0, ratelimit.WithName("rpm"))
	return f
}

func (f *Factory) agents() []*Agent {
	return []*Agent{f.Manager, f.Web, f.Academic, f.Writer}
}

// NewResearchCrew returns the three-step crew for topic: web research,
// academic research, then a written report drawing on both.
func (f *Factory) NewResearchCrew(topic string) *Crew {
	web := &Task{
		Name:           "web_research",
		Description:    fmt.Sprintf("Research general trends and news about: '%s'.", topic),
		ExpectedOutput: "A summary of web findings.",
		Query:          topic,
		Agent:          f.Web,
	}
	academic := &Task{
		Name:           "academic_research",
		Description:    fmt.Sprintf("Search for recent scientific papers and technical studies about: '%s'. Focus on methodology and hard data.", topic),
		ExpectedOutput: "A list of relevant papers with summaries.",
		Query:          topic,
		Agent:          f.Academic,
	}
	write := &Task{
		Name:           "report",
		Description:    fmt.Sprintf("Write a comprehensive report about '%s'. Combine the web news with the scientific evidence from the papers.", topic),
		ExpectedOutput: "A professional Markdown article with citations.",
		Agent:          f.Writer,
		Context:        []*Task{web, academic},
	}
	return New(f.agents(), []*Task{web, academic, write}, f.client, f.rpm, f.maxTokens)
}

// Research runs a fresh crew for topic and returns its report.
func (f *Factory) Research(ctx context.Context, topic string, console io.Writer) (string, error) {
	return f.NewResearchCrew(topic).Kickoff(ctx, console)
}
