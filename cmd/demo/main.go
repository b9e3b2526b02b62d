// Command demo runs a scripted reasoning loop end to end: a deterministic
// backend replays a canned transcript through the real engine, tool registry
// and runner, so the full pipeline can be exercised without provider
// credentials. Run events are logged as they stream and the persisted trace is
// replayed at the end.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"goa.design/clue/log"

	"goa.design/steer/runtime/engine"
	"goa.design/steer/runtime/model/scripted"
	"goa.design/steer/runtime/react"
	"goa.design/steer/runtime/stream"
	"goa.design/steer/runtime/telemetry"
	"goa.design/steer/runtime/tools"
	"goa.design/steer/runtime/trace/inmem"
)

const demoQuery = "What is the logarithm of Leonardo DiCaprio's age?"

// demoScript is the transcript the backend replays after the rendered prompt:
// two tool hops, then the final answer.
const demoScript = `Thought 1: I need Leonardo DiCaprio's age first.
Act 1: age(Leonardo DiCaprio)
Observation 1: 49
Thought 2: I should take the natural logarithm of 49.
Act 2: log(49)
Observation 2: 3.8918
Thought 3: I now know the final answer.
Final Answer: 3.8918
`

func main() {
	var (
		freeF   = flag.Bool("free-actions", false, "Select tools from free text instead of constrained generation")
		roundsF = flag.Int("max-rounds", 5, "Round limit")
		dbgF    = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	// 1) Tools the model can call.
	reg := tools.NewRegistry()
	if err := reg.Register(ageTool()); err != nil {
		log.Fatal(ctx, err)
	}
	if err := reg.Register(logTool()); err != nil {
		log.Fatal(ctx, err)
	}

	// 2) Scripted backend. The target transcript is the rendered prompt plus
	// the canned reply, so every generation the runner issues finds its
	// continuation in the script.
	prompt, err := renderPrompt(reg, demoQuery)
	if err != nil {
		log.Fatal(ctx, err)
	}
	eng, err := engine.New(engine.Options{
		Backend: scripted.Script(prompt + demoScript),
		Logger:  telemetry.NewClueLogger(),
		Sink:    logSink{},
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	// 3) Runner with streaming and tracing wired in.
	store := inmem.New()
	runner, err := react.New(react.Options{
		Engine:      eng,
		Tools:       reg,
		MaxRounds:   *roundsF,
		FreeActions: *freeF,
		Logger:      telemetry.NewClueLogger(),
		Sink:        logSink{},
		Trace:       store,
	})
	if err != nil {
		log.Fatal(ctx, err)
	}

	res, err := runner.Run(ctx, demoQuery)
	if err != nil {
		log.Fatal(ctx, err)
	}

	fmt.Println()
	fmt.Println("Question:", demoQuery)
	for _, rd := range res.Rounds {
		fmt.Printf("Thought %d: %s\n", rd.Index, rd.Thought)
		if rd.Tool == "" {
			continue
		}
		fmt.Printf("Act %d: %s(%s)\n", rd.Index, rd.Tool, rd.Arg)
		if rd.NoOp {
			fmt.Printf("(unknown tool %q, no observation)\n", rd.Tool)
			continue
		}
		fmt.Printf("Observation %d: %s\n", rd.Index, rd.Observation)
	}
	fmt.Printf("Final Answer: %s (%s after %d rounds)\n", res.Answer, res.Reason, len(res.Rounds))

	caps := res.Program.Captures()
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println()
	fmt.Println("Captures:")
	for _, name := range names {
		fmt.Printf("  %s = %q\n", name, caps[name])
	}

	fmt.Println()
	fmt.Println("Trace:")
	for _, runID := range store.Runs() {
		cursor := ""
		for {
			page, err := store.List(ctx, runID, cursor, 4)
			if err != nil {
				log.Fatal(ctx, err)
			}
			for _, e := range page.Events {
				fmt.Printf("  %2s %-21s round=%d %s\n", e.ID, e.Type, e.Round, e.Payload)
			}
			if page.NextCursor == "" {
				break
			}
			cursor = page.NextCursor
		}
	}
}

// renderPrompt renders the run prompt for the query without generating
// anything. The probe runner only exists to expand the template.
func renderPrompt(reg *tools.Registry, query string) (string, error) {
	eng, err := engine.New(engine.Options{Backend: scripted.Script()})
	if err != nil {
		return "", err
	}
	probe, err := react.New(react.Options{Engine: eng, Tools: reg})
	if err != nil {
		return "", err
	}
	return probe.Prompt(query)
}

// ageTool knows exactly one person; everyone else is a domain error the model
// sees as a failed observation.
func ageTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "age",
		Description: "Returns the age of a person by name.",
		Invoke: func(_ context.Context, arg string) (string, error) {
			if arg != "Leonardo DiCaprio" {
				return "", tools.NewDomainError("unknown person: " + arg)
			}
			return "49", nil
		},
	}
}

func logTool() tools.Descriptor {
	return tools.Descriptor{
		Name:        "log",
		Description: "Returns the natural logarithm of a number.",
		Invoke: func(_ context.Context, arg string) (string, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
			if err != nil {
				return "", tools.WrapDomainError("not a number: "+arg, err)
			}
			return strconv.FormatFloat(math.Log(f), 'f', 4, 64), nil
		},
	}
}

// logSink logs run and generation events as they stream.
type logSink struct{}

func (logSink) Send(ctx context.Context, ev stream.Event) error {
	log.Print(ctx,
		log.KV{K: "event", V: string(ev.Type())},
		log.KV{K: "run_id", V: ev.RunID()},
	)
	return nil
}

func (logSink) Close(context.Context) error { return nil }
