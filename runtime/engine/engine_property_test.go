package engine

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/steer/runtime/grammar"
	"goa.design/steer/runtime/model"
	"goa.design/steer/runtime/model/scripted"
)

func TestGenerateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("literal constraints reproduce their text exactly", prop.ForAll(
		func(prefix, lit, tail string) bool {
			eng, err := New(Options{Backend: scripted.Script(prefix + lit + tail)})
			if err != nil {
				return false
			}
			res, err := eng.Generate(context.Background(), Request{Prefix: prefix, Grammar: grammar.Lit(lit)})
			return err == nil && res.Text == lit && res.Reason == model.StopReasonGrammar
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("choice output is always a declared member", prop.ForAll(
		func(names []string, pick int, tail string) bool {
			choice, err := grammar.ChoiceOf(names...)
			if err != nil {
				return false
			}
			target := "Q: " + names[pick%len(names)] + " " + tail
			eng, err := New(Options{Backend: scripted.Script(target)})
			if err != nil {
				return false
			}
			res, err := eng.Generate(context.Background(), Request{Prefix: "Q: ", Grammar: choice})
			if err != nil {
				return false
			}
			m, err := grammar.Compile(choice)
			if err != nil {
				return false
			}
			return m.Feed(res.Text) == grammar.Accept
		},
		gen.SliceOfN(3, gen.Identifier()),
		gen.IntRange(0, 2),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
