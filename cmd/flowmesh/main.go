// Command flowmesh is a reference job binary: a rolling word-count over
// a small canned corpus, grounded on original_source's
// rolling_top_words.rs example but expressed as a flowmesh job
// (Source -> Map -> GroupBy -> Reduce -> Sink) to exercise the common
// stage kinds launcher.Run drives. Real jobs are expected to copy this
// main.go's shape rather than import it: flowmesh is a library, and
// --local/--remote parsing plus SSH dispatch live in the launcher
// package so any job's own main() can reuse them with its own element
// type.
package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowmesh/flowmesh/connectors"
	"github.com/flowmesh/flowmesh/engine"
	"github.com/flowmesh/flowmesh/graph"
	"github.com/flowmesh/flowmesh/launcher"
	"github.com/flowmesh/flowmesh/operator"
)

// wordCount is the one element type this job's blocks are generic
// over: a word and a running occurrence count.
type wordCount struct {
	word  string
	count int
}

var corpus = strings.Fields(`
the quick brown fox jumps over the lazy dog
the dog barks at the fox and the fox runs away
the quick fox is quicker than the lazy dog
`)

func buildGraph() (*graph.PhysicalGraph[wordCount], error) {
	g := graph.New[wordCount]()

	g.Source("words", 1)
	g.Map("lowercase", func(w wordCount) wordCount {
		w.word = strings.ToLower(w.word)
		return w
	})
	g.GroupBy("by-word", hashWord)
	g.Reduce("tally", func(acc, next wordCount) wordCount {
		acc.count += next.count
		return acc
	})
	g.Sink("print")

	return graph.Compile[wordCount](g)
}

func hashWord(w wordCount) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(w.word))
	return h.Sum64()
}

func register(e *engine.Engine[wordCount]) {
	e.RegisterSource("words", func(meta operator.ExecutionMetadata) (operator.Operator[wordCount], error) {
		i := 0
		return connectors.NewSource[wordCount]("words", func(ctx context.Context) ([]wordCount, error) {
			if i >= len(corpus) {
				return nil, fmt.Errorf("corpus exhausted")
			}
			w := wordCount{word: corpus[i], count: 1}
			i++
			return []wordCount{w}, nil
		}), nil
	})

	e.RegisterSink("print", connectors.NewSink[wordCount](func(ctx context.Context, batch []wordCount) error {
		for _, w := range batch {
			fmt.Printf("%s: %d\n", w.word, w.count)
		}
		return nil
	}))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	code := launcher.Run[wordCount](ctx, os.Args[1:], buildGraph, register)
	os.Exit(code)
}
