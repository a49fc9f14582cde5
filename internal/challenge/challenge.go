package challenge

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Challenge is a generated verification puzzle. The answer is derived
// from the same operands as the question, so question and answer can
// never drift apart.
type Challenge struct {
	Question string
	Answer   string
	TTL      time.Duration
}

const (
	minOperand = 1
	maxOperand = 10
)

// DefaultQuestionTemplate is used when no template is configured. The
// {a} and {b} placeholders are replaced with the generated operands.
const DefaultQuestionTemplate = "How much is {a} + {b}? Reply with just the number."

// Generator produces single-step addition challenges solvable by a
// human without tools. It is stateless and safe for concurrent use.
type Generator struct {
	template string
	ttl      time.Duration
}

// NewGenerator creates a generator that renders questions from template
// and stamps each challenge with the given time-to-live.
func NewGenerator(template string, ttl time.Duration) *Generator {
	if template == "" {
		template = DefaultQuestionTemplate
	}
	return &Generator{template: template, ttl: ttl}
}

// Generate produces a fresh challenge with operands in [1, 10].
func (g *Generator) Generate() Challenge {
	a := minOperand + rand.Intn(maxOperand-minOperand+1)
	b := minOperand + rand.Intn(maxOperand-minOperand+1)

	question := strings.NewReplacer(
		"{a}", strconv.Itoa(a),
		"{b}", strconv.Itoa(b),
	).Replace(g.template)

	return Challenge{
		Question: question,
		Answer:   strconv.Itoa(a + b),
		TTL:      g.ttl,
	}
}
