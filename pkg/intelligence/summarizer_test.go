package intelligence_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldercare/companion-go/pkg/intelligence"
	"github.com/eldercare/companion-go/pkg/llm/llmtest"
)

func TestSummaryTrigger(t *testing.T) {
	tr := intelligence.NewSummaryTrigger(0, 0.2)
	assert.Equal(t, intelligence.DefaultSummaryLengthThreshold, tr.LengthThreshold)

	tr.Float64 = func() float64 { return 0.99 }
	assert.False(t, tr.Should(intelligence.Turn{UserText: "hola", AssistantText: "hola"}))
	assert.True(t, tr.Should(intelligence.Turn{UserText: strings.Repeat("a", 400), AssistantText: strings.Repeat("b", 201)}))
	assert.False(t, tr.Should(intelligence.Turn{UserText: strings.Repeat("a", 400), AssistantText: strings.Repeat("b", 200)}))

	tr.Float64 = func() float64 { return 0.1 }
	assert.True(t, tr.Should(intelligence.Turn{UserText: "hola"}))

	assert.Equal(t, 1.0, intelligence.NewSummaryTrigger(10, 3).Probability)
	assert.Equal(t, 0.0, intelligence.NewSummaryTrigger(10, -1).Probability)
}

func TestSummarizer_Merge(t *testing.T) {
	p := llmtest.New(llmtest.Text("  María habló de su nieta.\n\nEstá contenta.  "))

	got, err := intelligence.NewSummarizer(p).Merge(context.Background(), "María vive en Toledo.", intelligence.Turn{
		UserText:      "Mi nieta viene mañana",
		AssistantText: "¡Qué alegría!",
	})

	require.NoError(t, err)
	assert.Equal(t, "María habló de su nieta. Está contenta.", got)

	msgs := p.Requests()[0].Messages
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Content, "4 a 6 frases")
	assert.Contains(t, msgs[1].Content, "María vive en Toledo.")
	assert.Contains(t, msgs[1].Content, "Mi nieta viene mañana")
}

func TestSummarizer_FirstSummary(t *testing.T) {
	p := llmtest.New(llmtest.Text("Primera conversación."))

	_, err := intelligence.NewSummarizer(p).Merge(context.Background(), "", intelligence.Turn{UserText: "hola"})

	require.NoError(t, err)
	assert.Contains(t, p.Requests()[0].Messages[1].Content, "todavía no hay resumen")
}

func TestSummarizer_Errors(t *testing.T) {
	_, err := intelligence.NewSummarizer(llmtest.New(llmtest.Fail(errors.New("down")))).
		Merge(context.Background(), "", intelligence.Turn{UserText: "hola"})
	assert.ErrorContains(t, err, "down")

	_, err = intelligence.NewSummarizer(llmtest.New(llmtest.Text("   "))).
		Merge(context.Background(), "", intelligence.Turn{UserText: "hola"})
	assert.Error(t, err)
}
