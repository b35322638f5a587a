package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RichLycus/ProjekUtama-sub000/internal/logging"
	"github.com/RichLycus/ProjekUtama-sub000/internal/pipeline"
	"github.com/RichLycus/ProjekUtama-sub000/internal/router"
)

func TestBarClamps(t *testing.T) {
	assert.Equal(t, 20, strings.Count(bar(1.7), "█"))
	assert.Equal(t, 0, strings.Count(bar(-0.2), "█"))
	assert.Equal(t, 10, strings.Count(bar(0.5), "█"))
}

func TestRenderDecision(t *testing.T) {
	r := router.New(router.WithLogger(logging.Nop()))
	out := renderDecision(r.Route("Write a short poem about the sea", ""))

	assert.Contains(t, out, "THOROUGH")
	assert.Contains(t, out, "creative")
	assert.Contains(t, out, string(router.OverrideDemandingIntent))
}

func TestRenderSteps(t *testing.T) {
	ec := pipeline.NewExecutionContext(nil)
	ec.Metadata.FlowName = "Fast response"
	ec.Metadata.Steps = []pipeline.StepRecord{
		{StepID: "generate", Handler: "generate", Status: pipeline.StepSkipped, Reason: "condition not met: flags.cache_hit == false"},
		{StepID: "format", Handler: "format", Status: pipeline.StepError, Attempts: 2, Error: "no response"},
	}
	ec.Metadata.RecoveryUsed = "fallback_response"

	out := renderSteps(ec)
	assert.Contains(t, out, "condition not met")
	assert.Contains(t, out, "x2")
	assert.Contains(t, out, "recovered with fallback_response")
}

func TestRenderCounts(t *testing.T) {
	out := renderCounts("Intents", map[router.Intent]int64{"greeting": 2, "creative": 1})
	assert.Less(t, strings.Index(out, "creative"), strings.Index(out, "greeting"))
	assert.Equal(t, "75%", percent(0.75))
}
