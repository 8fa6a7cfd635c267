package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeCleanedUp = "cleaned_up"
	outcomeStoryGone = "story_gone"
)

var jobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storyteller_generation_jobs_total",
	Help: "Generation jobs by final outcome.",
}, []string{"outcome"})
