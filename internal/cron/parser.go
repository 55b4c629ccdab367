// Package cron parses the automation cadence: five-field cron expressions
// and descriptors such as "@every 2h" or "@daily".
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next fire time strictly after a given instant.
type Schedule interface {
	Next(after time.Time) time.Time
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse interprets expression in timezone. An empty timezone means UTC.
// Fixed intervals ("@every") are timezone independent.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("parse cadence: empty expression")
	}

	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cadence: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
