// Package models defines data structures shared by the watcher packages.
package models

import "time"

// Item represents a single listing extracted from a topic page.
type Item struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
	Image string `json:"image,omitempty"`
	Link  string `json:"link"`
}

// RunDelta is the transient result of reconciling one extraction against stored state.
type RunDelta struct {
	NewIDs   []string
	Expired  []string
	Snapshot []string
}

// Changed reports whether the snapshot differs from the stored one.
func (d RunDelta) Changed() bool {
	return len(d.NewIDs) > 0 || len(d.Expired) > 0
}

// TopicResult holds the outcome of one topic run.
type TopicResult struct {
	Topic     string
	Strategy  string
	Extracted int
	New       int
	Notified  int
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

// Duration reports how long the topic run took.
func (r TopicResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// OK reports whether the topic completed without error.
func (r TopicResult) OK() bool {
	return r.Err == nil
}
