// Package crawler implements the crawl orchestrator: a single task slot that
// walks a list of project ids under pacing, pause, resume and stop control,
// and reports every state change as an ordered stream of events.
package crawler
