// Package termstat provides a stats implementation which periodically logs
// pipeline counters to the given writer. It is meant for runs driven from a
// terminal or a cron log, in lieu of a real collector writing to an external
// tool.
package termstat

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector collects pipeline stats and prints them to the terminal.
type Collector struct {
	lock    sync.Mutex
	counts  map[string]int64
	gauges  map[string]float64
	timings map[string]time.Duration
	changed bool
	out     io.Writer
}

// NewCollector initializes and returns a new Collector which writes a stats
// line every two seconds while anything is changing.
func NewCollector(out io.Writer) *Collector {
	c := &Collector{
		counts:  make(map[string]int64),
		gauges:  make(map[string]float64),
		timings: make(map[string]time.Duration),
		out:     out,
	}
	go func() {
		tick := time.NewTicker(time.Second * 2)
		for ; ; <-tick.C {
			c.write()
		}
	}()
	return c
}

// Count adds value to the named counter.
func (c *Collector) Count(name string, value int64, tags ...string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.counts[statName(name, tags)] += value
	c.changed = true
}

// Gauge sets the named gauge.
func (c *Collector) Gauge(name string, value float64, tags ...string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.gauges[statName(name, tags)] = value
	c.changed = true
}

// Timing records the most recent duration for the name.
func (c *Collector) Timing(name string, value time.Duration, tags ...string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.timings[statName(name, tags)] = value
	c.changed = true
}

func (c *Collector) write() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.changed {
		return
	}
	names := make([]string, 0, len(c.counts)+len(c.gauges)+len(c.timings))
	line := make(map[string]string)
	for n, v := range c.counts {
		names = append(names, n)
		line[n] = fmt.Sprintf("%d", v)
	}
	for n, v := range c.gauges {
		names = append(names, n)
		line[n] = fmt.Sprintf("%.2f", v)
	}
	for n, v := range c.timings {
		names = append(names, n)
		line[n] = v.String()
	}
	sort.Strings(names)
	sb := strings.Builder{}
	for _, n := range names {
		fmt.Fprintf(&sb, "%s: %s ", n, line[n])
	}
	c.changed = false
	fmt.Fprintf(c.out, "\r%s", sb.String())
}

func statName(name string, tags []string) string {
	if len(tags) == 0 {
		return name
	}
	return name + "[" + strings.Join(tags, ",") + "]"
}
