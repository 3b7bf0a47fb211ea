package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// LabelCount is one entry of a Counter.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Counter counts labels and remembers the order in which each label was
// first seen. It marshals to a JSON object in that order.
type Counter struct {
	order  []string
	counts map[string]int
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{counts: make(map[string]int)}
}

// Add increments label by one.
func (c *Counter) Add(label string) {
	c.AddN(label, 1)
}

// AddN increments label by n.
func (c *Counter) AddN(label string, n int) {
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	if _, ok := c.counts[label]; !ok {
		c.order = append(c.order, label)
	}
	c.counts[label] += n
}

// Get returns the count for label.
func (c *Counter) Get(label string) int { return c.counts[label] }

// Len returns the number of distinct labels.
func (c *Counter) Len() int { return len(c.order) }

// Total returns the sum of all counts.
func (c *Counter) Total() int {
	var n int
	for _, v := range c.counts {
		n += v
	}
	return n
}

// Entries returns every label in first-seen order.
func (c *Counter) Entries() []LabelCount {
	out := make([]LabelCount, 0, len(c.order))
	for _, l := range c.order {
		out = append(out, LabelCount{Label: l, Count: c.counts[l]})
	}
	return out
}

// MostCommon returns up to k entries by descending count. Ties keep
// first-seen order. A negative k returns every entry.
func (c *Counter) MostCommon(k int) []LabelCount {
	out := c.Entries()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// MarshalJSON writes the counts as an object keyed by label.
func (c *Counter) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, l := range c.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(l)
		if err != nil {
			return nil, fmt.Errorf("marshal label %q: %w", l, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		fmt.Fprintf(&buf, "%d", c.counts[l])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keyed by label, preserving key order.
func (c *Counter) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("counter: expected object, got %v", tok)
	}
	*c = Counter{counts: make(map[string]int)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("counter: expected string key, got %v", tok)
		}
		var n int
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("counter: value for %q: %w", key, err)
		}
		c.AddN(key, n)
	}
	_, err = dec.Token()
	return err
}
