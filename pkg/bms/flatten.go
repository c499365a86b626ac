package bms

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
)

// Message is one leaf value addressed by its topic.
type Message struct {
	Topic   string
	Payload string
}

// Flatten walks the JSON form of v and returns one message per leaf: object
// keys and array indexes (from 0) become topic levels under topic. Nulls are
// skipped. Messages are sorted by topic.
func Flatten(topic string, v any) ([]Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}

	var out []Message
	walk(topic, tree, &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

func walk(topic string, v any, out *[]Message) {
	switch n := v.(type) {
	case map[string]any:
		for k, child := range n {
			walk(topic+"/"+k, child, out)
		}
	case []any:
		for i, child := range n {
			walk(topic+"/"+strconv.Itoa(i), child, out)
		}
	case string:
		*out = append(*out, Message{topic, n})
	case json.Number:
		*out = append(*out, Message{topic, n.String()})
	case bool:
		*out = append(*out, Message{topic, strconv.FormatBool(n)})
	}
}

// FlattenSnapshot flattens every value of s under topic/<metric name>.
func FlattenSnapshot(topic string, s *Snapshot) ([]Message, error) {
	var out []Message
	for _, name := range s.Names {
		msgs, err := Flatten(topic+"/"+name, s.Values[name])
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}
