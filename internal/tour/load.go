package tour

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a tour file. JSON and YAML are both accepted; declaration order of
// resources and commands is kept.
func Load(path string) (*Tour, error) {
	if path == "" {
		return nil, configErrorf("tour path is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("cannot read tour file %s (does it exist?)", path), Err: err}
	}
	t, err := Parse(raw)
	if err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("invalid tour file %s: %s", path, cfgErr.Msg), Err: cfgErr.Err}
		}
		return nil, err
	}
	return t, nil
}

// Parse decodes a tour document. Input starting with '{' is read as JSON,
// anything else as YAML.
func Parse(data []byte) (*Tour, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, configErrorf("tour document is empty")
	}
	if trimmed[0] == '{' {
		return parseJSON(trimmed)
	}
	return parseYAML(trimmed)
}

func parseYAML(data []byte) (*Tour, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigurationError{Msg: "malformed YAML", Err: err}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, configErrorf("tour document is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, configErrorf("tour must be a mapping of resource to task (line %d)", root.Line)
	}

	t, _ := New()
	for i := 0; i+1 < len(root.Content); i += 2 {
		keyNode, valueNode := root.Content[i], root.Content[i+1]
		task, err := yamlTask(keyNode.Value, valueNode)
		if err != nil {
			return nil, err
		}
		if err := t.add(keyNode.Value, task); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func yamlTask(key string, node *yaml.Node) (Task, error) {
	var task Task
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return task, nil
	}
	if node.Kind != yaml.MappingNode {
		return task, configErrorf("task %q must be a mapping of command to arguments (line %d)", key, node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, value := node.Content[i].Value, node.Content[i+1]
		if name == RootField {
			if err := value.Decode(&task.Root); err != nil {
				return task, &ConfigurationError{Msg: fmt.Sprintf("task %q: root must be a boolean", key), Err: err}
			}
			continue
		}
		var args any
		if err := value.Decode(&args); err != nil {
			return task, &ConfigurationError{Msg: fmt.Sprintf("task %q: command %q has undecodable arguments", key, name), Err: err}
		}
		task.Commands = append(task.Commands, Command{Name: name, Args: args})
	}
	return task, nil
}

// parseJSON walks the token stream because map decoding would lose order.
func parseJSON(data []byte) (*Tour, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	t, _ := New()
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		task, err := jsonTask(dec, key)
		if err != nil {
			return nil, err
		}
		if err := t.add(key, task); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, configErrorf("unexpected data after tour object")
	}
	return t, nil
}

func jsonTask(dec *json.Decoder, key string) (Task, error) {
	var task Task
	tok, err := dec.Token()
	if err != nil {
		return task, &ConfigurationError{Msg: "malformed JSON", Err: err}
	}
	if tok == nil {
		return task, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return task, configErrorf("task %q must be an object of command to arguments", key)
	}
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return task, err
		}
		var args any
		if err := dec.Decode(&args); err != nil {
			return task, &ConfigurationError{Msg: fmt.Sprintf("task %q: command %q has malformed arguments", key, name), Err: err}
		}
		if name == RootField {
			root, ok := args.(bool)
			if !ok {
				return task, configErrorf("task %q: root must be a boolean", key)
			}
			task.Root = root
			continue
		}
		task.Commands = append(task.Commands, Command{Name: name, Args: args})
	}
	return task, expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return &ConfigurationError{Msg: "malformed JSON", Err: err}
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return configErrorf("malformed JSON: expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", &ConfigurationError{Msg: "malformed JSON", Err: err}
	}
	s, ok := tok.(string)
	if !ok {
		return "", configErrorf("malformed JSON: expected object key, got %v", tok)
	}
	return s, nil
}
