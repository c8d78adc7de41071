package record

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	yamlDelim = "---"
	tomlDelim = "+++"
)

// Parse splits a record file into its header and body and decodes the
// header. The header is validated.
func Parse(data []byte) (*Metadata, string, error) {
	delim, header, body, err := splitHeader(string(data))
	if err != nil {
		return nil, "", err
	}

	var meta Metadata
	switch delim {
	case yamlDelim:
		if err := yaml.Unmarshal([]byte(header), &meta); err != nil {
			return nil, "", fmt.Errorf("failed to parse yaml header: %w", err)
		}
	case tomlDelim:
		if _, err := toml.Decode(header, &meta); err != nil {
			return nil, "", fmt.Errorf("failed to parse toml header: %w", err)
		}
	}

	if err := meta.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid header: %w", err)
	}
	return &meta, body, nil
}

// Format serializes a header and body into record file bytes.
func Format(meta *Metadata, content string) ([]byte, error) {
	header, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(header) + len(content) + 8)
	buf.WriteString(yamlDelim + "\n")
	buf.Write(header)
	buf.WriteString(yamlDelim + "\n")
	buf.WriteString(content)
	return buf.Bytes(), nil
}

// splitHeader returns the header delimiter, raw header text and body.
// The body is everything after the closing delimiter line, byte for byte.
func splitHeader(data string) (delim, header, body string, err error) {
	switch {
	case hasDelimLine(data, yamlDelim):
		delim = yamlDelim
	case hasDelimLine(data, tomlDelim):
		delim = tomlDelim
	default:
		return "", "", "", fmt.Errorf("missing metadata header")
	}

	rest := data[strings.IndexByte(data, '\n')+1:]
	pos := 0
	for {
		end := strings.IndexByte(rest[pos:], '\n')
		line, next := rest[pos:], len(rest)
		if end >= 0 {
			line, next = rest[pos:pos+end], pos+end+1
		}
		if strings.TrimRight(line, "\r") == delim {
			return delim, rest[:pos], rest[next:], nil
		}
		if end < 0 {
			return "", "", "", fmt.Errorf("unterminated metadata header")
		}
		pos = next
	}
}

func hasDelimLine(data, delim string) bool {
	return strings.HasPrefix(data, delim+"\n") || strings.HasPrefix(data, delim+"\r\n")
}
