package caddyfile

import (
	"errors"
	"strings"
)

var errEmptyBody = errors.New("empty body")

// DecomposeBody attempts to decompose the raw text of a nested block (everything between its
// braces) into key/value lines.
//
// A body is decomposed only if every line is an indented key with an optional value, or a
// single-word section opening ("key {") whose lines are indented one step further and which is
// closed by "}" at the body's indentation. Comments, blank lines, and deeper nesting are not
// decomposed. The result is only returned if rendering it reproduces raw exactly.
func DecomposeBody(raw string) (*KeyValueBody, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errEmptyBody
	}
	if !strings.HasPrefix(raw, "\n") {
		return nil, errors.New("body does not begin on a new line")
	}

	lines := strings.Split(raw[1:], "\n")
	kv := &KeyValueBody{CloseIndent: lines[len(lines)-1]}
	lines = lines[:len(lines)-1]
	if strings.Trim(kv.CloseIndent, " \t") != "" {
		return nil, errors.New("closing brace does not begin its line")
	}

	var section string
	for i, line := range lines {
		content := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(content)]
		if content == "" {
			return nil, errors.New("body contains a blank line")
		}
		if i == 0 {
			kv.Indent = indent
		}

		if section != "" && indent == kv.Indent && content == "}" {
			section = ""
			continue
		}

		want := kv.Indent
		if section != "" {
			want = kv.nestedIndent()
		}
		if indent != want {
			return nil, errors.New("body indentation is inconsistent")
		}

		key, value, open, err := splitBodyLine(content)
		if err != nil {
			return nil, err
		}
		if open {
			if section != "" {
				return nil, errors.New("body sections are nested more than one level")
			}
			section = key
			continue
		}
		kv.Pairs = append(kv.Pairs, &KeyValue{Section: section, Key: key, Value: value})
	}

	if section != "" {
		return nil, errors.New("unclosed section " + section)
	}
	if kv.Render() != raw {
		return nil, errors.New("body does not reproduce its text")
	}
	return kv, nil
}

// splitBodyLine splits an unindented body line into its key and value. If the line opens
// a section, open is true and value is empty.
func splitBodyLine(content string) (key, value string, open bool, err error) {
	toks, err := Tokenize("", []byte(content))
	if err != nil {
		return "", "", false, err
	}
	if toks[0].Kind != TWord {
		return "", "", false, errors.New("body line does not begin with a key")
	}
	key = toks[0].Value

	for i, tok := range toks[1:] {
		switch tok.Kind {
		case TComment:
			return "", "", false, errors.New("body line contains a comment")
		case TCurlClose:
			return "", "", false, errors.New("body line contains a closing brace")
		case TCurlOpen:
			if i != 1 || content != key+" {" {
				return "", "", false, errors.New("body line contains a nested block")
			}
			return key, "", true, nil
		}
	}

	if len(content) == len(key) {
		return key, "", false, nil
	}
	value = content[len(key)+1:]
	if content[len(key)] != ' ' || value == "" || strings.TrimLeft(value, " \t") != value {
		return "", "", false, errors.New("key and value are not separated by a single space")
	}
	return key, value, false, nil
}

func (b *KeyValueBody) nestedIndent() string {
	if step := strings.TrimPrefix(b.Indent, b.CloseIndent); step != b.Indent && step != "" {
		return b.Indent + step
	}
	return b.Indent + "\t"
}

// Render returns the text of the body as it appears between its braces.
func (b *KeyValueBody) Render() string {
	var sb strings.Builder
	sb.WriteByte('\n')
	nested := b.nestedIndent()
	section := ""
	for _, kv := range b.Pairs {
		if kv.Section != section {
			if section != "" {
				sb.WriteString(b.Indent + "}\n")
			}
			section = kv.Section
			if section != "" {
				sb.WriteString(b.Indent + section + " {\n")
			}
		}

		if section != "" {
			sb.WriteString(nested)
		} else {
			sb.WriteString(b.Indent)
		}
		sb.WriteString(kv.Key)
		if kv.Value != "" {
			sb.WriteByte(' ')
			sb.WriteString(kv.Value)
		}
		sb.WriteByte('\n')
	}
	if section != "" {
		sb.WriteString(b.Indent + "}\n")
	}
	sb.WriteString(b.CloseIndent)
	return sb.String()
}

// BodyText returns the text between the braces of a directive's body.
func BodyText(body Body) string {
	switch body := body.(type) {
	case RawBody:
		return string(body)
	case *KeyValueBody:
		return body.Render()
	}
	return ""
}
