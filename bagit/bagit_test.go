package bagit

import (
	"encoding/json"
	"testing"
)

func TestTagListOrder(t *testing.T) {
	// tags round-trip through JSON in insertion order, not sorted
	const text = `{"zebra":"first","apple":"second","Middle-Tag":"third"}`
	var tags TagList
	if err := json.Unmarshal([]byte(text), &tags); err != nil {
		t.Fatal(err)
	}
	if len(tags) != 3 {
		t.Fatalf("parsed %d tags, expected 3", len(tags))
	}
	for i, name := range []string{"zebra", "apple", "Middle-Tag"} {
		if tags[i].Name != name {
			t.Errorf("tag %d is %s, expected %s", i, tags[i].Name, name)
		}
	}
	out, err := json.Marshal(tags)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != text {
		t.Errorf("marshaled %s, expected %s", out, text)
	}
}

func TestTagListSet(t *testing.T) {
	var tags TagList
	tags.Set("a", "1")
	tags.Set("b", "2")
	tags.Set("a", "3") // replaces in place
	if len(tags) != 2 {
		t.Fatalf("have %d tags, expected 2", len(tags))
	}
	if tags[0].Name != "a" || tags[0].Value != "3" {
		t.Errorf("first tag is %v", tags[0])
	}
	if tags.Get("b") != "2" {
		t.Errorf("Get(b) = %q", tags.Get("b"))
	}
	if tags.Get("missing") != "" {
		t.Errorf("Get(missing) = %q", tags.Get("missing"))
	}
}

func TestTagListUnmarshalErrors(t *testing.T) {
	var table = []string{
		`["not", "an", "object"]`,
		`{"tag": 5}`,
		`{"tag": null}`,
		`{"tag": {"nested": "object"}}`,
	}
	for _, text := range table {
		var tags TagList
		if err := json.Unmarshal([]byte(text), &tags); err == nil {
			t.Errorf("no error unmarshaling %s", text)
		}
	}
}

func TestParseManifestLine(t *testing.T) {
	var table = []struct {
		line   string
		digest string
		path   string
		ok     bool
	}{
		{"abc123  data/file.txt", "abc123", "data/file.txt", true},
		// single space separator, per some other tools
		{"abc123 data/file.txt", "abc123", "data/file.txt", true},
		{"abc123\tdata/file.txt", "abc123", "data/file.txt", true},
		// two-space form keeps interior spaces in the path
		{"abc123  data/my file.txt", "abc123", "data/my file.txt", true},
		{"abc123", "", "", false},
		{"", "", "", false},
	}
	for _, tab := range table {
		hexdigest, path, ok := parseManifestLine(tab.line)
		if ok != tab.ok {
			t.Errorf("%q: ok = %v", tab.line, ok)
			continue
		}
		if hexdigest != tab.digest || path != tab.path {
			t.Errorf("%q: parsed (%q, %q), expected (%q, %q)",
				tab.line, hexdigest, path, tab.digest, tab.path)
		}
	}
}
