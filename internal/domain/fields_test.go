package domain

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"
)

func TestFields_AddMergesRepeatedNames(t *testing.T) {
	var fs Fields
	fs.Add("name", "bob")
	fs.Add("color", "red")
	fs.Add("color", "blue")

	if got := fs.Get("color"); got != "red, blue" {
		t.Fatalf("color = %q", got)
	}
	if keys := fs.Keys(); len(keys) != 2 || keys[0] != "name" {
		t.Fatalf("keys = %v", keys)
	}
}

func TestFields_UnmarshalKeepsOrder(t *testing.T) {
	var fs Fields
	in := `{"zeta":"1","alpha":2,"tags":["a","b"],"none":null,"ok":true}`
	if err := json.Unmarshal([]byte(in), &fs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []Field{{"zeta", "1"}, {"alpha", "2"}, {"tags", "a, b"}, {"none", ""}, {"ok", "true"}}
	if len(fs) != len(want) {
		t.Fatalf("len = %d, want %d", len(fs), len(want))
	}
	for i := range want {
		if fs[i] != want[i] {
			t.Fatalf("field %d = %+v, want %+v", i, fs[i], want[i])
		}
	}

	out, err := json.Marshal(fs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"zeta":"1","alpha":"2","tags":"a, b","none":"","ok":"true"}` {
		t.Fatalf("marshal = %s", out)
	}
}

func TestFields_UnmarshalRejectsNonObject(t *testing.T) {
	var fs Fields
	if err := json.Unmarshal([]byte(`["a"]`), &fs); err == nil {
		t.Fatalf("expected error for array input")
	}
}

func TestFields_BlankAndWithout(t *testing.T) {
	fs := Fields{{"_gotcha", ""}, {"name", "  "}}
	if !fs.Blank() {
		t.Fatalf("expected blank")
	}
	fs.Add("msg", "hi")
	rest := fs.Without(map[string]struct{}{"_gotcha": {}})
	if len(rest) != 2 || rest[0].Name != "name" {
		t.Fatalf("without = %+v", rest)
	}
}

func TestFieldsBuilder_MergesLikeAdd(t *testing.T) {
	seq := [][2]string{
		{"a", ""}, {"b", "1"}, {"a", "x"}, {"b", ""}, {"b", "2"}, {"c", ""}, {"a", "y"},
	}
	var want Fields
	var b FieldsBuilder
	for _, kv := range seq {
		want.Add(kv[0], kv[1])
		b.Add(kv[0], kv[1])
	}
	got := b.Fields()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("field %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	var empty FieldsBuilder
	if fs := empty.Fields(); fs == nil || len(fs) != 0 {
		t.Fatalf("empty builder = %#v", fs)
	}
}

func TestFieldsBuilder_ScalesLinearly(t *testing.T) {
	const n = 100_000
	start := time.Now()
	var b FieldsBuilder
	for i := 0; i < n; i++ {
		b.Add("k"+strconv.Itoa(i), "")
		b.Add("multi", "v")
	}
	fs := b.Fields()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("building %d fields took %v", n, elapsed)
	}
	if len(fs) != n+1 {
		t.Fatalf("len = %d", len(fs))
	}
	if got := fs.Get("multi"); len(got) != n*len("v")+(n-1)*len(", ") {
		t.Fatalf("multi has %d bytes", len(got))
	}
}
