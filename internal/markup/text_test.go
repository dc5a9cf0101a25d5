package markup

import "testing"

func TestTextStripsTags(t *testing.T) {
	t.Parallel()

	r := New()
	got := r.Text(`<p>Hello <b>world</b></p><p>second&nbsp;line <a href="/x">link</a></p>`)
	want := "Hello world\nsecond line link"
	if got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestTextDropsScriptsAndStyles(t *testing.T) {
	t.Parallel()

	r := New()
	got := r.Text(`<div><style>.a{color:red}</style><script>alert(1)</script>body</div>`)
	if got != "body" {
		t.Fatalf("Text() = %q, want %q", got, "body")
	}
}

func TestTextLineBreaks(t *testing.T) {
	t.Parallel()

	r := New()
	got := r.Text("one<br>two<ul><li>three</li><li>four</li></ul>")
	want := "one\ntwo\nthree\nfour"
	if got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestTextPlainInput(t *testing.T) {
	t.Parallel()

	r := New()
	if got := r.Text("  just   text "); got != "just text" {
		t.Fatalf("Text() = %q", got)
	}
	if got := r.Text(""); got != "" {
		t.Fatalf("Text(\"\") = %q", got)
	}
	if got := r.Text("a &lt;b&gt; c"); got != "a <b> c" {
		t.Fatalf("Text() = %q", got)
	}
}
