package compositor

import (
	"slices"
	"testing"
)

type releaseProbe struct {
	name  string
	log   *[]string
	panic bool
}

func (p *releaseProbe) Release() {
	*p.log = append(*p.log, p.name)
	if p.panic {
		panic("release " + p.name)
	}
}

func TestReleaseStackUnwind(t *testing.T) {
	var log []string
	rs := releaseStack{log: newNopLogger()}
	for _, name := range []string{"a", "b", "c"} {
		rs.push(name, &releaseProbe{name: name, log: &log, panic: name == "b"})
	}
	if got := rs.names(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("names() = %v", got)
	}

	rs.unwind()
	if want := []string{"c", "b", "a"}; !slices.Equal(log, want) {
		t.Errorf("release order = %v, want %v", log, want)
	}
	if len(rs.names()) != 0 {
		t.Error("unwind left entries")
	}

	rs.unwind()
	if len(log) != 3 {
		t.Errorf("second unwind released again: %v", log)
	}
}
