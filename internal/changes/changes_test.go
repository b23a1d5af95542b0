package changes

import (
	"context"
	"errors"
	"testing"
)

var defaultPolicy = Policy{
	Dependencies:     []string{"*.pip", "requirements*.txt"},
	Stylesheets:      []string{"*.scss", "*.sass"},
	RequirementsFile: "requirements/prod.pip",
}

func TestParse(t *testing.T) {
	cs := Parse("a.py\n\n  b/c.scss \nrequirements/base.pip\n")
	want := ChangeSet{"a.py", "b/c.scss", "requirements/base.pip"}
	if len(cs) != len(want) {
		t.Fatalf("Parse() = %v, want %v", cs, want)
	}
	for i := range want {
		if cs[i] != want[i] {
			t.Errorf("cs[%d] = %q, want %q", i, cs[i], want[i])
		}
	}
	if !Parse("").Empty() {
		t.Error("Parse('') should be empty")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		changes   ChangeSet
		wantDeps  bool
		wantStyle bool
	}{
		{"empty", nil, false, false},
		{"python only", ChangeSet{"shop/views.py", "shop/models.py"}, false, false},
		{"pip file", ChangeSet{"requirements/base.pip"}, true, false},
		{"requirements txt", ChangeSet{"requirements-dev.txt"}, true, false},
		{"scss", ChangeSet{"static/css/site.scss"}, false, true},
		{"sass", ChangeSet{"static/css/_vars.sass"}, false, true},
		{"css is not a stylesheet source", ChangeSet{"static/css/site.css"}, false, false},
		{"both", ChangeSet{"static/a.scss", "requirements/prod.pip"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := defaultPolicy.Classify(tt.changes)
			if f.DependenciesChanged != tt.wantDeps {
				t.Errorf("DependenciesChanged = %v, want %v", f.DependenciesChanged, tt.wantDeps)
			}
			if f.StylesheetsChanged != tt.wantStyle {
				t.Errorf("StylesheetsChanged = %v, want %v", f.StylesheetsChanged, tt.wantStyle)
			}
		})
	}
}

func TestClassifyRequirementsFileExact(t *testing.T) {
	p := Policy{RequirementsFile: "deps/lock"}
	if !p.Classify(ChangeSet{"deps/lock"}).DependenciesChanged {
		t.Error("the configured requirements file should always flag dependencies")
	}
}

func TestClassifyPathPattern(t *testing.T) {
	p := Policy{Stylesheets: []string{"assets/*/*.less"}}
	if !p.Classify(ChangeSet{"assets/css/site.less"}).StylesheetsChanged {
		t.Error("slash pattern should match the full path")
	}
	if p.Classify(ChangeSet{"other/css/site.less"}).StylesheetsChanged {
		t.Error("slash pattern should not match other directories")
	}
}

type fakeSource struct {
	files    []string
	fetchErr error
	diffErr  error
	fetched  bool
}

func (f *fakeSource) Fetch(context.Context) error {
	f.fetched = true
	return f.fetchErr
}

func (f *fakeSource) ChangedFiles(context.Context) ([]string, error) {
	return f.files, f.diffErr
}

func TestDetect(t *testing.T) {
	src := &fakeSource{files: []string{"requirements/base.pip"}}
	d, err := Detect(context.Background(), src, defaultPolicy)
	if err != nil {
		t.Fatal(err)
	}
	if !src.fetched {
		t.Error("Detect should fetch first")
	}
	if !d.DependenciesChanged || d.StylesheetsChanged {
		t.Errorf("flags = %+v", d.Flags)
	}
	if len(d.Changes) != 1 {
		t.Errorf("Changes = %v", d.Changes)
	}
}

func TestDetectFetchError(t *testing.T) {
	boom := errors.New("fetch failed")
	src := &fakeSource{fetchErr: boom}
	if _, err := Detect(context.Background(), src, defaultPolicy); !errors.Is(err, boom) {
		t.Errorf("Detect() error = %v, want %v", err, boom)
	}
}
