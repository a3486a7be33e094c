package seleniumpool

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseEndpoints(t *testing.T) {
	for _, tc := range []struct {
		desc    string
		list    string
		want    []string
		wantErr bool
	}{
		{
			desc: "empty",
			list: "  ",
		},
		{
			desc: "single",
			list: "http://localhost:4444/wd/hub",
			want: []string{"http://localhost:4444/wd/hub"},
		},
		{
			desc: "whitespace is trimmed",
			list: " http://a:4444/wd/hub ,http://b:4444/wd/hub",
			want: []string{"http://a:4444/wd/hub", "http://b:4444/wd/hub"},
		},
		{
			desc: "userinfo is kept",
			list: "https://u:p@grid.example.com/wd/hub",
			want: []string{"https://u:p@grid.example.com/wd/hub"},
		},
		{
			desc:    "relative URL",
			list:    "http://a:4444/wd/hub,/wd/hub",
			wantErr: true,
		},
		{
			desc:    "unparsable",
			list:    "http://a b:%zz",
			wantErr: true,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			endpoints, err := ParseEndpoints(tc.list)
			if tc.wantErr {
				var cfgErr *ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("ParseEndpoints(%q) returned error %v, want a *ConfigError", tc.list, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEndpoints(%q) returned error: %v", tc.list, err)
			}
			var got []string
			for _, e := range endpoints {
				got = append(got, e.String())
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseEndpoints(%q) returned diff (-want/+got):\n%s", tc.list, diff)
			}
		})
	}
}

func TestEndpointURLIsCopy(t *testing.T) {
	e, err := ParseEndpoint("http://user:secret@a:4444/wd/hub")
	if err != nil {
		t.Fatal(err)
	}
	u := e.URL()
	u.Host = "mutated"
	u.Path = "/elsewhere"

	if got, want := e.String(), "http://user:secret@a:4444/wd/hub"; got != want {
		t.Errorf("String() after mutating URL() = %q, want %q", got, want)
	}
	if got, want := e.Host(), "a:4444"; got != want {
		t.Errorf("Host() = %q, want %q", got, want)
	}
}

func TestEndpointEqual(t *testing.T) {
	a1, _ := ParseEndpoint("http://a:4444/wd/hub")
	a2, _ := ParseEndpoint(" http://a:4444/wd/hub")
	b, _ := ParseEndpoint("http://b:4444/wd/hub")

	if !a1.Equal(a2) {
		t.Errorf("%s.Equal(%s) = false, want true", a1, a2)
	}
	if a1.Equal(b) {
		t.Errorf("%s.Equal(%s) = true, want false", a1, b)
	}
	var none *Endpoint
	if !none.Equal(nil) {
		t.Error("nil.Equal(nil) = false, want true")
	}
	if got := none.String(); got != "<nil>" {
		t.Errorf("nil.String() = %q", got)
	}
}
