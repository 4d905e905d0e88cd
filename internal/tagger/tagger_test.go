package tagger

import "testing"

func findTag(tags []Tag, name string) (Tag, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t, true
		}
	}
	return Tag{}, false
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		username string
		about    string
		want     []string
	}{
		{
			name:  "crypto channel",
			title: "Bitcoin Signals",
			about: "daily ethereum and defi trading calls",
			want:  []string{"crypto", "finance"},
		},
		{
			name:     "tech jobs board",
			title:    "Remote Dev Jobs",
			username: "devjobs",
			about:    "hiring software engineers, remote work only",
			want:     []string{"tech", "jobs"},
		},
		{
			name:  "news digest",
			title: "World News Daily",
			about: "breaking headlines every morning",
			want:  []string{"news"},
		},
		{
			name:  "nothing recognizable",
			title: "xqzv",
			about: "????",
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.title, tt.username, tt.about)
			for _, w := range tt.want {
				if _, ok := findTag(got, w); !ok {
					t.Errorf("Classify() = %v, missing tag %q", got, w)
				}
			}
			if tt.want == nil && len(got) != 0 {
				t.Errorf("Classify() = %v, want none", got)
			}
		})
	}
}

func TestClassifyConfidence(t *testing.T) {
	// Three distinct crypto patterns saturate confidence at 1.
	got := Classify("Crypto", "", "bitcoin and ethereum talk")
	tag, ok := findTag(got, "crypto")
	if !ok {
		t.Fatalf("Classify() = %v, missing crypto", got)
	}
	if tag.Confidence != 1 {
		t.Errorf("confidence = %v, want saturated 1", tag.Confidence)
	}

	// A single hit scores fractionally.
	got = Classify("", "", "nft drops")
	tag, ok = findTag(got, "crypto")
	if !ok {
		t.Fatalf("Classify() = %v, missing crypto", got)
	}
	if tag.Confidence <= 0 || tag.Confidence >= 1 {
		t.Errorf("confidence = %v, want fractional", tag.Confidence)
	}
}

func TestClassifyEmptyInput(t *testing.T) {
	if got := Classify("", "", ""); got != nil {
		t.Errorf("Classify on empty input = %v, want nil", got)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	a := Classify("Gadget News", "gadgets", "tech reviews and software deep dives")
	b := Classify("Gadget News", "gadgets", "tech reviews and software deep dives")
	if len(a) != len(b) {
		t.Fatalf("non-deterministic result: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("result[%d] differs: %v vs %v", i, a[i], b[i])
		}
	}
}
