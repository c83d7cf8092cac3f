package scoring

import "testing"

func TestAreaDomain(t *testing.T) {
	if len(Areas) != AreaCount {
		t.Fatalf("expected %d areas, got %d", AreaCount, len(Areas))
	}

	sum := 0
	for _, a := range Areas {
		if a.Max < 2 || a.Max > 10 {
			t.Errorf("area %d max %d outside 2..10", a.Index, a.Max)
		}
		sum += a.Max
	}
	if sum != MaxTotal {
		t.Fatalf("area maxima sum to %d, want %d", sum, MaxTotal)
	}
}

func fullGrades() Grades {
	g := Grades{}
	for _, a := range Areas {
		g[a.Index] = a.Max
	}
	return g
}

func TestTotalScore(t *testing.T) {
	t.Run("empty grades score zero", func(t *testing.T) {
		if got := TotalScore(Grades{}); got != 0 {
			t.Fatalf("TotalScore(empty) = %d, want 0", got)
		}
		if got := TotalScore(nil); got != 0 {
			t.Fatalf("TotalScore(nil) = %d, want 0", got)
		}
	})

	t.Run("full marks reach the maximum", func(t *testing.T) {
		if got := TotalScore(fullGrades()); got != MaxTotal {
			t.Fatalf("TotalScore(full) = %d, want %d", got, MaxTotal)
		}
	})

	t.Run("unanswered areas contribute zero", func(t *testing.T) {
		g := Grades{1: 10, 2: 8}
		if got := TotalScore(g); got != 18 {
			t.Fatalf("TotalScore = %d, want 18", got)
		}
	})

	t.Run("unknown indices are ignored", func(t *testing.T) {
		g := Grades{1: 10, 25: 99, 0: 7, -3: 5}
		if got := TotalScore(g); got != 10 {
			t.Fatalf("TotalScore = %d, want 10", got)
		}
	})
}

func TestCompletionCount(t *testing.T) {
	cases := []struct {
		name   string
		grades Grades
		want   int
	}{
		{"empty", Grades{}, 0},
		{"one answered", Grades{5: 0}, 1},
		{"all answered", fullGrades(), AreaCount},
		{"unknown index not counted", Grades{1: 3, 99: 1}, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CompletionCount(tc.grades); got != tc.want {
				t.Fatalf("CompletionCount = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestClassifySeverity(t *testing.T) {
	cases := []struct {
		total int
		want  Severity
	}{
		{200, SeverityNormal},
		{178, SeverityNormal},
		{177, SeverityMild},
		{168, SeverityMild},
		{167, SeverityModerate},
		{139, SeverityModerate},
		{138, SeveritySevere},
		{0, SeveritySevere},
	}

	for _, tc := range cases {
		if got := ClassifySeverity(tc.total); got != tc.want {
			t.Errorf("ClassifySeverity(%d) = %s, want %s", tc.total, got, tc.want)
		}
	}
}

// Every integer in 0..200 must land in exactly one bucket.
func TestSeverityExhaustive(t *testing.T) {
	counts := map[Severity]int{}
	for total := 0; total <= MaxTotal; total++ {
		s := ClassifySeverity(total)
		switch s {
		case SeverityNormal, SeverityMild, SeverityModerate, SeveritySevere:
			counts[s]++
		default:
			t.Fatalf("ClassifySeverity(%d) returned unknown bucket %q", total, s)
		}
	}

	want := map[Severity]int{
		SeverityNormal:   200 - 178 + 1,
		SeverityMild:     177 - 168 + 1,
		SeverityModerate: 167 - 139 + 1,
		SeveritySevere:   138 - 0 + 1,
	}
	for s, n := range want {
		if counts[s] != n {
			t.Errorf("bucket %s covers %d values, want %d", s, counts[s], n)
		}
	}
}

func TestValidateGrades(t *testing.T) {
	cases := []struct {
		name    string
		grades  Grades
		wantErr bool
	}{
		{"empty is valid", Grades{}, false},
		{"nil is valid", nil, false},
		{"at maximum", Grades{1: 10, 5: 5}, false},
		{"zero grade", Grades{3: 0}, false},
		{"above area max", Grades{5: 6}, true},
		{"negative", Grades{1: -1}, true},
		{"unknown area", Grades{25: 1}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateGrades(tc.grades)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
