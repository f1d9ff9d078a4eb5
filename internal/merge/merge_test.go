package merge

import (
	"testing"

	"crime-etl/internal/record"
)

func r(id, month, outcome string) record.Record {
	return record.Record{CrimeID: id, Month: month, LastOutcome: outcome}
}

func TestLastWriteWins(t *testing.T) {
	out, st := Merge([]record.Record{r("A", "2024-01", "1")}, []record.Record{r("A", "2024-01", "2")})
	if len(out) != 1 || out[0].LastOutcome != "2" {
		t.Fatalf("out = %+v", out)
	}
	if st.Duplicates != 1 {
		t.Errorf("duplicates = %d", st.Duplicates)
	}
}

func TestOrderAndKeylessRetention(t *testing.T) {
	archive := []record.Record{r("A", "2020-01", "a1"), r("", "2020-01", "n1"), r("B", "2020-02", "b1"), r("C", "2020-03", "c1")}
	api := []record.Record{r("B", "2020-02", "b2"), r("", "2020-01", "n1"), r("D", "2020-04", "d2")}
	out, _ := Merge(archive, api)
	want := []string{"a1", "c1", "b2", "d2", "n1", "n1"}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(out), len(want), out)
	}
	for i, w := range want {
		if out[i].LastOutcome != w {
			t.Errorf("out[%d] = %q, want %q", i, out[i].LastOutcome, w)
		}
	}
}

func TestSelfMergeIsIdempotentForKeyedRecords(t *testing.T) {
	a := []record.Record{r("A", "2020-01", "1"), r("B", "2020-01", "1"), r("", "2020-01", "x")}
	b := []record.Record{r("B", "2020-02", "2"), r("C", "2020-02", "2")}
	once, st1 := Merge(a, b)
	twice, st2 := Merge(once)
	if st2.WithID != st1.WithID {
		t.Errorf("keyed subset grew: %d -> %d", st1.WithID, st2.WithID)
	}
	if st2.WithoutID != st1.WithoutID {
		t.Errorf("keyless multiplicity changed: %d -> %d", st1.WithoutID, st2.WithoutID)
	}
	for i := range once {
		if once[i] != twice[i] {
			t.Errorf("record %d changed on re-merge", i)
		}
	}
	again, st3 := Merge(once, once)
	if st3.WithID != st1.WithID {
		t.Errorf("merge with itself grew keyed subset to %d", st3.WithID)
	}
	if st3.WithoutID != 2*st1.WithoutID || len(again) != st1.WithID+2*st1.WithoutID {
		t.Errorf("keyless records should be kept with multiplicity: %d", st3.WithoutID)
	}
}

func TestSortByMonthIsStable(t *testing.T) {
	rs := []record.Record{r("A", "2021-03", "1"), r("B", "2020-01", "1"), r("C", "2021-03", "2"), r("D", "2020-01", "2")}
	SortByMonth(rs)
	got := ""
	for _, x := range rs {
		got += x.CrimeID
	}
	if got != "BDAC" {
		t.Errorf("order = %s, want BDAC", got)
	}
}
