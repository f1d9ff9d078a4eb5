package record

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestRoundTripPreservesEveryField(t *testing.T) {
	in := []Record{
		{
			CrimeID: "abc123", Month: "2023-04", ReportedBy: ReportingForce, FallsWithin: ReportingForce,
			Coord:    NewCoordinate(53.800123456789, -1.5489999999999999),
			Location: "On or near Briggate", Area: MatchedArea("E01011365", "Leeds 111B"),
			CrimeType: "Burglary", LastOutcome: "Under investigation", Context: "said, \"quoted\"",
			Ward: ResolvedField("Chapel Allerton"), Postcode: ResolvedField("LS7"),
		},
		{
			Month: "2023-05", Coord: NewCoordinate(0.1+0.2, -0.0),
			Area: UnmatchedArea(), Ward: UnresolvedField(), Postcode: UnresolvedField(),
		},
		{Month: "2023-06", Area: Area{Status: AreaUnspecified}},
		{Month: "2023-07", Area: Area{Status: AreaVerified, Code: "X1"}},
		{Month: "2023-08", Area: Area{Status: AreaImputed}},
	}
	var buf bytes.Buffer
	if err := Write(&buf, in); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("record %d:\n got %+v\nwant %+v", i, out[i], in[i])
		}
		ki, _ := in[i].Coord.Key()
		ko, _ := out[i].Coord.Key()
		if ki != ko {
			t.Errorf("record %d: coordinate key changed across round trip", i)
		}
	}
}

func TestReadArchiveLayout(t *testing.T) {
	// 归档文件带 BOM，且没有富化列
	src := "\ufeffCrime ID,Month,Reported by,Falls within,Longitude,Latitude,Location,LSOA code,LSOA name,Crime type,Last outcome category,Context\n" +
		"id1,2019-01,West Yorkshire Police,West Yorkshire Police,-1.55,53.8,On or near Park Row,E01011365,Leeds 111B,Drugs,,\n" +
		",2019-01,West Yorkshire Police,West Yorkshire Police,,,No Location,,,Anti-social behaviour,,\n"
	rs, err := Read(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(rs) != 2 {
		t.Fatalf("len = %d", len(rs))
	}
	if rs[0].CrimeID != "id1" || rs[0].Coord.Lat != 53.8 || rs[0].Area.Status != AreaMatched {
		t.Errorf("first record = %+v", rs[0])
	}
	if rs[0].Ward.Status != NotApplicable || rs[0].Postcode.Status != NotApplicable {
		t.Errorf("missing enrichment columns should be not-applicable: %+v", rs[0])
	}
	if rs[1].HasID() || rs[1].Coord.Valid {
		t.Errorf("second record should lack id and coordinate: %+v", rs[1])
	}
	if rs[1].Area.Status != AreaNone {
		t.Errorf("area = %+v, want none", rs[1].Area)
	}
}

func TestReadEmpty(t *testing.T) {
	if _, err := Read(strings.NewReader("")); err != ErrNoHeader {
		t.Errorf("err = %v, want ErrNoHeader", err)
	}
}

func TestCoordinateKeyExactMatch(t *testing.T) {
	a := ParseCoordinate("53.80", "-1.5")
	b := ParseCoordinate("53.8", "-1.50")
	c := ParseCoordinate("53.800001", "-1.5")
	ka, _ := a.Key()
	kb, _ := b.Key()
	kc, _ := c.Key()
	if ka != kb {
		t.Errorf("equal decimal values should share a key")
	}
	if ka == kc {
		t.Errorf("near-duplicate coordinates must stay distinct")
	}
	z1, _ := NewCoordinate(0, 1).Key()
	z2, _ := NewCoordinate(math.Copysign(0, -1), 1).Key()
	if z1 != z2 {
		t.Errorf("-0 and +0 should share a key")
	}
	if _, ok := ParseCoordinate("", "-1.5").Key(); ok {
		t.Errorf("missing latitude must not produce a key")
	}
	if _, ok := ParseCoordinate("abc", "-1.5").Key(); ok {
		t.Errorf("malformed latitude must not produce a key")
	}
}

func TestFieldImprove(t *testing.T) {
	resolved := ResolvedField("Headingley")
	tests := []struct {
		name string
		cur  Field
		next Field
		want Field
	}{
		{"resolved never downgraded", resolved, UnresolvedField(), resolved},
		{"resolved not overwritten", resolved, ResolvedField("Other"), resolved},
		{"unknown upgraded", UnresolvedField(), resolved, resolved},
		{"never attempted becomes unknown", Field{}, UnresolvedField(), UnresolvedField()},
		{"never attempted resolved", Field{}, resolved, resolved},
		{"no attempt keeps state", Field{}, Field{}, Field{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cur.Improve(tt.next); got != tt.want {
				t.Errorf("Improve = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolvedFieldTreatsSentinelAsUnresolved(t *testing.T) {
	if f := ResolvedField(UnknownValue); f.IsResolved() {
		t.Errorf("ResolvedField(%q) = %+v", UnknownValue, f)
	}
	if f := ResolvedField(""); f.IsResolved() {
		t.Errorf("ResolvedField(\"\") = %+v", f)
	}
}

func TestPartialCoordinateSurvivesRoundTrip(t *testing.T) {
	src := "Crime ID,Month,Longitude,Latitude\n" +
		"X,2020-01,,53.8\n" +
		"Y,2020-02,n/a,53.9\n"
	rs, err := Read(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for _, r := range rs {
		if r.Coord.Valid {
			t.Fatalf("%s: coordinate should be missing", r.CrimeID)
		}
		if _, ok := r.Coord.Key(); ok {
			t.Fatalf("%s: missing coordinate produced a key", r.CrimeID)
		}
	}
	var buf bytes.Buffer
	if err := Write(&buf, rs); err != nil {
		t.Fatalf("Write: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if want := "X,2020-01,,,,53.8,,,,,,,,"; lines[1] != want {
		t.Errorf("row = %q, want %q", lines[1], want)
	}
	if want := "Y,2020-02,,,n/a,53.9,,,,,,,,"; lines[2] != want {
		t.Errorf("row = %q, want %q", lines[2], want)
	}
}
