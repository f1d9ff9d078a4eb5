package dashboard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"crime-etl/internal/record"
)

func rec(lat, lon float64, ctype, month, ward string) record.Record {
	return record.Record{Coord: record.NewCoordinate(lat, lon), CrimeType: ctype, Month: month, Ward: record.ResolvedField(ward)}
}

func sample() []record.Record {
	return []record.Record{
		rec(53.0, -1.0, "Burglary", "2023-01", "Headingley"),
		rec(54.0, -2.0, "Burglary", "2023-01", CityCentreWard),
		rec(53.0, -1.0, "Burglary", "2023-01", "Headingley"),
		{Coord: record.NewCoordinate(53.2, -1.2), CrimeType: "Burglary", Month: "2023-01", Ward: record.UnresolvedField()},
		rec(53.0, -1.0, "Anti-social behaviour", "2024-02", "Headingley"),
	}
}

func TestBuild(t *testing.T) {
	d := Build(sample(), 2)
	if !reflect.DeepEqual(d.Types, []string{"Anti-social behaviour", "Burglary"}) {
		t.Errorf("types = %v", d.Types)
	}
	if !reflect.DeepEqual(d.Years, []int{2023, 2024}) {
		t.Errorf("years = %v", d.Years)
	}
	if !reflect.DeepEqual(d.Wards, []string{"Headingley", CityCentreWard}) {
		t.Errorf("wards = %v", d.Wards)
	}
	if d.Center != (Center{Lat: 53.5, Lon: -1.5}) {
		t.Errorf("center = %+v", d.Center)
	}
	want := []Point{
		{Lat: 53.25, Lon: -1.25, Type: 0, Year: 2024, Month: 2, Count: 1},
		{Lat: 53.25, Lon: -1.25, Type: 1, Year: 2023, Month: 1, Count: 2},
		{Lat: 53.75, Lon: -1.75, Type: 1, Year: 2023, Month: 1, Count: 1, CityCentre: true},
	}
	if !reflect.DeepEqual(d.Points, want) {
		t.Errorf("points = %+v", d.Points)
	}
	wantWard := []WardPoint{
		{Ward: "Headingley", Type: 0, Year: 2024, Month: 2, Count: 1},
		{Ward: "Headingley", Type: 1, Year: 2023, Month: 1, Count: 2},
		{Ward: CityCentreWard, Type: 1, Year: 2023, Month: 1, Count: 1},
	}
	if !reflect.DeepEqual(d.WardPoints, wantWard) {
		t.Errorf("ward points = %+v", d.WardPoints)
	}
}

func TestBuildOrderIndependent(t *testing.T) {
	rs := sample()
	rev := make([]record.Record, len(rs))
	for i := range rs {
		rev[len(rs)-1-i] = rs[i]
	}
	if !reflect.DeepEqual(Build(rs, 2), Build(rev, 2)) {
		t.Fatal("aggregation depends on input order")
	}
}

func TestBuildEmpty(t *testing.T) {
	d := Build(nil, 0)
	if len(d.Points) != 0 || d.CityCentre != CityCentreWard {
		t.Fatalf("empty = %+v", d)
	}
}

func TestWriteCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "crime_data.json")
	if err := Write(path, Build(sample(), 2)); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if !strings.Contains(s, `"cc":"Little London & Woodhouse"`) {
		t.Errorf("ward name escaped: %s", s)
	}
	if !strings.Contains(s, `[53.75,-1.75,1,2023,1,1,1]`) {
		t.Errorf("point encoding: %s", s)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"t", "y", "w", "cc", "c", "p", "wd"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("missing key %q", k)
		}
	}
}
