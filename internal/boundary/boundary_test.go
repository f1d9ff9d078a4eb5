package boundary

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"crime-etl/internal/geo"
	"crime-etl/internal/record"

	"github.com/paulmach/orb"
)

func unitSquare() *geo.Classifier {
	return geo.NewClassifier([]geo.LabeledPolygon{{
		Code: "SQ", Name: "Square",
		Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
	}})
}

func rec(id string, lat, lon float64, area record.Area) record.Record {
	return record.Record{CrimeID: id, Month: "2024-01", Coord: record.NewCoordinate(lat, lon), Area: area}
}

func TestFilterKeepsInsideDropsOutside(t *testing.T) {
	in := []record.Record{
		rec("a", 0.5, 0.5, record.Area{}),
		rec("b", 0.5, 1.5, record.Area{}),
		rec("c", 0.5, 0.5, record.Area{}),
		{CrimeID: "d", Month: "2024-01"},
	}
	res := Filter(in, unitSquare(), FilterOptions{})
	if len(res.Kept) != 2 || res.Kept[0].CrimeID != "a" || res.Kept[1].CrimeID != "c" {
		t.Fatalf("kept = %+v", res.Kept)
	}
	if res.Dropped != 2 {
		t.Errorf("dropped = %d, want 2", res.Dropped)
	}
	if res.Unique != 2 {
		t.Errorf("unique = %d, want 2 (one classification per coordinate)", res.Unique)
	}
}

type countingContainer struct {
	n    int
	next Container
}

func (c *countingContainer) Contains(lat, lon float64) bool {
	c.n++
	return c.next.Contains(lat, lon)
}

func TestFilterClassifiesEachCoordinateOnce(t *testing.T) {
	var in []record.Record
	for i := 0; i < 50; i++ {
		in = append(in, rec("", 0.25, 0.75, record.Area{}))
	}
	cc := &countingContainer{next: unitSquare()}
	Filter(in, cc, FilterOptions{})
	if cc.n != 1 {
		t.Errorf("Contains called %d times, want 1", cc.n)
	}
}

func TestFilterVerifyRelabelIsIdempotent(t *testing.T) {
	in := []record.Record{
		rec("a", 0.5, 0.5, record.Area{Status: record.AreaUnspecified}),
		rec("b", 0.5, 1.5, record.Area{Status: record.AreaImputed}),
		rec("c", 0.5, 1.5, record.MatchedArea("E01", "Leeds 001A")),
		rec("d", 0.2, 0.2, record.Area{Status: record.AreaImputed, Code: "E02"}),
	}
	opt := FilterOptions{Select: func(r record.Record) bool { return r.Area.PendingVerification() }, Relabel: true}
	once := Filter(in, unitSquare(), opt).Kept
	want := []record.Record{
		rec("a", 0.5, 0.5, record.Area{Status: record.AreaVerified}),
		rec("c", 0.5, 1.5, record.MatchedArea("E01", "Leeds 001A")),
		rec("d", 0.2, 0.2, record.Area{Status: record.AreaVerified, Code: "E02"}),
	}
	if len(once) != len(want) {
		t.Fatalf("kept %d records, want %d", len(once), len(want))
	}
	for i := range want {
		if once[i] != want[i] {
			t.Errorf("record %d = %+v, want %+v", i, once[i], want[i])
		}
	}
	twice := Filter(once, unitSquare(), opt).Kept
	if len(twice) != len(once) {
		t.Fatalf("second pass changed length %d -> %d", len(once), len(twice))
	}
	for i := range once {
		if twice[i] != once[i] {
			t.Errorf("second pass changed record %d", i)
		}
	}
	plain := Filter(Filter(in, unitSquare(), FilterOptions{}).Kept, unitSquare(), FilterOptions{})
	if plain.Dropped != 0 {
		t.Errorf("plain filter not idempotent: dropped %d on rerun", plain.Dropped)
	}
}

func TestAssignUsesSentinelWhenUnmatched(t *testing.T) {
	rs := []record.Record{
		rec("a", 0.5, 0.5, record.Area{Status: record.AreaVerified}),
		rec("b", 5, 5, record.Area{Status: record.AreaVerified}),
		{CrimeID: "c", Area: record.Area{Status: record.AreaVerified}},
		rec("d", 0.5, 0.5, record.MatchedArea("OLD", "Old")),
	}
	res := Assign(rs, unitSquare(), func(r record.Record) bool { return r.Area.Status == record.AreaVerified })
	if rs[0].Area != record.MatchedArea("SQ", "Square") {
		t.Errorf("rs[0].Area = %+v", rs[0].Area)
	}
	if rs[1].Area != record.UnmatchedArea() || rs[2].Area != record.UnmatchedArea() {
		t.Errorf("unmatched areas = %+v, %+v", rs[1].Area, rs[2].Area)
	}
	if rs[3].Area.Code != "OLD" {
		t.Errorf("unselected record changed: %+v", rs[3].Area)
	}
	if res.Assigned != 3 || res.Unmatched != 1 || res.Unique != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestPickAdministrative(t *testing.T) {
	poly := `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}`
	cases := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"administrative preferred", `[{"type":"city","geojson":{"type":"Point","coordinates":[0,0]}},{"type":"administrative","geojson":` + poly + `}]`, nil},
		{"first fallback", `[{"type":"city","geojson":` + poly + `}]`, nil},
		{"none", `[]`, geo.ErrNoGeometry},
		{"no geojson", `[{"type":"administrative"}]`, geo.ErrNoGeometry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := PickAdministrative([]byte(tc.body))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if _, ok := g.(orb.Polygon); !ok {
				t.Errorf("geometry = %T, want orb.Polygon", g)
			}
		})
	}
}

const areaFixture = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"LSOA11CD":"E01011365","LSOA11NM":"Leeds 111B"},
 "geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}]}`

func TestLoadAreasCachesToDisk(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(areaFixture))
	}))
	defer srv.Close()
	cache := filepath.Join(t.TempDir(), "raw", "lsoa.geojson")
	src := Source{Client: srv.Client(), URL: srv.URL, CachePath: cache}
	for i := 0; i < 2; i++ {
		c, err := LoadAreas(context.Background(), src, "LSOA11CD", "LSOA11NM")
		if err != nil {
			t.Fatalf("LoadAreas: %v", err)
		}
		if lb, ok := c.Classify(0.5, 0.5); !ok || lb.Code != "E01011365" {
			t.Fatalf("Classify = %+v,%v", lb, ok)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server hit %d times, want 1", hits.Load())
	}
	src.Force = true
	if _, err := LoadAreas(context.Background(), src, "LSOA11CD", "LSOA11NM"); err != nil {
		t.Fatalf("forced LoadAreas: %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("forced reload did not refetch")
	}
}

func TestLoadAreasFetchFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()
	cache := filepath.Join(t.TempDir(), "lsoa.geojson")
	_, err := LoadAreas(context.Background(), Source{Client: srv.Client(), URL: srv.URL, CachePath: cache}, "a", "b")
	if err == nil {
		t.Fatal("expected error")
	}
	if _, statErr := os.Stat(cache); !os.IsNotExist(statErr) {
		t.Errorf("cache written despite failure")
	}
}

func TestLoadBoundarySendsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		w.Write([]byte(`[{"type":"administrative","geojson":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}]`))
	}))
	defer srv.Close()
	c, err := LoadBoundary(context.Background(), Source{Client: srv.Client(), URL: srv.URL, UserAgent: "LeedsCrimeAnalysis/1.0"})
	if err != nil {
		t.Fatalf("LoadBoundary: %v", err)
	}
	if ua != "LeedsCrimeAnalysis/1.0" {
		t.Errorf("User-Agent = %q", ua)
	}
	if !c.Contains(0.5, 0.5) || c.Contains(0.5, 1.5) {
		t.Error("boundary classification wrong")
	}
}
