package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"crime-etl/internal/record"
)

func TestMonths(t *testing.T) {
	got, err := Months("2022-11", "2023-02")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2022-11", "2022-12", "2023-01", "2023-02"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Months = %v", got)
	}
	if _, err := Months("2022-13", "2023-01"); err == nil {
		t.Error("expected error for bad month")
	}
	if got, _ := Months("2024-02", "2024-01"); len(got) != 0 {
		t.Errorf("reversed range = %v", got)
	}
}

func TestLeedsGridPoints(t *testing.T) {
	pts := LeedsGrid.Points()
	if len(pts) != 14*26 {
		t.Fatalf("points = %d, want %d", len(pts), 14*26)
	}
	if pts[0].Lat != 53.69 || pts[0].Lon != -1.80 {
		t.Errorf("first point = %+v", pts[0])
	}
	last := pts[len(pts)-1]
	if last.Lat >= 53.96 || last.Lon >= -1.29 {
		t.Errorf("last point outside half-open box: %+v", last)
	}
}

func TestNormalize(t *testing.T) {
	data := `{"category":"violent-crime","context":"","persistent_id":"","id":116208998,"month":"2024-01",
		"location":{"latitude":"53.801234","longitude":"-1.548765","street":{"id":1,"name":"On or near Briggate"}},
		"outcome_status":null}
{"category":"new-slug","persistent_id":"abc","id":2,"month":"2024-01","location":{"latitude":"","longitude":"-1.5","street":{"name":"x"}},
		"outcome_status":{"category":"Under investigation","date":"2024-02"}}`
	path := filepath.Join(t.TempDir(), "leeds_crime_2024_01.jsonl")
	if err := os.WriteFile(path, []byte(strings.ReplaceAll(strings.ReplaceAll(data, "\n\t\t", ""), "\t", "")), 0o644); err != nil {
		t.Fatal(err)
	}
	rs, err := LoadRawDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 2 {
		t.Fatalf("records = %d", len(rs))
	}
	a := rs[0]
	if a.CrimeID != "116208998" || a.CrimeType != "Violence and sexual offences" || a.Location != "On or near Briggate" {
		t.Errorf("a = %+v", a)
	}
	if a.Coord.Lat != 53.801234 || a.Coord.Lon != -1.548765 || a.ReportedBy != record.ReportingForce {
		t.Errorf("a coord/force = %+v", a)
	}
	if a.Area.Status != record.AreaUnspecified || a.LastOutcome != "" {
		t.Errorf("a area/outcome = %+v", a)
	}
	b := rs[1]
	if b.CrimeID != "abc" || b.CrimeType != "new-slug" || b.LastOutcome != "Under investigation" || b.Coord.Valid {
		t.Errorf("b = %+v", b)
	}
}

func TestFetchMonthRetriesRateLimitAndDedupes(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/crimes-street/all-crime" || r.URL.Query().Get("date") != "2024-01" {
			t.Errorf("unexpected request %s", r.URL)
		}
		switch {
		case n == 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case r.URL.Query().Get("lng") == "-1.5":
			w.Write([]byte(`[{"id":1,"month":"2024-01"},{"id":2,"month":"2024-01"}]`))
		default:
			w.Write([]byte(`[{"id":2,"month":"2024-01"},{"id":3,"month":"2024-01"}]`))
		}
	}))
	defer srv.Close()
	f := &Fetcher{
		Client:  srv.Client(),
		BaseURL: srv.URL,
		Grid:    Grid{MinLat: 53.8, MaxLat: 53.81, MinLon: -1.5, MaxLon: -1.47, Step: 0.02},
		Backoff: time.Millisecond,
		OutDir:  t.TempDir(),
	}
	res, err := f.FetchMonth(context.Background(), "2024-01")
	if err != nil {
		t.Fatal(err)
	}
	if res.Unique != 3 || res.Fetched != 4 || res.Failed != 0 {
		t.Errorf("res = %+v", res)
	}
	crimes, err := ReadRaw(res.Path)
	if err != nil || len(crimes) != 3 {
		t.Fatalf("ReadRaw = %d, %v", len(crimes), err)
	}
	before := calls.Load()
	again, err := f.FetchMonth(context.Background(), "2024-01")
	if err != nil || !again.Skipped || calls.Load() != before {
		t.Errorf("existing month not skipped: %+v %v", again, err)
	}
}

func TestFetchMonthSkipsFailingPoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("lng") == "-1.5" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"id":9,"month":"2024-02"}]`))
	}))
	defer srv.Close()
	f := &Fetcher{Client: srv.Client(), BaseURL: srv.URL, OutDir: t.TempDir(),
		Grid: Grid{MinLat: 53.8, MaxLat: 53.81, MinLon: -1.5, MaxLon: -1.47, Step: 0.02}}
	res, err := f.FetchMonth(context.Background(), "2024-02")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Unique != 1 {
		t.Errorf("res = %+v", res)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCombineArchive(t *testing.T) {
	arch, out := t.TempDir(), t.TempDir()
	street := "Crime ID,Month,Reported by,Falls within,Longitude,Latitude,Location,LSOA code,LSOA name,Crime type,Last outcome category,Context\n" +
		"a1,2018-01,West Yorkshire Police,West Yorkshire Police,-1.54,53.80,On or near X,E01011365,Leeds 111B,Burglary,Under investigation,\n" +
		"b1,2018-01,West Yorkshire Police,West Yorkshire Police,-1.75,53.79,On or near Y,E01010000,Bradford 001A,Burglary,,\n" +
		",2018-01,West Yorkshire Police,West Yorkshire Police,-1.55,53.81,On or near Z,E01011366,LEEDS 112A,Anti-social behaviour,,\n"
	writeFile(t, filepath.Join(arch, "2018-01", "2018-01-west-yorkshire-street.csv"), "\ufeff"+street)
	writeFile(t, filepath.Join(arch, "2018-01", "2018-01-west-yorkshire-stop-and-search.csv"),
		"Type,Date,Latitude,Longitude\nPerson search,2018-01-02,53.8,-1.5\nPerson search,2018-01-03,,\nPerson search,2018-01-04,51.5,-0.1\n")
	res, err := CombineArchive(arch, out, []string{"2018-01", "2018-02"}, LeedsGrid)
	if err != nil {
		t.Fatal(err)
	}
	if res.Street != 2 || res.StopAndSearch != 1 || res.Outcomes != 0 || res.MissingMonths != 1 {
		t.Errorf("res = %+v", res)
	}
	rs, err := record.ReadFile(filepath.Join(out, StreetArchiveFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(rs) != 2 || rs[0].CrimeID != "a1" || rs[0].Area != record.MatchedArea("E01011365", "Leeds 111B") || rs[1].HasID() {
		t.Errorf("records = %+v", rs)
	}
	if _, err := os.Stat(filepath.Join(out, OutcomesFile)); !os.IsNotExist(err) {
		t.Error("outcomes file written with no rows")
	}
}
