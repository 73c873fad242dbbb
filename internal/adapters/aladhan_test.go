package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/models"
)

func dayJSON(gregorian, fajr string) string {
	return fmt.Sprintf(`{
		"timings": {"Fajr": "%s (IST)", "Sunrise": "06:45", "Dhuhr": "12:15", "Asr": "15:30",
			"Sunset": "17:45", "Maghrib": "17:45", "Isha": "19:00", "Imsak": "05:10", "Midnight": "00:15"},
		"date": {
			"gregorian": {"date": "%s"},
			"hijri": {"day": "10", "year": "1446", "month": {"en": "Rajab"}}
		}
	}`, fajr, gregorian)
}

func TestAlAdhanFetchDaily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/timings/15-01-2025" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("method") != "3" || q.Get("school") != "0" || q.Get("latitudeAdjustmentMethod") != "1" {
			t.Errorf("unexpected method params: %v", q)
		}
		fmt.Fprintf(w, `{"code":200,"status":"OK","data":%s}`, dayJSON("15-01-2025", "05:20"))
	}))
	defer srv.Close()

	a := NewAlAdhan(srv.URL)
	day, err := a.FetchDaily(context.Background(), time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 28.6, 77.2, models.MethodKey{CalcMethodID: 3, AsrJuristicID: 0, HighLatID: 1})
	if err != nil {
		t.Fatalf("FetchDaily: %v", err)
	}
	if day.Date != "2025-01-15" {
		t.Errorf("date = %s, want 2025-01-15", day.Date)
	}
	if day.Timings[models.Fajr] != "05:20" {
		t.Errorf("Fajr = %q, want 05:20 (timezone suffix stripped)", day.Timings[models.Fajr])
	}
	if day.Hijri != "10 Rajab 1446 AH" {
		t.Errorf("Hijri = %q", day.Hijri)
	}
	if day.Meta == nil || day.Meta.Latitude != 28.6 || day.Meta.Longitude != 77.2 {
		t.Errorf("Meta = %+v, want request coordinates", day.Meta)
	}
}

func TestAlAdhanFetchYearlySortedByDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Months delivered out of order; the adapter must sort numerically.
		fmt.Fprintf(w, `{"code":200,"status":"OK","data":{
			"2": [%s],
			"1": [%s, %s],
			"10": [%s]
		}}`,
			dayJSON("01-02-2025", "05:18"),
			dayJSON("01-01-2025", "05:21"), dayJSON("02-01-2025", "05:21"),
			dayJSON("01-10-2025", "04:40"))
	}))
	defer srv.Close()

	a := NewAlAdhan(srv.URL)
	days, err := a.FetchYearly(context.Background(), 2025, 28.6, 77.2, models.MethodKey{CalcMethodID: 3})
	if err != nil {
		t.Fatalf("FetchYearly: %v", err)
	}
	want := []string{"2025-01-01", "2025-01-02", "2025-02-01", "2025-10-01"}
	if len(days) != len(want) {
		t.Fatalf("got %d days, want %d", len(days), len(want))
	}
	for i, d := range days {
		if d.Date != want[i] {
			t.Errorf("day %d = %s, want %s", i, d.Date, want[i])
		}
	}
}

func TestAlAdhanRateLimitRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `{"code":200,"status":"OK","data":%s}`, dayJSON("15-01-2025", "05:20"))
	}))
	defer srv.Close()

	a := NewAlAdhan(srv.URL)
	_, err := a.FetchDaily(context.Background(), time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 0, 0, models.MethodKey{})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestAlAdhanPermanentErrorNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewAlAdhan(srv.URL)
	_, err := a.FetchDaily(context.Background(), time.Now(), 0, 0, models.MethodKey{})
	if err == nil {
		t.Fatal("expected error")
	}
	if apperr.KindOf(err) != apperr.Permanent {
		t.Errorf("kind = %v, want Permanent", apperr.KindOf(err))
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry on permanent)", got)
	}
}

func TestAlAdhanServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlAdhan(srv.URL)
	_, err := a.FetchDaily(context.Background(), time.Now(), 0, 0, models.MethodKey{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.IsTransient(err) {
		t.Errorf("kind = %v, want Transient", apperr.KindOf(err))
	}
}
