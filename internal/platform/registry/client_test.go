package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/reconciler/internal/platform/fhir"
)

// registryFixture stands up fake login and match endpoints and counts the
// requests each one sees.
type registryFixture struct {
	loginCalls int
	matchCalls int
	loginFn    http.HandlerFunc
	matchFn    http.HandlerFunc
	server     *httptest.Server
}

func newRegistryFixture(t *testing.T) *registryFixture {
	t.Helper()
	f := &registryFixture{}
	f.loginFn = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"abc123"}`))
	}
	f.matchFn = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":1,"results":[{"score":0.9}]}`))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls++
		f.loginFn(w, r)
	})
	mux.HandleFunc("/match", func(w http.ResponseWriter, r *http.Request) {
		f.matchCalls++
		f.matchFn(w, r)
	})
	mux.HandleFunc("/fhir/Patient/reg-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resourceType":"Patient","id":"reg-1","gender":"female"}`))
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *registryFixture) client() *Client {
	return NewClient(Config{
		LoginURL:  f.server.URL + "/login",
		LoginBody: `{"user":"svc","password":"secret"}`,
		MatchURL:  f.server.URL + "/match",
		FHIRURL:   f.server.URL + "/fhir",
	}, zerolog.Nop())
}

func TestFindMatchesAuthenticatesAndReturnsBody(t *testing.T) {
	f := newRegistryFixture(t)
	var gotAuth string
	f.matchFn = func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"total":2}`))
	}

	matches := f.client().FindMatches(context.Background(), &fhir.Patient{ResourceType: "Patient"})
	if string(matches) != `{"total":2}` {
		t.Fatalf("matches = %s", matches)
	}
	if gotAuth != "Bearer abc123" {
		t.Errorf("Authorization = %q, want bearer token from login", gotAuth)
	}
	if f.loginCalls != 1 || f.matchCalls != 1 {
		t.Errorf("login/match calls = %d/%d, want 1/1", f.loginCalls, f.matchCalls)
	}
}

func TestFindMatchesUnconfiguredIsNoOp(t *testing.T) {
	c := NewClient(Config{}, zerolog.Nop())
	if c.Configured() {
		t.Fatal("empty config reported as configured")
	}
	if got := c.FindMatches(context.Background(), &fhir.Patient{}); got != nil {
		t.Fatalf("unconfigured match returned %s", got)
	}
}

func TestFindMatchesSwallowsLoginFailure(t *testing.T) {
	f := newRegistryFixture(t)
	f.loginFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}

	if got := f.client().FindMatches(context.Background(), &fhir.Patient{}); got != nil {
		t.Fatalf("failed login produced matches %s", got)
	}
	if f.matchCalls != 0 {
		t.Errorf("match called %d times after failed login", f.matchCalls)
	}
}

func TestFindMatchesSwallowsMatchFailure(t *testing.T) {
	f := newRegistryFixture(t)
	f.matchFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}

	if got := f.client().FindMatches(context.Background(), &fhir.Patient{}); got != nil {
		t.Fatalf("failed match produced matches %s", got)
	}
}

func TestFindMatchesReusesCachedToken(t *testing.T) {
	f := newRegistryFixture(t)
	c := f.client()

	c.FindMatches(context.Background(), &fhir.Patient{})
	c.FindMatches(context.Background(), &fhir.Patient{})
	if f.loginCalls != 1 {
		t.Errorf("login called %d times, want 1 with a cached token", f.loginCalls)
	}
	if f.matchCalls != 2 {
		t.Errorf("match called %d times, want 2", f.matchCalls)
	}
}

func TestFindMatchesReauthenticatesAfterExpiry(t *testing.T) {
	f := newRegistryFixture(t)
	c := f.client()

	c.FindMatches(context.Background(), &fhir.Patient{})
	c.mu.Lock()
	c.fetchedAt = time.Now().Add(-time.Hour)
	c.mu.Unlock()
	c.FindMatches(context.Background(), &fhir.Patient{})

	if f.loginCalls != 2 {
		t.Errorf("login called %d times, want 2 after token expiry", f.loginCalls)
	}
}

func TestFindMatchesDropsTokenOnUnauthorized(t *testing.T) {
	f := newRegistryFixture(t)
	f.matchFn = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}
	c := f.client()

	c.FindMatches(context.Background(), &fhir.Patient{})
	f.matchFn = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total":0}`))
	}
	c.FindMatches(context.Background(), &fhir.Patient{})

	if f.loginCalls != 2 {
		t.Errorf("login called %d times, want re-authentication after 401", f.loginCalls)
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	f := newRegistryFixture(t)
	f.loginFn = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":""}`))
	}

	if got := f.client().FindMatches(context.Background(), &fhir.Patient{}); got != nil {
		t.Fatalf("tokenless login produced matches %s", got)
	}
}

func TestFetchPatient(t *testing.T) {
	f := newRegistryFixture(t)

	patient, err := f.client().FetchPatient(context.Background(), "reg-1")
	if err != nil {
		t.Fatalf("FetchPatient: %v", err)
	}
	if patient.ID != "reg-1" || patient.Gender != "female" {
		t.Errorf("fetched patient = %+v", patient)
	}
}

func TestFetchPatientSurfacesErrors(t *testing.T) {
	f := newRegistryFixture(t)

	c := NewClient(Config{LoginURL: "x", MatchURL: "y"}, zerolog.Nop())
	if _, err := c.FetchPatient(context.Background(), "reg-1"); err == nil {
		t.Error("missing FHIR endpoint did not error")
	}

	if _, err := f.client().FetchPatient(context.Background(), "no-such-id"); err == nil {
		t.Error("404 read did not error")
	}
}

func TestMatchPayloadIsPatientResource(t *testing.T) {
	f := newRegistryFixture(t)
	var got fhir.Patient
	f.matchFn = func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding match payload: %v", err)
		}
		w.Write([]byte(`{}`))
	}

	f.client().FindMatches(context.Background(), &fhir.Patient{ResourceType: "Patient", Gender: "male"})
	if got.ResourceType != "Patient" || got.Gender != "male" {
		t.Errorf("match payload = %+v", got)
	}
}
