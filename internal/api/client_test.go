package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"token-tally/internal/api"
	"token-tally/internal/auth"
	"token-tally/internal/model"
)

func newStore(t *testing.T, tok *oauth2.Token) *auth.Store {
	t.Helper()
	store := auth.NewStore(filepath.Join(t.TempDir(), "tokens.json"))
	if tok != nil {
		if err := store.Save(tok); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func ok(w http.ResponseWriter, data any) {
	raw, _ := json.Marshal(data)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"success":true,"message":"ok","data":%s}`, raw)
}

func payload() model.SlotPayload {
	return model.SlotPayload{
		TimeSlotID: "2026-03-02_09:15",
		Date:       "2026-03-02",
		TimeSlot:   "09:15",
		Entries:    []model.WireEntry{{Number: 0, Quantity: 8, Timestamp: 1772442000000}},
		Counts:     map[string]int{"0": 8},
		Timestamp:  "2026-03-02T09:15:00Z",
	}
}

func TestSaveSendsBearerAndPayload(t *testing.T) {
	var gotAuth, gotReqID string
	var gotBody model.SlotPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/token-data" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		ok(w, map[string]int{"id": 1})
	}))
	defer srv.Close()

	store := newStore(t, &oauth2.Token{AccessToken: "access-abcdefgh", RefreshToken: "refresh-abcdefgh"})
	client := api.New(srv.URL, store)

	res, err := client.Save(context.Background(), payload())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !res.Created {
		t.Error("HTTP 201 must report Created")
	}
	if gotAuth != "Bearer access-abcdefgh" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotReqID == "" {
		t.Error("X-Request-ID not set on POST")
	}
	if gotBody.TimeSlotID != "2026-03-02_09:15" || gotBody.Counts["0"] != 8 {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestSaveStatusOKIsUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]int{"id": 1})
	}))
	defer srv.Close()

	client := api.New(srv.URL, newStore(t, &oauth2.Token{AccessToken: "access-abcdefgh"}))
	res, err := client.Save(context.Background(), payload())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if res.Created {
		t.Error("HTTP 200 must report an update, not a create")
	}
}

func TestSaveRefreshFallbackBearer(t *testing.T) {
	// Only a refresh token stored: it rides in the Authorization header.
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		ok(w, map[string]int{"id": 1})
	}))
	defer srv.Close()

	client := api.New(srv.URL, newStore(t, &oauth2.Token{RefreshToken: "refresh-abcdefgh"}))
	if _, err := client.Save(context.Background(), payload()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if gotAuth != "Bearer refresh-abcdefgh" {
		t.Errorf("Authorization = %q, want the refresh fallback", gotAuth)
	}
}

func TestSaveNoCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server without credentials")
	}))
	defer srv.Close()

	client := api.New(srv.URL, newStore(t, nil))
	if _, err := client.Save(context.Background(), payload()); !errors.Is(err, auth.ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
}

func TestSaveRefreshRetryOn401(t *testing.T) {
	var saves, refreshes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token-data":
			saves++
			if r.Header.Get("Authorization") != "Bearer new-access-abcdefgh" {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"success":false,"message":"expired"}`)
				return
			}
			w.WriteHeader(http.StatusCreated)
			ok(w, map[string]int{"id": 1})
		case "/refresh":
			refreshes++
			if r.Header.Get("Authorization") != "Bearer refresh-abcdefgh" {
				t.Errorf("refresh Authorization = %q", r.Header.Get("Authorization"))
			}
			ok(w, map[string]string{
				"access_token":  "new-access-abcdefgh",
				"refresh_token": "new-refresh-abcdefgh",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	store := newStore(t, &oauth2.Token{AccessToken: "stale-access-abcd", RefreshToken: "refresh-abcdefgh"})
	client := api.New(srv.URL, store)

	res, err := client.Save(context.Background(), payload())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !res.Created {
		t.Error("retried save must report the final outcome")
	}
	if saves != 2 || refreshes != 1 {
		t.Errorf("saves=%d refreshes=%d, want 2 and 1", saves, refreshes)
	}

	tok, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if tok.AccessToken != "new-access-abcdefgh" || tok.RefreshToken != "new-refresh-abcdefgh" {
		t.Errorf("refreshed pair not persisted: %+v", tok)
	}
}

func TestSaveFailedRefreshClearsCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"success":false,"message":"nope"}`)
	}))
	defer srv.Close()

	store := newStore(t, &oauth2.Token{AccessToken: "stale-access-abcd", RefreshToken: "refresh-abcdefgh"})
	client := api.New(srv.URL, store)

	_, err := client.Save(context.Background(), payload())
	if !errors.Is(err, api.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if tok, _ := store.Load(); tok != nil {
		t.Errorf("credentials not cleared after failed refresh: %+v", tok)
	}
}

func TestRefreshRejectsMalformedTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Object-shaped access token with no usable inner value.
		ok(w, map[string]any{"access_token": map[string]string{"oops": "x"}})
	}))
	defer srv.Close()

	store := newStore(t, &oauth2.Token{AccessToken: "stale-access-abcd", RefreshToken: "refresh-abcdefgh"})
	client := api.New(srv.URL, store)

	if err := client.Refresh(context.Background()); !errors.Is(err, auth.ErrMalformedToken) {
		t.Errorf("err = %v, want ErrMalformedToken", err)
	}
}

func TestRefreshKeepsOldRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Rotation responses sometimes omit the refresh token.
		ok(w, map[string]string{"access_token": "new-access-abcdefgh"})
	}))
	defer srv.Close()

	store := newStore(t, &oauth2.Token{AccessToken: "stale-access-abcd", RefreshToken: "refresh-abcdefgh"})
	client := api.New(srv.URL, store)

	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	tok, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if tok.RefreshToken != "refresh-abcdefgh" {
		t.Errorf("RefreshToken = %q, want the old one kept", tok.RefreshToken)
	}
}

func TestSaveFinalRefreshRetry(t *testing.T) {
	var saves int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token-data":
			saves++
			if r.Header.Get("Authorization") != "Bearer new-access-abcdefgh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			ok(w, map[string]int{"id": 3})
		case "/refresh":
			ok(w, map[string]string{"access_token": "new-access-abcdefgh"})
		}
	}))
	defer srv.Close()

	store := newStore(t, &oauth2.Token{AccessToken: "stale-access-abcd", RefreshToken: "refresh-abcdefgh"})
	client := api.New(srv.URL, store)

	res, err := client.SaveFinal(context.Background(), payload())
	if err != nil {
		t.Fatalf("SaveFinal: %v", err)
	}
	if res.Created {
		t.Error("HTTP 200 must report an update")
	}
	if saves != 2 {
		t.Errorf("saves = %d, want the 401 then the retry", saves)
	}
}

func TestSaveProactiveRefreshOnExpiredToken(t *testing.T) {
	var got401 bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/refresh":
			ok(w, map[string]string{"access_token": "new-access-abcdefgh"})
		case "/token-data":
			if r.Header.Get("Authorization") != "Bearer new-access-abcdefgh" {
				got401 = true
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusCreated)
			ok(w, map[string]int{"id": 1})
		}
	}))
	defer srv.Close()

	store := newStore(t, &oauth2.Token{
		AccessToken:  "stale-access-abcd",
		RefreshToken: "refresh-abcdefgh",
		Expiry:       time.Now().Add(-time.Hour),
	})
	client := api.New(srv.URL, store)

	if _, err := client.Save(context.Background(), payload()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got401 {
		t.Error("known-expired token must be refreshed before the save, not after a 401")
	}
}

func TestByDate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token-data/date/2026-03-02" {
			t.Errorf("path = %s", r.URL.Path)
		}
		ok(w, []map[string]any{{
			"id": 21, "date": "2026-03-02", "time_slot": "11:20",
			"entries": []map[string]any{{"number": 9, "quantity": 1, "timestamp": 1772442000000}},
			"counts":  map[string]int{"9": 1},
		}})
	}))
	defer srv.Close()

	client := api.New(srv.URL, newStore(t, &oauth2.Token{AccessToken: "access-abcdefgh"}))
	recs, err := client.ByDate(context.Background(), "2026-03-02")
	if err != nil {
		t.Fatalf("ByDate: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != 21 || recs[0].TimeSlot != "11:20" {
		t.Errorf("recs = %+v", recs)
	}
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/login" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var creds map[string]string
		json.NewDecoder(r.Body).Decode(&creds)
		if creds["email"] != "dev@example.com" || creds["password"] != "hunter22" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"success":false,"message":"bad credentials"}`)
			return
		}
		ok(w, map[string]any{
			"user":          map[string]any{"id": 7, "name": "Dev", "email": "dev@example.com"},
			"access_token":  "access-abcdefghij",
			"refresh_token": "refresh-abcdefghij",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	store := newStore(t, nil)
	client := api.New(srv.URL, store)

	user, err := client.Login(context.Background(), "dev@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ID != 7 || user.Email != "dev@example.com" {
		t.Errorf("user = %+v", user)
	}
	tok, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if tok == nil || tok.AccessToken != "access-abcdefghij" {
		t.Errorf("token pair not persisted: %+v", tok)
	}
	if tok.Expiry.IsZero() {
		t.Error("expires_in not applied to Expiry")
	}

	if _, err := client.Login(context.Background(), "dev@example.com", "wrong"); err == nil {
		t.Error("expected error for bad credentials")
	}
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("per_page") != "10" ||
			q.Get("start_date") != "2026-03-01" || q.Get("time_slot") != "09:15" {
			t.Errorf("query = %v", q)
		}
		ok(w, map[string]any{
			"data": []map[string]any{{
				"id": 11, "date": "2026-03-01", "time_slot": "09:15",
				"entries": []map[string]any{{"number": 4, "quantity": 2, "timestamp": 1772442000000}},
				"counts":  map[string]int{"4": 2},
			}},
			"current_page": 2, "per_page": 10, "total": 25, "last_page": 3,
		})
	}))
	defer srv.Close()

	client := api.New(srv.URL, newStore(t, &oauth2.Token{AccessToken: "access-abcdefgh"}))
	res, err := client.List(context.Background(), api.ListParams{
		Page: 2, PerPage: 10, StartDate: "2026-03-01", TimeSlot: "09:15",
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Page != 2 || res.Total != 25 || res.TotalPages != 3 {
		t.Errorf("page meta = %+v", res)
	}
	if len(res.Records) != 1 || res.Records[0].ID != 11 || res.Records[0].TimeSlot != "09:15" {
		t.Errorf("records = %+v", res.Records)
	}
}

func TestUpdate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/token-data/11" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Entries []model.WireEntry `json:"entries"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Entries) != 1 || body.Entries[0].Number != 6 {
			t.Errorf("body = %+v", body)
		}
		ok(w, map[string]int{"id": 11})
	}))
	defer srv.Close()

	client := api.New(srv.URL, newStore(t, &oauth2.Token{AccessToken: "access-abcdefgh"}))
	err := client.Update(context.Background(), 11, []model.WireEntry{
		{Number: 6, Quantity: 1, Timestamp: 1772442000000},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
}

func TestMe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me" {
			t.Errorf("path = %s", r.URL.Path)
		}
		ok(w, map[string]any{"user": map[string]any{"id": 7, "name": "Dev", "email": "dev@example.com"}})
	}))
	defer srv.Close()

	client := api.New(srv.URL, newStore(t, &oauth2.Token{AccessToken: "access-abcdefgh"}))
	user, err := client.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if user.Name != "Dev" {
		t.Errorf("user = %+v", user)
	}
}
