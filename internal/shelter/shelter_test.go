package shelter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neurowhai/firemap/internal/scheduler"
	"github.com/neurowhai/firemap/internal/store"
)

type fakeStore struct {
	mu           sync.Mutex
	shelters     map[int32]store.Shelter
	userShelters map[int32]store.UserShelter
	nextID       int32
	updates      map[int32][2]int32
	failUpdates  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		shelters:     make(map[int32]store.Shelter),
		userShelters: make(map[int32]store.UserShelter),
		updates:      make(map[int32][2]int32),
	}
}

func (f *fakeStore) Shelters(context.Context) ([]store.Shelter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Shelter
	for _, s := range f.shelters {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) InsertShelter(_ context.Context, s store.NewShelter) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.shelters[f.nextID] = store.Shelter{
		ID: f.nextID, Name: s.Name,
		Latitude: s.Latitude, Longitude: s.Longitude, Info: s.Info,
		RecentGood: s.RecentGood, RecentBad: s.RecentBad,
	}
	return f.nextID, nil
}

func (f *fakeStore) DeleteShelter(_ context.Context, id int32) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.shelters[id]; !ok {
		return 0, nil
	}
	delete(f.shelters, id)
	return 1, nil
}

func (f *fakeStore) UpdateShelterScore(_ context.Context, id, good, bad int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates > 0 {
		f.failUpdates--
		return errors.New("db down")
	}
	f.updates[id] = [2]int32{good, bad}
	return nil
}

func (f *fakeStore) InsertUserShelter(_ context.Context, s store.NewUserShelter) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.userShelters[f.nextID] = store.UserShelter{
		ID: f.nextID, Name: s.Name,
		Latitude: s.Latitude, Longitude: s.Longitude,
		Info: s.Info, Evidence: s.Evidence,
	}
	return f.nextID, nil
}

func (f *fakeStore) UserShelters(context.Context) ([]store.UserShelter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.UserShelter
	for _, u := range f.userShelters {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeStore) DeleteUserShelter(_ context.Context, id int32) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.userShelters[id]; !ok {
		return 0, nil
	}
	delete(f.userShelters, id)
	return 1, nil
}

func (f *fakeStore) ReportsWithin(context.Context, time.Duration) ([]store.Report, error) {
	return nil, nil
}
func (f *fakeStore) Report(context.Context, int32) (store.Report, error) {
	return store.Report{}, store.ErrNotFound
}
func (f *fakeStore) InsertReport(context.Context, store.NewReport) (int32, error) { return 0, nil }
func (f *fakeStore) DeleteReport(context.Context, int32) (int64, error)           { return 0, nil }
func (f *fakeStore) InsertBadReport(context.Context, int32, string) (int32, error) {
	return 0, nil
}
func (f *fakeStore) BadReports(context.Context) ([]store.BadReport, error) { return nil, nil }
func (f *fakeStore) DeleteBadReport(context.Context, int32) (int64, error) { return 0, nil }
func (f *fakeStore) Close()                                                {}

type stubCaptcha struct{ pass bool }

func (s stubCaptcha) VerifyAndRemove(http.ResponseWriter, *http.Request, int, string) bool {
	return s.pass
}

const seedJSON = `{"shelters":[
	{"name":"종로초교","latitude":37.57,"longitude":126.98,"capacity":300,"area":1200.5},
	{"name":"안동체육관","latitude":36.56,"longitude":128.72,"capacity":1000,"area":5000.0}
]}`

func newTestService(t *testing.T, st store.Store, seed string) *Service {
	t.Helper()
	dir := t.TempDir()
	if seed != "" {
		if err := os.WriteFile(filepath.Join(dir, "shelter.json"), []byte(seed), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := NewService(Options{
		Store:    st,
		Captcha:  stubCaptcha{pass: true},
		DataDir:  dir,
		AdminID:  "admin",
		AdminPwd: "hunter22",
	})
	if err := s.Register(scheduler.NewBuilder()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return s
}

func postForm(handler http.HandlerFunc, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestSeedWhenTableEmpty(t *testing.T) {
	st := newFakeStore()
	s := newTestService(t, st, seedJSON)

	if len(st.shelters) != 2 {
		t.Fatalf("expected 2 seeded rows, got %d", len(st.shelters))
	}

	// The info line is formatted from capacity and area with the area
	// rounded to whole square meters.
	found := false
	for _, row := range st.shelters {
		if row.Name == "종로초교" {
			found = true
			if row.Info != "수용: 300명, 면적: 1200㎡" {
				t.Fatalf("unexpected info %q", row.Info)
			}
		}
	}
	if !found {
		t.Fatal("seeded shelter missing")
	}

	var artifact struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal([]byte(s.MapArtifact()), &artifact); err != nil {
		t.Fatal(err)
	}
	if artifact.Size != 2 {
		t.Fatalf("expected 2 shelters in map, got %d", artifact.Size)
	}
}

func TestLoadSkipsSeedWhenTablePopulated(t *testing.T) {
	st := newFakeStore()
	st.InsertShelter(context.Background(), store.NewShelter{Name: "기존", Latitude: 1, Longitude: 2})

	s := newTestService(t, st, seedJSON)
	if len(st.shelters) != 1 {
		t.Fatalf("populated table must not be reseeded, got %d rows", len(st.shelters))
	}

	req := httptest.NewRequest(http.MethodGet, "/shelter?id=1", nil)
	w := httptest.NewRecorder()
	s.GetShelter(w, req)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"name":"기존"`) {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestGetShelterNotFound(t *testing.T) {
	s := newTestService(t, newFakeStore(), seedJSON)
	req := httptest.NewRequest(http.MethodGet, "/shelter?id=99", nil)
	w := httptest.NewRecorder()
	s.GetShelter(w, req)
	if w.Code != http.StatusBadRequest || w.Body.String() != "Not found" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestEvalShelter(t *testing.T) {
	s := newTestService(t, newFakeStore(), seedJSON)

	w := postForm(s.PostEvalShelter, url.Values{
		"captcha": {"123456"}, "id": {"1"}, "score": {"1"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("eval failed: %d %q", w.Code, w.Body.String())
	}

	var resp struct {
		ID   int32 `json:"id"`
		Good int32 `json:"good"`
		Bad  int32 `json:"bad"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != 1 || resp.Good != 1 || resp.Bad != 0 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	w = postForm(s.PostEvalShelter, url.Values{
		"captcha": {"123456"}, "id": {"1"}, "score": {"-1"},
	})
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Good != 1 || resp.Bad != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// The per-shelter JSON is stale until the data job runs.
	req := httptest.NewRequest(http.MethodGet, "/shelter?id=1", nil)
	rec := httptest.NewRecorder()
	s.GetShelter(rec, req)
	if !strings.Contains(rec.Body.String(), `"good":0`) {
		t.Fatalf("expected stale data before the job, got %s", rec.Body.String())
	}

	s.dataJob()
	rec = httptest.NewRecorder()
	s.GetShelter(rec, req)
	if !strings.Contains(rec.Body.String(), `"good":1`) {
		t.Fatalf("expected fresh data after the job, got %s", rec.Body.String())
	}
}

func TestEvalShelterWrongCaptcha(t *testing.T) {
	s := newTestService(t, newFakeStore(), seedJSON)
	s.captcha = stubCaptcha{pass: false}

	w := postForm(s.PostEvalShelter, url.Values{
		"captcha": {"0"}, "id": {"1"}, "score": {"1"},
	})
	if w.Code != http.StatusBadRequest || w.Body.String() != "Wrong captcha" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
}

func TestUpdateJobSyncsAndDecays(t *testing.T) {
	st := newFakeStore()
	s := newTestService(t, st, seedJSON)

	postForm(s.PostEvalShelter, url.Values{"captcha": {"1"}, "id": {"1"}, "score": {"1"}})
	postForm(s.PostEvalShelter, url.Values{"captcha": {"1"}, "id": {"1"}, "score": {"1"}})
	postForm(s.PostEvalShelter, url.Values{"captcha": {"1"}, "id": {"1"}, "score": {"-1"}})

	s.updateJob()

	if got := st.updates[1]; got != [2]int32{2, 1} {
		t.Fatalf("expected synced counters (2,1), got %v", got)
	}

	// Counters decay by one and the shelter is dirty again.
	s.mu.RLock()
	sh := s.shelters[1]
	good, bad, synced := sh.recentGood, sh.recentBad, sh.synced
	s.mu.RUnlock()
	if good != 1 || bad != 0 || synced {
		t.Fatalf("expected decayed dirty counters (1,0), got (%d,%d) synced=%v", good, bad, synced)
	}

	s.updateJob()
	if got := st.updates[1]; got != [2]int32{1, 0} {
		t.Fatalf("expected second sync (1,0), got %v", got)
	}
}

func TestUpdateJobRetries(t *testing.T) {
	st := newFakeStore()
	s := newTestService(t, st, seedJSON)

	postForm(s.PostEvalShelter, url.Values{"captcha": {"1"}, "id": {"1"}, "score": {"1"}})

	st.failUpdates = 2
	s.updateJob()
	if got := st.updates[1]; got != [2]int32{1, 0} {
		t.Fatalf("update should succeed within the retry budget, got %v", got)
	}
}

func TestAdminShelterCRUD(t *testing.T) {
	st := newFakeStore()
	s := newTestService(t, st, seedJSON)

	w := postForm(s.PostShelter, url.Values{
		"admin_id": {"admin"}, "admin_pwd": {"hunter22"},
		"name": {"새쉼터"}, "latitude": {"37.0"}, "longitude": {"127.0"}, "info": {"테스트"},
	})
	if w.Code != http.StatusOK || w.Body.String() != "3" {
		t.Fatalf("post failed: %d %q", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/shelter?id=3", nil)
	rec := httptest.NewRecorder()
	s.GetShelter(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"name":"새쉼터"`) {
		t.Fatalf("new shelter should serve immediately, got %d %q", rec.Code, rec.Body.String())
	}

	w = postForm(s.PostShelter, url.Values{
		"admin_id": {"admin"}, "admin_pwd": {"wrong"},
		"name": {"x"}, "latitude": {"0"}, "longitude": {"0"}, "info": {""},
	})
	if w.Code != http.StatusBadRequest || w.Body.String() != "Authentication failed!" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete,
		"/admin/shelter?id=3&admin_id=admin&admin_pwd=hunter22", nil)
	rec = httptest.NewRecorder()
	s.DeleteShelter(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "1" {
		t.Fatalf("delete failed: %d %q", rec.Code, rec.Body.String())
	}
	if _, ok := st.shelters[3]; ok {
		t.Fatal("row should be deleted")
	}
}

func TestUserShelterFlow(t *testing.T) {
	st := newFakeStore()
	s := newTestService(t, st, seedJSON)

	post := func(name, info string) *httptest.ResponseRecorder {
		return postForm(s.PostUserShelter, url.Values{
			"captcha": {"1"}, "name": {name}, "info": {info},
			"latitude": {"37.0"}, "longitude": {"127.0"}, "evidence": {"사진 링크"},
		})
	}

	if w := post("쉼", ""); w.Body.String() != "Name must be at least 2 characters" {
		t.Fatalf("got %q", w.Body.String())
	}
	if w := post(strings.Repeat("가", 11), ""); w.Body.String() != "Name can not be longer than 10 characters" {
		t.Fatalf("got %q", w.Body.String())
	}
	if w := post("쉼터", strings.Repeat("가", 21)); w.Body.String() != "Info can not be longer than 20 characters" {
		t.Fatalf("got %q", w.Body.String())
	}

	w := post("동네쉼터", "뒷산 입구")
	if w.Code != http.StatusOK {
		t.Fatalf("post failed: %d %q", w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet,
		"/admin/user-shelter-list?admin_id=admin&admin_pwd=hunter22", nil)
	rec := httptest.NewRecorder()
	s.GetUserShelterList(rec, req)

	var list struct {
		Shelters []userShelterEntry `json:"shelters"`
		Size     int                `json:"size"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Size != 1 || list.Shelters[0].Name != "동네쉼터" || list.Shelters[0].Evidence != "사진 링크" {
		t.Fatalf("unexpected list: %+v", list)
	}

	req = httptest.NewRequest(http.MethodDelete,
		"/admin/user-shelter?id=3&admin_id=admin&admin_pwd=hunter22", nil)
	rec = httptest.NewRecorder()
	s.DeleteUserShelter(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "1" {
		t.Fatalf("delete failed: %d %q", rec.Code, rec.Body.String())
	}
}
