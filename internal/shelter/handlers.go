package shelter

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"unicode/utf8"

	"github.com/neurowhai/firemap/internal/store"
	"github.com/neurowhai/firemap/internal/util"
)

func badRequest(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusBadRequest)
	io.WriteString(w, msg)
}

func writeJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

// GetShelterMap serves the public shelter map artifact.
func (s *Service) GetShelterMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.slot.Get())
}

// GetShelter serves one shelter's pre-rendered JSON.
func (s *Service) GetShelter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil {
		badRequest(w, "Not found")
		return
	}

	s.mu.RLock()
	sh, ok := s.shelters[int32(id)]
	var data string
	if ok {
		data = sh.data
	}
	s.mu.RUnlock()

	if !ok {
		badRequest(w, "Not found")
		return
	}
	writeJSON(w, data)
}

// PostEvalShelter records one user's feedback on a shelter. The counters
// answer immediately; the database catches up on the next update job.
func (s *Service) PostEvalShelter(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "Invalid form")
		return
	}
	id, idErr := strconv.Atoi(r.PostFormValue("id"))
	score, scoreErr := strconv.Atoi(r.PostFormValue("score"))
	if idErr != nil || scoreErr != nil {
		badRequest(w, "Invalid form")
		return
	}

	if !s.captcha.VerifyAndRemove(w, r, captchaChannelEval, r.PostFormValue("captcha")) {
		badRequest(w, "Wrong captcha")
		return
	}

	s.mu.Lock()
	sh, ok := s.shelters[int32(id)]
	var good, bad int32
	if ok {
		if score > 0 {
			sh.recentGood++
		} else {
			sh.recentBad++
		}
		sh.cached = false
		sh.synced = false
		good, bad = sh.recentGood, sh.recentBad
	}
	s.mu.Unlock()

	if !ok {
		badRequest(w, "Not found")
		return
	}

	body, _ := json.Marshal(struct {
		ID   int32 `json:"id"`
		Good int32 `json:"good"`
		Bad  int32 `json:"bad"`
	}{int32(id), good, bad})
	writeJSON(w, string(body))
}

// PostShelter adds a shelter (admin only) and indexes it immediately.
func (s *Service) PostShelter(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "Invalid form")
		return
	}
	lat, latErr := strconv.ParseFloat(r.PostFormValue("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(r.PostFormValue("longitude"), 64)
	if latErr != nil || lonErr != nil {
		badRequest(w, "Invalid form")
		return
	}

	if !s.isAdmin(r.PostFormValue("admin_id"), util.HashPassword(r.PostFormValue("admin_pwd"))) {
		badRequest(w, "Authentication failed!")
		return
	}

	name := r.PostFormValue("name")
	info := r.PostFormValue("info")

	id, err := s.store.InsertShelter(r.Context(), store.NewShelter{
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
		Info:      info,
	})
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	sh := &shelter{name: name, latitude: lat, longitude: lon, info: info, synced: true}
	sh.data = sh.render(id)
	sh.cached = true

	s.mu.Lock()
	s.shelters[id] = sh
	s.mu.Unlock()

	io.WriteString(w, strconv.Itoa(int(id)))
}

// DeleteShelter removes a shelter (admin only).
func (s *Service) DeleteShelter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := strconv.Atoi(q.Get("id"))
	if err != nil {
		badRequest(w, "Invalid id")
		return
	}
	if !s.isAdmin(q.Get("admin_id"), util.HashPassword(q.Get("admin_pwd"))) {
		badRequest(w, "Authentication failed!")
		return
	}

	cnt, err := s.store.DeleteShelter(r.Context(), int32(id))
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	s.mu.Lock()
	delete(s.shelters, int32(id))
	s.mu.Unlock()

	io.WriteString(w, strconv.FormatInt(cnt, 10))
}

// PostUserShelter accepts a user-submitted shelter for admin review.
func (s *Service) PostUserShelter(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "Invalid form")
		return
	}
	lat, latErr := strconv.ParseFloat(r.PostFormValue("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(r.PostFormValue("longitude"), 64)
	if latErr != nil || lonErr != nil {
		badRequest(w, "Invalid form")
		return
	}

	name := r.PostFormValue("name")
	info := r.PostFormValue("info")

	lenName := utf8.RuneCountInString(name)
	switch {
	case lenName < 2:
		badRequest(w, "Name must be at least 2 characters")
		return
	case lenName > 10:
		badRequest(w, "Name can not be longer than 10 characters")
		return
	case utf8.RuneCountInString(info) > 20:
		badRequest(w, "Info can not be longer than 20 characters")
		return
	}

	if !s.captcha.VerifyAndRemove(w, r, captchaChannelUserShelter, r.PostFormValue("captcha")) {
		badRequest(w, "Wrong captcha")
		return
	}

	id, err := s.store.InsertUserShelter(r.Context(), store.NewUserShelter{
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
		Info:      info,
		Evidence:  r.PostFormValue("evidence"),
	})
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	io.WriteString(w, strconv.Itoa(int(id)))
}

type userShelterEntry struct {
	ID        int32   `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Info      string  `json:"info"`
	Evidence  string  `json:"evidence"`
}

// GetUserShelterList serves the pending user submissions to the admin.
func (s *Service) GetUserShelterList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.isAdmin(q.Get("admin_id"), util.HashPassword(q.Get("admin_pwd"))) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, `{"error":"Authentication failed!"}`)
		return
	}

	list, err := s.store.UserShelters(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		body, _ := json.Marshal(struct {
			Error string `json:"error"`
		}{err.Error()})
		writeJSON(w, string(body))
		return
	}

	entries := make([]userShelterEntry, 0, len(list))
	for _, u := range list {
		entries = append(entries, userShelterEntry{
			ID: u.ID, Name: u.Name,
			Latitude: u.Latitude, Longitude: u.Longitude,
			Info: u.Info, Evidence: u.Evidence,
		})
	}

	body, _ := json.Marshal(struct {
		Shelters []userShelterEntry `json:"shelters"`
		Size     int                `json:"size"`
	}{entries, len(entries)})
	writeJSON(w, string(body))
}

// DeleteUserShelter removes a user submission (admin only).
func (s *Service) DeleteUserShelter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := strconv.Atoi(q.Get("id"))
	if err != nil {
		badRequest(w, "Invalid id")
		return
	}
	if !s.isAdmin(q.Get("admin_id"), util.HashPassword(q.Get("admin_pwd"))) {
		badRequest(w, "Authentication failed!")
		return
	}

	cnt, err := s.store.DeleteUserShelter(r.Context(), int32(id))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if cnt == 0 {
		badRequest(w, "Not found")
		return
	}
	io.WriteString(w, strconv.FormatInt(cnt, 10))
}
