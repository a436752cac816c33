package report

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
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

type reportForm struct {
	captcha     string
	userID      string
	userPwd     string
	latitude    float64
	longitude   float64
	lvl         int32
	description string
	imgKey      string
}

// verifyError checks the form against the submission rules. Lengths of the id
// and password are counted in characters; the description limit is in bytes.
func (f *reportForm) verifyError() string {
	lenID := utf8.RuneCountInString(f.userID)
	lenPwd := utf8.RuneCountInString(f.userPwd)

	switch {
	case strings.IndexFunc(f.userID, unicode.IsSpace) >= 0:
		return "The ID can not contain spaces"
	case lenID < 2:
		return "ID must be at least 2 characters"
	case lenID > 24:
		return "ID can not be longer than 24 characters"
	case lenPwd < 4:
		return "Password must be at least 4 characters"
	case f.lvl < 0 || f.lvl >= 5:
		return "Invalid level"
	case len(f.description) > 65536:
		return "The maximum bytes of the description is 65536"
	case strings.Contains(f.imgKey, "..") || len(f.imgKey) > 256:
		return "Invalid image key"
	}
	return ""
}

func parseReportForm(r *http.Request) (reportForm, bool) {
	if err := r.ParseForm(); err != nil {
		return reportForm{}, false
	}

	lat, latErr := strconv.ParseFloat(r.PostFormValue("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(r.PostFormValue("longitude"), 64)
	lvl, lvlErr := strconv.Atoi(r.PostFormValue("lvl"))
	if latErr != nil || lonErr != nil || lvlErr != nil {
		return reportForm{}, false
	}

	return reportForm{
		captcha:     r.PostFormValue("captcha"),
		userID:      r.PostFormValue("user_id"),
		userPwd:     r.PostFormValue("user_pwd"),
		latitude:    lat,
		longitude:   lon,
		lvl:         int32(lvl),
		description: r.PostFormValue("description"),
		imgKey:      r.PostFormValue("img_key"),
	}, true
}

// GetReportMap serves the pre-built public report map.
func (s *Service) GetReportMap(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.slot.Get())
}

type reportDetail struct {
	ID          int32   `json:"id"`
	UserID      string  `json:"user_id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	CreatedTime int64   `json:"created_time"`
	Lvl         int32   `json:"lvl"`
	Description string  `json:"description"`
	ImgPath     string  `json:"img_path"`
}

// GetReport serves one report by id through the read-through cache.
func (s *Service) GetReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.URL.Query().Get("id"))
	if err != nil {
		badRequest(w, "Invalid id")
		return
	}
	key := strconv.Itoa(id)

	if data, err := s.cache.Get(r.Context(), key); err == nil {
		metrics.RecordCacheHit("report")
		writeJSON(w, string(data))
		return
	}
	metrics.RecordCacheMiss("report")

	rep, err := s.store.Report(r.Context(), int32(id))
	if errors.Is(err, store.ErrNotFound) {
		badRequest(w, "Not found")
		return
	}
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	data, err := json.Marshal(reportDetail{
		ID:          rep.ID,
		UserID:      rep.UserID,
		Latitude:    rep.Latitude,
		Longitude:   rep.Longitude,
		CreatedTime: rep.CreatedTime.Unix(),
		Lvl:         rep.Lvl,
		Description: rep.Description,
		ImgPath:     rep.ImgPath,
	})
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := s.cache.Set(r.Context(), key, data, cacheTTL); err != nil {
		logging.Op().Warn("fail to cache report", "id", id, "error", err)
	}
	writeJSON(w, string(data))
}

// UploadImage accepts a base64 data URI and stashes the decoded image in the
// upload directory under a random key. The image only becomes public when a
// report referencing the key is submitted.
func (s *Service) UploadImage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, uploadLimit+1))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if len(body) > uploadLimit {
		badRequest(w, "The file is too large")
		return
	}
	dataURI := string(body)

	head, b64, found := strings.Cut(dataURI, ",")

	slash := strings.Index(head, "/")
	if slash < 0 {
		badRequest(w, "Invalid uri")
		return
	}
	ext := head[slash+1:]
	if semi := strings.Index(ext, ";"); semi >= 0 {
		ext = ext[:semi]
	}

	switch ext {
	case "jpeg", "jpg", "png", "bmp":
	default:
		badRequest(w, "Invalid extension")
		return
	}

	if !found {
		badRequest(w, "Invalid uri")
		return
	}
	bytes, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	// Random keys collide rarely; O_EXCL makes the rare collision retry
	// instead of overwriting someone else's upload.
	var id string
	var file *os.File
	for {
		id = util.RandID(32) + "." + ext
		file, err = os.OpenFile(filepath.Join(s.uploadDir, id),
			os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		badRequest(w, err.Error())
		return
	}
	defer file.Close()

	if _, err := file.Write(bytes); err != nil {
		badRequest(w, err.Error())
		return
	}
	io.WriteString(w, id)
}

// PostReport validates and persists a new report. The response body is the
// new report id in decimal.
func (s *Service) PostReport(w http.ResponseWriter, r *http.Request) {
	form, ok := parseReportForm(r)
	if !ok {
		badRequest(w, "Invalid form")
		return
	}

	if msg := form.verifyError(); msg != "" {
		badRequest(w, msg)
		return
	}
	if !s.captcha.VerifyAndRemove(w, r, captchaChannelReport, form.captcha) {
		badRequest(w, "Wrong captcha")
		return
	}

	imgPath := ""
	if form.imgKey != "" {
		publicPath, err := s.publishImage(form.imgKey)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		imgPath = publicPath
	}

	id, err := s.store.InsertReport(r.Context(), store.NewReport{
		UserID:      form.userID,
		UserPwd:     util.HashPassword(form.userPwd),
		Latitude:    form.latitude,
		Longitude:   form.longitude,
		CreatedTime: s.now().UTC(),
		Lvl:         form.lvl,
		Description: form.description,
		ImgPath:     imgPath,
	})
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	io.WriteString(w, strconv.Itoa(int(id)))
}

// publishImage moves an uploaded image into the public static tree and
// returns its public path.
func (s *Service) publishImage(key string) (string, error) {
	uploaded := filepath.Join(s.uploadDir, key)
	if _, err := os.Stat(uploaded); err != nil {
		return "", errors.New("No images uploaded")
	}

	publicPath := path.Join(imagePublicDir, key)
	src, err := os.Open(uploaded)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.staticDir, imagePublicDir, key))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}

	if err := os.Remove(uploaded); err != nil {
		return "", err
	}
	return publicPath, nil
}

// DeleteReport removes a report when the caller authenticates as its owner
// or as the admin. The image file and the cache entry go with it.
func (s *Service) DeleteReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id, err := strconv.Atoi(q.Get("id"))
	if err != nil {
		badRequest(w, "Invalid id")
		return
	}
	userID := q.Get("user_id")
	hashedPwd := util.HashPassword(q.Get("user_pwd"))

	rep, err := s.store.Report(r.Context(), int32(id))
	if err != nil {
		badRequest(w, "Not found")
		return
	}

	owner := rep.UserID == userID && rep.UserPwd == hashedPwd
	if !owner && !s.isAdmin(userID, hashedPwd) {
		badRequest(w, "Authentication result is incorrect")
		return
	}

	if rep.ImgPath != "" {
		imgPath := filepath.Join(s.staticDir, filepath.FromSlash(rep.ImgPath))
		if info, err := os.Stat(imgPath); err == nil && info.Mode().IsRegular() {
			os.Remove(imgPath)
		}
	}
	s.cache.Delete(r.Context(), strconv.Itoa(id))

	cnt, err := s.store.DeleteReport(r.Context(), int32(id))
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

// PostBadReport files a complaint against an existing report.
func (s *Service) PostBadReport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		badRequest(w, "Invalid form")
		return
	}
	id, err := strconv.Atoi(r.PostFormValue("id"))
	if err != nil {
		badRequest(w, "Invalid form")
		return
	}
	reason := r.PostFormValue("reason")

	if len(reason) > 65536 {
		badRequest(w, "The maximum bytes of the reason is 65536")
		return
	}
	if !s.captcha.VerifyAndRemove(w, r, captchaChannelBadReport, r.PostFormValue("captcha")) {
		badRequest(w, "Wrong captcha")
		return
	}

	if _, err := s.store.Report(r.Context(), int32(id)); err != nil {
		badRequest(w, "Not exists")
		return
	}

	badID, err := s.store.InsertBadReport(r.Context(), int32(id), reason)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	io.WriteString(w, strconv.Itoa(int(badID)))
}

type badReportEntry struct {
	ID       int32  `json:"id"`
	ReportID int32  `json:"report_id"`
	Reason   string `json:"reason"`
}

// GetBadReportList serves every filed complaint to the admin.
func (s *Service) GetBadReportList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.isAdmin(q.Get("admin_id"), util.HashPassword(q.Get("admin_pwd"))) {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, `{"error":"Authentication failed!"}`)
		return
	}

	list, err := s.store.BadReports(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		body, _ := json.Marshal(struct {
			Error string `json:"error"`
		}{err.Error()})
		writeJSON(w, string(body))
		return
	}

	entries := make([]badReportEntry, 0, len(list))
	for _, b := range list {
		entries = append(entries, badReportEntry{ID: b.ID, ReportID: b.ReportID, Reason: b.Reason})
	}

	body, err := json.Marshal(struct {
		Reports []badReportEntry `json:"reports"`
		Size    int              `json:"size"`
	}{entries, len(entries)})
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeJSON(w, string(body))
}

// DeleteBadReport removes a complaint (admin only).
func (s *Service) DeleteBadReport(w http.ResponseWriter, r *http.Request) {
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

	cnt, err := s.store.DeleteBadReport(r.Context(), int32(id))
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
