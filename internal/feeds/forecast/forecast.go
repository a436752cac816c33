// Package forecast publishes the national fire-danger forecast. The NIFOS
// grade page is scraped once per district; a shared retry budget absorbs the
// server's frequent transient failures without letting a dead upstream spin
// the job forever.
package forecast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/neurowhai/firemap/internal/feedcache"
	"github.com/neurowhai/firemap/internal/fetch"
	"github.com/neurowhai/firemap/internal/logging"
	"github.com/neurowhai/firemap/internal/metrics"
	"github.com/neurowhai/firemap/internal/parse"
	"github.com/neurowhai/firemap/internal/scheduler"
)

const (
	gradeURL = "http://forestfire.nifos.go.kr/mobile/jsp/fireGrade.jsp"

	okPeriod   = 30 * time.Minute
	failPeriod = time.Minute

	initRetryBudget = 16
	jobRetryBudget  = 8

	// The "fires" key is wrong but clients already key off it.
	sentinel        = `{"error":true,"fires":[],"size":0}`
	warningSentinel = `{"error":true,"warning":0}`

	landmark = ">전국<"
)

type districtForecast struct {
	Code  string  `json:"code"`
	Level float32 `json:"lvl"`
}

// Feed is the fire-forecast cache pipeline. Besides the per-district map it
// publishes the nationwide warning level, which every district page carries
// in its 전국 row.
type Feed struct {
	codes    []string
	slot     *feedcache.Slot
	warnSlot *feedcache.Slot
	fetcher  func(url string) (string, error)
}

// New loads the district code list from dataDir. A missing or empty list is
// a startup error.
func New(dataDir string) (*Feed, error) {
	raw, err := os.ReadFile(filepath.Join(dataDir, "district_code.txt"))
	if err != nil {
		return nil, fmt.Errorf("read district codes: %w", err)
	}

	var codes []string
	for _, code := range strings.Split(strings.TrimSpace(string(raw)), ",") {
		code = strings.TrimSpace(code)
		if code != "" {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("district code list is empty")
	}

	return &Feed{
		codes:    codes,
		slot:     feedcache.NewSlot(""),
		warnSlot: feedcache.NewSlot(""),
		fetcher:  fetch.Text,
	}, nil
}

// Artifact returns the current published artifact.
func (f *Feed) Artifact() string {
	return f.slot.Get()
}

// WarningArtifact returns the nationwide warning artifact.
func (f *Feed) WarningArtifact() string {
	return f.warnSlot.Get()
}

// Register performs the initial fetch with the larger retry budget and adds
// the periodic job.
func (f *Feed) Register(b *scheduler.Builder) {
	delay := failPeriod
	if data, warning, err := f.build(initRetryBudget); err != nil {
		logging.Op().Warn("fail to init fire forecast cache", "error", err)
		f.slot.Set(sentinel)
		f.warnSlot.Set(warningSentinel)
	} else {
		f.slot.Set(data)
		f.warnSlot.Set(warning)
		metrics.RecordPublish("forecast")
		delay = okPeriod
	}
	b.AddTask(scheduler.NewTask(f.job, delay))
}

func (f *Feed) job() time.Duration {
	logging.Op().Info("start job", "feed", "forecast")
	start := time.Now()

	data, warning, err := f.build(jobRetryBudget)
	if err != nil {
		logging.Op().Warn("fail to get fire forecast data", "error", err)
		metrics.RecordJobRun("forecast", false, time.Since(start))
		return failPeriod
	}

	f.slot.Set(data)
	f.warnSlot.Set(warning)
	metrics.RecordPublish("forecast")
	metrics.RecordJobRun("forecast", true, time.Since(start))
	return okPeriod
}

// build walks every district. The retry budget is shared across districts:
// each failure burns one retry, and an exhausted budget fails the whole job.
// The second artifact is the nationwide warning taken from the first page.
func (f *Feed) build(retryBudget int) (string, string, error) {
	left := retryBudget
	forecasts := make([]districtForecast, 0, len(f.codes))

	for _, code := range f.codes {
		for {
			fc, err := f.fetchDistrict(code)
			if err == nil {
				forecasts = append(forecasts, fc)
				break
			}
			if left == 0 {
				return "", "", err
			}
			logging.Op().Warn("retry to get forecast data",
				"left", left, "budget", retryBudget, "code", code)
			left--
		}
	}

	artifact, err := json.Marshal(struct {
		Error     bool               `json:"error"`
		Forecasts []districtForecast `json:"forecasts"`
		Size      int                `json:"size"`
	}{false, forecasts, len(forecasts)})
	if err != nil {
		return "", "", err
	}

	warning, err := json.Marshal(struct {
		Error   bool    `json:"error"`
		Warning float32 `json:"warning"`
	}{false, forecasts[0].Level})
	if err != nil {
		return "", "", err
	}
	return string(artifact), string(warning), nil
}

func (f *Feed) fetchDistrict(code string) (districtForecast, error) {
	if len(code) < 2 {
		return districtForecast{}, fmt.Errorf("bad district code %q", code)
	}
	url := fmt.Sprintf("%s?cd=%s&subCd=%s", gradeURL, code[:2], code)

	html, err := f.fetcher(url)
	if err != nil {
		return districtForecast{}, err
	}

	level, err := parseLevel(html)
	if err != nil {
		return districtForecast{}, err
	}
	return districtForecast{Code: code, Level: level}, nil
}

// parseLevel slices the nationwide danger level out of the grade table: the
// last <td> before the table close that follows the ">전국<" row label.
func parseLevel(html string) (float32, error) {
	mark := strings.Index(html, landmark)
	if mark < 0 {
		return 0, fmt.Errorf("fail to parse fire forecast")
	}

	tableEnd := strings.Index(html[mark:], "</table")
	if tableEnd < 0 {
		return 0, fmt.Errorf("fail to parse fire forecast")
	}
	tableEnd += mark

	td := strings.LastIndex(html[:tableEnd], "<td")
	if td < 0 {
		return 0, fmt.Errorf("fail to parse fire forecast")
	}

	gt := strings.Index(html[td:], ">")
	if gt < 0 {
		return 0, fmt.Errorf("fail to parse fire forecast")
	}
	gt += td

	end := strings.Index(html[gt:], "</td")
	if end < 0 {
		return 0, fmt.Errorf("fail to parse fire forecast")
	}
	end += gt

	text := parse.StripTags(html[gt+1 : end])
	level, err := strconv.ParseFloat(text, 32)
	if err != nil {
		return 0, fmt.Errorf("fail to parse fire forecast level %q", text)
	}
	return float32(level), nil
}
